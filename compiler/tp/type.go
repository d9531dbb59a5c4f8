package tp

import (
	"strings"

	"gopkg.in/yaml.v3"
	"tlog.app/go/tlog/tlwire"
)

type (
	Kind int

	// Type is a weak type hint as produced by the analyzer.
	// Elem is the array element or map value type, Key is the map key type.
	Type struct {
		Kind Kind `yaml:"kind"`

		Elem *Type `yaml:"elem,omitempty"`
		Key  *Type `yaml:"key,omitempty"`

		Elems []Type `yaml:"elems,omitempty"`
	}
)

const (
	Unknown Kind = iota
	Int
	Float
	Bool
	Str
	Array
	Map
	Tuple
	Void
)

var kindNames = []string{
	Unknown: "unknown",
	Int:     "int",
	Float:   "float",
	Bool:    "bool",
	Str:     "str",
	Array:   "array",
	Map:     "map",
	Tuple:   "tuple",
	Void:    "void",
}

var (
	IntT   = Type{Kind: Int}
	FloatT = Type{Kind: Float}
	BoolT  = Type{Kind: Bool}
	StrT   = Type{Kind: Str}
	VoidT  = Type{Kind: Void}
)

func ArrayOf(elem Type) Type {
	return Type{Kind: Array, Elem: &elem}
}

func MapOf(key, val Type) Type {
	return Type{Kind: Map, Key: &key, Elem: &val}
}

func TupleOf(elems ...Type) Type {
	return Type{Kind: Tuple, Elems: elems}
}

func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "int", "i64", "number":
		return Int
	case "float", "f64":
		return Float
	case "bool":
		return Bool
	case "str", "string":
		return Str
	case "array":
		return Array
	case "map":
		return Map
	case "tuple":
		return Tuple
	case "void":
		return Void
	}

	return Unknown
}

// Heap reports whether values of the kind live in reference counted heap objects.
func (k Kind) Heap() bool {
	return k == Str || k == Array || k == Map
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "kind?"
	}

	return kindNames[k]
}

func (k *Kind) UnmarshalYAML(n *yaml.Node) error {
	*k = ParseKind(n.Value)

	return nil
}

func (k Kind) MarshalYAML() (any, error) {
	return k.String(), nil
}

func (k Kind) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%v", k)
}

func (t Type) Heap() bool { return t.Kind.Heap() }

func (t Type) Known() bool { return t.Kind != Unknown }

// ElemType returns the element type of an array or the value type of a map.
func (t Type) ElemType() Type {
	if t.Elem == nil {
		return Type{}
	}

	return *t.Elem
}

func (t Type) KeyType() Type {
	if t.Key == nil {
		return Type{}
	}

	return *t.Key
}

// Size is the number of bytes a value of the type occupies in a collection payload slot.
func (t Type) Size() int {
	switch t.Kind {
	case Tuple:
		s := 0

		for _, e := range t.Elems {
			s += e.Size()
		}

		return s
	case Void:
		return 0
	default:
		return 8
	}
}

func (t Type) Equal(x Type) bool {
	if t.Kind != x.Kind {
		return false
	}

	if !t.ElemType().shallowEqual(x.ElemType()) || !t.KeyType().shallowEqual(x.KeyType()) {
		return false
	}

	if len(t.Elems) != len(x.Elems) {
		return false
	}

	for i := range t.Elems {
		if !t.Elems[i].Equal(x.Elems[i]) {
			return false
		}
	}

	return true
}

func (t Type) shallowEqual(x Type) bool {
	if t.Kind != x.Kind {
		return false
	}

	if t.Kind == Array || t.Kind == Map {
		return t.Equal(x)
	}

	return true
}

func (t Type) String() string {
	switch t.Kind {
	case Array:
		return "[" + t.ElemType().String() + "]"
	case Map:
		return "{" + t.KeyType().String() + ": " + t.ElemType().String() + "}"
	case Tuple:
		var b strings.Builder

		b.WriteByte('(')

		for i, e := range t.Elems {
			if i != 0 {
				b.WriteString(", ")
			}

			b.WriteString(e.String())
		}

		b.WriteByte(')')

		return b.String()
	default:
		return t.Kind.String()
	}
}

func (t Type) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%v", t.String())
}
