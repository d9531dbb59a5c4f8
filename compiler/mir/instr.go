package mir

import "github.com/nynrathod/mylang-sub000/compiler/tp"

type (
	ConstInt struct {
		Dst   string
		Value int64
	}

	ConstFloat struct {
		Dst   string
		Value float64
	}

	ConstBool struct {
		Dst   string
		Value bool
	}

	// ConstString allocates a heap string with refcount 1.
	ConstString struct {
		Dst   string
		Value string
	}

	// ConstNull is a null heap handle of the given type.
	ConstNull struct {
		Dst  string
		Type tp.Type
	}

	// MakeArray allocates an array holding Elems.
	// Heap elements are owned by the array from now on.
	MakeArray struct {
		Dst   string
		Elems []string
		Type  tp.Type
	}

	MakeMap struct {
		Dst    string
		Keys   []string
		Values []string
		Type   tp.Type
	}

	TupleGet struct {
		Dst   string
		Tuple string
		Index int
		Type  tp.Type
	}

	// BinOp is arithmetic, comparison or logic on operands of kind Class.
	BinOp struct {
		Op    string
		Class tp.Kind
		Dst   string
		L, R  string
	}

	UnOp struct {
		Op    string
		Class tp.Kind
		Dst   string
		X     string
	}

	// Concat allocates a new string.
	Concat struct {
		Dst  string
		L, R string
	}

	// Assign copies Src into the variable Dst.
	// Decl is set on the first binding of a variable.
	Assign struct {
		Dst     string
		Src     string
		Type    tp.Type
		Mutable bool `tlog:",omitempty"`
		Decl    bool `tlog:",omitempty"`
	}

	// Call with empty Dst discards the result.
	Call struct {
		Dst  string `tlog:",omitempty"`
		Func string
		Args []string
		Type tp.Type
	}

	// Len reads the runtime length of an array or map.
	Len struct {
		Dst string
		X   string
	}

	ArrayGet struct {
		Dst   string
		Array string
		Index string
		Type  tp.Type
	}

	MapGet struct {
		Dst     string
		Map     string
		Key     string
		Type    tp.Type
		KeyType tp.Type
	}

	// MapEntry loads Index-th key and value of Map.
	MapEntry struct {
		Key, Value string
		Map        string
		Index      string

		KeyType tp.Type
		ValType tp.Type
	}

	IncRef struct {
		Value string
	}

	DecRef struct {
		Value string
	}

	LoopMark struct {
		Label string
		Enter bool
	}

	Print struct {
		Values []string
		Types  []tp.Type
	}

	// Terminators

	Return struct {
		Values []string `tlog:",omitempty"`
	}

	Jump struct {
		Target string
	}

	CondJump struct {
		Cond       string
		Then, Else string
	}
)

var cmpOps = map[string]bool{
	"eq": true,
	"ne": true,
	"lt": true,
	"le": true,
	"gt": true,
	"ge": true,
}

// OpName maps source operators to MIR operation names.
var OpName = map[string]string{
	"+":  "add",
	"-":  "sub",
	"*":  "mul",
	"/":  "div",
	"%":  "mod",
	"==": "eq",
	"!=": "ne",
	"<":  "lt",
	"<=": "le",
	">":  "gt",
	">=": "ge",
	"&&": "and",
	"||": "or",
}

func IsCmp(op string) bool { return cmpOps[op] }

func (x BinOp) Tag() string { return x.Op + ":" + x.Class.String() }
func (x UnOp) Tag() string { return x.Op + ":" + x.Class.String() }

func (x BinOp) Type() tp.Type {
	if IsCmp(x.Op) || x.Op == "and" || x.Op == "or" {
		return tp.BoolT
	}

	return tp.Type{Kind: x.Class}
}

func (x UnOp) Type() tp.Type {
	if x.Op == "not" {
		return tp.BoolT
	}

	return tp.Type{Kind: x.Class}
}

func (ConstInt) instr() {}
func (ConstFloat) instr() {}
func (ConstBool) instr() {}
func (ConstString) instr() {}
func (ConstNull) instr() {}
func (MakeArray) instr() {}
func (MakeMap) instr() {}
func (TupleGet) instr() {}
func (BinOp) instr() {}
func (UnOp) instr() {}
func (Concat) instr() {}
func (Assign) instr() {}
func (Call) instr() {}
func (Len) instr() {}
func (ArrayGet) instr() {}
func (MapGet) instr() {}
func (MapEntry) instr() {}
func (IncRef) instr() {}
func (DecRef) instr() {}
func (LoopMark) instr() {}
func (Print) instr() {}
func (Return) instr() {}
func (Jump) instr() {}
func (CondJump) instr() {}

func (x ConstInt) Defs() []string { return []string{x.Dst} }
func (x ConstFloat) Defs() []string { return []string{x.Dst} }
func (x ConstBool) Defs() []string { return []string{x.Dst} }
func (x ConstString) Defs() []string { return []string{x.Dst} }
func (x ConstNull) Defs() []string { return []string{x.Dst} }
func (x MakeArray) Defs() []string { return []string{x.Dst} }
func (x MakeMap) Defs() []string { return []string{x.Dst} }
func (x TupleGet) Defs() []string { return []string{x.Dst} }
func (x BinOp) Defs() []string { return []string{x.Dst} }
func (x UnOp) Defs() []string { return []string{x.Dst} }
func (x Concat) Defs() []string { return []string{x.Dst} }
func (x Assign) Defs() []string { return []string{x.Dst} }
func (x Len) Defs() []string { return []string{x.Dst} }
func (x ArrayGet) Defs() []string { return []string{x.Dst} }
func (x MapGet) Defs() []string { return []string{x.Dst} }
func (x MapEntry) Defs() []string { return []string{x.Key, x.Value} }
func (IncRef) Defs() []string { return nil }
func (DecRef) Defs() []string { return nil }
func (LoopMark) Defs() []string { return nil }
func (Print) Defs() []string { return nil }
func (Return) Defs() []string { return nil }
func (Jump) Defs() []string { return nil }
func (CondJump) Defs() []string { return nil }

func (x Call) Defs() []string {
	if x.Dst == "" {
		return nil
	}

	return []string{x.Dst}
}

func (ConstInt) Uses() []string { return nil }
func (ConstFloat) Uses() []string { return nil }
func (ConstBool) Uses() []string { return nil }
func (ConstString) Uses() []string { return nil }
func (ConstNull) Uses() []string { return nil }
func (x MakeArray) Uses() []string { return x.Elems }
func (x TupleGet) Uses() []string { return []string{x.Tuple} }
func (x BinOp) Uses() []string { return []string{x.L, x.R} }
func (x UnOp) Uses() []string { return []string{x.X} }
func (x Concat) Uses() []string { return []string{x.L, x.R} }
func (x Assign) Uses() []string { return []string{x.Src} }
func (x Call) Uses() []string { return x.Args }
func (x Len) Uses() []string { return []string{x.X} }
func (x ArrayGet) Uses() []string { return []string{x.Array, x.Index} }
func (x MapGet) Uses() []string { return []string{x.Map, x.Key} }
func (x MapEntry) Uses() []string { return []string{x.Map, x.Index} }
func (x IncRef) Uses() []string { return []string{x.Value} }
func (x DecRef) Uses() []string { return []string{x.Value} }
func (LoopMark) Uses() []string { return nil }
func (x Print) Uses() []string { return x.Values }
func (x Return) Uses() []string { return x.Values }
func (Jump) Uses() []string { return nil }
func (x CondJump) Uses() []string { return []string{x.Cond} }

func (x MakeMap) Uses() []string {
	r := make([]string, 0, len(x.Keys)+len(x.Values))
	r = append(r, x.Keys...)
	r = append(r, x.Values...)

	return r
}

func (Return) Targets() []string { return nil }
func (x Jump) Targets() []string { return []string{x.Target} }
func (x CondJump) Targets() []string { return []string{x.Then, x.Else} }

// TypeOf returns the type of the value defined by x
// as recorded on the instruction itself.
// Instructions defining nothing or several values return the zero Type.
func TypeOf(x Instr) tp.Type {
	switch x := x.(type) {
	case ConstInt, Len:
		return tp.IntT
	case ConstFloat:
		return tp.FloatT
	case ConstBool:
		return tp.BoolT
	case ConstString, Concat:
		return tp.StrT
	case ConstNull:
		return x.Type
	case MakeArray:
		return x.Type
	case MakeMap:
		return x.Type
	case TupleGet:
		return x.Type
	case BinOp:
		return x.Type()
	case UnOp:
		return x.Type()
	case Assign:
		return x.Type
	case Call:
		return x.Type
	case ArrayGet:
		return x.Type
	case MapGet:
		return x.Type
	case MapEntry, IncRef, DecRef, LoopMark, Print, Return, Jump, CondJump:
		return tp.Type{}
	default:
		panic(x)
	}
}

// Allocates reports whether x creates a new heap object owned by its Dst.
func Allocates(x Instr) bool {
	switch x.(type) {
	case ConstString, Concat, MakeArray, MakeMap:
		return true
	}

	return false
}
