package ast

import (
	"io"
	"strconv"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	fields map[string]*yaml.Node
)

// Decode reads a typed tree in YAML or JSON form.
//
//	stmts:
//	  - {kind: let, name: a, value: "x"}
//	  - {kind: print, values: [{kind: ident, name: a, type: str}]}
//
// Scalar values stand for literals of the matching kind.
func Decode(r io.Reader) (*Program, error) {
	var root yaml.Node

	err := yaml.NewDecoder(r).Decode(&root)
	if err != nil {
		return nil, errors.Wrap(err, "yaml")
	}

	return DecodeNode(&root)
}

func DecodeNode(n *yaml.Node) (_ *Program, err error) {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		n = n.Content[0]
	}

	var list *yaml.Node

	switch n.Kind {
	case yaml.SequenceNode:
		list = n
	case yaml.MappingNode:
		m, err := mapping(n)
		if err != nil {
			return nil, err
		}

		list = m["stmts"]
	default:
		return nil, errors.New("line %d: expected program", n.Line)
	}

	p := &Program{}

	p.Stmts, err = decodeList(list, decodeStmt)
	if err != nil {
		return nil, errors.Wrap(err, "stmts")
	}

	return p, nil
}

func decodeStmt(n *yaml.Node) (Node, error) {
	m, err := mapping(n)
	if err != nil {
		return nil, err
	}

	kind := m.str("kind")

	switch kind {
	case "let", "var":
		x := &Let{
			Mutable: kind == "var" || m.bool("mutable"),
			RC:      m.bool("rc"),
		}

		if t := m["type"]; t != nil {
			typ, err := decodeType(t)
			if err != nil {
				return nil, errors.Wrap(err, "let type")
			}

			x.Type = &typ
		}

		switch {
		case m["pattern"] != nil:
			x.Pattern, err = decodePattern(m["pattern"])
		case m["name"] != nil:
			x.Pattern = &Ident{Name: m.str("name")}
		default:
			err = errors.New("line %d: let without pattern", n.Line)
		}
		if err != nil {
			return nil, errors.Wrap(err, "let pattern")
		}

		x.Value, err = decodeExpr(m["value"])
		if err != nil {
			return nil, errors.Wrap(err, "let value")
		}

		if x.Type != nil && x.Type.Heap() {
			x.RC = true
		}

		return x, nil
	case "assign":
		x := &Assign{Name: m.str("name")}

		x.Value, err = decodeExpr(m["value"])
		if err != nil {
			return nil, errors.Wrap(err, "assign value")
		}

		return x, nil
	case "if":
		x := &If{}

		x.Cond, err = decodeExpr(m["cond"])
		if err != nil {
			return nil, errors.Wrap(err, "if cond")
		}

		x.Then, err = decodeList(m["then"], decodeStmt)
		if err != nil {
			return nil, errors.Wrap(err, "if then")
		}

		x.Else, err = decodeList(m["else"], decodeStmt)
		if err != nil {
			return nil, errors.Wrap(err, "if else")
		}

		return x, nil
	case "for":
		x := &For{}

		switch {
		case m["pattern"] != nil:
			x.Pattern, err = decodePattern(m["pattern"])
		case m["name"] != nil:
			x.Pattern = &Ident{Name: m.str("name")}
		}
		if err != nil {
			return nil, errors.Wrap(err, "for pattern")
		}

		if it := m["iter"]; it != nil {
			x.Iter, err = decodeExpr(it)
			if err != nil {
				return nil, errors.Wrap(err, "for iter")
			}
		}

		x.Body, err = decodeList(m["body"], decodeStmt)
		if err != nil {
			return nil, errors.Wrap(err, "for body")
		}

		return x, nil
	case "return":
		x := &Return{}

		x.Values, err = decodeList(m["values"], decodeExpr)
		if err != nil {
			return nil, errors.Wrap(err, "return")
		}

		if v := m["value"]; v != nil {
			e, err := decodeExpr(v)
			if err != nil {
				return nil, errors.Wrap(err, "return")
			}

			x.Values = append(x.Values, e)
		}

		return x, nil
	case "print":
		x := &Print{}

		x.Values, err = decodeList(m["values"], decodeExpr)
		if err != nil {
			return nil, errors.Wrap(err, "print")
		}

		return x, nil
	case "fn", "func":
		x := &FuncDecl{Name: m.str("name")}

		x.Params, err = decodeParams(m["params"])
		if err != nil {
			return nil, errors.Wrap(err, "func %v: params", x.Name)
		}

		if t := m["ret"]; t != nil {
			typ, err := decodeType(t)
			if err != nil {
				return nil, errors.Wrap(err, "func %v: ret", x.Name)
			}

			x.Ret = &typ
		}

		x.Body, err = decodeList(m["body"], decodeStmt)
		if err != nil {
			return nil, errors.Wrap(err, "func %v: body", x.Name)
		}

		return x, nil
	case "struct":
		x := &StructDecl{Name: m.str("name")}

		x.Fields, err = decodeParams(m["fields"])
		if err != nil {
			return nil, errors.Wrap(err, "struct %v", x.Name)
		}

		return x, nil
	case "enum":
		x := &EnumDecl{Name: m.str("name")}

		if v := m["variants"]; v != nil {
			err = v.Decode(&x.Variants)
			if err != nil {
				return nil, errors.Wrap(err, "enum %v", x.Name)
			}
		}

		return x, nil
	case "break":
		return &Break{}, nil
	case "continue":
		return &Continue{}, nil
	case "expr":
		x := &ExprStmt{}

		x.X, err = decodeExpr(m["x"])
		if err != nil {
			return nil, errors.Wrap(err, "expr")
		}

		return x, nil
	}

	e, err := decodeExpr(n)
	if err != nil {
		return nil, errors.Wrap(err, "statement")
	}

	return &ExprStmt{X: e}, nil
}

func decodeExpr(n *yaml.Node) (_ Node, err error) {
	if n == nil {
		return nil, errors.New("missing expression")
	}

	if n.Kind == yaml.ScalarNode {
		return decodeScalar(n)
	}

	m, err := mapping(n)
	if err != nil {
		return nil, err
	}

	typ, err := m.typ("type")
	if err != nil {
		return nil, err
	}

	switch kind := m.str("kind"); kind {
	case "int":
		v, err := strconv.ParseInt(m.str("value"), 0, 64)
		if err != nil {
			return nil, errors.Wrap(err, "line %d: int", n.Line)
		}

		return &Int{Value: v}, nil
	case "float":
		v, err := strconv.ParseFloat(m.str("value"), 64)
		if err != nil {
			return nil, errors.Wrap(err, "line %d: float", n.Line)
		}

		return &Float{Value: v}, nil
	case "bool":
		return &Bool{Value: m.bool("value")}, nil
	case "str", "string":
		return &Str{Value: m.str("value")}, nil
	case "array":
		x := &Array{Type: typ}

		x.Elems, err = decodeList(m["elems"], decodeExpr)
		if err != nil {
			return nil, errors.Wrap(err, "array")
		}

		return x, nil
	case "map":
		x := &Map{Type: typ}

		x.Keys, err = decodeList(m["keys"], decodeExpr)
		if err != nil {
			return nil, errors.Wrap(err, "map keys")
		}

		x.Values, err = decodeList(m["values"], decodeExpr)
		if err != nil {
			return nil, errors.Wrap(err, "map values")
		}

		if len(x.Keys) != len(x.Values) {
			return nil, errors.New("line %d: map: %d keys and %d values", n.Line, len(x.Keys), len(x.Values))
		}

		return x, nil
	case "tuple":
		x := &Tuple{}

		x.Elems, err = decodeList(m["elems"], decodeExpr)
		if err != nil {
			return nil, errors.Wrap(err, "tuple")
		}

		return x, nil
	case "ident":
		return &Ident{Name: m.str("name"), Type: typ}, nil
	case "binary":
		x := &Binary{Op: m.str("op"), Type: typ}

		x.L, err = decodeExpr(m["l"])
		if err != nil {
			return nil, errors.Wrap(err, "binary %v: left", x.Op)
		}

		x.R, err = decodeExpr(m["r"])
		if err != nil {
			return nil, errors.Wrap(err, "binary %v: right", x.Op)
		}

		return x, nil
	case "unary":
		x := &Unary{Op: m.str("op"), Type: typ}

		x.X, err = decodeExpr(m["x"])
		if err != nil {
			return nil, errors.Wrap(err, "unary %v", x.Op)
		}

		return x, nil
	case "call":
		x := &Call{Func: m.str("func"), Type: typ}

		x.Args, err = decodeList(m["args"], decodeExpr)
		if err != nil {
			return nil, errors.Wrap(err, "call %v", x.Func)
		}

		return x, nil
	case "index":
		x := &Index{Type: typ}

		x.X, err = decodeExpr(m["x"])
		if err != nil {
			return nil, errors.Wrap(err, "index")
		}

		x.Index, err = decodeExpr(m["index"])
		if err != nil {
			return nil, errors.Wrap(err, "index")
		}

		return x, nil
	case "range":
		x := &Range{Inclusive: m.bool("inclusive")}

		x.Start, err = decodeExpr(m["start"])
		if err != nil {
			return nil, errors.Wrap(err, "range start")
		}

		x.End, err = decodeExpr(m["end"])
		if err != nil {
			return nil, errors.Wrap(err, "range end")
		}

		return x, nil
	default:
		return nil, errors.New("line %d: unsupported expression kind: %q", n.Line, kind)
	}
}

func decodeScalar(n *yaml.Node) (Node, error) {
	switch n.ShortTag() {
	case "!!int":
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, errors.Wrap(err, "line %d: int", n.Line)
		}

		return &Int{Value: v}, nil
	case "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, errors.Wrap(err, "line %d: float", n.Line)
		}

		return &Float{Value: v}, nil
	case "!!bool":
		var v bool

		err := n.Decode(&v)
		if err != nil {
			return nil, errors.Wrap(err, "line %d: bool", n.Line)
		}

		return &Bool{Value: v}, nil
	case "!!str":
		return &Str{Value: n.Value}, nil
	default:
		return nil, errors.New("line %d: unsupported scalar: %v", n.Line, n.ShortTag())
	}
}

func decodePattern(n *yaml.Node) (Node, error) {
	if n.Kind == yaml.ScalarNode {
		if n.Value == "_" {
			return &Wildcard{}, nil
		}

		return &Ident{Name: n.Value}, nil
	}

	if n.Kind == yaml.SequenceNode {
		elems, err := decodeList(n, decodePattern)
		if err != nil {
			return nil, err
		}

		return &TuplePat{Elems: elems}, nil
	}

	m, err := mapping(n)
	if err != nil {
		return nil, err
	}

	switch kind := m.str("kind"); kind {
	case "ident":
		return &Ident{Name: m.str("name")}, nil
	case "tuple":
		elems, err := decodeList(m["elems"], decodePattern)
		if err != nil {
			return nil, err
		}

		return &TuplePat{Elems: elems}, nil
	case "wildcard", "_":
		return &Wildcard{}, nil
	default:
		return nil, errors.New("line %d: unsupported pattern kind: %q", n.Line, kind)
	}
}

func decodeParams(n *yaml.Node) (r []Param, err error) {
	if n == nil {
		return nil, nil
	}

	if n.Kind != yaml.SequenceNode {
		return nil, errors.New("line %d: expected list", n.Line)
	}

	for _, p := range n.Content {
		m, err := mapping(p)
		if err != nil {
			return nil, err
		}

		typ, err := m.typ("type")
		if err != nil {
			return nil, errors.Wrap(err, "param %v", m.str("name"))
		}

		r = append(r, Param{Name: m.str("name"), Type: typ})
	}

	return r, nil
}

func decodeType(n *yaml.Node) (t tp.Type, err error) {
	if n.Kind == yaml.ScalarNode {
		return tp.Type{Kind: tp.ParseKind(n.Value)}, nil
	}

	err = n.Decode(&t)
	if err != nil {
		return t, errors.Wrap(err, "line %d: type", n.Line)
	}

	return t, nil
}

func decodeList(n *yaml.Node, f func(*yaml.Node) (Node, error)) (r []Node, err error) {
	if n == nil {
		return nil, nil
	}

	if n.Kind != yaml.SequenceNode {
		return nil, errors.New("line %d: expected list", n.Line)
	}

	for i, x := range n.Content {
		e, err := f(x)
		if err != nil {
			return nil, errors.Wrap(err, "#%d", i)
		}

		r = append(r, e)
	}

	return r, nil
}

func mapping(n *yaml.Node) (fields, error) {
	if n.Kind != yaml.MappingNode {
		return nil, errors.New("line %d: expected mapping", n.Line)
	}

	m := make(fields, len(n.Content)/2)

	for i := 0; i+1 < len(n.Content); i += 2 {
		m[n.Content[i].Value] = n.Content[i+1]
	}

	return m, nil
}

func (m fields) str(k string) string {
	if n := m[k]; n != nil {
		return n.Value
	}

	return ""
}

func (m fields) bool(k string) bool {
	n := m[k]
	if n == nil {
		return false
	}

	var v bool

	_ = n.Decode(&v)

	return v
}

func (m fields) typ(k string) (tp.Type, error) {
	n := m[k]
	if n == nil {
		return tp.Type{}, nil
	}

	return decodeType(n)
}
