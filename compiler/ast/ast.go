package ast

import "github.com/nynrathod/mylang-sub000/compiler/tp"

type (
	// Node is any statement, expression or pattern of the typed tree.
	Node interface {
	}

	Program struct {
		Stmts []Node
	}

	// Statements

	Let struct {
		Mutable bool
		Type    *tp.Type `tlog:",omitempty"`

		Pattern Node
		Value   Node

		// RC is set by the analyzer when the bound value lives in the heap.
		RC bool
	}

	Assign struct {
		Name  string
		Value Node
	}

	If struct {
		Cond Node
		Then []Node
		Else []Node `tlog:",omitempty"`
	}

	// For with nil Iter is an unconditional loop.
	For struct {
		Pattern Node
		Iter    Node
		Body    []Node
	}

	Return struct {
		Values []Node
	}

	Print struct {
		Values []Node
	}

	FuncDecl struct {
		Name   string
		Params []Param
		Ret    *tp.Type `tlog:",omitempty"`
		Body   []Node
	}

	Param struct {
		Name string
		Type tp.Type
	}

	StructDecl struct {
		Name   string
		Fields []Param
	}

	EnumDecl struct {
		Name     string
		Variants []string
	}

	Break    struct{}
	Continue struct{}

	ExprStmt struct {
		X Node
	}

	// Expressions

	Int struct {
		Value int64
	}

	Float struct {
		Value float64
	}

	Bool struct {
		Value bool
	}

	Str struct {
		Value string
	}

	Array struct {
		Elems []Node
		Type  tp.Type
	}

	Map struct {
		Keys   []Node
		Values []Node
		Type   tp.Type
	}

	Tuple struct {
		Elems []Node
	}

	Ident struct {
		Name string
		Type tp.Type
	}

	Binary struct {
		Op   string
		L, R Node
		Type tp.Type
	}

	Unary struct {
		Op   string
		X    Node
		Type tp.Type
	}

	Call struct {
		Func string
		Args []Node
		Type tp.Type
	}

	Index struct {
		X     Node
		Index Node
		Type  tp.Type
	}

	Range struct {
		Start, End Node
		Inclusive  bool
	}

	// Patterns

	TuplePat struct {
		Elems []Node
	}

	Wildcard struct{}
)

// PatternNames lists identifiers bound by a pattern in order.
func PatternNames(p Node) (r []string) {
	switch p := p.(type) {
	case *Ident:
		return []string{p.Name}
	case *TuplePat:
		for _, e := range p.Elems {
			r = append(r, PatternNames(e)...)
		}

		return r
	case *Wildcard, nil:
		return nil
	default:
		panic(p)
	}
}
