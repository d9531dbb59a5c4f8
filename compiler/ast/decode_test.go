package ast

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

func TestDecodeProgram(t *testing.T) {
	p, err := Decode(strings.NewReader(`
stmts:
  - kind: fn
    name: f
    params: [{name: x, type: str}]
    ret: str
    body:
      - {kind: return, value: {kind: ident, name: x, type: str}}
  - {kind: let, name: a, type: str, value: "x"}
  - kind: let
    pattern: [k, _]
    value: {kind: tuple, elems: [1, 2.5]}
  - kind: for
    name: i
    iter: {kind: range, start: 0, end: 3, inclusive: true}
    body:
      - {kind: print, values: [{kind: ident, name: i, type: int}]}
      - {kind: break}
  - kind: let
    name: m
    value:
      kind: map
      type: {kind: map, key: {kind: str}, elem: {kind: int}}
      keys: ["a"]
      values: [1]
`))
	require.NoError(t, err)
	require.Len(t, p.Stmts, 5)

	f := p.Stmts[0].(*FuncDecl)
	assert.Equal(t, "f", f.Name)
	assert.Equal(t, []Param{{Name: "x", Type: tp.StrT}}, f.Params)
	require.NotNil(t, f.Ret)
	assert.Equal(t, tp.Str, f.Ret.Kind)
	assert.Equal(t, &Return{Values: []Node{&Ident{Name: "x", Type: tp.StrT}}}, f.Body[0])

	l := p.Stmts[1].(*Let)
	assert.True(t, l.RC)
	assert.False(t, l.Mutable)
	assert.Equal(t, &Str{Value: "x"}, l.Value)

	l = p.Stmts[2].(*Let)
	assert.Equal(t, &TuplePat{Elems: []Node{&Ident{Name: "k"}, &Wildcard{}}}, l.Pattern)
	assert.Equal(t, &Tuple{Elems: []Node{&Int{Value: 1}, &Float{Value: 2.5}}}, l.Value)
	assert.Equal(t, []string{"k"}, PatternNames(l.Pattern))

	fr := p.Stmts[3].(*For)
	assert.Equal(t, &Range{Start: &Int{Value: 0}, End: &Int{Value: 3}, Inclusive: true}, fr.Iter)
	assert.Equal(t, &Break{}, fr.Body[1])

	m := p.Stmts[4].(*Let).Value.(*Map)
	assert.Equal(t, tp.MapOf(tp.StrT, tp.IntT), m.Type)
	assert.Equal(t, []Node{&Str{Value: "a"}}, m.Keys)
}

func TestDecodeJSON(t *testing.T) {
	p, err := Decode(strings.NewReader(`[{"kind": "var", "name": "n", "value": 1}, {"kind": "assign", "name": "n", "value": {"kind": "binary", "op": "+", "l": {"kind": "ident", "name": "n"}, "r": 2}}]`))
	require.NoError(t, err)
	require.Len(t, p.Stmts, 2)

	assert.True(t, p.Stmts[0].(*Let).Mutable)
	assert.Equal(t, "+", p.Stmts[1].(*Assign).Value.(*Binary).Op)
}

func TestDecodeErrors(t *testing.T) {
	for _, src := range []string{
		`[{kind: let, value: 1}]`,
		`[{kind: print, values: [{kind: nope}]}]`,
		`[{kind: let, name: m, value: {kind: map, keys: [1, 2], values: [1]}}]`,
		`"scalar"`,
	} {
		_, err := Decode(strings.NewReader(src))
		assert.Error(t, err, "%s", src)
	}
}
