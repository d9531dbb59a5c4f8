package format

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

func TestFormat(t *testing.T) {
	str := tp.StrT

	p := &mir.Program{
		Types: []mir.TypeDecl{
			{Name: "Color", Variants: []string{"Red", "Green"}},
			{Name: "Point", Fields: []mir.Field{{Name: "x", Type: tp.IntT}}},
		},
		Globals: []mir.Instr{
			mir.ConstString{Dst: "%0", Value: "hi"},
			mir.Assign{Dst: "g", Src: "%0", Type: tp.StrT, Decl: true},
		},
		Fini: []string{"g"},
		Funcs: []*mir.Func{{
			Name:       "f",
			Params:     []string{"s"},
			ParamTypes: []tp.Type{tp.StrT},
			Ret:        &str,
			Blocks: []*mir.Block{
				{
					Label: mir.Entry,
					Instrs: []mir.Instr{
						mir.IncRef{Value: "s"},
						mir.LoopMark{Label: "bb1", Enter: true},
					},
					Term: mir.Jump{Target: "bb1"},
				},
				{
					Label: "bb1",
					Term:  mir.Return{Values: []string{"s"}},
				},
			},
		}},
	}

	b, err := Format(context.Background(), nil, p)
	require.NoError(t, err)

	assert.Equal(t, `enum Color { Red, Green }
struct Point { x int }
globals {
	%0 = "hi"
	g := %0
}
fini g

func f(s str) str {
entry:
	incref s
	loop enter bb1
	jump bb1
bb1:
	return s
}
`, string(b))
}

func TestFormatUnterminated(t *testing.T) {
	b, err := Format(context.Background(), nil, &mir.Block{Label: "bb3", Instrs: []mir.Instr{mir.Len{Dst: "%1", X: "a"}}})
	require.NoError(t, err)

	assert.Equal(t, "bb3:\n\t%1 = len a\n\t<no terminator>\n", string(b))

	_, err = Format(context.Background(), nil, 3)
	assert.Error(t, err)
}
