package vm

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/rc"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

func block(label string, term mir.Term, instrs ...mir.Instr) *mir.Block {
	return &mir.Block{Label: label, Instrs: instrs, Term: term}
}

func TestRunStrings(t *testing.T) {
	p := &mir.Program{
		Funcs: []*mir.Func{{
			Name: "main",
			Blocks: []*mir.Block{
				block(mir.Entry, mir.Return{},
					mir.ConstString{Dst: "%1", Value: "a"},
					mir.ConstString{Dst: "%2", Value: "b"},
					mir.Concat{Dst: "%3", L: "%1", R: "%2"},
					mir.DecRef{Value: "%2"},
					mir.DecRef{Value: "%1"},
					mir.Assign{Dst: "s", Src: "%3", Type: tp.StrT, Decl: true},
					mir.Print{Values: []string{"s", "g"}, Types: []tp.Type{tp.StrT, tp.IntT}},
					mir.DecRef{Value: "s"},
				),
			},
		}},
		Globals: []mir.Instr{
			mir.ConstInt{Dst: "%0", Value: 7},
			mir.Assign{Dst: "g", Src: "%0", Type: tp.IntT, Decl: true},
		},
	}

	var out bytes.Buffer

	m := New(p)
	m.Out = &out

	err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"ab 7"}, m.Prints)
	assert.Equal(t, "ab 7\n", out.String())
	assert.Equal(t, "ab 7\n", m.Output())

	assert.Equal(t, 3, m.Heap.Allocs)
	assert.Equal(t, 3, m.Heap.Frees)
	assert.Empty(t, m.Heap.Live())
	assert.Equal(t, int64(7), m.Global("g"))
}

func TestRunCollections(t *testing.T) {
	at := tp.ArrayOf(tp.StrT)
	mt := tp.MapOf(tp.StrT, tp.IntT)

	p := &mir.Program{
		Funcs: []*mir.Func{{
			Name: "main",
			Blocks: []*mir.Block{
				block(mir.Entry, mir.Return{},
					mir.ConstString{Dst: "%1", Value: "x"},
					mir.ConstString{Dst: "%2", Value: "y"},
					mir.MakeArray{Dst: "%3", Elems: []string{"%1", "%2"}, Type: at},
					mir.ConstInt{Dst: "%4", Value: 1},
					mir.ArrayGet{Dst: "%5", Array: "%3", Index: "%4", Type: tp.StrT},
					mir.IncRef{Value: "%5"},
					mir.MakeMap{Dst: "%6", Keys: []string{"%5"}, Values: []string{"%4"}, Type: mt},
					mir.ConstString{Dst: "%7", Value: "y"},
					mir.MapGet{Dst: "%8", Map: "%6", Key: "%7", Type: tp.IntT, KeyType: tp.StrT},
					mir.ConstString{Dst: "%9", Value: "z"},
					mir.MapGet{Dst: "%10", Map: "%6", Key: "%9", Type: tp.IntT, KeyType: tp.StrT},
					mir.Len{Dst: "%11", X: "%3"},
					mir.Print{Values: []string{"%3", "%6", "%8", "%10", "%11"}},
					mir.DecRef{Value: "%9"},
					mir.DecRef{Value: "%7"},
					mir.DecRef{Value: "%6"},
					mir.DecRef{Value: "%3"},
				),
			},
		}},
	}

	m := New(p)

	err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"[x, y] {y: 1} 1 0 2"}, m.Prints)
	assert.Empty(t, m.Heap.Live())
}

func TestRunLoop(t *testing.T) {
	p := &mir.Program{
		Funcs: []*mir.Func{{
			Name: "main",
			Blocks: []*mir.Block{
				block(mir.Entry, mir.Jump{Target: "bb1"},
					mir.ConstInt{Dst: "%1"},
					mir.ConstInt{Dst: "%2", Value: 3},
					mir.Assign{Dst: "i", Src: "%1", Type: tp.IntT, Mutable: true, Decl: true},
					mir.LoopMark{Label: "bb1", Enter: true},
				),
				block("bb1", mir.CondJump{Cond: "%3", Then: "bb2", Else: "bb3"},
					mir.BinOp{Op: "lt", Class: tp.Int, Dst: "%3", L: "i", R: "%2"},
				),
				block("bb2", mir.Jump{Target: "bb1"},
					mir.Print{Values: []string{"i"}},
					mir.ConstInt{Dst: "%4", Value: 1},
					mir.BinOp{Op: "add", Class: tp.Int, Dst: "%5", L: "i", R: "%4"},
					mir.Assign{Dst: "i", Src: "%5", Type: tp.IntT, Mutable: true},
				),
				block("bb3", mir.Return{},
					mir.LoopMark{Label: "bb1"},
				),
			},
		}},
	}

	m := New(p)

	err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "1", "2"}, m.Prints)
	assert.Equal(t, 1, m.Loops["bb1"])
}

func TestCallMultipleResults(t *testing.T) {
	p := &mir.Program{
		Funcs: []*mir.Func{{
			Name:       "pair",
			Params:     []string{"a"},
			ParamTypes: []tp.Type{tp.IntT},
			Blocks: []*mir.Block{
				block(mir.Entry, mir.Return{Values: []string{"a", "%1"}},
					mir.UnOp{Op: "neg", Class: tp.Int, Dst: "%1", X: "a"},
				),
			},
		}},
	}

	m := New(p)

	r, err := m.Call(context.Background(), "pair", int64(5))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5), int64(-5)}, r)

	_, err = m.Call(context.Background(), "pair")
	assert.Error(t, err)

	_, err = m.Call(context.Background(), "none")
	assert.Error(t, err)
}

func TestHeapErrors(t *testing.T) {
	p := &mir.Program{
		Funcs: []*mir.Func{
			{
				Name: "double",
				Blocks: []*mir.Block{
					block(mir.Entry, mir.Return{},
						mir.ConstString{Dst: "%1", Value: "a"},
						mir.DecRef{Value: "%1"},
						mir.DecRef{Value: "%1"},
					),
				},
			},
			{
				Name: "after",
				Blocks: []*mir.Block{
					block(mir.Entry, mir.Return{},
						mir.ConstString{Dst: "%1", Value: "a"},
						mir.DecRef{Value: "%1"},
						mir.Print{Values: []string{"%1"}},
					),
				},
			},
			{
				Name: "unresolved",
				Blocks: []*mir.Block{
					block(mir.Entry, mir.Return{},
						mir.Print{Values: []string{"nope"}},
					),
				},
			},
		},
	}

	m := New(p)

	_, err := m.Call(context.Background(), "double")
	assert.ErrorIs(t, err, ErrDoubleFree)

	_, err = m.Call(context.Background(), "after")
	assert.ErrorIs(t, err, ErrUseAfterFree)

	_, err = m.Call(context.Background(), "unresolved")
	assert.Error(t, err)
}

func TestReleaseNested(t *testing.T) {
	var h Heap

	s := h.alloc(tp.Str, 0)
	a := h.alloc(tp.Array, rc.FirstHeap)
	a.Elems = []any{s}

	require.NoError(t, h.inc(a))
	require.NoError(t, h.dec(a))
	assert.False(t, s.Freed)

	require.NoError(t, h.dec(a))
	assert.True(t, s.Freed)
	assert.True(t, a.Freed)
	assert.Equal(t, 2, a.MaxRefs)
	assert.Empty(t, h.Live())

	assert.ErrorIs(t, h.dec(s), ErrDoubleFree)
	assert.ErrorIs(t, h.inc(a), ErrUseAfterFree)
}

func TestStepLimit(t *testing.T) {
	p := &mir.Program{
		Funcs: []*mir.Func{{
			Name: "main",
			Blocks: []*mir.Block{
				block(mir.Entry, mir.Jump{Target: mir.Entry},
					mir.ConstInt{Dst: "%1"},
				),
			},
		}},
	}

	m := New(p)
	m.MaxSteps = 100

	err := m.Run(context.Background())
	assert.Error(t, err)
}
