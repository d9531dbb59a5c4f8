package rc

import (
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

func TestFlags(t *testing.T) {
	assert.Equal(t, uint32(0), Flags(tp.StrT))
	assert.Equal(t, uint32(0), Flags(tp.ArrayOf(tp.IntT)))
	assert.Equal(t, FirstHeap, Flags(tp.ArrayOf(tp.StrT)))
	assert.Equal(t, MapLayout|SecondHeap, Flags(tp.MapOf(tp.IntT, tp.StrT)))
	assert.Equal(t, MapLayout|FirstHeap, Flags(tp.MapOf(tp.StrT, tp.IntT)))

	f := Flags(tp.MapOf(tp.StrT, tp.IntT))

	assert.Equal(t, int64(6), Slots(f, 3))
	assert.True(t, SlotHeap(f, 3, 2))
	assert.False(t, SlotHeap(f, 3, 3))

	assert.Equal(t, uint32(0), FlagsMask&LengthMask)
	assert.Equal(t, uint32(0xffffffff), FlagsMask|LengthMask)
	assert.Zero(t, LengthMask&(FirstHeap|SecondHeap|MapLayout))
}

func TestEmitRuntime(t *testing.T) {
	m := ir.NewModule()
	r := Emit(m)

	names := map[string]bool{}

	for _, f := range m.Funcs {
		names[f.Name()] = true
	}

	for _, n := range []string{"malloc", "free", "memcpy", "strlen", "strcmp", "printf", IncName, DecName} {
		assert.True(t, names[n], "missing %v", n)
	}

	assert.Len(t, r.Inc.Blocks, 3)
	assert.Len(t, r.Dec.Blocks, 9)

	for _, b := range append(r.Inc.Blocks, r.Dec.Blocks...) {
		require.NotNil(t, b.Term, "block %v", b.Name())
	}

	f := m.NewFunc("mk", Ptr)
	b := f.NewBlock("entry")

	s := r.String(b, "hello")
	_ = r.String(b, "hello")
	b.NewRet(r.Concat(b, s, s))

	text := m.String()

	assert.Contains(t, text, "define void @__rc_dec(i8* %h)")
	assert.Contains(t, text, "call void @__rc_dec(")
	assert.Contains(t, text, `c"hello\00"`)
	assert.Equal(t, 1, strings.Count(text, `c"hello\00"`))
	assert.True(t, s.Type().Equal(Ptr))
}
