package rc

import (
	"strconv"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

type (
	// Runtime is the reference counting runtime embedded into a module.
	Runtime struct {
		Module *ir.Module

		Malloc *ir.Func
		Free   *ir.Func
		Memcpy *ir.Func
		Strlen *ir.Func
		Strcmp *ir.Func
		Printf *ir.Func

		Inc *ir.Func
		Dec *ir.Func

		strs map[string]*ir.Global
	}
)

const (
	IncName = "__rc_inc"
	DecName = "__rc_dec"
)

var (
	Ptr    = types.NewPointer(types.I8)
	PtrPtr = types.NewPointer(Ptr)
	I32Ptr = types.NewPointer(types.I32)
	I64Ptr = types.NewPointer(types.I64)
	F64Ptr = types.NewPointer(types.Double)
)

// Emit declares host primitives and defines increment and decrement in m.
func Emit(m *ir.Module) *Runtime {
	r := &Runtime{
		Module: m,
		strs:   map[string]*ir.Global{},
	}

	r.Malloc = m.NewFunc("malloc", Ptr, ir.NewParam("size", types.I64))
	r.Free = m.NewFunc("free", types.Void, ir.NewParam("p", Ptr))
	r.Memcpy = m.NewFunc("memcpy", Ptr, ir.NewParam("dst", Ptr), ir.NewParam("src", Ptr), ir.NewParam("n", types.I64))
	r.Strlen = m.NewFunc("strlen", types.I64, ir.NewParam("s", Ptr))
	r.Strcmp = m.NewFunc("strcmp", types.I32, ir.NewParam("a", Ptr), ir.NewParam("b", Ptr))

	r.Printf = m.NewFunc("printf", types.I32, ir.NewParam("format", Ptr))
	r.Printf.Sig.Variadic = true

	r.emitInc()
	r.emitDec()

	return r
}

func (r *Runtime) emitInc() {
	f := r.Module.NewFunc(IncName, types.Void, ir.NewParam("h", Ptr))
	h := f.Params[0]

	entry := f.NewBlock("entry")
	inc := f.NewBlock("inc")
	done := f.NewBlock("done")

	isNull := entry.NewICmp(enum.IPredEQ, h, constant.NewNull(Ptr))
	entry.NewCondBr(isNull, done, inc)

	p := Field(inc, h, RefcountOffset)
	c := inc.NewLoad(types.I32, p)
	c1 := inc.NewAdd(c, i32(1))
	inc.NewStore(c1, p)
	inc.NewBr(done)

	done.NewRet(nil)

	r.Inc = f
}

// emitDec defines decrement. At zero it releases heap slots of collections
// with the same routine, then frees the object.
func (r *Runtime) emitDec() {
	f := r.Module.NewFunc(DecName, types.Void, ir.NewParam("h", Ptr))
	h := f.Params[0]

	entry := f.NewBlock("entry")
	dec := f.NewBlock("dec")
	release := f.NewBlock("release")
	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	drop := f.NewBlock("drop")
	next := f.NewBlock("next")
	free := f.NewBlock("free")
	done := f.NewBlock("done")

	j := entry.NewAlloca(types.I64)
	isNull := entry.NewICmp(enum.IPredEQ, h, constant.NewNull(Ptr))
	entry.NewCondBr(isNull, done, dec)

	p := Field(dec, h, RefcountOffset)
	c := dec.NewLoad(types.I32, p)
	c1 := dec.NewSub(c, i32(1))
	dec.NewStore(c1, p)
	zero := dec.NewICmp(enum.IPredSLE, c1, i32(0))
	dec.NewCondBr(zero, release, done)

	lf := release.NewLoad(types.I32, Field(release, h, LengthOffset))
	n := release.NewZExt(release.NewAnd(lf, flag(LengthMask)), types.I64)
	fl := release.NewAnd(lf, flag(FlagsMask))
	isMap := release.NewICmp(enum.IPredNE, release.NewAnd(fl, flag(MapLayout)), i32(0))
	total := release.NewSelect(isMap, release.NewMul(n, i64(2)), n)
	release.NewStore(i64(0), j)
	release.NewBr(loop)

	i := loop.NewLoad(types.I64, j)
	more := loop.NewICmp(enum.IPredSLT, i, total)
	loop.NewCondBr(more, body, free)

	first := body.NewICmp(enum.IPredSLT, i, n)
	bit := body.NewSelect(first, flag(FirstHeap), flag(SecondHeap))
	isHeap := body.NewICmp(enum.IPredNE, body.NewAnd(fl, bit), i32(0))
	body.NewCondBr(isHeap, drop, next)

	slots := drop.NewBitCast(h, PtrPtr)
	sp := drop.NewGetElementPtr(Ptr, slots, i)
	e := drop.NewLoad(Ptr, sp)
	drop.NewCall(f, e)
	drop.NewBr(next)

	i1 := next.NewAdd(i, i64(1))
	next.NewStore(i1, j)
	next.NewBr(loop)

	base := free.NewGetElementPtr(types.I8, h, i64(-HeaderSize))
	free.NewCall(r.Free, base)
	free.NewBr(done)

	done.NewRet(nil)

	r.Dec = f
}

// Alloc allocates an object of size payload bytes and returns its handle.
// Refcount starts at 1.
func (r *Runtime) Alloc(b *ir.Block, size, length value.Value, flags uint32) value.Value {
	total := b.NewAdd(size, i64(HeaderSize))
	base := b.NewCall(r.Malloc, total)
	h := b.NewGetElementPtr(types.I8, base, i64(HeaderSize))

	b.NewStore(i32(1), Field(b, h, RefcountOffset))

	var l value.Value = b.NewTrunc(length, types.I32)

	if flags != 0 {
		l = b.NewOr(l, flag(flags))
	}

	b.NewStore(l, Field(b, h, LengthOffset))

	return h
}

// String allocates a heap copy of a constant string.
func (r *Runtime) String(b *ir.Block, s string) value.Value {
	src := r.CString(b, s)
	n := int64(len(s))

	h := r.Alloc(b, i64(n+1), i64(n), 0)
	b.NewCall(r.Memcpy, h, src, i64(n+1))

	return h
}

// Concat allocates a new string holding x followed by y.
func (r *Runtime) Concat(b *ir.Block, x, y value.Value) value.Value {
	lx := r.Len(b, x)
	ly := r.Len(b, y)
	n := b.NewAdd(lx, ly)

	h := r.Alloc(b, b.NewAdd(n, i64(1)), n, 0)

	b.NewCall(r.Memcpy, h, x, lx)

	dst := b.NewGetElementPtr(types.I8, h, lx)
	b.NewCall(r.Memcpy, dst, y, b.NewAdd(ly, i64(1)))

	return h
}

// CString returns a pointer to a constant NUL terminated string.
func (r *Runtime) CString(b *ir.Block, s string) value.Value {
	g, ok := r.strs[s]
	if !ok {
		g = r.Module.NewGlobalDef("str."+strconv.Itoa(len(r.strs)), constant.NewCharArrayFromString(s+"\x00"))
		g.Immutable = true

		r.strs[s] = g
	}

	return b.NewGetElementPtr(g.ContentType, g, i64(0), i64(0))
}

// Len reads the length field of a heap object.
func (r *Runtime) Len(b *ir.Block, h value.Value) value.Value {
	l := b.NewLoad(types.I32, Field(b, h, LengthOffset))

	return b.NewZExt(b.NewAnd(l, flag(LengthMask)), types.I64)
}

// Refcount reads the refcount field of a heap object.
func (r *Runtime) Refcount(b *ir.Block, h value.Value) value.Value {
	return b.NewLoad(types.I32, Field(b, h, RefcountOffset))
}

// Field is a pointer to the 32-bit header field at off relative to the handle.
func Field(b *ir.Block, h value.Value, off int64) value.Value {
	p := b.NewGetElementPtr(types.I8, h, i64(off))

	return b.NewBitCast(p, I32Ptr)
}

// Slot is a pointer to payload slot idx viewed as elem.
func Slot(b *ir.Block, h, idx value.Value, elem types.Type) value.Value {
	base := b.NewBitCast(h, types.NewPointer(elem))

	return b.NewGetElementPtr(elem, base, idx)
}

func i32(x int64) *constant.Int { return constant.NewInt(types.I32, x) }
func i64(x int64) *constant.Int { return constant.NewInt(types.I64, x) }

func flag(f uint32) *constant.Int { return constant.NewInt(types.I32, int64(int32(f))) }
