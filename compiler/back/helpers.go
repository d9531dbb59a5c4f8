package back

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/rc"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

// storeSlot writes v into payload slot idx of h.
func storeSlot(b *ir.Block, h, idx, v value.Value, t tp.Type) {
	st := slotType(t)

	b.NewStore(convert(b, v, st), rc.Slot(b, h, idx, st))
}

// loadSlot reads payload slot idx of h as a value of type t.
func loadSlot(b *ir.Block, h, idx value.Value, t tp.Type) value.Value {
	st := slotType(t)
	v := b.NewLoad(st, rc.Slot(b, h, idx, st))

	return convert(b, v, llType(t))
}

// mapGet returns the lookup routine for maps with the given key and value types.
// Missing keys yield the zero value.
func (p *pkgContext) mapGet(kt, vt tp.Type) *ir.Func {
	name := "__map_get_" + mangle(kt) + "_" + mangle(vt)

	if f, ok := p.helpers[name]; ok {
		return f
	}

	f := p.m.NewFunc(name, llType(vt), ir.NewParam("m", rc.Ptr), ir.NewParam("key", slotType(kt)))
	p.helpers[name] = f

	m, key := f.Params[0], f.Params[1]

	entry := f.NewBlock("entry")
	scan := f.NewBlock("scan")
	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	hit := f.NewBlock("hit")
	next := f.NewBlock("next")
	miss := f.NewBlock("miss")

	j := entry.NewAlloca(types.I64)
	isNull := entry.NewICmp(enum.IPredEQ, m, constant.NewNull(rc.Ptr))
	entry.NewCondBr(isNull, miss, scan)

	n := p.rt.Len(scan, m)
	scan.NewStore(i64(0), j)
	scan.NewBr(loop)

	i := loop.NewLoad(types.I64, j)
	loop.NewCondBr(loop.NewICmp(enum.IPredSLT, i, n), body, miss)

	k := body.NewLoad(slotType(kt), rc.Slot(body, m, i, slotType(kt)))

	var eq value.Value

	switch kt.Kind {
	case tp.Str:
		c := body.NewCall(p.rt.Strcmp, k, key)
		eq = body.NewICmp(enum.IPredEQ, c, constant.NewInt(types.I32, 0))
	case tp.Float:
		eq = body.NewFCmp(enum.FPredOEQ, k, key)
	default:
		eq = body.NewICmp(enum.IPredEQ, k, key)
	}

	body.NewCondBr(eq, hit, next)

	hit.NewRet(loadSlot(hit, m, hit.NewAdd(n, i), vt))

	next.NewStore(next.NewAdd(i, i64(1)), j)
	next.NewBr(loop)

	miss.NewRet(zero(vt))

	return f
}

// print emits printf calls for every value followed by a newline.
// Values are separated by a space.
func (p *pkgContext) print(x mir.Print) error {
	vals, err := p.resolveAll(x.Values)
	if err != nil {
		return err
	}

	for i, v := range vals {
		if i != 0 {
			p.printf(p.b, " ")
		}

		t := p.typeOf(x.Values[i])

		if i < len(x.Types) && x.Types[i].Known() {
			t = x.Types[i]
		}

		p.printValue(p.b, v, t)
	}

	p.printf(p.b, "\n")

	return nil
}

func (p *pkgContext) printf(b *ir.Block, format string, args ...value.Value) {
	args = append([]value.Value{p.rt.CString(b, format)}, args...)

	b.NewCall(p.rt.Printf, args...)
}

// printValue prints a single value without adding new blocks to b.
func (p *pkgContext) printValue(b *ir.Block, v value.Value, t tp.Type) {
	switch t.Kind {
	case tp.Float:
		p.printf(b, "%g", convert(b, v, types.Double))
	case tp.Bool:
		s := b.NewSelect(convert(b, v, types.I1), p.rt.CString(b, "true"), p.rt.CString(b, "false"))
		p.printf(b, "%s", s)
	case tp.Str:
		isNull := b.NewICmp(enum.IPredEQ, v, constant.NewNull(rc.Ptr))
		s := b.NewSelect(isNull, p.rt.CString(b, "null"), v)
		p.printf(b, "%s", s)
	case tp.Array, tp.Map:
		b.NewCall(p.printColl(t), v)
	default:
		p.printf(b, "%lld", convert(b, v, types.I64))
	}
}

// printColl returns the routine printing arrays or maps of type t.
func (p *pkgContext) printColl(t tp.Type) *ir.Func {
	name := "__print_" + mangle(t)

	if f, ok := p.helpers[name]; ok {
		return f
	}

	f := p.m.NewFunc(name, types.Void, ir.NewParam("h", rc.Ptr))
	p.helpers[name] = f

	h := f.Params[0]
	isMap := t.Kind == tp.Map

	entry := f.NewBlock("entry")
	null := f.NewBlock("null")
	start := f.NewBlock("start")
	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	done := f.NewBlock("done")

	j := entry.NewAlloca(types.I64)
	isNull := entry.NewICmp(enum.IPredEQ, h, constant.NewNull(rc.Ptr))
	entry.NewCondBr(isNull, null, start)

	p.printf(null, "null")
	null.NewRet(nil)

	lb, rb := "[", "]"
	if isMap {
		lb, rb = "{", "}"
	}

	p.printf(start, lb)
	n := p.rt.Len(start, h)
	start.NewStore(i64(0), j)
	start.NewBr(loop)

	i := loop.NewLoad(types.I64, j)
	loop.NewCondBr(loop.NewICmp(enum.IPredSLT, i, n), body, done)

	first := body.NewICmp(enum.IPredEQ, i, i64(0))
	sep := body.NewSelect(first, p.rt.CString(body, ""), p.rt.CString(body, ", "))
	body.NewCall(p.rt.Printf, sep)

	if isMap {
		p.printValue(body, loadSlot(body, h, i, t.KeyType()), t.KeyType())
		p.printf(body, ": ")
		p.printValue(body, loadSlot(body, h, body.NewAdd(n, i), t.ElemType()), t.ElemType())
	} else {
		p.printValue(body, loadSlot(body, h, i, t.ElemType()), t.ElemType())
	}

	body.NewStore(body.NewAdd(i, i64(1)), j)
	body.NewBr(loop)

	p.printf(done, rb)
	done.NewRet(nil)

	return f
}

// mangle encodes a type into a symbol name fragment.
func mangle(t tp.Type) string {
	switch t.Kind {
	case tp.Float:
		return "f"
	case tp.Bool:
		return "b"
	case tp.Str:
		return "s"
	case tp.Array:
		return "a" + mangle(t.ElemType())
	case tp.Map:
		return "m" + mangle(t.KeyType()) + mangle(t.ElemType())
	default:
		return "i"
	}
}

func i64(x int64) *constant.Int { return constant.NewInt(types.I64, x) }
