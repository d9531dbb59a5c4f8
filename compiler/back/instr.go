package back

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/rc"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

var (
	intPreds = map[string]enum.IPred{
		"eq": enum.IPredEQ,
		"ne": enum.IPredNE,
		"lt": enum.IPredSLT,
		"le": enum.IPredSLE,
		"gt": enum.IPredSGT,
		"ge": enum.IPredSGE,
	}

	floatPreds = map[string]enum.FPred{
		"eq": enum.FPredOEQ,
		"ne": enum.FPredONE,
		"lt": enum.FPredOLT,
		"le": enum.FPredOLE,
		"gt": enum.FPredOGT,
		"ge": enum.FPredOGE,
	}
)

func (p *pkgContext) instr(x mir.Instr) (err error) {
	b := p.b

	switch x := x.(type) {
	case mir.ConstInt:
		p.set(x.Dst, constant.NewInt(types.I64, x.Value))
	case mir.ConstFloat:
		p.set(x.Dst, constant.NewFloat(types.Double, x.Value))
	case mir.ConstBool:
		p.set(x.Dst, constant.NewBool(x.Value))
	case mir.ConstString:
		p.set(x.Dst, p.rt.String(b, x.Value))
	case mir.ConstNull:
		p.set(x.Dst, constant.NewNull(rc.Ptr))
	case mir.MakeArray:
		vals, err := p.resolveAll(x.Elems)
		if err != nil {
			return err
		}

		n := int64(len(vals))
		h := p.rt.Alloc(b, i64(n*rc.SlotSize), i64(n), rc.Flags(x.Type))

		for i, v := range vals {
			storeSlot(b, h, i64(int64(i)), v, x.Type.ElemType())
		}

		p.set(x.Dst, h)
	case mir.MakeMap:
		keys, err := p.resolveAll(x.Keys)
		if err != nil {
			return err
		}

		vals, err := p.resolveAll(x.Values)
		if err != nil {
			return err
		}

		n := int64(len(keys))
		h := p.rt.Alloc(b, i64(2*n*rc.SlotSize), i64(n), rc.Flags(x.Type))

		for i := range keys {
			storeSlot(b, h, i64(int64(i)), keys[i], x.Type.KeyType())
			storeSlot(b, h, i64(n+int64(i)), vals[i], x.Type.ElemType())
		}

		p.set(x.Dst, h)
	case mir.TupleGet:
		v, err := p.resolve(x.Tuple)
		if err != nil {
			return err
		}

		if _, ok := v.Type().(*types.StructType); !ok {
			return errors.New("tuple get from %v of type %v", x.Tuple, v.Type())
		}

		p.set(x.Dst, b.NewExtractValue(v, uint64(x.Index)))
	case mir.BinOp:
		return p.binop(x)
	case mir.UnOp:
		v, err := p.resolve(x.X)
		if err != nil {
			return err
		}

		var r value.Value

		switch {
		case x.Op == "neg" && x.Class == tp.Float:
			r = b.NewFNeg(convert(b, v, types.Double))
		case x.Op == "neg":
			r = b.NewSub(i64(0), convert(b, v, types.I64))
		case x.Op == "not":
			r = b.NewXor(p.cond(v), constant.NewBool(true))
		default:
			return errors.New("unsupported operator %v in %v", x.Tag(), p.Name)
		}

		p.set(x.Dst, r)
	case mir.Concat:
		l, err := p.resolve(x.L)
		if err != nil {
			return err
		}

		r, err := p.resolve(x.R)
		if err != nil {
			return err
		}

		p.set(x.Dst, p.rt.Concat(b, l, r))
	case mir.Assign:
		v, err := p.resolve(x.Src)
		if err != nil {
			return err
		}

		p.set(x.Dst, convert(b, v, llType(p.typeOf(x.Dst))))
	case mir.Call:
		f, ok := p.funcs[x.Func]
		if !ok {
			return errors.New("call of undefined function %v", x.Func)
		}

		args, err := p.resolveAll(x.Args)
		if err != nil {
			return err
		}

		if len(args) != len(f.Params) {
			return errors.New("call %v: %d args, want %d", x.Func, len(args), len(f.Params))
		}

		for i, a := range args {
			args[i] = convert(b, a, f.Params[i].Typ)
		}

		r := b.NewCall(f, args...)

		if x.Dst != "" {
			p.set(x.Dst, r)
		}
	case mir.Len:
		if m, ok := p.meta.lookup(x.X); ok {
			p.set(x.Dst, i64(m.Len))
			break
		}

		h, err := p.resolve(x.X)
		if err != nil {
			return err
		}

		p.set(x.Dst, p.rt.Len(b, h))
	case mir.ArrayGet:
		h, err := p.resolve(x.Array)
		if err != nil {
			return err
		}

		idx, err := p.resolve(x.Index)
		if err != nil {
			return err
		}

		p.set(x.Dst, loadSlot(b, h, convert(b, idx, types.I64), p.elemType(x.Array, x.Type)))
	case mir.MapGet:
		h, err := p.resolve(x.Map)
		if err != nil {
			return err
		}

		k, err := p.resolve(x.Key)
		if err != nil {
			return err
		}

		kt := x.KeyType
		if !kt.Known() {
			kt = p.typeOf(x.Key)
		}

		vt := p.elemType(x.Map, x.Type)

		get := p.mapGet(kt, vt)
		p.set(x.Dst, b.NewCall(get, h, convert(b, k, slotType(kt))))
	case mir.MapEntry:
		h, err := p.resolve(x.Map)
		if err != nil {
			return err
		}

		idx, err := p.resolve(x.Index)
		if err != nil {
			return err
		}

		idx = convert(b, idx, types.I64)
		n := p.rt.Len(b, h)

		p.set(x.Key, loadSlot(b, h, idx, x.KeyType))
		p.set(x.Value, loadSlot(b, h, b.NewAdd(n, idx), x.ValType))
	case mir.IncRef:
		return p.rcCall(p.rt.Inc, x.Value)
	case mir.DecRef:
		return p.rcCall(p.rt.Dec, x.Value)
	case mir.LoopMark:
	case mir.Print:
		return p.print(x)
	case mir.Return, mir.Jump, mir.CondJump:
		return errors.New("terminator %T in the middle of a block", x)
	default:
		panic(x)
	}

	return nil
}

func (p *pkgContext) term(x mir.Term) (err error) {
	b := p.b

	switch x := x.(type) {
	case mir.Return:
		rt := p.irf.Sig.RetType

		if rt.Equal(types.Void) {
			b.NewRet(nil)
			break
		}

		vals, err := p.resolveAll(x.Values)
		if err != nil {
			return err
		}

		st, ok := rt.(*types.StructType)

		switch {
		case len(vals) == 1 && !ok:
			b.NewRet(convert(b, vals[0], rt))
		case ok && len(vals) == len(st.Fields):
			var agg value.Value = constant.NewUndef(st)

			for i, v := range vals {
				agg = b.NewInsertValue(agg, convert(b, v, st.Fields[i]), uint64(i))
			}

			b.NewRet(agg)
		default:
			return errors.New("return of %d values from %v returning %v", len(vals), p.Name, rt)
		}
	case mir.Jump:
		t, ok := p.blocks[x.Target]
		if !ok {
			return errors.New("jump to undefined block %v", x.Target)
		}

		b.NewBr(t)
	case mir.CondJump:
		c, err := p.resolve(x.Cond)
		if err != nil {
			return err
		}

		then, ok := p.blocks[x.Then]
		if !ok {
			return errors.New("jump to undefined block %v", x.Then)
		}

		els, ok := p.blocks[x.Else]
		if !ok {
			return errors.New("jump to undefined block %v", x.Else)
		}

		b.NewCondBr(p.cond(c), then, els)
	default:
		panic(x)
	}

	return nil
}

func (p *pkgContext) binop(x mir.BinOp) error {
	b := p.b

	l, err := p.resolve(x.L)
	if err != nil {
		return err
	}

	r, err := p.resolve(x.R)
	if err != nil {
		return err
	}

	var v value.Value

	switch x.Class {
	case tp.Int, tp.Unknown:
		l, r = convert(b, l, types.I64), convert(b, r, types.I64)

		switch x.Op {
		case "add":
			v = b.NewAdd(l, r)
		case "sub":
			v = b.NewSub(l, r)
		case "mul":
			v = b.NewMul(l, r)
		case "div":
			v = b.NewSDiv(l, r)
		case "mod":
			v = b.NewSRem(l, r)
		default:
			if pred, ok := intPreds[x.Op]; ok {
				v = b.NewICmp(pred, l, r)
			}
		}
	case tp.Float:
		l, r = convert(b, l, types.Double), convert(b, r, types.Double)

		switch x.Op {
		case "add":
			v = b.NewFAdd(l, r)
		case "sub":
			v = b.NewFSub(l, r)
		case "mul":
			v = b.NewFMul(l, r)
		case "div":
			v = b.NewFDiv(l, r)
		case "mod":
			v = b.NewFRem(l, r)
		default:
			if pred, ok := floatPreds[x.Op]; ok {
				v = b.NewFCmp(pred, l, r)
			}
		}
	case tp.Bool:
		l, r = p.cond(l), p.cond(r)

		switch x.Op {
		case "and":
			v = b.NewAnd(l, r)
		case "or":
			v = b.NewOr(l, r)
		case "eq":
			v = b.NewICmp(enum.IPredEQ, l, r)
		case "ne":
			v = b.NewICmp(enum.IPredNE, l, r)
		}
	case tp.Str:
		if pred, ok := intPreds[x.Op]; ok {
			c := b.NewCall(p.rt.Strcmp, l, r)
			v = b.NewICmp(pred, c, constant.NewInt(types.I32, 0))
		}
	}

	if v == nil {
		return errors.New("unsupported operator %v in %v", x.Tag(), p.Name)
	}

	p.set(x.Dst, v)

	return nil
}

// cond converts a value to a branch condition.
func (p *pkgContext) cond(v value.Value) value.Value {
	if v.Type().Equal(types.I1) {
		return v
	}

	if _, ok := v.Type().(*types.PointerType); ok {
		return p.b.NewICmp(enum.IPredNE, v, constant.NewNull(rc.Ptr))
	}

	return p.b.NewICmp(enum.IPredNE, convert(p.b, v, types.I64), i64(0))
}

func (p *pkgContext) rcCall(f value.Value, n string) error {
	v, err := p.resolve(n)
	if err != nil {
		return err
	}

	if _, ok := v.Type().(*types.PointerType); !ok {
		return errors.New("reference counting of non-handle %v of type %v", n, v.Type())
	}

	p.b.NewCall(f, convert(p.b, v, rc.Ptr))

	return nil
}

// elemType prefers the type recorded on the access, then collection metadata.
func (p *pkgContext) elemType(coll string, t tp.Type) tp.Type {
	if t.Known() {
		return t
	}

	if m, ok := p.meta.lookup(coll); ok && m.Elem.Known() {
		return m.Elem
	}

	if et := p.typeOf(coll).ElemType(); et.Known() {
		return et
	}

	return tp.IntT
}
