package build

import (
	"context"

	"tlog.app/go/errors"

	"github.com/nynrathod/mylang-sub000/compiler/ast"
	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

// expr lowers an expression and returns the name holding its value.
// Fresh heap values are left pending until the statement ends or someone claims them.
func (c *Context) expr(ctx context.Context, e ast.Node) (string, tp.Type, error) {
	return c.value(ctx, e, false)
}

// value is expr where collection literals may take over
// immutable bindings of the innermost scope.
func (c *Context) value(ctx context.Context, e ast.Node, transfer bool) (_ string, _ tp.Type, err error) {
	switch e := e.(type) {
	case *ast.Int:
		return c.def(mir.ConstInt{Dst: c.tmp(), Value: e.Value}, tp.IntT), tp.IntT, nil
	case *ast.Float:
		return c.def(mir.ConstFloat{Dst: c.tmp(), Value: e.Value}, tp.FloatT), tp.FloatT, nil
	case *ast.Bool:
		return c.def(mir.ConstBool{Dst: c.tmp(), Value: e.Value}, tp.BoolT), tp.BoolT, nil
	case *ast.Str:
		v := c.def(mir.ConstString{Dst: c.tmp(), Value: e.Value}, tp.StrT)
		c.fresh(v)

		return v, tp.StrT, nil
	case *ast.Ident:
		name, t, ok := c.lookup(e.Name)
		if !ok {
			return "", tp.Type{}, errors.New("undefined: %v", e.Name)
		}

		if !t.Known() {
			t = e.Type
		}

		return name, t, nil
	case *ast.Array:
		return c.array(ctx, e, transfer)
	case *ast.Map:
		return c.mapLit(ctx, e, transfer)
	case *ast.Tuple:
		return "", tp.Type{}, errors.New("tuple literal outside of return or destructuring")
	case *ast.Binary:
		return c.binary(ctx, e)
	case *ast.Unary:
		return c.unary(ctx, e)
	case *ast.Call:
		return c.call(ctx, e)
	case *ast.Index:
		return c.index(ctx, e)
	case *ast.Range:
		return "", tp.Type{}, errors.New("range outside of a loop")
	default:
		return "", tp.Type{}, errors.New("unsupported expression: %T", e)
	}
}

func (c *Context) def(x mir.Instr, t tp.Type) string {
	d := x.Defs()[0]

	c.fn.types[d] = t
	c.emit(x)

	return d
}

func (c *Context) array(ctx context.Context, e *ast.Array, transfer bool) (_ string, _ tp.Type, err error) {
	t := e.Type
	moved := map[string]bool{}

	x := mir.MakeArray{Dst: c.tmp()}

	for i, el := range e.Elems {
		v, et, err := c.value(ctx, el, transfer)
		if err != nil {
			return "", t, errors.Wrap(err, "elem %d", i)
		}

		if t.Kind != tp.Array || !t.ElemType().Known() {
			t = tp.ArrayOf(et)
		}

		c.take(v, t.ElemType(), transfer, moved)

		x.Elems = append(x.Elems, v)
	}

	if t.Kind != tp.Array {
		t = tp.ArrayOf(tp.Type{})
	}

	x.Type = t

	v := c.def(x, t)
	c.fresh(v)

	return v, t, nil
}

func (c *Context) mapLit(ctx context.Context, e *ast.Map, transfer bool) (_ string, _ tp.Type, err error) {
	t := e.Type
	moved := map[string]bool{}

	x := mir.MakeMap{Dst: c.tmp()}

	for i := range e.Keys {
		k, kt, err := c.value(ctx, e.Keys[i], transfer)
		if err != nil {
			return "", t, errors.Wrap(err, "key %d", i)
		}

		v, vt, err := c.value(ctx, e.Values[i], transfer)
		if err != nil {
			return "", t, errors.Wrap(err, "value %d", i)
		}

		if t.Kind != tp.Map || !t.KeyType().Known() || !t.ElemType().Known() {
			t = tp.MapOf(kt, vt)
		}

		c.take(k, t.KeyType(), transfer, moved)
		c.take(v, t.ElemType(), transfer, moved)

		x.Keys = append(x.Keys, k)
		x.Values = append(x.Values, v)
	}

	if t.Kind != tp.Map {
		t = tp.MapOf(tp.Type{}, tp.Type{})
	}

	x.Type = t

	v := c.def(x, t)
	c.fresh(v)

	return v, t, nil
}

// take moves a heap element into a container being built.
// Fresh temporaries are claimed, immutable innermost bindings are untracked
// when the literal is being bound or returned, anything else gets a new reference.
func (c *Context) take(v string, t tp.Type, transfer bool, moved map[string]bool) {
	if !t.Heap() {
		return
	}

	if c.claim(v) {
		return
	}

	if transfer && !moved[v] && c.untrackInner(v) {
		moved[v] = true
		return
	}

	c.emit(mir.IncRef{Value: v})
}

func (c *Context) binary(ctx context.Context, e *ast.Binary) (_ string, _ tp.Type, err error) {
	l, lt, err := c.expr(ctx, e.L)
	if err != nil {
		return "", tp.Type{}, errors.Wrap(err, "left")
	}

	r, rt, err := c.expr(ctx, e.R)
	if err != nil {
		return "", tp.Type{}, errors.Wrap(err, "right")
	}

	class := lt.Kind
	if class == tp.Unknown {
		class = rt.Kind
	}

	if class == tp.Unknown {
		class = e.Type.Kind
	}

	if class == tp.Unknown {
		class = tp.Int
	}

	if e.Op == "+" && class == tp.Str {
		v := c.def(mir.Concat{Dst: c.tmp(), L: l, R: r}, tp.StrT)
		c.fresh(v)

		return v, tp.StrT, nil
	}

	op, ok := mir.OpName[e.Op]
	if !ok {
		return "", tp.Type{}, errors.New("unsupported operator: %v", e.Op)
	}

	x := mir.BinOp{Op: op, Class: class, Dst: c.tmp(), L: l, R: r}
	t := x.Type()

	return c.def(x, t), t, nil
}

func (c *Context) unary(ctx context.Context, e *ast.Unary) (_ string, _ tp.Type, err error) {
	v, t, err := c.expr(ctx, e.X)
	if err != nil {
		return "", tp.Type{}, err
	}

	var op string

	switch e.Op {
	case "-":
		op = "neg"
	case "!":
		op = "not"
	default:
		return "", tp.Type{}, errors.New("unsupported unary operator: %v", e.Op)
	}

	class := t.Kind
	if class == tp.Unknown {
		class = e.Type.Kind
	}

	x := mir.UnOp{Op: op, Class: class, Dst: c.tmp(), X: v}
	t = x.Type()

	return c.def(x, t), t, nil
}

func (c *Context) call(ctx context.Context, e *ast.Call) (_ string, _ tp.Type, err error) {
	if e.Func == "len" {
		if len(e.Args) != 1 {
			return "", tp.Type{}, errors.New("len: %d args", len(e.Args))
		}

		v, _, err := c.expr(ctx, e.Args[0])
		if err != nil {
			return "", tp.Type{}, errors.Wrap(err, "len")
		}

		return c.def(mir.Len{Dst: c.tmp(), X: v}, tp.IntT), tp.IntT, nil
	}

	s, ok := c.sigs[e.Func]
	if !ok {
		return "", tp.Type{}, errors.New("undefined function: %v", e.Func)
	}

	x := mir.Call{Func: e.Func, Type: s.ret}

	for i, a := range e.Args {
		v, _, err := c.expr(ctx, a)
		if err != nil {
			return "", tp.Type{}, errors.Wrap(err, "arg %d", i)
		}

		x.Args = append(x.Args, v)
	}

	if s.ret.Kind == tp.Void {
		c.emit(x)

		return "", tp.VoidT, nil
	}

	x.Dst = c.tmp()

	v := c.def(x, s.ret)

	if s.ret.Heap() {
		c.fresh(v)
	}

	return v, s.ret, nil
}

func (c *Context) index(ctx context.Context, e *ast.Index) (_ string, _ tp.Type, err error) {
	coll, ct, err := c.expr(ctx, e.X)
	if err != nil {
		return "", tp.Type{}, errors.Wrap(err, "collection")
	}

	idx, it, err := c.expr(ctx, e.Index)
	if err != nil {
		return "", tp.Type{}, errors.Wrap(err, "index")
	}

	et := ct.ElemType()
	if !et.Known() {
		et = e.Type
	}

	var v string

	switch ct.Kind {
	case tp.Array:
		v = c.def(mir.ArrayGet{Dst: c.tmp(), Array: coll, Index: idx, Type: et}, et)
	case tp.Map:
		kt := ct.KeyType()
		if !kt.Known() {
			kt = it
		}

		v = c.def(mir.MapGet{Dst: c.tmp(), Map: coll, Key: idx, Type: et, KeyType: kt}, et)
	default:
		return "", tp.Type{}, errors.New("index of %v", ct)
	}

	if et.Heap() {
		c.emit(mir.IncRef{Value: v})
		c.fresh(v)
	}

	return v, et, nil
}

// staticType computes the type of an expression without lowering it.
func (c *Context) staticType(e ast.Node) tp.Type {
	switch e := e.(type) {
	case *ast.Int:
		return tp.IntT
	case *ast.Float:
		return tp.FloatT
	case *ast.Bool:
		return tp.BoolT
	case *ast.Str:
		return tp.StrT
	case *ast.Ident:
		if _, t, ok := c.lookup(e.Name); ok && t.Known() {
			return t
		}

		return e.Type
	case *ast.Array:
		if e.Type.Known() {
			return e.Type
		}

		if len(e.Elems) != 0 {
			return tp.ArrayOf(c.staticType(e.Elems[0]))
		}

		return tp.ArrayOf(tp.Type{})
	case *ast.Map:
		if e.Type.Known() || len(e.Keys) == 0 {
			return e.Type
		}

		return tp.MapOf(c.staticType(e.Keys[0]), c.staticType(e.Values[0]))
	case *ast.Binary:
		op := mir.OpName[e.Op]
		if mir.IsCmp(op) || op == "and" || op == "or" {
			return tp.BoolT
		}

		if t := c.staticType(e.L); t.Known() {
			return t
		}

		return e.Type
	case *ast.Unary:
		if e.Op == "!" {
			return tp.BoolT
		}

		return c.staticType(e.X)
	case *ast.Call:
		if e.Func == "len" {
			return tp.IntT
		}

		if s, ok := c.sigs[e.Func]; ok {
			return s.ret
		}

		return e.Type
	case *ast.Index:
		if t := c.staticType(e.X).ElemType(); t.Known() {
			return t
		}

		return e.Type
	default:
		return tp.Type{}
	}
}
