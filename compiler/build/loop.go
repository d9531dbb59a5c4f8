package build

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/ast"
	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	loopLabels struct {
		header, body, inc, exit string
	}
)

func (c *Context) forStmt(ctx context.Context, s *ast.For) (err error) {
	tr := tlog.SpanFromContext(ctx)

	l := loopLabels{
		header: c.label(),
		body:   c.label(),
		inc:    c.label(),
		exit:   c.label(),
	}

	tr.V("loop").Printw("loop", "iter", tlog.NextAsType, s.Iter, "labels", l)

	switch it := s.Iter.(type) {
	case nil:
		return c.forever(ctx, s, l)
	case *ast.Range:
		return c.forRange(ctx, s, it, l)
	}

	if c.staticType(s.Iter).Kind == tp.Bool {
		return c.forCond(ctx, s, l)
	}

	v, t, err := c.expr(ctx, s.Iter)
	if err != nil {
		return errors.Wrap(err, "iterable")
	}

	switch t.Kind {
	case tp.Array, tp.Map:
		return c.forEach(ctx, s, v, t, l)
	default:
		return errors.New("unsupported iterable type: %v", t)
	}
}

func (c *Context) loopBody(ctx context.Context, body []ast.Node, brk, cont string) (err error) {
	c.fn.loops = append(c.fn.loops, loopContext{brk: brk, cont: cont, depth: len(c.fn.scopes)})
	defer func() {
		c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]
	}()

	c.pushScope()

	err = c.stmts(ctx, body)
	if err != nil {
		return errors.Wrap(err, "body")
	}

	c.popScope()

	if !c.dead() {
		c.term(mir.Jump{Target: cont})
	}

	return nil
}

// forever lowers the unconditional loop. Its body is also its header.
func (c *Context) forever(ctx context.Context, s *ast.For, l loopLabels) (err error) {
	c.emit(mir.LoopMark{Label: l.body, Enter: true})
	c.term(mir.Jump{Target: l.body})

	c.newBlock(l.body)

	err = c.loopBody(ctx, s.Body, l.exit, l.body)
	if err != nil {
		return err
	}

	c.newBlock(l.exit)

	if !c.dead() {
		c.emit(mir.LoopMark{Label: l.body})
	}

	return nil
}

// forCond re-evaluates the condition in the header on every iteration.
func (c *Context) forCond(ctx context.Context, s *ast.For, l loopLabels) (err error) {
	c.emit(mir.LoopMark{Label: l.header, Enter: true})
	c.term(mir.Jump{Target: l.header})

	c.newBlock(l.header)

	cond, _, err := c.expr(ctx, s.Iter)
	if err != nil {
		return errors.Wrap(err, "cond")
	}

	c.flush()
	c.term(mir.CondJump{Cond: cond, Then: l.body, Else: l.exit})

	c.newBlock(l.body)

	err = c.loopBody(ctx, s.Body, l.exit, l.header)
	if err != nil {
		return err
	}

	c.newBlock(l.exit)
	c.emit(mir.LoopMark{Label: l.header})

	return nil
}

func (c *Context) forRange(ctx context.Context, s *ast.For, r *ast.Range, l loopLabels) (err error) {
	start, _, err := c.expr(ctx, r.Start)
	if err != nil {
		return errors.Wrap(err, "range start")
	}

	end, _, err := c.expr(ctx, r.End)
	if err != nil {
		return errors.Wrap(err, "range end")
	}

	c.flush()

	c.pushScope()

	cur := c.loopVar(s.Pattern, tp.IntT)

	c.emit(mir.Assign{Dst: cur, Src: start, Type: tp.IntT, Mutable: true, Decl: true})

	bound := c.tmp()
	c.fn.types[bound] = tp.IntT
	c.emit(mir.Assign{Dst: bound, Src: end, Type: tp.IntT, Decl: true})

	c.emit(mir.LoopMark{Label: l.header, Enter: true})
	c.term(mir.Jump{Target: l.header})

	c.newBlock(l.header)

	op := "lt"
	if r.Inclusive {
		op = "le"
	}

	cond := c.tmp()
	c.fn.types[cond] = tp.BoolT
	c.emit(mir.BinOp{Op: op, Class: tp.Int, Dst: cond, L: cur, R: bound})
	c.term(mir.CondJump{Cond: cond, Then: l.body, Else: l.exit})

	c.newBlock(l.body)

	err = c.loopBody(ctx, s.Body, l.exit, l.inc)
	if err != nil {
		return err
	}

	c.newBlock(l.inc)

	if !c.dead() {
		c.advance(cur)
		c.term(mir.Jump{Target: l.header})
	}

	c.newBlock(l.exit)
	c.emit(mir.LoopMark{Label: l.header})

	c.popScope()

	return nil
}

// forEach iterates over an array or a map by index.
// The loop scope owns the iterable and the current element bindings.
func (c *Context) forEach(ctx context.Context, s *ast.For, coll string, t tp.Type, l loopLabels) (err error) {
	isMap := t.Kind == tp.Map

	var kpat, vpat ast.Node

	if isMap {
		pat, ok := s.Pattern.(*ast.TuplePat)
		if !ok || len(pat.Elems) != 2 {
			internal("map iteration needs a (key, value) pattern, got %T", s.Pattern)
		}

		kpat, vpat = pat.Elems[0], pat.Elems[1]
	} else {
		vpat = s.Pattern
	}

	c.pushScope()

	if !c.claim(coll) {
		c.emit(mir.IncRef{Value: coll})
	}

	c.flush()

	iter := c.tmp()
	c.fn.types[iter] = t
	c.emit(mir.Assign{Dst: iter, Src: coll, Type: t, Decl: true})
	c.track(iter)

	zero := c.tmp()
	c.fn.types[zero] = tp.IntT
	c.emit(mir.ConstInt{Dst: zero})

	idx := c.tmp()
	c.fn.types[idx] = tp.IntT
	c.emit(mir.Assign{Dst: idx, Src: zero, Type: tp.IntT, Mutable: true, Decl: true})

	var kv, vv string

	if isMap {
		kv = c.elemVar(kpat, t.KeyType())
	}

	vv = c.elemVar(vpat, t.ElemType())

	c.emit(mir.LoopMark{Label: l.header, Enter: true})
	c.term(mir.Jump{Target: l.header})

	c.newBlock(l.header)

	n := c.tmp()
	c.fn.types[n] = tp.IntT
	c.emit(mir.Len{Dst: n, X: iter})

	cond := c.tmp()
	c.fn.types[cond] = tp.BoolT
	c.emit(mir.BinOp{Op: "lt", Class: tp.Int, Dst: cond, L: idx, R: n})
	c.term(mir.CondJump{Cond: cond, Then: l.body, Else: l.exit})

	c.newBlock(l.body)

	if isMap {
		k, v := c.tmp(), c.tmp()
		c.fn.types[k] = t.KeyType()
		c.fn.types[v] = t.ElemType()

		c.release(kv, t.KeyType())
		c.release(vv, t.ElemType())

		c.emit(mir.MapEntry{Key: k, Value: v, Map: iter, Index: idx, KeyType: t.KeyType(), ValType: t.ElemType()})

		c.rebind(kv, k, t.KeyType())
		c.rebind(vv, v, t.ElemType())
	} else if vv != "" {
		v := c.tmp()
		c.fn.types[v] = t.ElemType()

		c.release(vv, t.ElemType())

		c.emit(mir.ArrayGet{Dst: v, Array: iter, Index: idx, Type: t.ElemType()})
		c.rebind(vv, v, t.ElemType())
	}

	err = c.loopBody(ctx, s.Body, l.exit, l.inc)
	if err != nil {
		return err
	}

	c.newBlock(l.inc)

	if !c.dead() {
		c.advance(idx)
		c.term(mir.Jump{Target: l.header})
	}

	c.newBlock(l.exit)
	c.emit(mir.LoopMark{Label: l.header})

	c.popScope()

	return nil
}

// loopVar declares the cursor variable in the current scope.
func (c *Context) loopVar(pat ast.Node, t tp.Type) string {
	id, ok := pat.(*ast.Ident)
	if !ok {
		name := c.tmp()
		c.fn.types[name] = t

		return name
	}

	name := c.declName(id.Name)

	c.fn.types[name] = t
	c.fn.mutable[name] = true
	c.scope().vars[id.Name] = name

	return name
}

// elemVar declares an element binding of an iteration loop.
// Heap bindings start null and are owned by the loop scope.
func (c *Context) elemVar(pat ast.Node, t tp.Type) string {
	switch pat.(type) {
	case *ast.Ident:
	case *ast.Wildcard, nil:
		if !t.Heap() {
			return ""
		}
	default:
		internal("unsupported loop pattern %T", pat)
	}

	name := c.loopVar(pat, t)

	if t.Heap() {
		z := c.tmp()
		c.fn.types[z] = t

		c.emit(mir.ConstNull{Dst: z, Type: t})
		c.emit(mir.Assign{Dst: name, Src: z, Type: t, Mutable: true, Decl: true})
		c.track(name)
	}

	return name
}

// release drops the previous iteration binding before the next load.
func (c *Context) release(name string, t tp.Type) {
	if name == "" || !t.Heap() {
		return
	}

	c.emit(mir.DecRef{Value: name})
}

// rebind stores a freshly loaded element into its loop binding.
func (c *Context) rebind(name, v string, t tp.Type) {
	if name == "" {
		return
	}

	if t.Heap() {
		c.emit(mir.IncRef{Value: v})
	}

	c.emit(mir.Assign{Dst: name, Src: v, Type: t, Mutable: true})
}

func (c *Context) advance(cur string) {
	one := c.tmp()
	c.fn.types[one] = tp.IntT
	c.emit(mir.ConstInt{Dst: one, Value: 1})

	next := c.tmp()
	c.fn.types[next] = tp.IntT
	c.emit(mir.BinOp{Op: "add", Class: tp.Int, Dst: next, L: cur, R: one})

	c.emit(mir.Assign{Dst: cur, Src: next, Type: tp.IntT, Mutable: true})
}
