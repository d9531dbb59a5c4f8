package build

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/ast"
	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

func (c *Context) stmt(ctx context.Context, s ast.Node) (err error) {
	switch s := s.(type) {
	case *ast.Let:
		return c.let(ctx, s)
	case *ast.Assign:
		return c.assign(ctx, s)
	case *ast.If:
		return c.ifStmt(ctx, s)
	case *ast.For:
		return c.forStmt(ctx, s)
	case *ast.Return:
		return c.ret(ctx, s)
	case *ast.Print:
		return c.print(ctx, s)
	case *ast.Break:
		l := c.loop("break")

		c.cleanup(l.depth, nil)
		c.term(mir.Jump{Target: l.brk})

		return nil
	case *ast.Continue:
		l := c.loop("continue")

		c.cleanup(l.depth, nil)
		c.term(mir.Jump{Target: l.cont})

		return nil
	case *ast.ExprStmt:
		v, t, err := c.expr(ctx, s.X)
		if err != nil {
			return err
		}

		if t.Kind == tp.Tuple && v != "" {
			c.dropTuple(v, t)
		}

		return nil
	case *ast.FuncDecl:
		return errors.New("nested function %v", s.Name)
	case *ast.StructDecl, *ast.EnumDecl:
		return errors.New("local type declaration")
	default:
		return errors.New("unsupported statement: %T", s)
	}
}

func (c *Context) loop(what string) loopContext {
	if len(c.fn.loops) == 0 {
		internal("%v outside of a loop", what)
	}

	return c.fn.loops[len(c.fn.loops)-1]
}

func (c *Context) let(ctx context.Context, s *ast.Let) (err error) {
	if pat, ok := s.Pattern.(*ast.TuplePat); ok {
		return c.destructure(ctx, pat, s.Value, s.Mutable)
	}

	v, t, err := c.value(ctx, s.Value, !s.Mutable)
	if err != nil {
		return err
	}

	if s.Type != nil && s.Type.Known() && !t.Known() {
		t = *s.Type
	}

	return c.bind(s.Pattern, v, t, s.Mutable)
}

// bind binds an evaluated value to a single-name pattern.
func (c *Context) bind(pat ast.Node, v string, t tp.Type, mutable bool) error {
	switch pat := pat.(type) {
	case *ast.Wildcard:
		return nil
	case *ast.Ident:
		if t.Kind == tp.Tuple {
			return errors.New("tuple bound to a single name %v", pat.Name)
		}

		if !t.Known() && pat.Type.Known() {
			t = pat.Type
		}

		if t.Heap() && !c.claim(v) {
			c.emit(mir.IncRef{Value: v})
		}

		name := c.declName(pat.Name)

		c.fn.types[name] = t
		c.fn.mutable[name] = mutable
		c.scope().vars[pat.Name] = name

		c.emit(mir.Assign{Dst: name, Src: v, Type: t, Mutable: mutable, Decl: true})

		if t.Heap() {
			c.track(name)
		}

		return nil
	default:
		return errors.New("unsupported pattern: %T", pat)
	}
}

func (c *Context) destructure(ctx context.Context, pat *ast.TuplePat, val ast.Node, mutable bool) (err error) {
	if lit, ok := val.(*ast.Tuple); ok {
		if len(lit.Elems) != len(pat.Elems) {
			internal("pattern arity %d, value arity %d", len(pat.Elems), len(lit.Elems))
		}

		for i, e := range lit.Elems {
			if sub, ok := pat.Elems[i].(*ast.TuplePat); ok {
				err = c.destructure(ctx, sub, e, mutable)
				if err != nil {
					return err
				}

				continue
			}

			v, t, err := c.value(ctx, e, !mutable)
			if err != nil {
				return errors.Wrap(err, "elem %d", i)
			}

			err = c.bind(pat.Elems[i], v, t, mutable)
			if err != nil {
				return errors.Wrap(err, "elem %d", i)
			}
		}

		return nil
	}

	v, t, err := c.expr(ctx, val)
	if err != nil {
		return err
	}

	if t.Kind != tp.Tuple {
		return errors.New("destructuring non-tuple value of type %v", t)
	}

	if len(t.Elems) != len(pat.Elems) {
		internal("pattern arity %d, value arity %d", len(pat.Elems), len(t.Elems))
	}

	for i, et := range t.Elems {
		e := c.tmp()

		c.fn.types[e] = et
		c.emit(mir.TupleGet{Dst: e, Tuple: v, Index: i, Type: et})

		if et.Heap() {
			c.fresh(e)
		}

		switch sub := pat.Elems[i].(type) {
		case *ast.TuplePat:
			return errors.New("nested tuple pattern over a call result")
		default:
			err = c.bind(sub, e, et, mutable)
			if err != nil {
				return errors.Wrap(err, "elem %d", i)
			}
		}
	}

	return nil
}

// dropTuple releases heap parts of a discarded tuple value.
func (c *Context) dropTuple(v string, t tp.Type) {
	for i, et := range t.Elems {
		if !et.Heap() {
			continue
		}

		e := c.tmp()

		c.fn.types[e] = et
		c.emit(mir.TupleGet{Dst: e, Tuple: v, Index: i, Type: et})
		c.fresh(e)
	}
}

func (c *Context) assign(ctx context.Context, s *ast.Assign) (err error) {
	name, dt, ok := c.lookup(s.Name)
	if !ok {
		return errors.New("assign to undefined %v", s.Name)
	}

	v, t, err := c.expr(ctx, s.Value)
	if err != nil {
		return err
	}

	if !t.Known() {
		t = dt
	}

	if t.Heap() {
		if !c.claim(v) {
			c.emit(mir.IncRef{Value: v})
		}

		c.emit(mir.DecRef{Value: name})
	}

	c.emit(mir.Assign{Dst: name, Src: v, Type: t, Mutable: true})

	return nil
}

func (c *Context) ifStmt(ctx context.Context, s *ast.If) (err error) {
	tr := tlog.SpanFromContext(ctx)

	cond, _, err := c.expr(ctx, s.Cond)
	if err != nil {
		return errors.Wrap(err, "cond")
	}

	c.flush()

	then := c.label()
	end := c.label()
	els := end

	if len(s.Else) != 0 {
		els = c.label()
	}

	c.term(mir.CondJump{Cond: cond, Then: then, Else: els})

	err = c.branch(ctx, then, end, s.Then)
	if err != nil {
		return errors.Wrap(err, "then")
	}

	if len(s.Else) != 0 {
		err = c.branch(ctx, els, end, s.Else)
		if err != nil {
			return errors.Wrap(err, "else")
		}
	}

	c.newBlock(end)

	tr.V("if").Printw("if", "then", then, "else", els, "end", end, "end_preds", c.fn.preds[end])

	return nil
}

func (c *Context) branch(ctx context.Context, label, end string, body []ast.Node) (err error) {
	c.newBlock(label)
	c.pushScope()

	err = c.stmts(ctx, body)
	if err != nil {
		return err
	}

	c.popScope()

	if !c.dead() {
		c.term(mir.Jump{Target: end})
	}

	return nil
}

func (c *Context) ret(ctx context.Context, s *ast.Return) (err error) {
	if c.fn.top {
		return errors.New("return at the top level")
	}

	if len(s.Values) == 1 {
		if tup, ok := s.Values[0].(*ast.Tuple); ok {
			s = &ast.Return{Values: tup.Elems}
		}
	}

	keep := map[string]bool{}
	vals := make([]string, 0, len(s.Values))

	for i, e := range s.Values {
		v, t, err := c.value(ctx, e, true)
		if err != nil {
			return errors.Wrap(err, "value %d", i)
		}

		if t.Heap() {
			switch {
			case c.claim(v):
			case c.owned(v) && !keep[v]:
				keep[v] = true
			default:
				c.emit(mir.IncRef{Value: v})
			}
		}

		vals = append(vals, v)
	}

	c.cleanup(0, keep)
	c.flush()

	c.term(mir.Return{Values: vals})

	return nil
}

func (c *Context) print(ctx context.Context, s *ast.Print) (err error) {
	x := mir.Print{}

	for i, e := range s.Values {
		v, t, err := c.expr(ctx, e)
		if err != nil {
			return errors.Wrap(err, "value %d", i)
		}

		x.Values = append(x.Values, v)
		x.Types = append(x.Types, t)
	}

	c.emit(x)

	return nil
}

func (c *Context) zero(t tp.Type) (string, error) {
	z := c.tmp()

	c.fn.types[z] = t

	switch t.Kind {
	case tp.Int, tp.Unknown:
		c.emit(mir.ConstInt{Dst: z})
	case tp.Float:
		c.emit(mir.ConstFloat{Dst: z})
	case tp.Bool:
		c.emit(mir.ConstBool{Dst: z})
	case tp.Str, tp.Array, tp.Map:
		c.emit(mir.ConstNull{Dst: z, Type: t})
	default:
		return "", errors.New("no zero value for %v", t)
	}

	return z, nil
}
