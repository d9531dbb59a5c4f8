package build

import (
	"context"
	"fmt"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/ast"
	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	// Context holds all the builder state of one compilation unit.
	Context struct {
		prog *mir.Program

		ntmp   int
		nlabel int
		ntop   int

		sigs    map[string]sig
		globals map[string]tp.Type
		enums   map[string]int64

		fn *funContext

		diags []Diagnostic
	}

	sig struct {
		params []tp.Type
		ret    tp.Type
	}

	funContext struct {
		*mir.Func

		cur *mir.Block

		// preds counts jumps emitted into a label so far.
		preds map[string]int

		types   map[string]tp.Type
		mutable map[string]bool
		params  map[string]bool

		scopes []*scope
		loops  []loopContext

		// pending are fresh heap temporaries of the current statement.
		pending []string

		top bool
	}

	scope struct {
		vars  map[string]string
		names []string

		from loc.PC
	}

	loopContext struct {
		brk, cont string

		depth int
	}

	Diagnostic struct {
		Func  string
		Block string `tlog:",omitempty"`
		Msg   string
	}
)

const initFunc = "__init"

func New() *Context {
	return &Context{
		sigs:    map[string]sig{},
		globals: map[string]tp.Type{},
		enums:   map[string]int64{},
	}
}

// Program lowers the typed tree into a finalized MIR program.
func Program(ctx context.Context, x *ast.Program) (*mir.Program, []Diagnostic, error) {
	c := New()

	p, err := c.Program(ctx, x)
	if err != nil {
		return nil, nil, err
	}

	c.diags = append(c.diags, Finalize(ctx, p)...)

	return p, c.diags, nil
}

func (c *Context) Diagnostics() []Diagnostic { return c.diags }

func (c *Context) Program(ctx context.Context, x *ast.Program) (p *mir.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "build: program", "stmts", len(x.Stmts))
	defer tr.Finish("err", &err)

	c.prog = &mir.Program{}

	var top []ast.Node

	for _, s := range x.Stmts {
		switch s := s.(type) {
		case *ast.FuncDecl:
			if _, ok := c.sigs[s.Name]; ok {
				return nil, errors.New("function redeclared: %v", s.Name)
			}

			fs := sig{ret: tp.VoidT}

			for _, p := range s.Params {
				fs.params = append(fs.params, p.Type)
			}

			if s.Ret != nil {
				fs.ret = *s.Ret
			}

			c.sigs[s.Name] = fs
		case *ast.StructDecl:
			d := mir.TypeDecl{Name: s.Name}

			for _, f := range s.Fields {
				d.Fields = append(d.Fields, mir.Field{Name: f.Name, Type: f.Type})
			}

			c.prog.Types = append(c.prog.Types, d)
		case *ast.EnumDecl:
			c.prog.Types = append(c.prog.Types, mir.TypeDecl{Name: s.Name, Variants: s.Variants})

			for i, v := range s.Variants {
				c.enums[s.Name+"."+v] = int64(i)
			}
		default:
			top = append(top, s)
		}
	}

	err = c.globalInit(ctx, top)
	if err != nil {
		return nil, errors.Wrap(err, "global scope")
	}

	for _, s := range x.Stmts {
		d, ok := s.(*ast.FuncDecl)
		if !ok {
			continue
		}

		err = c.function(ctx, d)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", d.Name)
		}
	}

	return c.prog, nil
}

// globalInit lowers top-level statements into the straight-line initializer.
// Control flow at the top level is moved into synthetic functions.
func (c *Context) globalInit(ctx context.Context, list []ast.Node) (err error) {
	tr := tlog.SpanFromContext(ctx)

	f := &mir.Func{Name: initFunc, Synthetic: true}
	c.enter(f, true)

	var tops []*ast.FuncDecl

	for _, s := range list {
		switch s := s.(type) {
		case *ast.If, *ast.For:
			name := "__top_" + strconv.Itoa(c.ntop)
			c.ntop++

			c.sigs[name] = sig{ret: tp.VoidT}
			tops = append(tops, &ast.FuncDecl{Name: name, Body: []ast.Node{s}})

			c.emit(mir.Call{Func: name, Type: tp.VoidT})

			continue
		case *ast.Return, *ast.Break, *ast.Continue:
			return errors.New("%T at the top level", s)
		}

		err = c.stmt(ctx, s)
		if err != nil {
			return errors.Wrap(err, "stmt %T", s)
		}

		c.flush()
	}

	root := c.fn.scopes[0]

	c.prog.Globals = f.Blocks[0].Instrs
	c.prog.Fini = root.names

	for name, t := range c.fn.types {
		if c.isGlobal(name) {
			c.globals[name] = t
		}
	}

	c.fn = nil

	tr.V("globals").Printw("global init", "instrs", len(c.prog.Globals), "fini", c.prog.Fini, "tops", len(tops))

	for _, d := range tops {
		err = c.function(ctx, d)
		if err != nil {
			return errors.Wrap(err, "%v", d.Name)
		}

		c.prog.Funcs[len(c.prog.Funcs)-1].Synthetic = true
	}

	return nil
}

func (c *Context) function(ctx context.Context, d *ast.FuncDecl) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "build: func", "name", d.Name)
	defer tr.Finish("err", &err)

	f := &mir.Func{
		Name: d.Name,
		Ret:  d.Ret,
	}

	c.enter(f, false)
	defer func() { c.fn = nil }()

	assigned := map[string]bool{}
	assignedNames(d.Body, assigned)

	for _, p := range d.Params {
		name := c.declName(p.Name)

		f.Params = append(f.Params, name)
		f.ParamTypes = append(f.ParamTypes, p.Type)

		c.fn.types[name] = p.Type
		c.fn.params[name] = true
		c.scope().vars[p.Name] = name

		if p.Type.Heap() && assigned[p.Name] {
			c.fn.mutable[name] = true

			c.emit(mir.IncRef{Value: name})
			c.track(name)
		}
	}

	err = c.stmts(ctx, d.Body)
	if err != nil {
		return err
	}

	if !c.dead() {
		ret := mir.Return{}

		if f.Ret != nil && f.Ret.Kind != tp.Void {
			z, err := c.zero(*f.Ret)
			if err != nil {
				return errors.Wrap(err, "implicit return")
			}

			ret.Values = []string{z}
		}

		c.cleanup(0, nil)
		c.term(ret)
	}

	c.prog.Funcs = append(c.prog.Funcs, f)

	if tr.If("dump_func") {
		for _, b := range f.Blocks {
			tr.Printw("block", "label", b.Label, "instrs", b.Instrs, "term", b.Term)
		}
	}

	return nil
}

func (c *Context) enter(f *mir.Func, top bool) {
	c.fn = &funContext{
		Func:    f,
		preds:   map[string]int{},
		types:   map[string]tp.Type{},
		mutable: map[string]bool{},
		params:  map[string]bool{},
		top:     top,
	}

	c.newBlock(mir.Entry)
	c.pushScope()
}

func (c *Context) stmts(ctx context.Context, list []ast.Node) (err error) {
	for i, s := range list {
		if c.dead() {
			c.diag("unreachable code: %d statement(s) after terminator", len(list)-i)

			return nil
		}

		err = c.stmt(ctx, s)
		if err != nil {
			return errors.Wrap(err, "stmt %T", s)
		}

		c.flush()
	}

	return nil
}

// Blocks and terminators

func (c *Context) newBlock(label string) *mir.Block {
	b := &mir.Block{Label: label}

	c.fn.Blocks = append(c.fn.Blocks, b)
	c.fn.cur = b

	return b
}

func (c *Context) label() string {
	c.nlabel++

	return "bb" + strconv.Itoa(c.nlabel)
}

func (c *Context) tmp() string {
	c.ntmp++

	return "%" + strconv.Itoa(c.ntmp)
}

func (c *Context) emit(x mir.Instr) {
	c.fn.cur.Add(x)
}

func (c *Context) term(x mir.Term) {
	c.fn.cur.Term = x

	for _, l := range x.Targets() {
		c.fn.preds[l]++
	}
}

// dead reports whether nothing can reach the current point.
func (c *Context) dead() bool {
	b := c.fn.cur

	if b.Terminated() {
		return true
	}

	return b.Label != mir.Entry && c.fn.preds[b.Label] == 0
}

// Scopes

func (c *Context) pushScope() {
	s := &scope{
		vars: map[string]string{},
		from: loc.Caller(1),
	}

	c.fn.scopes = append(c.fn.scopes, s)

	tlog.V("scope").Printw("push scope", "depth", len(c.fn.scopes), "from", s.from)
}

// popScope closes the innermost scope emitting its cleanup if the point is live.
func (c *Context) popScope() {
	l := len(c.fn.scopes) - 1
	s := c.fn.scopes[l]
	c.fn.scopes = c.fn.scopes[:l]

	tlog.V("scope").Printw("pop scope", "depth", l+1, "names", s.names, "from", s.from, "dead", c.dead())

	if c.dead() {
		return
	}

	for i := len(s.names) - 1; i >= 0; i-- {
		c.emit(mir.DecRef{Value: s.names[i]})
	}
}

func (c *Context) scope() *scope {
	return c.fn.scopes[len(c.fn.scopes)-1]
}

// cleanup releases names of all scopes from depth up, innermost first.
// Scope lists are left untouched.
func (c *Context) cleanup(depth int, keep map[string]bool) {
	for i := len(c.fn.scopes) - 1; i >= depth; i-- {
		s := c.fn.scopes[i]

		for j := len(s.names) - 1; j >= 0; j-- {
			if keep[s.names[j]] {
				continue
			}

			c.emit(mir.DecRef{Value: s.names[j]})
		}
	}
}

func (c *Context) track(name string) {
	s := c.scope()
	s.names = append(s.names, name)
}

// owned reports whether name is tracked by any scope of the function.
func (c *Context) owned(name string) bool {
	for _, s := range c.fn.scopes {
		for _, n := range s.names {
			if n == name {
				return true
			}
		}
	}

	return false
}

// untrackInner removes an immutable name from the innermost scope.
func (c *Context) untrackInner(name string) bool {
	if c.fn.mutable[name] {
		return false
	}

	s := c.scope()

	for i, n := range s.names {
		if n != name {
			continue
		}

		s.names = append(s.names[:i], s.names[i+1:]...)

		return true
	}

	return false
}

// Ownership of statement temporaries

func (c *Context) fresh(name string) {
	c.fn.pending = append(c.fn.pending, name)
}

// claim takes ownership of a fresh temporary.
func (c *Context) claim(name string) bool {
	for i, n := range c.fn.pending {
		if n != name {
			continue
		}

		c.fn.pending = append(c.fn.pending[:i], c.fn.pending[i+1:]...)

		return true
	}

	return false
}

// flush releases fresh temporaries nobody claimed.
func (c *Context) flush() {
	p := c.fn.pending
	c.fn.pending = c.fn.pending[:0]

	if c.dead() {
		return
	}

	for i := len(p) - 1; i >= 0; i-- {
		c.emit(mir.DecRef{Value: p[i]})
	}
}

// Names

// declName picks a function-unique name for a new variable.
func (c *Context) declName(name string) string {
	if c.fn.top {
		return name
	}

	n := name

	for i := 1; c.known(n); i++ {
		n = fmt.Sprintf("%s.%d", name, i)
	}

	return n
}

func (c *Context) known(name string) bool {
	if _, ok := c.fn.types[name]; ok {
		return true
	}

	if _, ok := c.globals[name]; ok {
		return true
	}

	_, ok := c.enums[name]

	return ok
}

func (c *Context) lookup(name string) (string, tp.Type, bool) {
	for i := len(c.fn.scopes) - 1; i >= 0; i-- {
		if n, ok := c.fn.scopes[i].vars[name]; ok {
			return n, c.fn.types[n], true
		}
	}

	if t, ok := c.globals[name]; ok {
		return name, t, true
	}

	if _, ok := c.enums[name]; ok {
		return name, tp.IntT, true
	}

	return "", tp.Type{}, false
}

func (c *Context) isGlobal(name string) bool {
	if len(name) == 0 || name[0] == '%' {
		return false
	}

	return c.fn.top
}

func (c *Context) diag(f string, args ...any) {
	d := Diagnostic{
		Msg: fmt.Sprintf(f, args...),
	}

	if c.fn != nil {
		d.Func = c.fn.Name
		d.Block = c.fn.cur.Label
	}

	c.diags = append(c.diags, d)
}

// internal reports a violated builder invariant.
// The analyzer rejects such trees so this is unreachable for valid input.
func internal(f string, args ...any) {
	panic(fmt.Sprintf("build: internal error: "+f, args...))
}

func assignedNames(list []ast.Node, r map[string]bool) {
	for _, s := range list {
		switch s := s.(type) {
		case *ast.Assign:
			r[s.Name] = true
		case *ast.If:
			assignedNames(s.Then, r)
			assignedNames(s.Else, r)
		case *ast.For:
			assignedNames(s.Body, r)
		}
	}
}
