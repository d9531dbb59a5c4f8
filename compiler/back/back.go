package back

import (
	"context"
	"fmt"
	"strconv"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/rc"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	Compiler struct {
		// Unit is recorded as the module source file name.
		Unit string

		// Triple is the target triple. Empty means the host default.
		Triple string

		// Entry is the user function called by the native entry point.
		// Empty means main.
		Entry string
	}

	pkgContext struct {
		*mir.Program

		m  *ir.Module
		rt *rc.Runtime

		funcs   map[string]*ir.Func
		globals map[string]*ir.Global
		gtypes  map[string]tp.Type

		helpers map[string]*ir.Func

		entryName string

		*funContext
	}

	funContext struct {
		*mir.Func

		irf *ir.Func

		types  map[string]tp.Type
		params map[string]*ir.Param
		slots  map[string]*ir.InstAlloca

		storage
		meta metaTable

		blocks map[string]*ir.Block

		// current block
		cur   *mir.Block
		b     *ir.Block
		cache map[string]value.Value
	}

	// ResolveError is returned when a name is neither a value of the current block,
	// a stack slot, a global nor a literal.
	ResolveError struct {
		Name  string
		Func  string
		Block string
	}
)

// Synthesized function names.
const (
	InitFunc = "__init"
	FiniFunc = "__fini"
	MainFunc = "main"

	// UserMain is the native name of the user main function.
	UserMain = "__main"
)

func New() *Compiler { return &Compiler{} }

// Module emits the native module of a finalized program.
func (c *Compiler) Module(ctx context.Context, prog *mir.Program) (m *ir.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: module", "funcs", len(prog.Funcs), "unit", c.Unit)
	defer tr.Finish("err", &err)

	m = ir.NewModule()
	m.SourceFilename = c.Unit
	m.TargetTriple = c.Triple

	p := &pkgContext{
		Program:   prog,
		m:         m,
		rt:        rc.Emit(m),
		funcs:     map[string]*ir.Func{},
		globals:   map[string]*ir.Global{},
		gtypes:    map[string]tp.Type{},
		helpers:   map[string]*ir.Func{},
		entryName: c.Entry,
	}

	if p.entryName == "" {
		p.entryName = MainFunc
	}

	gi := &mir.Func{
		Name:      InitFunc,
		Synthetic: true,
		Blocks: []*mir.Block{{
			Label:  mir.Entry,
			Instrs: prog.Globals,
			Term:   mir.Return{},
		}},
	}

	p.typeDecls()
	p.globalVars(gi)

	for _, f := range append([]*mir.Func{gi}, prog.Funcs...) {
		err = p.declare(f)
		if err != nil {
			return nil, err
		}
	}

	for _, f := range append([]*mir.Func{gi}, prog.Funcs...) {
		err = p.function(ctx, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	p.fini()
	p.entry()

	if tr.If("dump_ll") {
		tr.Printw("module", "ll", m.String())
	}

	return m, nil
}

// typeDecls emits struct types and enum variant constants.
func (p *pkgContext) typeDecls() {
	for _, d := range p.Types {
		if len(d.Fields) != 0 {
			fs := make([]types.Type, len(d.Fields))

			for i, f := range d.Fields {
				fs[i] = llType(f.Type)
			}

			p.m.NewTypeDef(d.Name, types.NewStruct(fs...))
		}

		for i, v := range d.Variants {
			name := d.Name + "." + v

			g := p.m.NewGlobalDef(name, constant.NewInt(types.I64, int64(i)))
			g.Immutable = true

			p.globals[name] = g
			p.gtypes[name] = tp.IntT
		}
	}
}

// globalVars allocates module storage for every variable of the global initializer.
func (p *pkgContext) globalVars(gi *mir.Func) {
	ts := recoverTypes(gi, nil)

	for _, x := range gi.Blocks[0].Instrs {
		a, ok := x.(mir.Assign)
		if !ok || !a.Decl || isTemp(a.Dst) {
			continue
		}

		if _, ok := p.globals[a.Dst]; ok {
			continue
		}

		t := ts[a.Dst]

		g := p.m.NewGlobalDef("g."+a.Dst, zero(t))

		p.globals[a.Dst] = g
		p.gtypes[a.Dst] = t
	}

	tlog.V("globals").Printw("global vars", "n", len(p.gtypes))
}

func (p *pkgContext) declare(f *mir.Func) error {
	name := f.Name

	switch {
	case name == p.entryName && len(f.Params) != 0:
		return errors.New("entry function %v takes parameters", f.Name)
	case name == p.entryName:
		name = UserMain
	case name == MainFunc || name == UserMain:
		return errors.New("function %v collides with the entry point", f.Name)
	}

	for _, x := range p.m.Funcs {
		if x.Name() == name {
			return errors.New("function %v collides with a runtime function", f.Name)
		}
	}

	params := make([]*ir.Param, len(f.Params))

	for i, n := range f.Params {
		var t tp.Type

		if i < len(f.ParamTypes) {
			t = f.ParamTypes[i]
		}

		params[i] = ir.NewParam(n, llType(t))
	}

	p.funcs[f.Name] = p.m.NewFunc(name, llType(f.RetType()), params...)

	return nil
}

func (p *pkgContext) function(ctx context.Context, f *mir.Func) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: func", "name", f.Name, "blocks", len(f.Blocks))
	defer tr.Finish("err", &err)

	if len(f.Blocks) == 0 {
		return errors.New("no blocks")
	}

	irf := p.funcs[f.Name]

	fc := &funContext{
		Func:   f,
		irf:    irf,
		types:  recoverTypes(f, p.gtypes),
		params: map[string]*ir.Param{},
		slots:  map[string]*ir.InstAlloca{},
		blocks: map[string]*ir.Block{},
	}

	p.funContext = fc
	defer func() { p.funContext = nil }()

	for i, n := range f.Params {
		fc.params[n] = irf.Params[i]
	}

	var promoted []string

	fc.storage, promoted = classify(f, p.isGlobal)
	fc.meta = collectMeta(f, fc.defs, p.isGlobal)

	for _, b := range f.Blocks {
		fc.blocks[b.Label] = irf.NewBlock(b.Label)
	}

	entry := fc.blocks[f.Blocks[0].Label]

	for _, n := range promoted {
		fc.slots[n] = entry.NewAlloca(llType(fc.types[n]))
	}

	for _, n := range f.Params {
		if s, ok := fc.slots[n]; ok {
			entry.NewStore(fc.params[n], s)
		}
	}

	if tr.If("dump_storage") {
		tr.Printw("storage", "promoted", promoted, "types", fc.types)
	}

	for _, b := range f.Blocks {
		fc.cur = b
		fc.b = fc.blocks[b.Label]
		fc.cache = map[string]value.Value{}

		for _, x := range b.Instrs {
			err = p.instr(x)
			if err != nil {
				return errors.Wrap(err, "block %v", b.Label)
			}
		}

		if b.Term == nil {
			return errors.New("block %v: no terminator", b.Label)
		}

		err = p.term(b.Term)
		if err != nil {
			return errors.Wrap(err, "block %v", b.Label)
		}
	}

	return nil
}

// fini releases global heap bindings.
func (p *pkgContext) fini() {
	f := p.m.NewFunc(FiniFunc, types.Void)
	b := f.NewBlock(mir.Entry)

	for _, n := range p.Fini {
		g, ok := p.globals[n]
		if !ok {
			continue
		}

		h := b.NewLoad(g.ContentType, g)
		b.NewCall(p.rt.Dec, h)
		b.NewStore(constant.NewNull(rc.Ptr), g)
	}

	b.NewRet(nil)

	p.funcs[FiniFunc] = f
}

// entry defines the native entry point running
// global initializer, user main and global cleanup.
func (p *pkgContext) entry() {
	f := p.m.NewFunc(MainFunc, types.I32)
	b := f.NewBlock(mir.Entry)

	b.NewCall(p.funcs[InitFunc])

	if um, ok := p.funcs[p.entryName]; ok {
		b.NewCall(um)
	}

	b.NewCall(p.funcs[FiniFunc])
	b.NewRet(constant.NewInt(types.I32, 0))
}

func (p *pkgContext) isGlobal(n string) bool {
	if _, ok := p.globals[n]; !ok {
		return false
	}

	if p.funContext != nil {
		if _, ok := p.params[n]; ok {
			return false
		}
	}

	return true
}

// resolve returns the current value of a name.
func (p *pkgContext) resolve(n string) (value.Value, error) {
	fc := p.funContext

	if v, ok := fc.cache[n]; ok {
		return v, nil
	}

	if s, ok := fc.slots[n]; ok {
		return fc.b.NewLoad(s.ElemType, s), nil
	}

	if a, ok := fc.params[n]; ok && (fc.defs[n] == 0 || fc.cur == fc.Blocks[0]) {
		return a, nil
	}

	if p.isGlobal(n) {
		g := p.globals[n]

		return fc.b.NewLoad(g.ContentType, g), nil
	}

	if v := literal(n); v != nil {
		return v, nil
	}

	return nil, &ResolveError{Name: n, Func: fc.Name, Block: fc.cur.Label}
}

func (p *pkgContext) resolveAll(ns []string) (r []value.Value, err error) {
	r = make([]value.Value, len(ns))

	for i, n := range ns {
		r[i], err = p.resolve(n)
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// set binds a new value to a name.
func (p *pkgContext) set(n string, v value.Value) {
	fc := p.funContext

	if s, ok := fc.slots[n]; ok {
		fc.b.NewStore(convert(fc.b, v, s.ElemType), s)
		return
	}

	if p.isGlobal(n) {
		g := p.globals[n]

		fc.b.NewStore(convert(fc.b, v, g.ContentType), g)

		return
	}

	fc.cache[n] = v
}

func (p *pkgContext) typeOf(n string) tp.Type {
	if t, ok := p.types[n]; ok {
		return t
	}

	if t, ok := p.gtypes[n]; ok {
		return t
	}

	return tp.IntT
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("unresolved name %v in %v block %v", e.Name, e.Func, e.Block)
}

// llType maps a value type to its native type.
// Heap values are handles, unknown types are 64-bit integers.
func llType(t tp.Type) types.Type {
	switch t.Kind {
	case tp.Float:
		return types.Double
	case tp.Bool:
		return types.I1
	case tp.Str, tp.Array, tp.Map:
		return rc.Ptr
	case tp.Void:
		return types.Void
	case tp.Tuple:
		fs := make([]types.Type, len(t.Elems))

		for i, e := range t.Elems {
			fs[i] = llType(e)
		}

		return types.NewStruct(fs...)
	default:
		return types.I64
	}
}

// slotType is the native type of a collection payload slot.
func slotType(t tp.Type) types.Type {
	switch t.Kind {
	case tp.Float:
		return types.Double
	case tp.Str, tp.Array, tp.Map:
		return rc.Ptr
	default:
		return types.I64
	}
}

func zero(t tp.Type) constant.Constant {
	switch t.Kind {
	case tp.Float:
		return constant.NewFloat(types.Double, 0)
	case tp.Bool:
		return constant.NewBool(false)
	case tp.Str, tp.Array, tp.Map:
		return constant.NewNull(rc.Ptr)
	case tp.Tuple:
		return constant.NewZeroInitializer(llType(t))
	default:
		return constant.NewInt(types.I64, 0)
	}
}

// convert adapts scalar width and pointer type of v to t.
func convert(b *ir.Block, v value.Value, t types.Type) value.Value {
	vt := v.Type()

	if vt.Equal(t) {
		return v
	}

	vi, vint := vt.(*types.IntType)
	ti, tint := t.(*types.IntType)

	switch {
	case vint && tint && vi.BitSize > ti.BitSize:
		return b.NewTrunc(v, t)
	case vint && tint:
		return b.NewZExt(v, t)
	case vint && t.Equal(types.Double):
		return b.NewSIToFP(v, t)
	}

	if _, ok := vt.(*types.PointerType); ok {
		if _, ok := t.(*types.PointerType); ok {
			return b.NewBitCast(v, t)
		}
	}

	return v
}

func literal(n string) value.Value {
	if n == "true" || n == "false" {
		return constant.NewBool(n == "true")
	}

	if x, err := strconv.ParseInt(n, 10, 64); err == nil {
		return constant.NewInt(types.I64, x)
	}

	if x, err := strconv.ParseFloat(n, 64); err == nil {
		return constant.NewFloat(types.Double, x)
	}

	return nil
}

func isTemp(n string) bool {
	return len(n) != 0 && n[0] == '%'
}
