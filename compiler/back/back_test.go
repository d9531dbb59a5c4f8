package back

import (
	"context"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nynrathod/mylang-sub000/compiler/ast"
	"github.com/nynrathod/mylang-sub000/compiler/build"
	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

func lower(t *testing.T, stmts ...ast.Node) *mir.Program {
	t.Helper()

	p, _, err := build.Program(context.Background(), &ast.Program{Stmts: stmts})
	require.NoError(t, err)

	return p
}

func emit(t *testing.T, p *mir.Program) *ir.Module {
	t.Helper()

	c := New()
	c.Unit = "test"

	m, err := c.Module(context.Background(), p)
	require.NoError(t, err)

	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			require.NotNil(t, b.Term, "%v: %v", f.Name(), b.Name())
		}
	}

	return m
}

func funcNames(m *ir.Module) map[string]*ir.Func {
	r := map[string]*ir.Func{}

	for _, f := range m.Funcs {
		r[f.Name()] = f
	}

	return r
}

func TestModule(t *testing.T) {
	str := tp.StrT

	p := lower(t,
		&ast.Let{Pattern: &ast.Ident{Name: "greeting"}, Value: &ast.Str{Value: "hello"}},
		&ast.FuncDecl{Name: "id", Params: []ast.Param{{Name: "x", Type: tp.StrT}}, Ret: &str, Body: []ast.Node{
			&ast.Return{Values: []ast.Node{&ast.Ident{Name: "x"}}},
		}},
		&ast.FuncDecl{Name: "main", Body: []ast.Node{
			&ast.Let{Pattern: &ast.Ident{Name: "arr"}, Value: &ast.Array{Elems: []ast.Node{
				&ast.Call{Func: "id", Args: []ast.Node{&ast.Ident{Name: "greeting"}}},
				&ast.Str{Value: "world"},
			}}},
			&ast.For{Pattern: &ast.Ident{Name: "s"}, Iter: &ast.Ident{Name: "arr"}, Body: []ast.Node{
				&ast.Print{Values: []ast.Node{&ast.Ident{Name: "s"}, &ast.Call{Func: "len", Args: []ast.Node{&ast.Ident{Name: "arr"}}}}},
			}},
			&ast.Let{Pattern: &ast.Ident{Name: "m"}, Value: &ast.Map{
				Keys:   []ast.Node{&ast.Str{Value: "a"}},
				Values: []ast.Node{&ast.Float{Value: 1.5}},
			}},
			&ast.Print{Values: []ast.Node{&ast.Index{X: &ast.Ident{Name: "m"}, Index: &ast.Str{Value: "a"}}, &ast.Ident{Name: "m"}}},
		}},
	)

	m := emit(t, p)
	fs := funcNames(m)

	for _, n := range []string{"main", UserMain, InitFunc, FiniFunc, "id", "__rc_inc", "__rc_dec", "malloc", "free", "printf", "__map_get_s_f", "__print_msf"} {
		assert.Contains(t, fs, n)
	}

	assert.Equal(t, len(p.Func("main").Blocks), len(fs[UserMain].Blocks))
	assert.Equal(t, "test", m.SourceFilename)

	text := m.String()

	assert.Contains(t, text, "define i32 @main()")
	assert.Contains(t, text, "call void @__init()")
	assert.Contains(t, text, "call void @__fini()")
	assert.Contains(t, text, "@g.greeting = global i8* null")
	assert.Contains(t, text, `c"hello\00"`)
	assert.Equal(t, 1, strings.Count(text, `c"%s\00"`))
}

func TestTuplesAndEnums(t *testing.T) {
	pair := tp.TupleOf(tp.IntT, tp.BoolT)

	p := lower(t,
		&ast.EnumDecl{Name: "Color", Variants: []string{"Red", "Green"}},
		&ast.StructDecl{Name: "Point", Fields: []ast.Param{{Name: "x", Type: tp.IntT}, {Name: "y", Type: tp.FloatT}}},
		&ast.FuncDecl{Name: "pair", Ret: &pair, Body: []ast.Node{
			&ast.Return{Values: []ast.Node{&ast.Ident{Name: "Color.Green"}, &ast.Bool{Value: true}}},
		}},
		&ast.FuncDecl{Name: "main", Body: []ast.Node{
			&ast.Let{Pattern: &ast.TuplePat{Elems: []ast.Node{&ast.Ident{Name: "a"}, &ast.Ident{Name: "b"}}}, Value: &ast.Call{Func: "pair"}},
			&ast.Print{Values: []ast.Node{&ast.Ident{Name: "a"}, &ast.Ident{Name: "b"}}},
		}},
	)

	m := emit(t, p)
	text := m.String()

	assert.Contains(t, text, "%Point = type { i64, double }")
	assert.Contains(t, text, "@Color.Green = constant i64 1")
	assert.Contains(t, text, "define { i64, i1 } @pair()")
	assert.Contains(t, text, "extractvalue")
	assert.Contains(t, text, "insertvalue")
}

func TestStoragePromotion(t *testing.T) {
	p := lower(t,
		&ast.FuncDecl{Name: "main", Body: []ast.Node{
			&ast.For{Pattern: &ast.Ident{Name: "i"}, Iter: &ast.Range{Start: &ast.Int{Value: 0}, End: &ast.Int{Value: 3}}, Body: []ast.Node{
				&ast.Print{Values: []ast.Node{&ast.Ident{Name: "i"}}},
			}},
		}},
	)

	f := p.Func("main")

	_, promoted := classify(f, func(string) bool { return false })

	assert.Contains(t, promoted, "i")

	for _, n := range promoted {
		if n == "i" {
			continue
		}

		first := -1
		used := map[int]bool{}

		for bi, b := range f.Blocks {
			for _, x := range b.Code() {
				for _, d := range x.Defs() {
					if d == n && first < 0 {
						first = bi
					}
				}

				for _, u := range append(x.Uses(), x.Defs()...) {
					if u == n {
						used[bi] = true
					}
				}
			}
		}

		assert.True(t, len(used) > 1 || !used[first], "%v promoted", n)
	}

	m := emit(t, p)
	um := funcNames(m)[UserMain]

	allocas := 0

	for _, x := range um.Blocks[0].Insts {
		if _, ok := x.(*ir.InstAlloca); ok {
			allocas++
		}
	}

	assert.Equal(t, len(promoted), allocas)
}

func TestMeta(t *testing.T) {
	f := &mir.Func{
		Name: "f",
		Blocks: []*mir.Block{{
			Label: mir.Entry,
			Instrs: []mir.Instr{
				mir.ConstString{Dst: "%1", Value: "a"},
				mir.ConstString{Dst: "%2", Value: "b"},
				mir.ConstString{Dst: "%3", Value: "c"},
				mir.MakeArray{Dst: "%4", Elems: []string{"%1", "%2", "%3"}, Type: tp.ArrayOf(tp.StrT)},
				mir.Assign{Dst: "arr", Src: "%4", Type: tp.ArrayOf(tp.StrT), Decl: true},
				mir.Assign{Dst: "alias", Src: "arr", Type: tp.ArrayOf(tp.StrT), Decl: true},
				mir.ConstInt{Dst: "%5", Value: 1},
				mir.MakeMap{Dst: "%6", Keys: []string{"%5"}, Values: []string{"%5"}, Type: tp.MapOf(tp.IntT, tp.IntT)},
				mir.Assign{Dst: "mut", Src: "%6", Type: tp.MapOf(tp.IntT, tp.IntT), Mutable: true, Decl: true},
				mir.Assign{Dst: "mut", Src: "%6", Type: tp.MapOf(tp.IntT, tp.IntT), Mutable: true},
			},
			Term: mir.Return{},
		}},
	}

	st, _ := classify(f, func(string) bool { return false })
	mt := collectMeta(f, st.defs, func(string) bool { return false })

	for _, n := range []string{"%4", "arr", "alias"} {
		m, ok := mt.lookup(n)
		require.True(t, ok, n)

		assert.Equal(t, int64(3), m.Len, n)
		assert.Equal(t, tp.Array, m.Kind, n)
		assert.Equal(t, tp.Str, m.Elem.Kind, n)
		assert.True(t, m.HeapStrings, n)
	}

	m, ok := mt.lookup("%6")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.Len)
	assert.Equal(t, tp.Map, m.Kind)
	assert.False(t, m.HeapStrings)

	_, ok = mt.lookup("mut")
	assert.False(t, ok)
}

func TestRecoverTypes(t *testing.T) {
	f := &mir.Func{
		Name:       "f",
		Params:     []string{"p"},
		ParamTypes: []tp.Type{tp.FloatT},
		Blocks: []*mir.Block{{
			Label: mir.Entry,
			Instrs: []mir.Instr{
				mir.ConstString{Dst: "%1", Value: "a"},
				mir.Assign{Dst: "b", Src: "c", Decl: true},
				mir.Assign{Dst: "c", Src: "%1", Decl: true},
				mir.Assign{Dst: "d", Src: "undefined", Decl: true},
				mir.Assign{Dst: "e", Src: "p", Decl: true},
			},
			Term: mir.Return{},
		}},
	}

	ts := recoverTypes(f, map[string]tp.Type{"g": tp.BoolT})

	assert.Equal(t, tp.Str, ts["%1"].Kind)
	assert.Equal(t, tp.Str, ts["b"].Kind)
	assert.Equal(t, tp.Str, ts["c"].Kind)
	assert.Equal(t, tp.Int, ts["d"].Kind)
	assert.Equal(t, tp.Float, ts["e"].Kind)
	assert.Equal(t, tp.Bool, ts["g"].Kind)
}

func TestResolveError(t *testing.T) {
	p := &mir.Program{
		Funcs: []*mir.Func{{
			Name: "f",
			Blocks: []*mir.Block{
				{Label: mir.Entry, Term: mir.Jump{Target: "bb1"}},
				{Label: "bb1", Instrs: []mir.Instr{mir.Print{Values: []string{"nope"}}}, Term: mir.Return{}},
			},
		}},
	}

	_, err := New().Module(context.Background(), p)
	require.Error(t, err)

	var re *ResolveError
	require.ErrorAs(t, err, &re)

	assert.Equal(t, &ResolveError{Name: "nope", Func: "f", Block: "bb1"}, re)
}

func TestEmitErrors(t *testing.T) {
	for _, f := range []*mir.Func{
		{
			Name: "malloc",
			Blocks: []*mir.Block{
				{Label: mir.Entry, Term: mir.Return{}},
			},
		},
		{
			Name: "f",
			Blocks: []*mir.Block{{
				Label: mir.Entry,
				Instrs: []mir.Instr{
					mir.ConstBool{Dst: "%1", Value: true},
					mir.BinOp{Op: "mul", Class: tp.Bool, Dst: "%2", L: "%1", R: "%1"},
				},
				Term: mir.Return{},
			}},
		},
		{
			Name: "f",
			Blocks: []*mir.Block{
				{Label: mir.Entry, Term: mir.Jump{Target: "missing"}},
			},
		},
		{
			Name: "f",
			Blocks: []*mir.Block{
				{Label: mir.Entry},
			},
		},
	} {
		_, err := New().Module(context.Background(), &mir.Program{Funcs: []*mir.Func{f}})
		assert.Error(t, err, "%v", f.Name)
	}
}

func TestEntry(t *testing.T) {
	p := lower(t,
		&ast.FuncDecl{Name: "start", Body: []ast.Node{
			&ast.Print{Values: []ast.Node{&ast.Int{Value: 1}}},
		}},
	)

	c := New()
	c.Entry = "start"

	m, err := c.Module(context.Background(), p)
	require.NoError(t, err)

	fs := funcNames(m)

	assert.Contains(t, fs, UserMain)
	assert.NotContains(t, fs, "start")
	assert.Contains(t, m.String(), "call void @__main()")

	p = lower(t,
		&ast.FuncDecl{Name: "main", Body: []ast.Node{}},
	)

	_, err = c.Module(context.Background(), p)
	assert.Error(t, err)
}
