package compiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/ast"
)

const program = `
stmts:
  - kind: let
    pattern: {kind: ident, name: names}
    value: {kind: array, elems: ["a", "b"]}
  - kind: func
    name: main
    body:
      - kind: for
        pattern: {kind: ident, name: n}
        iter: {kind: ident, name: names}
        body:
          - kind: print
            values: [{kind: ident, name: n}]
`

func TestLowerAndEmit(t *testing.T) {
	tree, err := ast.Decode(strings.NewReader(program))
	require.NoError(t, err)

	m, diags, err := LowerAndEmit(context.Background(), tree)
	require.NoError(t, err)
	assert.Empty(t, diags)

	assert.Len(t, m.SourceFilename, 26)

	text := m.String()

	assert.Contains(t, text, "define i32 @main()")
	assert.Contains(t, text, "define void @__main()")
	assert.Contains(t, text, "@g.names = global i8* null")
}

func TestKeepIR(t *testing.T) {
	tree, err := ast.Decode(strings.NewReader(program))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.ll")

	o := Options{Module: "prog.doo", KeepIR: path, Triple: "x86_64-unknown-linux-gnu"}

	m, _, err := o.LowerAndEmit(context.Background(), tree)
	require.NoError(t, err)

	assert.Equal(t, "prog.doo", m.SourceFilename)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, m.String(), string(data))
	assert.Contains(t, string(data), `target triple = "x86_64-unknown-linux-gnu"`)
}

func TestInternalError(t *testing.T) {
	tree := &ast.Program{Stmts: []ast.Node{
		&ast.FuncDecl{Name: "main", Body: []ast.Node{&ast.Break{}}},
	}}

	m, _, err := LowerAndEmit(context.Background(), tree)
	assert.Nil(t, m)

	var ie *InternalError
	require.ErrorAs(t, err, &ie)

	assert.Equal(t, "break outside of a loop", ie.Msg)
	assert.Equal(t, "build: internal error: break outside of a loop", err.Error())
}

func TestDiagnostics(t *testing.T) {
	tree := &ast.Program{Stmts: []ast.Node{
		&ast.FuncDecl{Name: "main", Body: []ast.Node{
			&ast.Return{},
			&ast.Print{Values: []ast.Node{&ast.Int{Value: 1}}},
		}},
	}}

	m, diags, err := LowerAndEmit(context.Background(), tree)
	require.NoError(t, err)
	require.NotNil(t, m)

	require.NotEmpty(t, diags)
	assert.True(t, strings.HasPrefix(diags.String(), "main"))
}

func TestDecodeOptions(t *testing.T) {
	o, err := DecodeOptions(strings.NewReader(`
module: prog
triple: aarch64-apple-darwin
entry: start
dump: dump_mir,dump_ll
keep_ir: /tmp/prog.ll
`))
	require.NoError(t, err)

	assert.Equal(t, Options{
		Module: "prog",
		Triple: "aarch64-apple-darwin",
		Entry:  "start",
		Dump:   "dump_mir,dump_ll",
		KeepIR: "/tmp/prog.ll",
	}, o)

	o, err = DecodeOptions(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Options{}, o)

	_, err = DecodeOptions(strings.NewReader("unknown: 1\n"))
	assert.Error(t, err)

	o, err = ReadOptions("")
	require.NoError(t, err)
	assert.Equal(t, Options{}, o)
}

func TestDumpMIR(t *testing.T) {
	tree, err := ast.Decode(strings.NewReader(program))
	require.NoError(t, err)

	var buf bytes.Buffer

	l := tlog.New(&buf)
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Span{Logger: l})

	_, _, err = Options{}.Lower(ctx, tree)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "func main() {")

	l.SetVerbosity("dump_mir")

	_, _, err = Options{}.Lower(ctx, tree)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "func main() {")
	assert.Contains(t, buf.String(), "incref names")
}
