package compiler

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/ast"
	"github.com/nynrathod/mylang-sub000/compiler/back"
	"github.com/nynrathod/mylang-sub000/compiler/build"
	"github.com/nynrathod/mylang-sub000/compiler/format"
	"github.com/nynrathod/mylang-sub000/compiler/mir"
)

type (
	Options struct {
		// Module is the native module source file name.
		// Empty means the compilation unit id.
		Module string `yaml:"module,omitempty"`

		Triple string `yaml:"triple,omitempty"`

		// Entry is the user function run by the native entry point.
		Entry string `yaml:"entry,omitempty"`

		// Dump is a list of tlog topics, e.g. dump_mir,dump_ll,storage.
		Dump string `yaml:"dump,omitempty"`

		// KeepIR is the path the textual module is written to.
		KeepIR string `yaml:"keep_ir,omitempty"`
	}

	Diagnostics []build.Diagnostic

	// InternalError is a violated builder invariant.
	InternalError struct {
		Msg string
	}
)

const internalPrefix = "build: internal error: "

// ReadOptions loads options from a yaml file.
// Missing file name gives zero options.
func ReadOptions(name string) (o Options, err error) {
	if name == "" {
		return o, nil
	}

	f, err := os.Open(name)
	if err != nil {
		return o, errors.Wrap(err, "open")
	}

	defer func() {
		e := f.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close")
		}
	}()

	return DecodeOptions(f)
}

func DecodeOptions(r io.Reader) (o Options, err error) {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)

	err = d.Decode(&o)
	if err == io.EOF {
		return o, nil
	}
	if err != nil {
		return o, errors.Wrap(err, "decode options")
	}

	return o, nil
}

// LowerAndEmit compiles a typed tree with default options.
func LowerAndEmit(ctx context.Context, tree *ast.Program) (*ir.Module, Diagnostics, error) {
	return Options{}.LowerAndEmit(ctx, tree)
}

func (o Options) LowerAndEmit(ctx context.Context, tree *ast.Program) (m *ir.Module, diags Diagnostics, err error) {
	unit := ulid.Make().String()

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "unit", unit, "module", o.Module)
	defer tr.Finish("err", &err)

	p, diags, err := o.Lower(ctx, tree)
	if err != nil {
		return nil, diags, err
	}

	m, err = o.Emit(ctx, unit, p)
	if err != nil {
		return nil, diags, err
	}

	return m, diags, nil
}

// Lower builds the finalized MIR program.
// Builder invariant violations are returned as *InternalError.
func (o Options) Lower(ctx context.Context, tree *ast.Program) (p *mir.Program, diags Diagnostics, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		msg, ok := r.(string)
		if !ok || !strings.HasPrefix(msg, internalPrefix) {
			panic(r)
		}

		p, err = nil, &InternalError{Msg: strings.TrimPrefix(msg, internalPrefix)}
	}()

	p, ds, err := build.Program(ctx, tree)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build")
	}

	diags = Diagnostics(ds)

	tr := tlog.SpanFromContext(ctx)

	if len(diags) != 0 {
		tr.Printw("diagnostics", "diags", diags)
	}

	if tr.If("dump_mir") {
		text, err := format.Format(ctx, nil, p)
		if err != nil {
			return nil, diags, errors.Wrap(err, "format mir")
		}

		tr.Printw("mir", "text", string(text))
	}

	return p, diags, nil
}

// Emit produces the native module and writes it to KeepIR if set.
func (o Options) Emit(ctx context.Context, unit string, p *mir.Program) (m *ir.Module, err error) {
	c := back.New()
	c.Unit = unit
	c.Triple = o.Triple
	c.Entry = o.Entry

	if o.Module != "" {
		c.Unit = o.Module
	}

	m, err = c.Module(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "emit")
	}

	if o.KeepIR != "" {
		err = os.WriteFile(o.KeepIR, []byte(m.String()), 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "keep ir")
		}
	}

	return m, nil
}

func (e *InternalError) Error() string { return internalPrefix + e.Msg }

func (d Diagnostics) String() string {
	var b strings.Builder

	for i, x := range d {
		if i != 0 {
			b.WriteByte('\n')
		}

		b.WriteString(x.Func)

		if x.Block != "" {
			b.WriteByte('/')
			b.WriteString(x.Block)
		}

		b.WriteString(": ")
		b.WriteString(x.Msg)
	}

	return b.String()
}
