package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler"
	"github.com/nynrathod/mylang-sub000/compiler/ast"
	"github.com/nynrathod/mylang-sub000/compiler/format"
	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/vm"
)

func main() {
	mirCmd := &cli.Command{
		Name:        "mir",
		Description: "print finalized MIR of typed tree files",
		Action:      mirAct,
		Args:        cli.Args{},
	}

	emitCmd := &cli.Command{
		Name:        "emit",
		Description: "write LLVM module of a typed tree file",
		Action:      emitAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "", "output .ll file, stdout if empty"),
		},
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "execute MIR in the reference interpreter and report heap usage",
		Action:      runAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "doo",
		Description: "doo lowers analyzed programs into reference counted MIR and LLVM IR",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("config,c", "", "yaml options file"),
			cli.NewFlag("module", "", "module source file name"),
			cli.NewFlag("triple", "", "target triple"),
			cli.NewFlag("entry", "", "entry function"),
			cli.NewFlag("keep-ir", "", "write textual module to the file"),
			cli.NewFlag("verbosity,v", "", "tlog verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			mirCmd,
			emitCmd,
			runCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func options(c *cli.Command) (o compiler.Options, err error) {
	o, err = compiler.ReadOptions(c.String("config"))
	if err != nil {
		return o, errors.Wrap(err, "config")
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"module", &o.Module},
		{"triple", &o.Triple},
		{"entry", &o.Entry},
		{"keep-ir", &o.KeepIR},
	} {
		if v := c.String(f.name); v != "" {
			*f.dst = v
		}
	}

	if o.Dump != "" {
		tlog.SetVerbosity(o.Dump + "," + c.String("verbosity"))
	}

	return o, nil
}

func readTree(name string) (_ *ast.Program, err error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}

	defer func() {
		e := f.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close")
		}
	}()

	return ast.Decode(f)
}

func lower(ctx context.Context, o compiler.Options, name string) (*mir.Program, error) {
	tree, err := readTree(name)
	if err != nil {
		return nil, errors.Wrap(err, "read %v", name)
	}

	p, diags, err := o.Lower(ctx, tree)
	if err != nil {
		return nil, errors.Wrap(err, "lower %v", name)
	}

	if len(diags) != 0 {
		fmt.Fprintf(os.Stderr, "%v\n", diags)
	}

	return p, nil
}

func mirAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	o, err := options(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		p, err := lower(ctx, o, a)
		if err != nil {
			return err
		}

		b, err := format.Format(ctx, nil, p)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func emitAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) != 1 {
		return errors.New("expected one input file")
	}

	o, err := options(c)
	if err != nil {
		return err
	}

	tree, err := readTree(c.Args[0])
	if err != nil {
		return errors.Wrap(err, "read %v", c.Args[0])
	}

	m, diags, err := o.LowerAndEmit(ctx, tree)
	if err != nil {
		return errors.Wrap(err, "compile %v", c.Args[0])
	}

	if len(diags) != 0 {
		fmt.Fprintf(os.Stderr, "%v\n", diags)
	}

	if out := c.String("output"); out != "" {
		err = os.WriteFile(out, []byte(m.String()), 0o644)
		if err != nil {
			return errors.Wrap(err, "write %v", out)
		}

		return nil
	}

	fmt.Printf("%v", m)

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	o, err := options(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		p, err := lower(ctx, o, a)
		if err != nil {
			return err
		}

		m := vm.New(p)
		m.Out = os.Stdout

		if o.Entry != "" {
			m.Entry = o.Entry
		}

		err = m.Run(ctx)
		if err != nil {
			return errors.Wrap(err, "run %v", a)
		}

		live := m.Heap.Live()

		fmt.Fprintf(os.Stderr, "heap: allocs %d  frees %d  live %d\n", m.Heap.Allocs, m.Heap.Frees, len(live))

		if len(live) != 0 {
			tlog.Printw("leaked objects", "objects", live)

			return errors.New("%v: %d objects leaked", a, len(live))
		}
	}

	return nil
}
