package format

import (
	"context"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
)

// Format appends the text form of a program, function or block to b.
func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	return format(ctx, b, x, 0)
}

func format(ctx context.Context, b []byte, x any, d int) (_ []byte, err error) {
	switch x := x.(type) {
	case *mir.Program:
		return formatProgram(ctx, b, x, d)
	case *mir.Func:
		return formatFunc(ctx, b, x, d)
	case *mir.Block:
		return formatBlock(ctx, b, x, d)
	case mir.Instr:
		b = app(b, d, "")
		b, err = formatInstr(b, x)
		if err != nil {
			return nil, err
		}

		return append(b, '\n'), nil
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatProgram(ctx context.Context, b []byte, x *mir.Program, d int) (_ []byte, err error) {
	for _, t := range x.Types {
		switch {
		case len(t.Variants) != 0:
			b = app(b, d, "enum %v { %v }\n", t.Name, strings.Join(t.Variants, ", "))
		default:
			b = app(b, d, "struct %v {", t.Name)

			for i, f := range t.Fields {
				if i != 0 {
					b = append(b, ',')
				}

				b = hfmt.Appendf(b, " %v %v", f.Name, f.Type)
			}

			b = append(b, " }\n"...)
		}
	}

	if len(x.Globals) != 0 {
		b = app(b, d, "globals {\n")

		for i, g := range x.Globals {
			b = app(b, d+1, "")

			b, err = formatInstr(b, g)
			if err != nil {
				return nil, errors.Wrap(err, "global %d", i)
			}

			b = append(b, '\n')
		}

		b = app(b, d, "}\n")
	}

	if len(x.Fini) != 0 {
		b = app(b, d, "fini %v\n", strings.Join(x.Fini, ", "))
	}

	for _, f := range x.Funcs {
		b = append(b, '\n')

		b, err = formatFunc(ctx, b, f, d)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	return b, nil
}

func formatFunc(ctx context.Context, b []byte, x *mir.Func, d int) (_ []byte, err error) {
	b = app(b, d, "func %v(", x.Name)

	for i, a := range x.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = append(b, a...)

		if i < len(x.ParamTypes) {
			b = hfmt.Appendf(b, " %v", x.ParamTypes[i])
		}
	}

	b = append(b, ')')

	if x.Ret != nil {
		b = hfmt.Appendf(b, " %v", *x.Ret)
	}

	if x.Synthetic {
		b = append(b, " synthetic"...)
	}

	b = append(b, " {\n"...)

	for _, blk := range x.Blocks {
		b, err = formatBlock(ctx, b, blk, d)
		if err != nil {
			return nil, errors.Wrap(err, "block %v", blk.Label)
		}
	}

	b = app(b, d, "}\n")

	return b, nil
}

func formatBlock(ctx context.Context, b []byte, x *mir.Block, d int) (_ []byte, err error) {
	b = app(b, d, "%v:\n", x.Label)

	for _, i := range x.Code() {
		b = app(b, d+1, "")

		b, err = formatInstr(b, i)
		if err != nil {
			return nil, err
		}

		b = append(b, '\n')
	}

	if x.Term == nil {
		b = app(b, d+1, "<no terminator>\n")
	}

	return b, nil
}

func formatInstr(b []byte, x mir.Instr) ([]byte, error) {
	switch x := x.(type) {
	case mir.ConstInt:
		b = hfmt.Appendf(b, "%v = %d", x.Dst, x.Value)
	case mir.ConstFloat:
		b = hfmt.Appendf(b, "%v = %v", x.Dst, x.Value)
	case mir.ConstBool:
		b = hfmt.Appendf(b, "%v = %v", x.Dst, x.Value)
	case mir.ConstString:
		b = hfmt.Appendf(b, "%v = %q", x.Dst, x.Value)
	case mir.ConstNull:
		b = hfmt.Appendf(b, "%v = null %v", x.Dst, x.Type)
	case mir.MakeArray:
		b = hfmt.Appendf(b, "%v = array %v [%v]", x.Dst, x.Type, strings.Join(x.Elems, ", "))
	case mir.MakeMap:
		b = hfmt.Appendf(b, "%v = map %v {", x.Dst, x.Type)

		for i := range x.Keys {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = hfmt.Appendf(b, "%v: %v", x.Keys[i], x.Values[i])
		}

		b = append(b, '}')
	case mir.TupleGet:
		b = hfmt.Appendf(b, "%v = %v.%d", x.Dst, x.Tuple, x.Index)
	case mir.BinOp:
		b = hfmt.Appendf(b, "%v = %v %v, %v", x.Dst, x.Tag(), x.L, x.R)
	case mir.UnOp:
		b = hfmt.Appendf(b, "%v = %v %v", x.Dst, x.Tag(), x.X)
	case mir.Concat:
		b = hfmt.Appendf(b, "%v = concat %v, %v", x.Dst, x.L, x.R)
	case mir.Assign:
		op := "="
		if x.Decl {
			op = ":="
		}

		b = hfmt.Appendf(b, "%v %v %v", x.Dst, op, x.Src)

		if x.Mutable {
			b = append(b, " mut"...)
		}
	case mir.Call:
		if x.Dst != "" {
			b = hfmt.Appendf(b, "%v = ", x.Dst)
		}

		b = hfmt.Appendf(b, "call %v(%v)", x.Func, strings.Join(x.Args, ", "))
	case mir.Len:
		b = hfmt.Appendf(b, "%v = len %v", x.Dst, x.X)
	case mir.ArrayGet:
		b = hfmt.Appendf(b, "%v = %v[%v]", x.Dst, x.Array, x.Index)
	case mir.MapGet:
		b = hfmt.Appendf(b, "%v = %v{%v}", x.Dst, x.Map, x.Key)
	case mir.MapEntry:
		b = hfmt.Appendf(b, "%v, %v = entry %v, %v", x.Key, x.Value, x.Map, x.Index)
	case mir.IncRef:
		b = hfmt.Appendf(b, "incref %v", x.Value)
	case mir.DecRef:
		b = hfmt.Appendf(b, "decref %v", x.Value)
	case mir.LoopMark:
		what := "exit"
		if x.Enter {
			what = "enter"
		}

		b = hfmt.Appendf(b, "loop %v %v", what, x.Label)
	case mir.Print:
		b = hfmt.Appendf(b, "print %v", strings.Join(x.Values, ", "))
	case mir.Return:
		b = append(b, "return"...)

		if len(x.Values) != 0 {
			b = hfmt.Appendf(b, " %v", strings.Join(x.Values, ", "))
		}
	case mir.Jump:
		b = hfmt.Appendf(b, "jump %v", x.Target)
	case mir.CondJump:
		b = hfmt.Appendf(b, "if %v then %v else %v", x.Cond, x.Then, x.Else)
	default:
		return nil, errors.New("unsupported instruction: %T", x)
	}

	return b, nil
}

func app(b []byte, d int, f string, args ...any) []byte {
	for i := 0; i < d; i++ {
		b = append(b, '\t')
	}

	return hfmt.Appendf(b, f, args...)
}
