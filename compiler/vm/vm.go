package vm

import (
	"bytes"
	"context"
	"io"
	"math"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/rc"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	// Machine executes MIR programs.
	// It is the reference semantics for emitted native code.
	Machine struct {
		Heap Heap

		Out io.Writer

		// Prints holds every printed line without the trailing newline.
		Prints []string

		// Loops counts entries into each loop by header label.
		Loops map[string]int

		// Entry is the function run after the global initializer.
		Entry string

		MaxSteps int
		MaxDepth int

		prog    *mir.Program
		globals map[string]any
		enums   map[string]int64

		steps int
		depth int
	}

	frame struct {
		fn   *mir.Func
		vars map[string]any
	}
)

func New(p *mir.Program) *Machine {
	m := &Machine{
		Loops:    map[string]int{},
		Entry:    "main",
		MaxSteps: 10_000_000,
		MaxDepth: 1000,

		prog:    p,
		globals: map[string]any{},
		enums:   map[string]int64{},
	}

	for _, t := range p.Types {
		for i, v := range t.Variants {
			m.enums[t.Name+"."+v] = int64(i)
		}
	}

	return m
}

// Run executes global initializer, the entry function if present and global cleanup.
func (m *Machine) Run(ctx context.Context) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "vm: run", "funcs", len(m.prog.Funcs))
	defer tr.Finish("err", &err)

	g := &frame{fn: &mir.Func{Name: "__init"}, vars: m.globals}

	for _, x := range m.prog.Globals {
		err = m.exec(ctx, g, x)
		if err != nil {
			return errors.Wrap(err, "global init")
		}
	}

	if m.prog.Func(m.Entry) != nil {
		_, err = m.Call(ctx, m.Entry)
		if err != nil {
			return err
		}
	}

	for _, n := range m.prog.Fini {
		err = m.Heap.dec(asObject(m.globals[n]))
		if err != nil {
			return errors.Wrap(err, "global fini %v", n)
		}
	}

	tr.Printw("done", "steps", m.steps, "allocs", m.Heap.Allocs, "frees", m.Heap.Frees, "prints", len(m.Prints))

	return nil
}

// Global returns value of a global variable.
func (m *Machine) Global(name string) any { return m.globals[name] }

// Call runs a function. Multiple results are returned as a slice.
func (m *Machine) Call(ctx context.Context, name string, args ...any) (_ any, err error) {
	f := m.prog.Func(name)
	if f == nil {
		return nil, errors.New("undefined function: %v", name)
	}

	if len(args) != len(f.Params) {
		return nil, errors.New("%v: %d args, want %d", name, len(args), len(f.Params))
	}

	if m.depth >= m.MaxDepth {
		return nil, errors.New("%v: call depth limit", name)
	}

	m.depth++
	defer func() { m.depth-- }()

	fr := &frame{fn: f, vars: make(map[string]any, len(f.Params))}

	for i, p := range f.Params {
		fr.vars[p] = args[i]
	}

	if len(f.Blocks) == 0 {
		return nil, errors.New("%v: no blocks", name)
	}

	b := f.Blocks[0]

	for {
		for _, x := range b.Instrs {
			err = m.exec(ctx, fr, x)
			if err != nil {
				return nil, errors.Wrap(err, "%v: %v", name, b.Label)
			}
		}

		switch t := b.Term.(type) {
		case mir.Return:
			vals := make([]any, len(t.Values))

			for i, v := range t.Values {
				vals[i], err = m.get(fr, v)
				if err != nil {
					return nil, errors.Wrap(err, "%v: %v: return", name, b.Label)
				}
			}

			switch len(vals) {
			case 0:
				return nil, nil
			case 1:
				return vals[0], nil
			default:
				return vals, nil
			}
		case mir.Jump:
			b, err = m.block(f, t.Target)
		case mir.CondJump:
			var c any

			c, err = m.get(fr, t.Cond)
			if err != nil {
				return nil, errors.Wrap(err, "%v: %v: cond", name, b.Label)
			}

			l := t.Else
			if truth(c) {
				l = t.Then
			}

			b, err = m.block(f, l)
		case nil:
			return nil, errors.New("%v: block %v falls through", name, b.Label)
		default:
			panic(t)
		}

		if err != nil {
			return nil, errors.Wrap(err, "%v", name)
		}
	}
}

func (m *Machine) block(f *mir.Func, l string) (*mir.Block, error) {
	b := f.Block(l)
	if b == nil {
		return nil, errors.New("jump to missing block %v", l)
	}

	return b, nil
}

func (m *Machine) exec(ctx context.Context, fr *frame, x mir.Instr) (err error) {
	m.steps++

	if m.steps > m.MaxSteps {
		return errors.New("step limit exceeded")
	}

	switch x := x.(type) {
	case mir.ConstInt:
		fr.vars[x.Dst] = x.Value
	case mir.ConstFloat:
		fr.vars[x.Dst] = x.Value
	case mir.ConstBool:
		fr.vars[x.Dst] = x.Value
	case mir.ConstString:
		o := m.Heap.alloc(tp.Str, 0)
		o.Str = x.Value

		fr.vars[x.Dst] = o
	case mir.ConstNull:
		fr.vars[x.Dst] = (*Object)(nil)
	case mir.MakeArray:
		o := m.Heap.alloc(tp.Array, rc.Flags(x.Type))

		o.Elems, err = m.getAll(fr, x.Elems)
		if err != nil {
			return err
		}

		fr.vars[x.Dst] = o
	case mir.MakeMap:
		o := m.Heap.alloc(tp.Map, rc.Flags(x.Type))

		o.Elems, err = m.getAll(fr, x.Keys)
		if err != nil {
			return err
		}

		o.Values, err = m.getAll(fr, x.Values)
		if err != nil {
			return err
		}

		fr.vars[x.Dst] = o
	case mir.TupleGet:
		v, err := m.get(fr, x.Tuple)
		if err != nil {
			return err
		}

		t, ok := v.([]any)
		if !ok || x.Index >= len(t) {
			return errors.New("tuple get %d of %T", x.Index, v)
		}

		fr.vars[x.Dst] = t[x.Index]
	case mir.BinOp:
		l, err := m.get(fr, x.L)
		if err != nil {
			return err
		}

		r, err := m.get(fr, x.R)
		if err != nil {
			return err
		}

		v, err := binop(x, l, r)
		if err != nil {
			return errors.Wrap(err, "%v", x.Tag())
		}

		fr.vars[x.Dst] = v
	case mir.UnOp:
		v, err := m.get(fr, x.X)
		if err != nil {
			return err
		}

		switch y := v.(type) {
		case int64:
			v = -y
		case float64:
			v = -y
		case bool:
			v = !y
		default:
			return errors.New("%v on %T", x.Tag(), v)
		}

		fr.vars[x.Dst] = v
	case mir.Concat:
		l, err := m.object(fr, x.L)
		if err != nil {
			return err
		}

		r, err := m.object(fr, x.R)
		if err != nil {
			return err
		}

		o := m.Heap.alloc(tp.Str, 0)
		o.Str = l.Str + r.Str

		fr.vars[x.Dst] = o
	case mir.Assign:
		v, err := m.get(fr, x.Src)
		if err != nil {
			return err
		}

		m.set(fr, x.Dst, v, x.Decl)
	case mir.Call:
		args, err := m.getAll(fr, x.Args)
		if err != nil {
			return err
		}

		v, err := m.Call(ctx, x.Func, args...)
		if err != nil {
			return err
		}

		if x.Dst != "" {
			fr.vars[x.Dst] = v
		}
	case mir.Len:
		o, err := m.object(fr, x.X)
		if err != nil {
			return err
		}

		fr.vars[x.Dst] = int64(o.Len())
	case mir.ArrayGet:
		o, err := m.object(fr, x.Array)
		if err != nil {
			return err
		}

		i, err := m.get(fr, x.Index)
		if err != nil {
			return err
		}

		idx, ok := i.(int64)
		if !ok || idx < 0 || idx >= int64(len(o.Elems)) {
			return errors.New("index %v out of range [0:%d]", i, len(o.Elems))
		}

		fr.vars[x.Dst] = o.Elems[idx]
	case mir.MapGet:
		o, err := m.object(fr, x.Map)
		if err != nil {
			return err
		}

		k, err := m.get(fr, x.Key)
		if err != nil {
			return err
		}

		v := zero(x.Type)

		for i, key := range o.Elems {
			eq, err := equal(key, k)
			if err != nil {
				return err
			}

			if eq {
				v = o.Values[i]
				break
			}
		}

		fr.vars[x.Dst] = v
	case mir.MapEntry:
		o, err := m.object(fr, x.Map)
		if err != nil {
			return err
		}

		i, err := m.get(fr, x.Index)
		if err != nil {
			return err
		}

		idx, ok := i.(int64)
		if !ok || idx < 0 || idx >= int64(len(o.Elems)) {
			return errors.New("entry %v out of range [0:%d]", i, len(o.Elems))
		}

		fr.vars[x.Key] = o.Elems[idx]
		fr.vars[x.Value] = o.Values[idx]
	case mir.IncRef:
		v, err := m.get(fr, x.Value)
		if err != nil {
			return err
		}

		return m.Heap.inc(asObject(v))
	case mir.DecRef:
		v, err := m.get(fr, x.Value)
		if err != nil {
			return err
		}

		return m.Heap.dec(asObject(v))
	case mir.LoopMark:
		if x.Enter {
			m.Loops[x.Label]++
		}
	case mir.Print:
		var b []byte

		for i, n := range x.Values {
			if i != 0 {
				b = append(b, ' ')
			}

			v, err := m.get(fr, n)
			if err != nil {
				return err
			}

			b, err = appendValue(b, v)
			if err != nil {
				return err
			}
		}

		m.Prints = append(m.Prints, string(b))

		if m.Out != nil {
			b = append(b, '\n')

			_, err = m.Out.Write(b)
			if err != nil {
				return errors.Wrap(err, "write")
			}
		}
	case mir.Return, mir.Jump, mir.CondJump:
		return errors.New("terminator %T inside block", x)
	default:
		panic(x)
	}

	return nil
}

// Output returns everything printed so far.
func (m *Machine) Output() string {
	var b bytes.Buffer

	for _, l := range m.Prints {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	return b.String()
}

func (m *Machine) get(fr *frame, name string) (any, error) {
	if v, ok := fr.vars[name]; ok {
		return v, nil
	}

	if v, ok := m.globals[name]; ok {
		return v, nil
	}

	if v, ok := m.enums[name]; ok {
		return v, nil
	}

	if v, err := strconv.ParseInt(name, 10, 64); err == nil {
		return v, nil
	}

	if v, err := strconv.ParseFloat(name, 64); err == nil {
		return v, nil
	}

	if name == "true" || name == "false" {
		return name == "true", nil
	}

	return nil, errors.New("unresolved name %v in %v", name, fr.fn.Name)
}

func (m *Machine) getAll(fr *frame, names []string) (r []any, err error) {
	r = make([]any, len(names))

	for i, n := range names {
		r[i], err = m.get(fr, n)
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (m *Machine) set(fr *frame, name string, v any, decl bool) {
	if _, ok := fr.vars[name]; !ok && !decl {
		if _, ok := m.globals[name]; ok {
			m.globals[name] = v
			return
		}
	}

	fr.vars[name] = v
}

func (m *Machine) object(fr *frame, name string) (*Object, error) {
	v, err := m.get(fr, name)
	if err != nil {
		return nil, err
	}

	o, ok := v.(*Object)
	if !ok {
		return nil, errors.New("%v is %T, not a heap object", name, v)
	}

	err = o.check()
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return o, nil
}

func binop(x mir.BinOp, l, r any) (any, error) {
	switch l := l.(type) {
	case int64:
		r, ok := r.(int64)
		if !ok {
			return nil, errors.New("operand types %T and %T", l, r)
		}

		switch x.Op {
		case "add":
			return l + r, nil
		case "sub":
			return l - r, nil
		case "mul":
			return l * r, nil
		case "div", "mod":
			if r == 0 {
				return nil, errors.New("division by zero")
			}

			if x.Op == "div" {
				return l / r, nil
			}

			return l % r, nil
		}

		return compare(x.Op, cmpInt(l, r))
	case float64:
		r, ok := r.(float64)
		if !ok {
			return nil, errors.New("operand types %T and %T", l, r)
		}

		switch x.Op {
		case "add":
			return l + r, nil
		case "sub":
			return l - r, nil
		case "mul":
			return l * r, nil
		case "div":
			return l / r, nil
		case "mod":
			return math.Mod(l, r), nil
		}

		return compare(x.Op, cmpFloat(l, r))
	case bool:
		r, ok := r.(bool)
		if !ok {
			return nil, errors.New("operand types %T and %T", l, r)
		}

		switch x.Op {
		case "and":
			return l && r, nil
		case "or":
			return l || r, nil
		case "eq":
			return l == r, nil
		case "ne":
			return l != r, nil
		}
	case *Object:
		r, ok := r.(*Object)
		if !ok {
			return nil, errors.New("operand types %T and %T", l, r)
		}

		if err := l.check(); err != nil {
			return nil, err
		}

		if err := r.check(); err != nil {
			return nil, err
		}

		if l.Kind == tp.Str && r.Kind == tp.Str {
			c := 0

			switch {
			case l.Str < r.Str:
				c = -1
			case l.Str > r.Str:
				c = 1
			}

			return compare(x.Op, c)
		}
	}

	return nil, errors.New("unsupported operands %T", l)
}

func compare(op string, c int) (any, error) {
	switch op {
	case "eq":
		return c == 0, nil
	case "ne":
		return c != 0, nil
	case "lt":
		return c < 0, nil
	case "le":
		return c <= 0, nil
	case "gt":
		return c > 0, nil
	case "ge":
		return c >= 0, nil
	default:
		return nil, errors.New("unsupported operation %v", op)
	}
}

func cmpInt(l, r int64) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}

	return 0
}

func cmpFloat(l, r float64) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}

	return 0
}

func equal(a, b any) (bool, error) {
	ao, aok := a.(*Object)
	bo, bok := b.(*Object)

	if aok != bok {
		return false, nil
	}

	if !aok {
		return a == b, nil
	}

	if err := ao.check(); err != nil {
		return false, err
	}

	if err := bo.check(); err != nil {
		return false, err
	}

	if ao.Kind == tp.Str && bo.Kind == tp.Str {
		return ao.Str == bo.Str, nil
	}

	return ao == bo, nil
}

func truth(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	default:
		return v != nil
	}
}

func zero(t tp.Type) any {
	switch t.Kind {
	case tp.Float:
		return float64(0)
	case tp.Bool:
		return false
	case tp.Str, tp.Array, tp.Map:
		return (*Object)(nil)
	default:
		return int64(0)
	}
}

func appendValue(b []byte, v any) (_ []byte, err error) {
	switch v := v.(type) {
	case int64:
		return strconv.AppendInt(b, v, 10), nil
	case float64:
		return strconv.AppendFloat(b, v, 'g', -1, 64), nil
	case bool:
		return strconv.AppendBool(b, v), nil
	case nil:
		return append(b, "null"...), nil
	case *Object:
		if v == nil {
			return append(b, "null"...), nil
		}

		err = v.check()
		if err != nil {
			return nil, err
		}

		switch v.Kind {
		case tp.Str:
			return append(b, v.Str...), nil
		case tp.Array:
			b = append(b, '[')

			for i, e := range v.Elems {
				if i != 0 {
					b = append(b, ", "...)
				}

				b, err = appendValue(b, e)
				if err != nil {
					return nil, err
				}
			}

			return append(b, ']'), nil
		case tp.Map:
			b = append(b, '{')

			for i, k := range v.Elems {
				if i != 0 {
					b = append(b, ", "...)
				}

				b, err = appendValue(b, k)
				if err != nil {
					return nil, err
				}

				b = append(b, ": "...)

				b, err = appendValue(b, v.Values[i])
				if err != nil {
					return nil, err
				}
			}

			return append(b, '}'), nil
		}
	}

	return nil, errors.New("unprintable value %T", v)
}
