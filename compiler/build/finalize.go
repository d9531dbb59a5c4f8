package build

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/set"
)

// Finalize prunes dead blocks and deduplicates global initializers.
// It is idempotent. Returned diagnostics report blocks kept but unreachable from entry.
func Finalize(ctx context.Context, p *mir.Program) (diags []Diagnostic) {
	tr := tlog.SpanFromContext(ctx)

	for _, f := range p.Funcs {
		pruned := prune(f)

		if pruned != 0 {
			tr.V("finalize").Printw("pruned blocks", "func", f.Name, "pruned", pruned, "left", len(f.Blocks))
		}

		for _, b := range unreachable(f) {
			diags = append(diags, Diagnostic{Func: f.Name, Block: b, Msg: "unreachable block"})
		}
	}

	n := len(p.Globals)
	p.Globals = dedupGlobals(p.Globals)

	if n != len(p.Globals) {
		tr.V("finalize").Printw("deduplicated globals", "before", n, "after", len(p.Globals))
	}

	return diags
}

// prune removes non-entry blocks without instructions, terminator and incoming jumps.
func prune(f *mir.Func) (pruned int) {
	targeted := map[string]bool{}

	for _, l := range f.Targets() {
		targeted[l] = true
	}

	blocks := f.Blocks[:0]

	for i, b := range f.Blocks {
		if i != 0 && b.Empty() && !targeted[b.Label] {
			pruned++
			continue
		}

		blocks = append(blocks, b)
	}

	for i := len(blocks); i < len(f.Blocks); i++ {
		f.Blocks[i] = nil
	}

	f.Blocks = blocks

	return pruned
}

// unreachable walks the control flow graph from entry in block order.
func unreachable(f *mir.Func) (r []string) {
	if len(f.Blocks) == 0 {
		return nil
	}

	index := make(map[string]int, len(f.Blocks))

	for i, b := range f.Blocks {
		index[b.Label] = i
	}

	seen := set.MakeBitmap(len(f.Blocks))
	q := heap.Heap[int]{Less: func(d []int, i, j int) bool { return d[i] < d[j] }}

	q.Push(0)
	seen.Set(0)

	for q.Len() != 0 {
		b := f.Blocks[q.Pop()]

		if b.Term == nil {
			continue
		}

		for _, l := range b.Term.Targets() {
			i, ok := index[l]
			if !ok || seen.IsSet(i) {
				continue
			}

			seen.Set(i)
			q.Push(i)
		}
	}

	for i, b := range f.Blocks {
		if !seen.IsSet(i) {
			r = append(r, b.Label)
		}
	}

	return r
}

// dedupGlobals keeps the first definition of every global constant or variable.
func dedupGlobals(list []mir.Instr) []mir.Instr {
	defined := map[string]bool{}
	r := list[:0]

	for _, x := range list {
		var name string

		switch x := x.(type) {
		case mir.ConstInt:
			name = x.Dst
		case mir.ConstFloat:
			name = x.Dst
		case mir.ConstBool:
			name = x.Dst
		case mir.ConstString:
			name = x.Dst
		case mir.Assign:
			if x.Decl {
				name = x.Dst
			}
		}

		if name != "" {
			if defined[name] {
				continue
			}

			defined[name] = true
		}

		r = append(r, x)
	}

	return r
}
