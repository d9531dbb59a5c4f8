package back

import (
	"tlog.app/go/tlog"

	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/set"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	// storage is the def/use summary of one function.
	storage struct {
		// blocks where a name is defined or used
		seen map[string]*set.Bitmap
		// first defining block
		first map[string]int
		// number of definitions
		defs map[string]int

		order []string
	}
)

// classify finds names living across blocks.
// Such names get an entry stack slot, the rest stay in per-block value caches.
// Params count as defined in the entry block.
func classify(f *mir.Func, global func(string) bool) (st storage, promoted []string) {
	st = storage{
		seen:  map[string]*set.Bitmap{},
		first: map[string]int{},
		defs:  map[string]int{},
	}

	mark := func(n string, bi int) {
		s, ok := st.seen[n]
		if !ok {
			s = set.NewBitmap(len(f.Blocks))
			st.seen[n] = s

			st.order = append(st.order, n)
		}

		s.Set(bi)
	}

	for _, n := range f.Params {
		mark(n, 0)
		st.first[n] = 0
	}

	for bi, b := range f.Blocks {
		for _, x := range b.Code() {
			for _, n := range x.Uses() {
				mark(n, bi)
			}

			for _, n := range x.Defs() {
				mark(n, bi)
				st.defs[n]++

				if _, ok := st.first[n]; !ok {
					st.first[n] = bi
				}
			}
		}
	}

	for _, n := range st.order {
		first, local := st.first[n]
		if !local || global(n) {
			continue
		}

		s := st.seen[n]

		if s.Size() > 1 || s.First() != first {
			promoted = append(promoted, n)
		}
	}

	tlog.V("storage").Printw("storage", "func", f.Name, "names", len(st.order), "promoted", promoted)

	return st, promoted
}

// recoverTypes finds the type of every name of the function.
// Explicit instruction types come first, then assignments propagate
// their source types, unresolved names default to int.
func recoverTypes(f *mir.Func, globals map[string]tp.Type) map[string]tp.Type {
	ts := make(map[string]tp.Type)

	for k, t := range globals {
		ts[k] = t
	}

	for i, n := range f.Params {
		if i < len(f.ParamTypes) && f.ParamTypes[i].Known() {
			ts[n] = f.ParamTypes[i]
		}
	}

	var assigns []mir.Assign

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			switch x := x.(type) {
			case mir.MapEntry:
				known(ts, x.Key, x.KeyType)
				known(ts, x.Value, x.ValType)
			case mir.Assign:
				known(ts, x.Dst, x.Type)

				if !x.Type.Known() {
					assigns = append(assigns, x)
				}
			default:
				for _, d := range x.Defs() {
					known(ts, d, mir.TypeOf(x))
				}
			}
		}
	}

	for changed := true; changed; {
		changed = false

		for _, a := range assigns {
			if ts[a.Dst].Known() {
				continue
			}

			if t := ts[a.Src]; t.Known() {
				ts[a.Dst] = t
				changed = true
			}
		}
	}

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			for _, d := range x.Defs() {
				if !ts[d].Known() {
					ts[d] = tp.IntT
				}
			}
		}
	}

	return ts
}

func known(ts map[string]tp.Type, n string, t tp.Type) {
	if !t.Known() || ts[n].Known() {
		return
	}

	ts[n] = t
}
