package back

import (
	"github.com/nynrathod/mylang-sub000/compiler/mir"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	// collMeta is what is statically known about a collection.
	collMeta struct {
		Len  int64
		Kind tp.Kind

		Key  tp.Type `tlog:",omitempty"`
		Elem tp.Type

		// HeapStrings is set when elements (or map values) are string handles.
		HeapStrings bool
	}

	metaTable struct {
		direct map[string]collMeta
		alias  map[string]string
	}
)

// collectMeta records literal collection lengths under their temporaries
// and every write-once local variable they are assigned to.
func collectMeta(f *mir.Func, defs map[string]int, global func(string) bool) metaTable {
	t := metaTable{
		direct: map[string]collMeta{},
		alias:  map[string]string{},
	}

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			switch x := x.(type) {
			case mir.MakeArray:
				t.direct[x.Dst] = collMeta{
					Len:         int64(len(x.Elems)),
					Kind:        tp.Array,
					Elem:        x.Type.ElemType(),
					HeapStrings: x.Type.ElemType().Kind == tp.Str,
				}
			case mir.MakeMap:
				t.direct[x.Dst] = collMeta{
					Len:         int64(len(x.Keys)),
					Kind:        tp.Map,
					Key:         x.Type.KeyType(),
					Elem:        x.Type.ElemType(),
					HeapStrings: x.Type.ElemType().Kind == tp.Str,
				}
			case mir.Assign:
				if defs[x.Dst] == 1 && !global(x.Dst) {
					t.alias[x.Dst] = x.Src
				}
			}
		}
	}

	return t
}

// lookup follows the alias chain to a literal.
func (t metaTable) lookup(name string) (collMeta, bool) {
	for i := 0; i <= len(t.alias); i++ {
		if m, ok := t.direct[name]; ok {
			return m, true
		}

		src, ok := t.alias[name]
		if !ok {
			break
		}

		name = src
	}

	return collMeta{}, false
}
