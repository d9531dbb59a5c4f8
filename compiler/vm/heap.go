package vm

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/nynrathod/mylang-sub000/compiler/rc"
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	// Object is a reference counted heap object.
	Object struct {
		ID   int
		Kind tp.Kind

		Refs    int
		MaxRefs int
		Freed   bool

		Flags uint32

		Str    string
		Elems  []any // array elements or map keys
		Values []any // map values
	}

	// Heap tracks every allocation of a run.
	Heap struct {
		Allocs int
		Frees  int

		Objects []*Object
	}
)

var (
	ErrDoubleFree   = errors.New("double free")
	ErrUseAfterFree = errors.New("use after free")
)

func (h *Heap) alloc(k tp.Kind, flags uint32) *Object {
	o := &Object{
		ID:      len(h.Objects) + 1,
		Kind:    k,
		Refs:    1,
		MaxRefs: 1,
		Flags:   flags,
	}

	h.Objects = append(h.Objects, o)
	h.Allocs++

	return o
}

// Live returns objects not freed yet.
func (h *Heap) Live() (r []*Object) {
	for _, o := range h.Objects {
		if !o.Freed {
			r = append(r, o)
		}
	}

	return r
}

func (h *Heap) inc(o *Object) error {
	if o == nil {
		return nil
	}

	if o.Freed {
		return errors.Wrap(ErrUseAfterFree, "inc object %d", o.ID)
	}

	o.Refs++

	if o.Refs > o.MaxRefs {
		o.MaxRefs = o.Refs
	}

	return nil
}

func (h *Heap) dec(o *Object) error {
	if o == nil {
		return nil
	}

	if o.Freed {
		return errors.Wrap(ErrDoubleFree, "dec object %d", o.ID)
	}

	o.Refs--

	if o.Refs > 0 {
		return nil
	}

	n := int64(len(o.Elems))

	for i := int64(0); i < rc.Slots(o.Flags, n); i++ {
		if !rc.SlotHeap(o.Flags, n, i) {
			continue
		}

		var x any

		if i < n {
			x = o.Elems[i]
		} else {
			x = o.Values[i-n]
		}

		err := h.dec(asObject(x))
		if err != nil {
			return errors.Wrap(err, "release object %d slot %d", o.ID, i)
		}
	}

	o.Freed = true
	h.Frees++

	return nil
}

func (o *Object) check() error {
	if o == nil {
		return errors.New("null handle")
	}

	if o.Freed {
		return errors.Wrap(ErrUseAfterFree, "object %d", o.ID)
	}

	return nil
}

func (o *Object) Len() int {
	if o.Kind == tp.Str {
		return len(o.Str)
	}

	return len(o.Elems)
}

func (o *Object) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if o == nil {
		return e.AppendNil(b)
	}

	b = e.AppendMap(b, 4)
	b = e.AppendKeyInt(b, "id", o.ID)
	b = e.AppendKeyValue(b, "kind", o.Kind)
	b = e.AppendKeyInt(b, "refs", o.Refs)
	b = e.AppendKeyValue(b, "freed", o.Freed)

	return b
}

func asObject(x any) *Object {
	o, _ := x.(*Object)

	return o
}
