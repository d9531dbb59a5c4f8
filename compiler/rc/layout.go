package rc

import "github.com/nynrathod/mylang-sub000/compiler/tp"

// Heap object layout
//
//	[4-byte refcount][4-byte length and flags][payload]
//	                                          ^ handle
//
// Collections keep 8-byte slots in the payload.
// Maps keep all keys first, then all values.
const (
	HeaderSize     = 8
	RefcountOffset = -8
	LengthOffset   = -4

	SlotSize = 8
)

// Length field flags.
const (
	// FirstHeap marks array elements or map keys as heap handles.
	FirstHeap uint32 = 1 << 31
	// SecondHeap marks map values as heap handles.
	SecondHeap uint32 = 1 << 30
	// MapLayout marks the payload as keys followed by values.
	MapLayout uint32 = 1 << 29

	FlagsMask  uint32 = 0xf << 28
	LengthMask uint32 = ^FlagsMask

	MaxLength = int64(LengthMask)
)

// Flags returns length field flags of a heap object of type t.
func Flags(t tp.Type) (f uint32) {
	switch t.Kind {
	case tp.Array:
		if t.ElemType().Heap() {
			f |= FirstHeap
		}
	case tp.Map:
		f |= MapLayout

		if t.KeyType().Heap() {
			f |= FirstHeap
		}

		if t.ElemType().Heap() {
			f |= SecondHeap
		}
	}

	return f
}

// Slots is the number of payload slots of a collection of length n.
func Slots(flags uint32, n int64) int64 {
	if flags&MapLayout != 0 {
		return 2 * n
	}

	return n
}

// SlotHeap reports whether payload slot i of a collection of length n holds a heap handle.
func SlotHeap(flags uint32, n, i int64) bool {
	if i < n {
		return flags&FirstHeap != 0
	}

	return flags&SecondHeap != 0
}
