package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Bitmap is a set of block indexes.
	// Small functions fit into the inline word.
	Bitmap struct {
		w  []uint64
		w0 [1]uint64
	}
)

func NewBitmap(n int) *Bitmap {
	s := MakeBitmap(n)
	return &s
}

func MakeBitmap(n int) Bitmap {
	var s Bitmap

	if words := (n + 63) / 64; words > len(s.w0) {
		s.w = make([]uint64, words)
	}

	return s
}

func (s *Bitmap) words() []uint64 {
	if s.w == nil {
		s.w = s.w0[:]
	}

	return s.w
}

func (s *Bitmap) Set(i int) {
	w := s.words()

	for i/64 >= len(w) {
		w = append(w, 0)
	}

	w[i/64] |= 1 << (i % 64)
	s.w = w
}

func (s *Bitmap) IsSet(i int) bool {
	w := s.words()

	return i/64 < len(w) && w[i/64]&(1<<(i%64)) != 0
}

// Size is the number of set indexes.
func (s *Bitmap) Size() (n int) {
	if s == nil {
		return 0
	}

	for _, x := range s.words() {
		n += bits.OnesCount64(x)
	}

	return n
}

// First is the smallest set index or -1.
func (s *Bitmap) First() int {
	for i, x := range s.words() {
		if x != 0 {
			return i*64 + bits.TrailingZeros64(x)
		}
	}

	return -1
}

// Range calls f for set indexes in increasing order until it returns false.
func (s *Bitmap) Range(f func(i int) bool) {
	for i, x := range s.words() {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(i*64 + j) {
				return
			}
		}
	}
}

func (s *Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)
		return true
	})

	return e.AppendBreak(b)
}
