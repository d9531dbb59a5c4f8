package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmap(t *testing.T) {
	s := MakeBitmap(3)

	assert.Equal(t, -1, s.First())
	assert.Equal(t, 0, s.Size())

	s.Set(2)
	s.Set(130)
	s.Set(64)

	assert.True(t, s.IsSet(2))
	assert.True(t, s.IsSet(130))
	assert.False(t, s.IsSet(1))
	assert.False(t, s.IsSet(1000))

	assert.Equal(t, 3, s.Size())
	assert.Equal(t, 2, s.First())

	var r []int

	s.Range(func(i int) bool {
		r = append(r, i)
		return len(r) < 2
	})

	assert.Equal(t, []int{2, 64}, r)
}

func TestBitmapPreallocated(t *testing.T) {
	s := NewBitmap(200)

	s.Set(199)

	assert.Equal(t, 199, s.First())
	assert.Equal(t, 1, s.Size())

	var nilSet *Bitmap

	assert.Equal(t, 0, nilSet.Size())
}
