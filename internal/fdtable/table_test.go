package fdtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAlloc_StartsAtBase tests that the first descriptors begin at the base.
func TestAlloc_StartsAtBase(t *testing.T) {
	t.Parallel()

	tbl := New[string](3)

	assert.Equal(t, 3, tbl.Alloc("a"))
	assert.Equal(t, 4, tbl.Alloc("b"))
	assert.Equal(t, 5, tbl.Alloc("c"))
	assert.Equal(t, 3, tbl.Len())

	v, ok := tbl.Get(4)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = tbl.Get(2)
	assert.False(t, ok)
	_, ok = tbl.Get(6)
	assert.False(t, ok)
}

// TestFree_ReusesLowest tests that freed descriptors are reused lowest first.
func TestFree_ReusesLowest(t *testing.T) {
	t.Parallel()

	tbl := New[int](3)
	for i := 0; i < 6; i++ {
		tbl.Alloc(i)
	}

	_, ok := tbl.Free(6)
	require.True(t, ok)
	_, ok = tbl.Free(4)
	require.True(t, ok)

	assert.Equal(t, 4, tbl.Alloc(100))
	assert.Equal(t, 6, tbl.Alloc(101))
	assert.Equal(t, 9, tbl.Alloc(102))
}

// TestFree_Twice tests that a descriptor cannot be freed twice.
func TestFree_Twice(t *testing.T) {
	t.Parallel()

	tbl := New[int](3)
	fd := tbl.Alloc(1)

	_, ok := tbl.Free(fd)
	assert.True(t, ok)
	_, ok = tbl.Free(fd)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

// TestFree_TrailingShrinks tests that freeing the tail shrinks the arena.
func TestFree_TrailingShrinks(t *testing.T) {
	t.Parallel()

	tbl := New[int](3)
	a := tbl.Alloc(1)
	b := tbl.Alloc(2)
	c := tbl.Alloc(3)

	tbl.Free(b)
	tbl.Free(c)
	assert.Len(t, tbl.slots, 1)
	assert.Empty(t, tbl.free)

	tbl.Free(a)
	assert.Empty(t, tbl.slots)
	assert.Equal(t, 3, tbl.Alloc(9))
}

// TestReplaceAndEach tests value replacement and ordered iteration.
func TestReplaceAndEach(t *testing.T) {
	t.Parallel()

	tbl := New[string](0)
	tbl.Alloc("x")
	tbl.Alloc("y")
	tbl.Alloc("z")
	tbl.Free(1)

	assert.True(t, tbl.Replace(2, "zz"))
	assert.False(t, tbl.Replace(1, "nope"))

	var fds []int
	var vals []string
	tbl.Each(func(fd int, v string) {
		fds = append(fds, fd)
		vals = append(vals, v)
	})
	assert.Equal(t, []int{0, 2}, fds)
	assert.Equal(t, []string{"x", "zz"}, vals)
}
