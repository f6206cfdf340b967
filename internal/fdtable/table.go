// Package fdtable provides a dense handle arena that always hands out the
// lowest free descriptor at or above a base value.
package fdtable

import (
	"container/heap"
	"sync"
)

// Table maps integer descriptors to values. Slots live in a dense slice; freed
// slots go to a min-heap so that Alloc returns the lowest unused descriptor.
type Table[T any] struct {
	mu    sync.Mutex
	base  int
	slots []slot[T]
	free  freeHeap
	live  int
}

type slot[T any] struct {
	value T
	valid bool
}

// New creates a table whose first descriptor is base.
func New[T any](base int) *Table[T] {
	return &Table[T]{
		base:  base,
		slots: make([]slot[T], 0, 16),
	}
}

// Alloc stores v and returns its descriptor.
func (t *Table[T]) Alloc(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live++
	if t.free.Len() > 0 {
		idx := heap.Pop(&t.free).(int)
		t.slots[idx] = slot[T]{value: v, valid: true}
		return idx + t.base
	}

	t.slots = append(t.slots, slot[T]{value: v, valid: true})
	return len(t.slots) - 1 + t.base
}

// Get returns the value for fd.
func (t *Table[T]) Get(fd int) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.index(fd)
	if !ok {
		var zero T
		return zero, false
	}
	return t.slots[idx].value, true
}

// Replace overwrites the value of a live descriptor.
func (t *Table[T]) Replace(fd int, v T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.index(fd)
	if !ok {
		return false
	}
	t.slots[idx].value = v
	return true
}

// Free releases fd and returns the value it held. A descriptor can only be
// freed once.
func (t *Table[T]) Free(fd int) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	idx, ok := t.index(fd)
	if !ok {
		return zero, false
	}

	v := t.slots[idx].value
	t.slots[idx] = slot[T]{}
	t.live--

	// Trailing free slots shrink the arena instead of growing the heap.
	if idx == len(t.slots)-1 {
		t.slots = t.slots[:idx]
		t.trim()
	} else {
		heap.Push(&t.free, idx)
	}
	return v, true
}

// trim drops trailing invalid slots and removes them from the free heap.
func (t *Table[T]) trim() {
	n := len(t.slots)
	for n > 0 && !t.slots[n-1].valid {
		n--
	}
	if n == len(t.slots) {
		return
	}
	t.slots = t.slots[:n]

	kept := t.free[:0]
	for _, idx := range t.free {
		if idx < n {
			kept = append(kept, idx)
		}
	}
	t.free = kept
	heap.Init(&t.free)
}

// Len returns the number of live descriptors.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Each calls fn for every live descriptor in ascending order.
func (t *Table[T]) Each(fn func(fd int, v T)) {
	t.mu.Lock()
	type pair struct {
		fd int
		v  T
	}
	pairs := make([]pair, 0, t.live)
	for i, s := range t.slots {
		if s.valid {
			pairs = append(pairs, pair{fd: i + t.base, v: s.value})
		}
	}
	t.mu.Unlock()

	for _, p := range pairs {
		fn(p.fd, p.v)
	}
}

func (t *Table[T]) index(fd int) (int, bool) {
	idx := fd - t.base
	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].valid {
		return 0, false
	}
	return idx, true
}

type freeHeap []int

func (h freeHeap) Len() int           { return len(h) }
func (h freeHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h freeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *freeHeap) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *freeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
