package pools

import (
	"sync"
	"sync/atomic"
)

// SlotID identifies one occupancy of a slot: the generation in the high 32
// bits, the slot index in the low 32 bits. Generations start at 1, so a
// valid SlotID is never 0.
type SlotID uint64

// Index returns the slot index
func (id SlotID) Index() int {
	return int(uint32(id))
}

// Generation returns the occupancy generation
func (id SlotID) Generation() uint32 {
	return uint32(id >> 32)
}

func makeSlotID(gen uint32, index int) SlotID {
	return SlotID(uint64(gen)<<32 | uint64(uint32(index)))
}

type slot[T any] struct {
	gen   uint32
	inUse bool
	val   T
	made  bool
}

// SlotTable is a fixed-capacity table of reusable objects. Each Acquire
// bumps the slot's generation, so IDs from a previous occupancy never
// resolve to the current one even when the transport handle is reused.
// Objects are created lazily and kept for reuse after Release.
type SlotTable[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []int
	inUse int

	newFunc func() T

	gets atomic.Uint64
	puts atomic.Uint64
	full atomic.Uint64
}

// NewSlotTable creates a table with capacity slots
func NewSlotTable[T any](capacity int, newFunc func() T) *SlotTable[T] {
	t := &SlotTable[T]{
		slots:   make([]slot[T], capacity),
		free:    make([]int, 0, capacity),
		newFunc: newFunc,
	}
	// pop from the end hands out low indexes first
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

// Acquire claims a free slot. It reports false when the table is full.
func (t *SlotTable[T]) Acquire() (SlotID, T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.free) == 0 {
		t.full.Add(1)
		var zero T
		return 0, zero, false
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	s := &t.slots[idx]
	if !s.made {
		s.val = t.newFunc()
		s.made = true
	}
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.inUse = true
	t.inUse++
	t.gets.Add(1)

	return makeSlotID(s.gen, idx), s.val, true
}

// Lookup returns the object for id if that occupancy is still live
func (t *SlotTable[T]) Lookup(id SlotID) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	idx := id.Index()
	if idx >= len(t.slots) {
		return zero, false
	}
	s := &t.slots[idx]
	if !s.inUse || s.gen != id.Generation() {
		return zero, false
	}
	return s.val, true
}

// Release frees the slot held by id. Stale or unknown IDs are ignored.
func (t *SlotTable[T]) Release(id SlotID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := id.Index()
	if idx >= len(t.slots) {
		return false
	}
	s := &t.slots[idx]
	if !s.inUse || s.gen != id.Generation() {
		return false
	}
	s.inUse = false
	t.inUse--
	t.free = append(t.free, idx)
	t.puts.Add(1)
	return true
}

// Live returns the objects of every occupied slot
func (t *SlotTable[T]) Live() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]T, 0, t.inUse)
	for i := range t.slots {
		if t.slots[i].inUse {
			out = append(out, t.slots[i].val)
		}
	}
	return out
}

// Len returns the number of occupied slots
func (t *SlotTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.inUse
}

// Cap returns the number of slots
func (t *SlotTable[T]) Cap() int {
	return len(t.slots)
}

// Stats returns slot table statistics
func (t *SlotTable[T]) Stats() SlotTableStats {
	return SlotTableStats{
		Capacity: len(t.slots),
		InUse:    t.Len(),
		Acquired: t.gets.Load(),
		Released: t.puts.Load(),
		Rejected: t.full.Load(),
	}
}

// SlotTableStats contains slot table statistics
type SlotTableStats struct {
	Capacity int    `json:"capacity"`
	InUse    int    `json:"in_use"`
	Acquired uint64 `json:"acquired"`
	Released uint64 `json:"released"`
	Rejected uint64 `json:"rejected"`
}
