package pools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	n int
}

func newItemTable(capacity int) (*SlotTable[*item], *int) {
	made := 0
	return NewSlotTable(capacity, func() *item {
		made++
		return &item{n: made}
	}), &made
}

func TestSlotTable_AcquireRelease(t *testing.T) {
	table, made := newItemTable(2)

	id1, v1, ok := table.Acquire()
	require.True(t, ok)
	id2, v2, ok := table.Acquire()
	require.True(t, ok)

	assert.NotEqual(t, SlotID(0), id1)
	assert.NotEqual(t, id1, id2)
	assert.NotSame(t, v1, v2)
	assert.Equal(t, 0, id1.Index())
	assert.Equal(t, 1, id2.Index())
	assert.Equal(t, 2, table.Len())

	_, _, ok = table.Acquire()
	assert.False(t, ok, "full table must reject")

	assert.True(t, table.Release(id1))
	assert.Equal(t, 1, table.Len())

	// the slot and its object are reused under a new generation
	id3, v3, ok := table.Acquire()
	require.True(t, ok)
	assert.Same(t, v1, v3)
	assert.Equal(t, id1.Index(), id3.Index())
	assert.Equal(t, id1.Generation()+1, id3.Generation())
	assert.Equal(t, 2, *made)

	stats := table.Stats()
	assert.Equal(t, 2, stats.Capacity)
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, uint64(3), stats.Acquired)
	assert.Equal(t, uint64(1), stats.Released)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestSlotTable_StaleID(t *testing.T) {
	table, _ := newItemTable(1)

	old, _, ok := table.Acquire()
	require.True(t, ok)
	require.True(t, table.Release(old))

	cur, v, ok := table.Acquire()
	require.True(t, ok)

	_, ok = table.Lookup(old)
	assert.False(t, ok, "stale generation must not resolve")
	assert.False(t, table.Release(old))

	got, ok := table.Lookup(cur)
	require.True(t, ok)
	assert.Same(t, v, got)
}

func TestSlotTable_UnknownID(t *testing.T) {
	table, _ := newItemTable(1)

	_, ok := table.Lookup(0)
	assert.False(t, ok)
	_, ok = table.Lookup(makeSlotID(1, 5))
	assert.False(t, ok)
	assert.False(t, table.Release(makeSlotID(1, 5)))
}

func TestSlotTable_Live(t *testing.T) {
	table, _ := newItemTable(3)

	id1, v1, _ := table.Acquire()
	_, v2, _ := table.Acquire()
	_, v3, _ := table.Acquire()
	table.Release(id1)

	live := table.Live()
	assert.ElementsMatch(t, []*item{v2, v3}, live)
	assert.NotContains(t, live, v1)
}

func TestSlotID_Parts(t *testing.T) {
	id := makeSlotID(7, 42)
	assert.Equal(t, 42, id.Index())
	assert.Equal(t, uint32(7), id.Generation())
	assert.Equal(t, SlotID(7<<32|42), id)
}
