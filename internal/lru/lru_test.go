package lru

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_AddGet(t *testing.T) {
	c := New(2)
	c.Add(1, "one")
	c.Add(2, "two")

	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	v, ok = c.Get(2)
	require.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = c.Get(3)
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	c.Add(1, "one")
	c.Add(2, "two")

	// touch 1 so 2 becomes the LRU entry
	c.Get(1)

	c.Add(3, "three")

	_, ok := c.Get(2)
	assert.False(t, ok, "least-recently-used entry should have been evicted")

	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_AddExistingKeyUpdatesValueAndRecency(t *testing.T) {
	c := New(2)
	c.Add(1, "one")
	c.Add(2, "two")
	c.Add(1, "uno")

	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "uno", v)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Remove(t *testing.T) {
	c := New(4)
	c.Add(1, "one")
	c.Remove(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_RemoveOldest(t *testing.T) {
	c := New(4)
	c.Add(1, "one")
	c.Add(2, "two")
	c.RemoveOldest()
	_, ok := c.Get(1)
	assert.False(t, ok, "oldest entry (1) should be gone")
	_, ok = c.Get(2)
	assert.True(t, ok)
}

func TestCache_ZeroCapacityNeverEvicts(t *testing.T) {
	c := New(0)
	for i := uint64(0); i < 100; i++ {
		c.Add(i, i)
	}
	assert.Equal(t, 100, c.Len())
}
