package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRU_PutGet(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)

	c.Put("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_EvictsOldestAtCapacity(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // a is now the most recent
	c.Put("c", 3)

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestLRU_PutRefreshesExistingKey(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)

	c.Put("a", 1)
	c.Put("a", 9)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 9, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_ExpiredEntriesAreDropped(t *testing.T) {
	c := NewLRU[string, int](4, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.nowFn = func() time.Time { return now }

	c.Put("a", 1)
	now = now.Add(2 * time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
