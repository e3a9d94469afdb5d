package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadWatermarks(t *testing.T) {
	_, err := New[string, int](4, 4)
	require.Error(t, err)
	_, err = New[string, int](0, 4)
	require.Error(t, err)
	_, err = New[string, int](5, 4)
	require.Error(t, err)
}

func TestAddBeyondHighWatermarkBatchEvictsLRU(t *testing.T) {
	var evicted []string
	c, err := New(3, 4, WithAgedOutHook(func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	for i, key := range []string{"A", "B", "C", "D", "E"} {
		c.Add(key, i)
	}
	// Insertion always makes the entry MRU, so the access order before E is
	// A,B,C,D oldest-first. The full cache purges high-low entries in one
	// batch before inserting, leaving lowWatermark+1 entries.
	require.Equal(t, []string{"A"}, evicted)
	require.Equal(t, 4, c.Len())
	for _, key := range []string{"B", "C", "D", "E"} {
		_, ok := c.TryGet(key)
		require.True(t, ok, "expected %s to survive", key)
	}
	_, ok := c.TryGet("A")
	require.False(t, ok)
}

func TestEvictionOrderFollowsAccessRecency(t *testing.T) {
	var evicted []string
	c, err := New(2, 4, WithAgedOutHook(func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	c.Add("A", 1)
	c.Add("B", 2)
	c.Add("C", 3)
	c.Add("D", 4)
	_, _ = c.TryGet("A") // A becomes MRU; B is now LRU
	c.Add("E", 5)

	require.Equal(t, []string{"B", "C"}, evicted)
	require.Equal(t, 3, c.Len())
	_, ok := c.TryGet("A")
	require.True(t, ok)
}

func TestTryGetNeverReturnsRemovedKey(t *testing.T) {
	c, err := New[string, int](2, 4)
	require.NoError(t, err)

	c.Add("A", 1)
	_, ok := c.TryGet("A") // A now occupies the hot slot
	require.True(t, ok)
	require.True(t, c.Remove("A"))
	_, ok = c.TryGet("A")
	require.False(t, ok, "stale hot pointer returned a removed key")
	require.False(t, c.Remove("A"))
}

func TestHotSlotClearedOnEviction(t *testing.T) {
	c, err := New[string, int](1, 2)
	require.NoError(t, err)

	c.Add("A", 1)
	_, _ = c.TryGet("A")
	c.Add("B", 2)
	c.Add("C", 3) // purges A while it is the hot candidate chain's oldest

	_, ok := c.TryGet("A")
	require.False(t, ok)
	v, ok := c.TryGet("C")
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestReplaceExistingKeyPromotes(t *testing.T) {
	var evicted []string
	c, err := New(1, 2, WithEvictionHook(func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	c.Add("A", 1)
	c.Add("B", 2)
	c.Add("A", 10) // replace, no eviction
	require.Empty(t, evicted)
	require.Equal(t, 2, c.Len())

	c.Add("C", 3) // B is LRU now
	require.Equal(t, []string{"B"}, evicted)
	v, ok := c.TryGet("A")
	require.True(t, ok)
	require.Equal(t, 10, v)
}

func TestInsertionFailureClearsCache(t *testing.T) {
	c, err := New(1, 2, WithEvictionHook(func(key string, _ int) {
		panic("hook failure")
	}))
	require.NoError(t, err)

	c.Add("A", 1)
	c.Add("B", 2)
	c.Add("C", 3) // eviction hook panics; cache must reset, not corrupt

	require.Equal(t, 0, c.Len())
	_, ok := c.TryGet("A")
	require.False(t, ok)
	c.Add("D", 4)
	v, ok := c.TryGet("D")
	require.True(t, ok)
	require.Equal(t, 4, v)
}
