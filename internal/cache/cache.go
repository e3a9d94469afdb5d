// Package cache provides a bounded most-recently-used cache keyed by
// comparable keys. The engine and its expression front ends memoize
// expensive per-definition artifacts (compiled expressions, reflected
// metadata) through it. The cache is not safe for concurrent use; confine
// it to one logical thread of control.
package cache

import (
	"container/list"
	"fmt"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Option customizes cache construction.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEvictionHook installs a callback fired once per entry leaving the
// cache through Remove or watermark eviction. Collaborators use it to
// release external resources tied to the value.
func WithEvictionHook[K comparable, V any](hook func(key K, value V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = hook
	}
}

// WithAgedOutHook installs a callback fired for entries that age out of
// the cache during a watermark purge (in addition to the eviction hook).
func WithAgedOutHook[K comparable, V any](hook func(key K, value V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onAgedOut = hook
	}
}

// Cache is a watermark-bounded MRU cache. Size never exceeds the high
// watermark: when an Add finds the cache full it purges the least recently
// used highWatermark-lowWatermark entries in one batch before inserting.
type Cache[K comparable, V any] struct {
	low  int
	high int

	items map[K]*list.Element
	mru   *list.List // front is most recently used

	// Single-slot hottest-entry fast path. Must be cleared whenever the
	// entry it points at is removed or evicted; a stale hot pointer would
	// return values for dead keys.
	hot    *entry[K, V]
	hasHot bool

	onEvict   func(key K, value V)
	onAgedOut func(key K, value V)
}

// New constructs a cache with the given watermarks. The low watermark must
// be positive and strictly below the high watermark.
func New[K comparable, V any](low, high int, opts ...Option[K, V]) (*Cache[K, V], error) {
	if low <= 0 || low >= high {
		return nil, fmt.Errorf("cache: watermarks must satisfy 0 < low < high, got %d/%d", low, high)
	}
	c := &Cache[K, V]{
		low:   low,
		high:  high,
		items: make(map[K]*list.Element),
		mru:   list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Len reports the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return len(c.items)
}

// Add inserts or replaces a value, making it the most recently used entry.
// If the insertion path fails the cache clears itself entirely rather than
// risking an inconsistent index; the failure is never surfaced.
func (c *Cache[K, V]) Add(key K, value V) {
	defer func() {
		if r := recover(); r != nil {
			c.Clear()
		}
	}()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[K, V])
		ent.value = value
		c.mru.MoveToFront(elem)
		c.setHot(ent)
		return
	}
	if len(c.items) == c.high {
		c.purge(c.high - c.low)
	}
	ent := &entry[K, V]{key: key, value: value}
	c.items[key] = c.mru.PushFront(ent)
	c.setHot(ent)
}

// TryGet looks up a value. A hit promotes the entry to most recently used
// and refreshes the hot slot.
func (c *Cache[K, V]) TryGet(key K) (V, bool) {
	if c.hasHot && c.hot.key == key {
		return c.hot.value, true
	}
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	ent := elem.Value.(*entry[K, V])
	c.mru.MoveToFront(elem)
	c.setHot(ent)
	return ent.value, true
}

// Remove drops a key, firing the eviction hook. Removing the hottest entry
// clears the hot slot.
func (c *Cache[K, V]) Remove(key K) bool {
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	ent := elem.Value.(*entry[K, V])
	delete(c.items, key)
	c.mru.Remove(elem)
	if c.hasHot && c.hot.key == key {
		c.clearHot()
	}
	if c.onEvict != nil {
		c.onEvict(ent.key, ent.value)
	}
	return true
}

// Clear empties the cache without firing hooks.
func (c *Cache[K, V]) Clear() {
	c.items = make(map[K]*list.Element)
	c.mru.Init()
	c.clearHot()
}

// purge evicts count least-recently-used entries in one batch.
func (c *Cache[K, V]) purge(count int) {
	for i := 0; i < count; i++ {
		back := c.mru.Back()
		if back == nil {
			return
		}
		ent := back.Value.(*entry[K, V])
		delete(c.items, ent.key)
		c.mru.Remove(back)
		if c.hasHot && c.hot.key == ent.key {
			c.clearHot()
		}
		if c.onEvict != nil {
			c.onEvict(ent.key, ent.value)
		}
		if c.onAgedOut != nil {
			c.onAgedOut(ent.key, ent.value)
		}
	}
}

func (c *Cache[K, V]) setHot(ent *entry[K, V]) {
	c.hot = ent
	c.hasHot = true
}

func (c *Cache[K, V]) clearHot() {
	c.hot = nil
	c.hasHot = false
}
