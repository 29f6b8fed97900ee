// Package lru implements a capacity-bounded cache that populates itself on a
// miss through a caller-supplied retrieve function.
//
// A Cache is not safe for concurrent use. Two goroutines missing on the same
// key would both retrieve it and the later insert would drop the earlier
// value without releasing it. Callers must serialize all access, typically by
// confining a cache to a single goroutine or guarding it with their own lock.
package lru

import "container/list"

// Cache maps keys to values with least-recently-used eviction.
type Cache[K comparable, V any] struct {
	capacity int
	fast     bool // when set, hits do not refresh recency

	items map[K]*list.Element
	order *list.List // front is most recently used

	retrieve func(K) (V, error)
	onEvict  func(K, V)

	hits   uint64
	misses uint64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache holding at most capacity entries. retrieve is called
// to produce the value for a key that is not cached.
func New[K comparable, V any](capacity int, retrieve func(K) (V, error)) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: max(capacity, 1),
		items:    make(map[K]*list.Element),
		order:    list.New(),
		retrieve: retrieve,
	}
}

// SetOnEvict registers fn to run for every entry leaving the cache.
func (c *Cache[K, V]) SetOnEvict(fn func(K, V)) {
	c.onEvict = fn
}

// SetFast enables or disables fast mode. In fast mode a hit leaves the entry
// where it is, so eviction degrades to insertion order.
func (c *Cache[K, V]) SetFast(fast bool) {
	c.fast = fast
}

// Get returns the value for key, retrieving and inserting it on a miss. When
// the cache is full the least recently used entry is evicted before
// retrieval. A failed retrieval inserts nothing.
func (c *Cache[K, V]) Get(key K) (V, error) {
	if el, ok := c.items[key]; ok {
		c.hits++
		if !c.fast {
			c.order.MoveToFront(el)
		}
		return el.Value.(*entry[K, V]).value, nil
	}

	c.misses++
	if c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
	}

	value, err := c.retrieve(key)
	if err != nil {
		var zero V
		return zero, err
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	return value, nil
}

// Peek returns the cached value for key without retrieving or promoting it.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	if el, ok := c.items[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Evict removes key from the cache. It reports whether key was present.
func (c *Cache[K, V]) Evict(key K) bool {
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear evicts every entry.
func (c *Cache[K, V]) Clear() {
	for c.order.Len() > 0 {
		c.removeElement(c.order.Back())
	}
}

// SetCapacity changes the capacity. Shrinking evicts the oldest entries
// until the cache fits.
func (c *Cache[K, V]) SetCapacity(capacity int) {
	c.capacity = max(capacity, 1)
	for c.order.Len() > c.capacity {
		c.removeElement(c.order.Back())
	}
}

// Capacity returns the maximum number of entries.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return c.order.Len()
}

// Stats returns hit and miss counters.
func (c *Cache[K, V]) Stats() (hits, misses uint64) {
	return c.hits, c.misses
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}
