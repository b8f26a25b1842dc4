// Package lru implements a small, uint64-keyed LRU cache, used for the
// index-page cache, the data-block cache, and each data array's
// child-block cache.
package lru

import (
	"container/list"
	"sync"
)

// Cache is an LRU cache keyed by uint64, safe for concurrent access.
type Cache struct {
	maxEntries int

	mu    sync.Mutex
	ll    *list.List
	cache map[uint64]*list.Element
}

type entry struct {
	key   uint64
	value interface{}
}

// New returns a new cache holding at most maxEntries items.
func New(maxEntries int) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		ll:         list.New(),
		cache:      make(map[uint64]*list.Element),
	}
}

// Add adds key/value to the cache, evicting the least-recently-used entry
// if the cache is now over capacity.
func (c *Cache) Add(key uint64, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ee, ok := c.cache[key]; ok {
		c.ll.MoveToFront(ee)
		ee.Value.(*entry).value = value
		return
	}

	ele := c.ll.PushFront(&entry{key, value})
	c.cache[key] = ele

	if c.maxEntries > 0 && c.ll.Len() > c.maxEntries {
		c.removeOldest()
	}
}

// Get fetches key's value. ok is false on a miss.
func (c *Cache) Get(key uint64) (value interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, hit := c.cache[key]; hit {
		c.ll.MoveToFront(ele)
		return ele.Value.(*entry).value, true
	}
	return nil, false
}

// Remove evicts key if present.
func (c *Cache) Remove(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, hit := c.cache[key]; hit {
		c.removeElement(ele)
	}
}

// RemoveOldest evicts the least-recently-used entry, if any.
func (c *Cache) RemoveOldest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeOldest()
}

func (c *Cache) removeOldest() {
	ele := c.ll.Back()
	if ele != nil {
		c.removeElement(ele)
	}
}

func (c *Cache) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.cache, ele.Value.(*entry).key)
}

// Len returns the number of items currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
