// Package cache provides the bounded, expiring response cache shared by all
// dispatch workers.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Options configures a TTLCache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Now overrides the clock (for testing).
	Now func() time.Time
}

type entry[V any] struct {
	key    string
	value  V
	expiry time.Time
}

// TTLCache is a fixed-capacity key/value store whose entries expire after a
// fixed TTL. When full, expired entries are swept first and then the
// oldest-inserted entry is evicted.
type TTLCache[V any] struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front = oldest insertion
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New creates a cache. A non-positive MaxEntries is treated as 1.
func New[V any](opts Options) *TTLCache[V] {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TTLCache[V]{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
	}
}

// Get returns the value for key. Expired entries are removed and reported as
// missing.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !c.now().Before(e.expiry) {
		c.removeElement(el)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with a fresh expiry.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiry = now.Add(c.ttl)
		c.order.MoveToBack(el)
		return
	}

	if len(c.items) >= c.maxEntries {
		c.sweep(now)
	}
	for len(c.items) >= c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}

	el := c.order.PushBack(&entry[V]{key: key, value: value, expiry: now.Add(c.ttl)})
	c.items[key] = el
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Prune removes expired entries and returns how many were dropped.
func (c *TTLCache[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweep(c.now())
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// sweep must be called with the lock held.
func (c *TTLCache[V]) sweep(now time.Time) int {
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*entry[V]).expiry) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

func (c *TTLCache[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.order.Remove(el)
}
