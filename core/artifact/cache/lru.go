// Package cache implements a capacity-bounded LRU with per-entry TTL.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// NoExpiry marks an entry that only leaves the cache through eviction or Delete.
const NoExpiry time.Duration = -1

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time // zero => never
}

// Cache is safe for concurrent use. Put on a full cache scans for expired
// entries before evicting a live one; everything else is O(1).
type Cache[V any] struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time
	items      map[string]*list.Element
	order      *list.List // front is most recently used
}

// New builds a cache holding at most capacity entries. A Put with ttl 0 uses
// defaultTTL; a non-positive defaultTTL means such entries never expire.
func New[V any](capacity int, defaultTTL time.Duration, opts ...Option) *Cache[V] {
	if capacity < 1 {
		capacity = 1
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        o.now,
		items:      make(map[string]*list.Element, capacity),
		order:      list.New(),
	}
}

// Get returns the value for key. Expired entries are dropped on read.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[V])
	if c.expired(ent) {
		c.removeElement(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// Put inserts or replaces key, promoting it to most recently used.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt := c.expiry(ttl)
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[V])
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		c.dropExpired()
	}
	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
	}
	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len counts stored entries, including expired ones not yet read.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

func (c *Cache[V]) expiry(ttl time.Duration) time.Time {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *Cache[V]) expired(ent *entry[V]) bool {
	return !ent.expiresAt.IsZero() && !c.now().Before(ent.expiresAt)
}

// dropExpired frees slots held by expired entries so capacity pressure never
// pushes out a live entry ahead of a dead one.
func (c *Cache[V]) dropExpired() {
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[V])) {
			c.removeElement(el)
		}
		el = prev
	}
}

func (c *Cache[V]) removeElement(el *list.Element) {
	ent := c.order.Remove(el).(*entry[V])
	delete(c.items, ent.key)
}
