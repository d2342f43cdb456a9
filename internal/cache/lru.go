package cache

import (
	"container/list"
	"sync"
	"time"

	"budgetwatch/internal/core"
)

// Key addresses one read model of one period.
type Key struct {
	Period core.Period
	View   string
}

// LRUCache keeps at most capacity read models. Entries older than ttl are
// treated as misses, and a period's entries can be dropped together.
type LRUCache[T any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[Key]*list.Element
	byPeriod map[core.Period]map[Key]struct{}
	recency  *list.List // front is most recently used
	now      func() time.Time
}

type entry[T any] struct {
	key      Key
	value    T
	storedAt time.Time
}

func NewLRUCache[T any](capacity int, ttl time.Duration) *LRUCache[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache[T]{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[Key]*list.Element),
		byPeriod: make(map[core.Period]map[Key]struct{}),
		recency:  list.New(),
		now:      time.Now,
	}
}

func (c *LRUCache[T]) Get(key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[T])
	if c.stale(e) {
		c.drop(el)
		return zero, false
	}
	c.recency.MoveToFront(el)
	return e.value, true
}

func (c *LRUCache[T]) Set(key Key, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[T]{key: key, value: value, storedAt: c.now()}
	if el, ok := c.entries[key]; ok {
		el.Value = e
		c.recency.MoveToFront(el)
		return
	}

	c.entries[key] = c.recency.PushFront(e)
	keys := c.byPeriod[key.Period]
	if keys == nil {
		keys = make(map[Key]struct{})
		c.byPeriod[key.Period] = keys
	}
	keys[key] = struct{}{}

	for len(c.entries) > c.capacity {
		c.drop(c.recency.Back())
	}
}

func (c *LRUCache[T]) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.drop(el)
	}
}

// InvalidatePeriod removes every view cached for period.
func (c *LRUCache[T]) InvalidatePeriod(period core.Period) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byPeriod[period]
	n := len(keys)
	for key := range keys {
		c.drop(c.entries[key])
	}
	return n
}

// CleanExpired walks from the least recently used end and removes stale entries.
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.recency.Back(); el != nil; {
		prev := el.Prev()
		if c.stale(el.Value.(*entry[T])) {
			c.drop(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *LRUCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRUCache[T]) stale(e *entry[T]) bool {
	return c.now().Sub(e.storedAt) > c.ttl
}

func (c *LRUCache[T]) drop(el *list.Element) {
	e := c.recency.Remove(el).(*entry[T])
	delete(c.entries, e.key)
	if keys := c.byPeriod[e.key.Period]; keys != nil {
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(c.byPeriod, e.key.Period)
		}
	}
}

var _ Cache[int] = (*LRUCache[int])(nil)
