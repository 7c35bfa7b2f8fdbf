// ABOUTME: TTL cache mapping idempotency keys to the message id they produced
// ABOUTME: Lets a retried send return the original message instead of a duplicate

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	value   string
	created time.Time
	element *list.Element
}

// Cache is a thread-safe, TTL-bounded, size-limited map from idempotency key
// to result id. Insertion order is kept in a list so eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background sweeper.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Lookup returns the id recorded for key if it has not expired.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		return "", false
	}
	return e.value, true
}

// Claim atomically records value under key unless a live entry exists.
// It returns the winning value and whether key was already claimed.
func (c *Cache) Claim(key, value string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if !c.expired(e) {
			return e.value, true
		}
		c.removeLocked(e)
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.removeLocked(front.Value.(*entry))
		}
	}

	e := &entry{key: key, value: value, created: c.now()}
	e.element = c.order.PushBack(e)
	c.entries[key] = e
	return value, false
}

// Forget drops key so the next Claim succeeds.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Len returns the number of entries, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e *entry) bool {
	return c.now().Sub(e.created) >= c.ttl
}

// removeLocked must be called with mu held.
func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired entries. Entries are in creation order, so it stops
// at the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if !c.expired(e) {
			return
		}
		c.removeLocked(e)
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
