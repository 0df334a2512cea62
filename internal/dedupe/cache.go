// ABOUTME: TTL cache of conversations already known to have an index summary
// ABOUTME: Lets the registrar skip the session index read for repeat registrations

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Key identifies one conversation registration
type Key struct {
	OwnerID        string
	ConversationID string
}

type cacheEntry struct {
	marked  time.Time
	element *list.Element
}

// Cache remembers registrations for a bounded time and size.
// A hit means the summary was written or observed recently; a miss means
// nothing and the caller must consult the index.
type Cache struct {
	mu      sync.Mutex
	seen    map[Key]*cacheEntry
	order   *list.List // keys in mark order, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and capacity.
// A background goroutine sweeps expired entries until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[Key]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen reports whether key was marked within the TTL. Nil caches never hit.
func (c *Cache) Seen(key Key) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	if c.now().Sub(entry.marked) >= c.ttl {
		c.removeLocked(key, entry)
		return false
	}
	return true
}

// Mark records key as registered, evicting the oldest entry when full.
func (c *Cache) Mark(key Key) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok {
		entry.marked = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(Key)
			c.removeLocked(oldest, c.seen[oldest])
		}
	}

	c.seen[key] = &cacheEntry{
		marked:  now,
		element: c.order.PushBack(key),
	}
}

// Len returns the number of entries, expired or not. Nil caches are empty.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) removeLocked(key Key, entry *cacheEntry) {
	if entry == nil {
		return
	}
	c.order.Remove(entry.element)
	delete(c.seen, key)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

// expire drops every entry older than the TTL. Entries are in mark order,
// so the walk stops at the first live one.
func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(Key)
		entry := c.seen[key]
		if now.Sub(entry.marked) < c.ttl {
			return
		}
		next := e.Next()
		c.removeLocked(key, entry)
		e = next
	}
}

// Close stops the sweeper. It is safe to call multiple times and on nil.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
