// ABOUTME: Thread-safe TTL window for suppressing repeated work on the same key
// ABOUTME: Used by the read-receipt coordinator to skip positions already acknowledged

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type record[K comparable] struct {
	key     K
	expires time.Time
}

// Cache remembers keys for a fixed window. Capacity is bounded; when full the
// key marked longest ago is dropped first.
type Cache[K comparable] struct {
	mu       sync.Mutex
	index    map[K]*list.Element
	queue    *list.List // *record[K], oldest mark at the front
	ttl      time.Duration
	capacity int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache holding at most capacity keys for ttl each, and starts
// a sweeper that drops expired keys every sweep interval.
func New[K comparable](ttl time.Duration, capacity int, sweep time.Duration) *Cache[K] {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache[K]{
		index:    make(map[K]*list.Element),
		queue:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if sweep > 0 {
		go c.sweeper(sweep)
	}
	return c
}

// Seen reports whether key was marked within the window.
func (c *Cache[K]) Seen(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// CheckAndMark marks key and reports whether it was already live. The check
// and the mark happen under one lock.
func (c *Cache[K]) CheckAndMark(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key, refreshing its window if already present.
func (c *Cache[K]) Mark(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Forget removes key so the next CheckAndMark treats it as new.
func (c *Cache[K]) Forget(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.queue.Remove(el)
		delete(c.index, key)
	}
}

// Len returns the number of keys held, expired or not.
func (c *Cache[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache[K]) liveLocked(key K) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	return c.now().Before(el.Value.(*record[K]).expires)
}

func (c *Cache[K]) markLocked(key K) {
	expires := c.now().Add(c.ttl)

	if el, ok := c.index[key]; ok {
		el.Value.(*record[K]).expires = expires
		c.queue.MoveToBack(el)
		return
	}

	for len(c.index) >= c.capacity {
		oldest := c.queue.Front()
		if oldest == nil {
			break
		}
		c.queue.Remove(oldest)
		delete(c.index, oldest.Value.(*record[K]).key)
	}

	c.index[key] = c.queue.PushBack(&record[K]{key: key, expires: expires})
}

// Sweep drops expired keys. Marks move keys to the back of the queue and all
// keys share one ttl, so the expired ones are always at the front.
func (c *Cache[K]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.queue.Front(); el != nil; el = c.queue.Front() {
		rec := el.Value.(*record[K])
		if now.Before(rec.expires) {
			return
		}
		c.queue.Remove(el)
		delete(c.index, rec.key)
	}
}

func (c *Cache[K]) sweeper(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache[K]) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
