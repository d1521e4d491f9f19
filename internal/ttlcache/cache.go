// Package ttlcache is a small in-process key/value cache whose entries
// expire after a fixed lifetime. A janitor goroutine started with Start
// evicts expired entries until Stop is called.
package ttlcache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]entry[V]
	ttl     time.Duration
	now     func() time.Time
	cancel  context.CancelFunc
	stopped chan struct{}
}

type Option[K comparable, V any] func(*Cache[K, V])

// WithClock overrides the time source.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) { c.now = now }
}

func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		items: make(map[K]entry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the cache's default lifetime.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Update applies fn to the current value (zero and false when absent or
// expired) and stores the result with a fresh lifetime when keep is true.
// The read and write happen under one lock.
func (c *Cache[K, V]) Update(key K, fn func(cur V, ok bool) (next V, keep bool)) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e, ok := c.items[key]
	if ok && !now.Before(e.expiresAt) {
		ok = false
	}
	next, keep := fn(e.value, ok)
	if keep {
		expires := e.expiresAt
		if !ok {
			expires = now.Add(c.ttl)
		}
		c.items[key] = entry[V]{value: next, expiresAt: expires}
	}
	return next
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len counts entries, including expired ones not yet evicted.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Evict removes expired entries and returns how many were removed.
func (c *Cache[K, V]) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Start runs the eviction janitor every interval until Stop or ctx ends.
// Calling Start twice is a no-op.
func (c *Cache[K, V]) Start(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.stopped = make(chan struct{})
	stopped := c.stopped
	c.mu.Unlock()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Evict()
			}
		}
	}()
}

// Stop halts the janitor and waits for it to exit.
func (c *Cache[K, V]) Stop() {
	c.mu.Lock()
	cancel, stopped := c.cancel, c.stopped
	c.cancel, c.stopped = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
