package ttlcache

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGetSetExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New[string, int](time.Minute, WithClock[string, int](clock.Now))

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected 1, got %d %v", v, ok)
	}
	clock.Advance(59 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Error("entry should still be live")
	}
	clock.Advance(time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("entry should have expired")
	}
}

func TestUpdateKeepsExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New[string, int](time.Minute, WithClock[string, int](clock.Now))

	incr := func(cur int, ok bool) (int, bool) {
		if !ok {
			return 1, true
		}
		return cur + 1, true
	}
	c.Update("k", incr)
	clock.Advance(30 * time.Second)
	if got := c.Update("k", incr); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	clock.Advance(30 * time.Second)
	if got := c.Update("k", incr); got != 1 {
		t.Errorf("expected window reset to 1, got %d", got)
	}
}

func TestEvict(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New[int, string](time.Second, WithClock[int, string](clock.Now))
	c.Set(1, "a")
	c.SetWithTTL(2, "b", time.Hour)
	clock.Advance(2 * time.Second)
	if n := c.Evict(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
}

func TestStartStop(t *testing.T) {
	c := New[int, int](time.Millisecond)
	c.Start(context.Background(), time.Millisecond)
	c.Start(context.Background(), time.Millisecond)
	c.Set(1, 1)

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Error("janitor did not evict expired entry")
	}
	c.Stop()
	c.Stop()
}
