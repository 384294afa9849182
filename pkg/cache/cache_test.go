package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(opts Options, hooks MetricsHooks) (*Cache[int], *clock) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := New[int]("test", opts, hooks)
	c.now = clk.Now
	return c, clk
}

func TestCacheGetHitMissStaleRefresh(t *testing.T) {
	var hits, misses, stales int32
	c, clk := newTestCache(Options{TTL: time.Minute, StaleWhileRevalidate: time.Minute}, MetricsHooks{
		OnHit:   func(string) { atomic.AddInt32(&hits, 1) },
		OnMiss:  func(string) { atomic.AddInt32(&misses, 1) },
		OnStale: func(string) { atomic.AddInt32(&stales, 1) },
	})

	var calls int32
	refreshed := make(chan struct{}, 1)
	loader := func(_ context.Context, _ string) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 2 {
			refreshed <- struct{}{}
		}
		return int(n), nil
	}

	val, err := c.Get(context.Background(), "alpha", loader)
	if err != nil || val != 1 {
		t.Fatalf("expected first load, got %d (%v)", val, err)
	}
	val, err = c.Get(context.Background(), "alpha", loader)
	if err != nil || val != 1 {
		t.Fatalf("expected cache hit, got %d (%v)", val, err)
	}

	clk.Advance(90 * time.Second)
	val, err = c.Get(context.Background(), "alpha", loader)
	if err != nil || val != 1 {
		t.Fatalf("expected stale value, got %d (%v)", val, err)
	}

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("expected background refresh")
	}
	deadline := time.Now().Add(time.Second)
	for {
		if v, ok := c.Peek("alpha"); ok && v == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected refreshed value to be stored")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if hits != 1 || misses != 1 || stales != 1 {
		t.Fatalf("unexpected hook counts hit=%d miss=%d stale=%d", hits, misses, stales)
	}
}

func TestCacheHardExpiryReloads(t *testing.T) {
	c, clk := newTestCache(Options{TTL: time.Second}, MetricsHooks{})
	n := 0
	loader := func(context.Context, string) (int, error) { n++; return n, nil }

	_, _ = c.Get(context.Background(), "k", loader)
	clk.Advance(2 * time.Second)
	val, err := c.Get(context.Background(), "k", loader)
	if err != nil || val != 2 {
		t.Fatalf("expected reload after expiry, got %d (%v)", val, err)
	}
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	c, _ := newTestCache(Options{TTL: time.Minute}, MetricsHooks{})
	boom := errors.New("boom")

	if _, err := c.Get(context.Background(), "k", func(context.Context, string) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("failed loads must not be cached")
	}
	val, err := c.Get(context.Background(), "k", func(context.Context, string) (int, error) { return 7, nil })
	if err != nil || val != 7 {
		t.Fatalf("expected fresh load, got %d (%v)", val, err)
	}
}

func TestCacheCollapsesConcurrentLoads(t *testing.T) {
	c, _ := newTestCache(Options{TTL: time.Minute}, MetricsHooks{})
	var calls int32
	release := make(chan struct{})
	loader := func(context.Context, string) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := c.Get(context.Background(), "k", loader); err != nil || v != 42 {
				t.Errorf("unexpected result %d (%v)", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected a single load, got %d", calls)
	}
}

func TestCacheEvictsOldestAndDeletes(t *testing.T) {
	c, _ := newTestCache(Options{TTL: time.Minute, MaxEntries: 2}, MetricsHooks{})
	for i, key := range []string{"a", "b", "c"} {
		v := i
		_, _ = c.Get(context.Background(), key, func(context.Context, string) (int, error) { return v, nil })
	}
	if _, ok := c.Peek("a"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	c.Delete("b")
	if _, ok := c.Peek("b"); ok {
		t.Fatal("expected b deleted")
	}
	if v, ok := c.Peek("c"); !ok || v != 2 {
		t.Fatalf("expected c to remain, got %d", v)
	}
}
