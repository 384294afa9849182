package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	MaxEntries           int
}

// MetricsHooks are optional; each receives the cache name.
type MetricsHooks struct {
	OnHit   func(name string)
	OnMiss  func(name string)
	OnStale func(name string)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	staleAt   time.Time
}

// Cache is a TTL cache with stale-while-revalidate and per-key load
// collapsing. Failed loads are never stored.
type Cache[V any] struct {
	name    string
	mu      sync.RWMutex
	items   map[string]*entry[V]
	order   []string
	opts    Options
	metrics MetricsHooks
	sf      singleflight.Group
	now     func() time.Time
}

type Loader[V any] func(ctx context.Context, key string) (V, error)

func New[V any](name string, opts Options, hooks MetricsHooks) *Cache[V] {
	return &Cache[V]{
		name:    name,
		items:   make(map[string]*entry[V]),
		opts:    opts,
		metrics: hooks,
		now:     time.Now,
	}
}

// Get returns the cached value for key, loading it on a miss. A stale entry
// is returned immediately while one background refresh runs.
func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok {
		if now.Before(e.expiresAt) {
			c.hook(c.metrics.OnHit)
			return e.value, nil
		}
		if now.Before(e.staleAt) {
			c.hook(c.metrics.OnStale)
			refreshCtx := context.WithoutCancel(ctx)
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (any, error) {
					if val, err := loader(refreshCtx, key); err == nil {
						c.store(key, val)
					}
					return nil, nil
				})
			}()
			return e.value, nil
		}
		c.Delete(key)
	}

	c.hook(c.metrics.OnMiss)
	result, err, _ := c.sf.Do(key, func() (any, error) {
		val, loadErr := loader(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}
		c.store(key, val)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

func (c *Cache[V]) store(key string, val V) {
	now := c.now()
	e := &entry[V]{value: val, expiresAt: now.Add(c.opts.TTL)}
	e.staleAt = e.expiresAt.Add(c.opts.StaleWhileRevalidate)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
}

func (c *Cache[V]) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	// FIFO
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

// Peek returns a cached value without triggering a load. Stale entries count.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || c.now().After(e.staleAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[V]) hook(fn func(string)) {
	if fn != nil {
		fn(c.name)
	}
}
