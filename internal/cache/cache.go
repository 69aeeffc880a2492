// Package cache is a TTL key/value store with single-flight request
// coalescing. It sits between the fetch orchestrator and the rate-limited
// external providers: a fresh hit never touches the provider, and under
// concurrent misses exactly one fetch runs per key.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Default TTLs per dataset kind.
const (
	TTLHistory      = 5 * time.Minute
	TTLQuote        = 1 * time.Minute
	TTLFundamentals = 15 * time.Minute
	TTLHoldings     = 2 * time.Minute
	TTLEarnings     = 6 * time.Hour
)

// Key builds a composite cache key from a dataset kind, symbol and
// parameters, e.g. Key("history", "AAPL", "1y", "1d").
func Key(dataset, symbol string, params ...string) string {
	parts := append([]string{dataset, symbol}, params...)
	return strings.Join(parts, ":")
}

// entry is immutable once stored; a refresh inserts a new entry.
type entry[V any] struct {
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

func (e *entry[V]) fresh(now time.Time) bool {
	return now.Sub(e.insertedAt) <= e.ttl
}

// inflight tracks one outstanding fetch that concurrent callers wait on.
type inflight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Cache is a string-keyed TTL cache. The zero value is not usable; create
// one with New.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	calls   map[string]*inflight[V]
	now     func() time.Time
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]*entry[V]),
		calls:   make(map[string]*inflight[V]),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached value when fresh, otherwise runs fetch and
// stores its result. Concurrent callers for the same stale key share a
// single fetch execution and its outcome. A failed fetch is not stored; the
// next caller retries independently.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.fresh(c.now()) {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		// Lazy eviction: replace at access time, no background sweep needed
		// for correctness.
		delete(c.entries, key)
	}

	if call, ok := c.calls[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.val, call.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	call := &inflight[V]{done: make(chan struct{})}
	c.calls[key] = call
	c.mu.Unlock()

	call.val, call.err = fetch(ctx)

	c.mu.Lock()
	delete(c.calls, key)
	if call.err == nil {
		c.entries[key] = &entry[V]{value: call.val, insertedAt: c.now(), ttl: ttl}
	}
	c.mu.Unlock()
	close(call.done)

	return call.val, call.err
}

// ForceRefresh runs fetch regardless of entry freshness. On success the
// entry is replaced. On failure a still-resident entry is served instead,
// with stale=true so the caller can log the degraded read; the error is
// returned only when there is nothing to fall back to.
func (c *Cache[V]) ForceRefresh(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (v V, stale bool, err error) {
	v, err = fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.entries[key] = &entry[V]{value: v, insertedAt: c.now(), ttl: ttl}
		return v, false, nil
	}
	if e, ok := c.entries[key]; ok {
		return e.value, true, nil
	}
	var zero V
	return zero, false, err
}

// Get returns the cached value if present and fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.fresh(c.now()) {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Invalidate forces the next access for key to miss.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix drops every entry whose key starts with prefix.
func (c *Cache[V]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper launches a background goroutine that drops expired entries
// every interval. Purely a memory bound; correctness relies on lazy
// eviction alone. Stops when ctx is done.
func (c *Cache[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !e.fresh(now) {
			delete(c.entries, k)
		}
	}
}
