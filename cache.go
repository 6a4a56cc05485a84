package statehub

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FetchFunc loads the value for a cache key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache memoizes a fetch so that every caller for a key shares one request.
//
// The first [Cache.Fetch] for an unseen key starts exactly one fetch. Every
// other call for that key, whether it arrives while the fetch is in flight
// or long after it completed, receives the same outcome without a new
// request. Failures are remembered just like successes.
//
// Entries never expire. Use [Cache.Invalidate] or [Cache.Purge] to force a
// fresh fetch; the cache lives exactly as long as the value holding it.
type Cache[K comparable, V any] struct {
	fetch   FetchFunc[K, V]
	timeout time.Duration
	name    string
	metrics *Metrics

	mu      sync.Mutex
	entries map[K]*cacheEntry[V]
}

// cacheEntry is a replayable completion. done is closed once val and err
// are final.
type cacheEntry[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// NewCache creates a [Cache] backed by fetch.
//
// The fetch runs detached from the cancellation of whichever caller
// triggered it, so one impatient caller cannot poison the shared result.
// timeout bounds the detached fetch; zero means no limit.
func NewCache[K comparable, V any](fetch FetchFunc[K, V], timeout time.Duration, opts ...CoreOption) *Cache[K, V] {
	cfg := newCoreConfig(opts)
	return &Cache[K, V]{
		fetch:   fetch,
		timeout: timeout,
		name:    cfg.name,
		metrics: cfg.metrics,
		entries: make(map[K]*cacheEntry[V]),
	}
}

// Fetch returns the cached outcome for key, starting the fetch if this is
// the first request for it.
//
// If ctx ends before the outcome is known, Fetch returns ctx's error; the
// shared fetch keeps running for the other callers.
func (c *Cache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	e := c.entry(ctx, key)

	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// entry returns the entry for key, creating it and starting the fetch on
// first use.
func (c *Cache[K, V]) entry(ctx context.Context, key K) *cacheEntry[V] {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		c.metrics.cacheRequest(c.name, true)
		return e
	}
	e := &cacheEntry[V]{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	c.metrics.cacheRequest(c.name, false)

	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(e.done)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.timeout)
			defer cancel()
		}
		e.val, e.err = c.safeFetch(fetchCtx, key)
	}()
	return e
}

// safeFetch turns a panicking fetch into a cached error instead of leaving
// every waiter blocked.
func (c *Cache[K, V]) safeFetch(ctx context.Context, key K) (val V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache fetch panic: %v", r)
		}
	}()
	return c.fetch(ctx, key)
}

// Invalidate drops the entry for key. Callers already waiting on it still
// receive its outcome; the next Fetch starts a new request.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	c.entries = make(map[K]*cacheEntry[V])
	c.mu.Unlock()
}

// Len returns the number of keys that are cached or in flight.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
