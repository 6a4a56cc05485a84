package statehub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// defaultLookupAttempts is one try plus three immediate retries.
const defaultLookupAttempts = 4

// cacheKey is the single key a collection caches its list under.
const cacheKey = "all"

// Collection binds one remote collection to a [Store], a [Gateway], a
// [Loader] and a [Cache].
//
// It is an explicitly constructed service object: create one per backend
// collection, pass it to whatever needs it, and let it live as long as the
// data it holds should. Nothing in statehub is a package-level singleton.
//
// The store is the source of truth for consumers. Loads replace it, the
// gateway mutates it optimistically, and the cache is a separate memoized
// copy of the first successful listing.
type Collection[T Entity] struct {
	name      string
	remote    Remote[T]
	store     *Store[T]
	gateway   *Gateway[T]
	loader    *Loader[[]T]
	cache     *Cache[string, Snapshot[T]]
	itemLabel string
	attempts  int
	logger    *slog.Logger
}

// NewCollection creates a [Collection] over remote, starting from an empty
// snapshot.
func NewCollection[T Entity](name string, remote Remote[T], opts ...CoreOption) *Collection[T] {
	opts = append([]CoreOption{Named(name)}, opts...)
	cfg := newCoreConfig(opts)

	c := &Collection[T]{
		name:      name,
		remote:    remote,
		itemLabel: cfg.itemLabel,
		attempts:  cfg.attempts,
		logger:    cfg.logger,
	}
	if c.itemLabel == "" {
		c.itemLabel = "Item"
	}
	if c.attempts <= 0 {
		c.attempts = defaultLookupAttempts
	}

	c.store = NewStore(Snapshot[T]{}, opts...)
	c.gateway = NewGateway(c.store, remote, opts...)
	c.loader = NewLoader(remote.List, opts...)
	c.loader.commit = func(items []T) {
		c.store.Replace(NewSnapshot(items...))
	}
	c.cache = NewCache(func(ctx context.Context, _ string) (Snapshot[T], error) {
		items, err := remote.List(ctx)
		if err != nil {
			return Snapshot[T]{}, err
		}
		return NewSnapshot(items...), nil
	}, 0, opts...)
	return c
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Store returns the collection's store.
func (c *Collection[T]) Store() *Store[T] {
	return c.store
}

// Gateway returns the collection's mutation gateway.
func (c *Collection[T]) Gateway() *Gateway[T] {
	return c.gateway
}

// Loader returns the collection's load-cycle state machine.
func (c *Collection[T]) Loader() *Loader[[]T] {
	return c.loader
}

// Snapshot returns the current snapshot.
func (c *Collection[T]) Snapshot() Snapshot[T] {
	return c.store.Current()
}

// Subscribe registers fn for the current snapshot and every replacement.
//
// The caller must release the returned [Subscription].
func (c *Collection[T]) Subscribe(fn func(Snapshot[T])) *Subscription {
	return c.store.Subscribe(fn)
}

// Load fetches the collection and replaces the store on success. On
// failure the store keeps its previous snapshot and the loader records the
// error.
func (c *Collection[T]) Load(ctx context.Context) (Snapshot[T], error) {
	items, err := c.loader.Load(ctx)
	if err != nil {
		return c.store.Current(), err
	}
	return NewSnapshot(items...), nil
}

// Refresh fetches the collection and replaces the store, falling back to an
// empty snapshot if the fetch fails. The failure is logged, not returned.
func (c *Collection[T]) Refresh(ctx context.Context) {
	items, err := c.remote.List(ctx)
	if err != nil {
		c.logger.Error("refresh failed, clearing collection", "collection", c.name, "error", err)
		c.store.Replace(Snapshot[T]{})
		return
	}
	c.logger.Debug("collection refreshed", "collection", c.name, "count", len(items))
	c.store.Replace(NewSnapshot(items...))
}

// Add optimistically adds item. See [Gateway.Apply].
func (c *Collection[T]) Add(ctx context.Context, item T) error {
	return c.gateway.Add(ctx, item)
}

// Remove optimistically removes item. See [Gateway.Apply].
func (c *Collection[T]) Remove(ctx context.Context, item T) error {
	return c.gateway.Remove(ctx, item)
}

// RemoveID optimistically removes the entity with the given ID. If it is not
// in the current snapshot nothing happens.
func (c *Collection[T]) RemoveID(ctx context.Context, id string) error {
	item, ok := c.store.Current().Find(id)
	if !ok {
		return nil
	}
	return c.gateway.Remove(ctx, item)
}

// Cached returns the memoized listing of the collection. Only the first call
// reaches the backend; see [Cache].
func (c *Collection[T]) Cached(ctx context.Context) (Snapshot[T], error) {
	return c.cache.Fetch(ctx, cacheKey)
}

// InvalidateCache makes the next [Collection.Cached] call fetch again.
func (c *Collection[T]) InvalidateCache() {
	c.cache.Invalidate(cacheKey)
}

// Lookup fetches a single entity from the backend, retrying immediately on
// failure. If every attempt fails, Lookup returns an [*Error] of kind
// [KindNotFound] reading "<label> with ID <id> not found".
func (c *Collection[T]) Lookup(ctx context.Context, id string) (T, error) {
	var item T
	err := Retry(ctx, c.attempts, func(ctx context.Context) error {
		var err error
		item, err = c.remote.Get(ctx, id)
		return err
	})
	if err != nil {
		c.logger.Warn("lookup failed", "collection", c.name, "id", id, "error", err)
		var zero T
		return zero, &Error{
			Kind:       KindNotFound,
			Op:         "lookup",
			Collection: c.name,
			ID:         id,
			Msg:        fmt.Sprintf("%s with ID %s not found", c.itemLabel, id),
			Err:        err,
		}
	}
	return item, nil
}

// Search returns the entities whose name matches term. A blank term returns
// an empty slice without a request.
func (c *Collection[T]) Search(ctx context.Context, term string) ([]T, error) {
	if strings.TrimSpace(term) == "" {
		return []T{}, nil
	}
	return c.remote.Search(ctx, term)
}

// NewSearcher returns a [Searcher] over this collection's search.
func (c *Collection[T]) NewSearcher(debounce time.Duration) *Searcher[T] {
	return NewSearcher(c.Search, debounce, Named(c.name+"-search"), Logger(c.logger))
}

// Active subscribes fn to the entities for which keep returns true,
// recomputed on every replacement.
//
// The caller must release the returned [Subscription].
func (c *Collection[T]) Active(keep func(T) bool, fn func(Snapshot[T])) *Subscription {
	return Derive(c.store, func(s Snapshot[T]) Snapshot[T] { return s.Filter(keep) }, fn)
}

// Stats subscribes fn to a running summary of the collection.
//
// The caller must release the returned [Subscription].
func (c *Collection[T]) Stats(fn func(Stats)) *Subscription {
	return Derive(c.store, StatsOf[T], fn)
}
