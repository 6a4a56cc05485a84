package statehub

import (
	"sync"
	"sync/atomic"
)

// Store holds the authoritative [Snapshot] of one collection and broadcasts
// every replacement to its listeners.
//
// New listeners receive the current snapshot immediately, then each later
// replacement in the order the replacements were applied. Delivery is
// synchronous: [Store.Replace] returns after every listener has been called.
//
// Store is safe for concurrent use. Listeners may call [Store.Current] but
// must not call [Store.Replace] or [Store.Subscribe] on the same store from
// inside the callback; hand the value off to another goroutine instead.
//
// A Store cannot fail.
type Store[T Entity] struct {
	name    string
	current atomic.Pointer[Snapshot[T]]

	// mu serializes replacement and initial delivery so that every
	// listener observes the same order of snapshots.
	mu        sync.Mutex
	listeners *registry[Snapshot[T]]
}

// NewStore creates a [Store] whose current snapshot is initial.
func NewStore[T Entity](initial Snapshot[T], opts ...CoreOption) *Store[T] {
	cfg := newCoreConfig(opts)
	s := &Store[T]{
		name:      cfg.name,
		listeners: newRegistry[Snapshot[T]]("store:"+cfg.name, cfg.logger),
	}
	s.current.Store(&initial)
	return s
}

// Name returns the collection name the store was created with.
func (s *Store[T]) Name() string {
	return s.name
}

// Current returns the current snapshot.
func (s *Store[T]) Current() Snapshot[T] {
	return *s.current.Load()
}

// Replace atomically swaps in next and notifies every current listener.
func (s *Store[T]) Replace(next Snapshot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Store(&next)
	s.listeners.deliver(next)
}

// Update computes the next snapshot from the current one while holding the
// store's lock, so the read and the write cannot interleave with another
// Update or Replace.
//
// fn returns the candidate snapshot and whether it differs from the current
// one. When it reports no change, nothing is stored and no listener is
// notified. Update returns the snapshot seen by fn and whether it was
// replaced.
func (s *Store[T]) Update(fn func(Snapshot[T]) (Snapshot[T], bool)) (prev Snapshot[T], changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = *s.current.Load()
	var next Snapshot[T]
	next, changed = fn(prev)
	if !changed {
		return prev, false
	}
	s.current.Store(&next)
	s.listeners.deliver(next)
	return prev, true
}

// Subscribe registers fn and calls it immediately with the current snapshot.
//
// The caller must release the returned [Subscription].
func (s *Store[T]) Subscribe(fn func(Snapshot[T])) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.listeners.add(fn)
	s.listeners.invoke(l, *s.current.Load())
	return l.sub
}

// Listeners returns the number of active subscriptions.
func (s *Store[T]) Listeners() int {
	return s.listeners.len()
}
