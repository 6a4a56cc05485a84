package statehub

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is the handle returned by every Subscribe call.
//
// Close releases the listener registration. After Close returns, the listener
// receives no further values, even if a publish or replace starts
// immediately afterwards. Close is idempotent and safe for concurrent use.
//
// Every Subscription must be released. Use [Subscription.CloseOn] or a
// [Group] to tie the release to a consumer's lifetime.
type Subscription struct {
	closed  atomic.Bool
	once    sync.Once
	done    chan struct{}
	release func()
}

func newSubscription(release func()) *Subscription {
	return &Subscription{
		done:    make(chan struct{}),
		release: release,
	}
}

// Close releases the subscription.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.closed.Store(true)
		if s.release != nil {
			s.release()
		}
		close(s.done)
	})
}

// Closed reports whether the subscription has been released.
func (s *Subscription) Closed() bool {
	return s == nil || s.closed.Load()
}

// Done returns a channel that is closed when the subscription is released.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// CloseOn releases the subscription when ctx is done.
//
// This is the scoped-acquisition form: the subscription lives exactly as long
// as ctx, whether ctx ends normally or is cancelled abruptly. The watcher
// goroutine exits as soon as either ctx ends or the subscription is closed
// by other means. CloseOn returns the receiver for chaining.
func (s *Subscription) CloseOn(ctx context.Context) *Subscription {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

// Group collects subscriptions that share a lifetime, such as everything a
// single SSE client or CLI command has registered.
//
// The zero value is ready to use.
type Group struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// Add registers subscriptions with the group. If the group is already
// closed the subscriptions are released immediately.
func (g *Group) Add(subs ...*Subscription) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		for _, s := range subs {
			s.Close()
		}
		return
	}
	g.subs = append(g.subs, subs...)
	g.mu.Unlock()
}

// Len returns the number of subscriptions held by the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Close releases every subscription in the group. Safe to call more than
// once.
func (g *Group) Close() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.closed = true
	g.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// listener is one registered callback.
type listener[V any] struct {
	fn  func(V)
	sub *Subscription
}

// registry holds listeners in subscription order and delivers values to
// them synchronously.
type registry[V any] struct {
	mu        sync.RWMutex
	listeners []*listener[V]
	logger    *slog.Logger
	source    string
}

func newRegistry[V any](source string, logger *slog.Logger) *registry[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &registry[V]{source: source, logger: logger}
}

// add registers fn and returns its listener.
func (r *registry[V]) add(fn func(V)) *listener[V] {
	l := &listener[V]{fn: fn}
	l.sub = newSubscription(func() { r.remove(l) })

	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
	return l
}

func (r *registry[V]) remove(target *listener[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range r.listeners {
		if l == target {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *registry[V]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// deliver calls every registered listener with v, in subscription order.
func (r *registry[V]) deliver(v V) {
	r.mu.RLock()
	targets := make([]*listener[V], len(r.listeners))
	copy(targets, r.listeners)
	r.mu.RUnlock()

	for _, l := range targets {
		r.invoke(l, v)
	}
}

// invoke calls a single listener with panic recovery.
// Panics are logged with a correlation ID but do not propagate, so one
// broken listener cannot starve the others.
func (r *registry[V]) invoke(l *listener[V], v V) {
	if l.sub.Closed() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked",
				"source", r.source,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
		}
	}()
	l.fn(v)
}
