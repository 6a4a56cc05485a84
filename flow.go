package statehub

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusy is returned by [Exclusive.Do] when a call is already running.
var ErrBusy = errors.New("operation already in progress")

// Exclusive runs at most one operation at a time and ignores calls that
// arrive while one is running, instead of queueing them.
//
// Use it to guard actions such as submits and manual refreshes, where a
// second click while the first is still working should be dropped.
//
// The zero value is ready to use.
type Exclusive struct {
	running atomic.Bool
}

// Do runs fn unless another call is in progress, in which case it returns
// [ErrBusy] without running fn.
func (e *Exclusive) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.running.Store(false)
	return fn(ctx)
}

// Running reports whether a call is in progress.
func (e *Exclusive) Running() bool {
	return e.running.Load()
}

// Retry calls fn up to attempts times, stopping at the first success.
//
// Retries are immediate, with no backoff. Retry gives up early if ctx ends
// or if fn returns an error of kind [KindNotFound] or [KindInvalid], which a
// retry cannot fix. The last error is returned.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if k := KindOf(err); k == KindNotFound || k == KindInvalid {
			return err
		}
	}
	return err
}

// Derive subscribes to store and calls fn with project applied to every
// snapshot the store delivers, starting with the current one.
//
// The caller must release the returned [Subscription].
func Derive[T Entity, U any](store *Store[T], project func(Snapshot[T]) U, fn func(U)) *Subscription {
	return store.Subscribe(func(s Snapshot[T]) {
		fn(project(s))
	})
}

// Stats is a summary of a snapshot.
type Stats struct {
	Count int      `json:"count"`
	Names []string `json:"names"`
}

// StatsOf summarizes s.
func StatsOf[T Entity](s Snapshot[T]) Stats {
	names := make([]string, 0, s.Len())
	for _, item := range s.items {
		names = append(names, displayName(item))
	}
	return Stats{Count: s.Len(), Names: names}
}
