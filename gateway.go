package statehub

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// defaultFailureMessage is the user-facing text of a failed mutation.
const defaultFailureMessage = "Something went wrong!"

// Op is the kind of change an optimistic mutation makes.
type Op int

const (
	// OpAdd adds an entity unless one with the same ID is present.
	OpAdd Op = iota + 1

	// OpRemove removes the entity with the given ID if present.
	OpRemove
)

// String returns the operation name used in logs, metrics and errors.
func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Mutator confirms optimistic mutations against the backend.
type Mutator[T Entity] interface {
	// Put asks the backend to add item to the collection.
	Put(ctx context.Context, item T) error

	// Delete asks the backend to remove the entity with the given ID.
	Delete(ctx context.Context, id string) error
}

// Gateway applies optimistic mutations to a [Store].
//
// A mutation is applied locally first, so listeners see it before the
// backend has answered. If the confirming request fails, the whole
// pre-mutation snapshot is restored and the caller receives an [*Error] of
// kind [KindMutationFailed].
//
// Mutations through one Gateway are serialized: a second mutation waits
// until the first has been confirmed or rolled back. This keeps a rollback
// from overwriting a concurrent mutation's successful update.
type Gateway[T Entity] struct {
	store      *Store[T]
	remote     Mutator[T]
	sem        *semaphore.Weighted
	name       string
	failureMsg string
	label      string
	logger     *slog.Logger
	metrics    *Metrics
	notifier   *Channel[Notification]
}

// NewGateway creates a [Gateway] that mutates store and confirms through
// remote.
//
// With [NotifyOn], successful mutations publish a [Notification] such as
// "Ada added!", or "User Ada added!" when [ItemLabel] is set.
func NewGateway[T Entity](store *Store[T], remote Mutator[T], opts ...CoreOption) *Gateway[T] {
	cfg := newCoreConfig(opts)
	if cfg.name == "" {
		cfg.name = store.Name()
	}
	return &Gateway[T]{
		store:      store,
		remote:     remote,
		sem:        semaphore.NewWeighted(1),
		name:       cfg.name,
		failureMsg: cfg.failureMessage(defaultFailureMessage),
		label:      cfg.itemLabel,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		notifier:   cfg.notifier,
	}
}

// Add optimistically adds item. See [Gateway.Apply].
func (g *Gateway[T]) Add(ctx context.Context, item T) error {
	return g.Apply(ctx, item, OpAdd)
}

// Remove optimistically removes item. See [Gateway.Apply].
func (g *Gateway[T]) Remove(ctx context.Context, item T) error {
	return g.Apply(ctx, item, OpRemove)
}

// Apply performs an optimistic mutation and waits for its confirmation.
//
// If the mutation would not change the snapshot (adding an entity that is
// already present, or removing one that is absent), no request is sent and
// Apply returns nil immediately.
func (g *Gateway[T]) Apply(ctx context.Context, item T, op Op) error {
	return <-g.ApplyAsync(ctx, item, op)
}

// ApplyAsync applies the local part of a mutation and confirms it in the
// background.
//
// When ApplyAsync returns, the optimistic snapshot is already current in
// the store. The returned channel yields exactly one value: nil on success
// or an [*Error] once the rollback has been applied.
//
// ApplyAsync blocks while another mutation through the same Gateway is in
// flight. If ctx ends while waiting, nothing is changed and the channel
// yields an error.
func (g *Gateway[T]) ApplyAsync(ctx context.Context, item T, op Op) <-chan error {
	result := make(chan error, 1)
	id := item.EntityID()

	if op != OpAdd && op != OpRemove {
		result <- &Error{Kind: KindInvalid, Op: op.String(), Collection: g.name, ID: id}
		return result
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		result <- &Error{Kind: KindMutationFailed, Op: op.String(), Collection: g.name, ID: id, Err: err}
		return result
	}

	prev, changed := g.store.Update(func(cur Snapshot[T]) (Snapshot[T], bool) {
		if op == OpAdd {
			return cur.With(item)
		}
		return cur.Without(id)
	})
	if !changed {
		g.sem.Release(1)
		g.metrics.mutation(g.name, op, "noop")
		g.logger.Debug("mutation skipped, snapshot unchanged",
			"collection", g.name, "op", op.String(), "id", id)
		result <- nil
		return result
	}

	go func() {
		defer g.sem.Release(1)
		result <- g.confirm(ctx, item, op, prev)
	}()
	return result
}

// confirm sends the backend request and rolls back on failure.
func (g *Gateway[T]) confirm(ctx context.Context, item T, op Op, prev Snapshot[T]) error {
	id := item.EntityID()

	var err error
	switch op {
	case OpAdd:
		err = g.remote.Put(ctx, item)
	case OpRemove:
		err = g.remote.Delete(ctx, id)
	}

	if err != nil {
		g.store.Replace(prev)
		g.metrics.mutation(g.name, op, "failed")
		g.metrics.rollback(g.name)
		g.logger.Warn("mutation failed, rolled back",
			"collection", g.name, "op", op.String(), "id", id, "error", err)

		if g.notifier != nil {
			n := NewNotification(g.name, g.failureMsg)
			n.Level = LevelError
			g.notifier.Publish(n)
		}
		return &Error{
			Kind:       KindMutationFailed,
			Op:         op.String(),
			Collection: g.name,
			ID:         id,
			Msg:        g.failureMsg,
			Err:        err,
		}
	}

	g.metrics.mutation(g.name, op, "ok")
	g.logger.Debug("mutation confirmed", "collection", g.name, "op", op.String(), "id", id)

	if g.notifier != nil {
		verb := "added"
		if op == OpRemove {
			verb = "removed"
		}
		subject := displayName(item)
		if g.label != "" {
			subject = g.label + " " + subject
		}
		g.notifier.Publish(NewNotification(g.name, fmt.Sprintf("%s %s!", subject, verb)))
	}
	return nil
}
