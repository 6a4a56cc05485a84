package statehub

import "fmt"

// Entity is a domain record with a stable identity.
//
// Two entities are "the same" for presence checks when their EntityID values
// are equal. No other field takes part in identity.
type Entity interface {
	EntityID() string
}

// Snapshot is an immutable, ordered view of a collection.
//
// A Snapshot is never modified in place: [Snapshot.With], [Snapshot.Without]
// and [Snapshot.Filter] return new snapshots. This is what lets a [Store]
// hand the same value to many listeners without copying on every delivery.
//
// The zero value is an empty snapshot.
type Snapshot[T Entity] struct {
	items []T
}

// NewSnapshot creates a [Snapshot] holding a copy of items, in order.
func NewSnapshot[T Entity](items ...T) Snapshot[T] {
	return Snapshot[T]{items: append([]T(nil), items...)}
}

// Items returns a copy of the snapshot's entities.
//
// The returned slice is never nil, so it always encodes as a JSON array.
func (s Snapshot[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of entities in the snapshot.
func (s Snapshot[T]) Len() int {
	return len(s.items)
}

// Contains reports whether an entity with the given ID is present.
func (s Snapshot[T]) Contains(id string) bool {
	_, ok := s.Find(id)
	return ok
}

// Find returns the entity with the given ID.
func (s Snapshot[T]) Find(id string) (T, bool) {
	for _, item := range s.items {
		if item.EntityID() == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// With returns a snapshot with item appended.
//
// If an entity with the same ID is already present the receiver is returned
// unchanged and added is false.
func (s Snapshot[T]) With(item T) (next Snapshot[T], added bool) {
	if s.Contains(item.EntityID()) {
		return s, false
	}
	items := make([]T, len(s.items), len(s.items)+1)
	copy(items, s.items)
	return Snapshot[T]{items: append(items, item)}, true
}

// Without returns a snapshot with the entity of the given ID removed.
//
// If no such entity is present the receiver is returned unchanged and removed
// is false.
func (s Snapshot[T]) Without(id string) (next Snapshot[T], removed bool) {
	if !s.Contains(id) {
		return s, false
	}
	return s.Filter(func(item T) bool { return item.EntityID() != id }), true
}

// Filter returns a snapshot of the entities for which keep returns true.
func (s Snapshot[T]) Filter(keep func(T) bool) Snapshot[T] {
	items := make([]T, 0, len(s.items))
	for _, item := range s.items {
		if keep(item) {
			items = append(items, item)
		}
	}
	return Snapshot[T]{items: items}
}

// IDs returns the entity IDs in snapshot order.
func (s Snapshot[T]) IDs() []string {
	ids := make([]string, len(s.items))
	for i, item := range s.items {
		ids[i] = item.EntityID()
	}
	return ids
}

// Record is a schemaless JSON object used as the entity type for
// config-driven collections, where no Go type is known at compile time.
//
// The identity of a Record is its "id" field formatted with fmt.Sprint, so
// numeric and string IDs both work (1 and "1" compare equal).
type Record map[string]any

// EntityID implements [Entity].
func (r Record) EntityID() string {
	id, ok := r["id"]
	if !ok || id == nil {
		return ""
	}
	// JSON numbers decode as float64; print whole numbers without a fraction
	if f, ok := id.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprint(int64(f))
	}
	return fmt.Sprint(id)
}

// Name returns the record's display name, falling back to "title" and then
// to the ID.
func (r Record) Name() string {
	for _, key := range []string{"name", "title"} {
		if v, ok := r[key].(string); ok && v != "" {
			return v
		}
	}
	return r.EntityID()
}

// namer is implemented by entities that have a human-readable name.
type namer interface {
	Name() string
}

// displayName returns a label for an entity in notifications and logs.
func displayName[T Entity](item T) string {
	if n, ok := any(item).(namer); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return item.EntityID()
}
