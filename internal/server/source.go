package server

import (
	"context"
	"time"
)

// Event types carried on the SSE and WebSocket streams.
const (
	EventSnapshot     = "snapshot"
	EventStatus       = "status"
	EventNotification = "notification"
)

// Collection describes one collection for the API.
type Collection struct {
	Name      string    `json:"name"`
	ReadOnly  bool      `json:"read_only"`
	Count     int       `json:"count"`
	State     string    `json:"state"`
	Fetching  bool      `json:"fetching"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Items     any       `json:"items,omitempty"`
}

// Event is one message on a stream.
type Event struct {
	Type       string `json:"type"`
	Collection string `json:"collection,omitempty"`
	Data       any    `json:"data"`
}

// Source is the data the server mirrors.
//
// This is the server-side view of a statehub.Hub, decoupled from the root
// package to avoid an import cycle.
type Source interface {
	// Collections lists every collection without items.
	Collections() []Collection

	// Collection returns one collection including its items.
	Collection(name string) (Collection, bool)

	// Add optimistically adds item to the named collection and waits for
	// the backend to confirm or reject it.
	Add(ctx context.Context, name string, item map[string]any) error

	// Remove optimistically removes the entity with the given ID.
	Remove(ctx context.Context, name, id string) error

	// Lookup fetches a single entity from the backend.
	Lookup(ctx context.Context, name, id string) (any, error)

	// Refresh reloads the named collection. It fails if a refresh of the
	// same collection is already running.
	Refresh(ctx context.Context, name string) error

	// Watch calls fn with the current snapshot and status of every
	// collection, then with every change and notification, until the
	// returned release function is called. fn runs on the publishing
	// goroutine and must not block.
	Watch(fn func(Event)) (release func())
}
