package statehub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel broadcasts transient messages to whoever is listening at the
// moment of publication.
//
// Unlike [Store], a Channel keeps nothing: listeners that subscribe after a
// publish never see it. Use it for toasts and other fire-and-forget events.
//
// Channel is safe for concurrent use. Publications are delivered
// synchronously and in the order they were published.
type Channel[M any] struct {
	mu        sync.Mutex
	listeners *registry[M]
	metrics   *Metrics
	name      string
}

// NewChannel creates an empty [Channel].
func NewChannel[M any](opts ...CoreOption) *Channel[M] {
	cfg := newCoreConfig(opts)
	return &Channel[M]{
		listeners: newRegistry[M]("channel:"+cfg.name, cfg.logger),
		metrics:   cfg.metrics,
		name:      cfg.name,
	}
}

// Publish delivers msg to every current listener and returns once all of
// them have been called.
func (c *Channel[M]) Publish(msg M) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.notificationPublished(c.name)
	c.listeners.deliver(msg)
}

// Subscribe registers fn for future publications.
//
// The caller must release the returned [Subscription].
func (c *Channel[M]) Subscribe(fn func(M)) *Subscription {
	return c.listeners.add(fn).sub
}

// Listeners returns the number of active subscriptions.
func (c *Channel[M]) Listeners() int {
	return c.listeners.len()
}

// Level is the severity of a [Notification].
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is an ephemeral, human-readable message about something that
// just happened, such as "User Ada added!".
type Notification struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection,omitempty"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// NewNotification creates an info-level [Notification] with a fresh ID.
func NewNotification(collection, message string) Notification {
	return Notification{
		ID:         uuid.NewString(),
		Collection: collection,
		Level:      LevelInfo,
		Message:    message,
		At:         time.Now(),
	}
}
