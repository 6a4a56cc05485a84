package statehub

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// coreConfig holds settings shared by the statehub primitives.
type coreConfig struct {
	name       string
	logger     *slog.Logger
	metrics    *Metrics
	notifier   *Channel[Notification]
	failureMsg string
	itemLabel  string
	attempts   int
}

func newCoreConfig(opts []CoreOption) coreConfig {
	cfg := coreConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

func (c coreConfig) failureMessage(fallback string) string {
	if c.failureMsg != "" {
		return c.failureMsg
	}
	return fallback
}

// CoreOption configures a [Store], [Channel], [Gateway], [Cache], [Loader]
// or [Collection]. Options that do not apply to a primitive are ignored by
// it.
type CoreOption func(*coreConfig)

// Named sets the collection or channel name used in logs, metrics and
// notifications.
func Named(name string) CoreOption {
	return func(c *coreConfig) { c.name = name }
}

// Logger sets the logger. Defaults to [slog.Default].
func Logger(logger *slog.Logger) CoreOption {
	return func(c *coreConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Instrumented records metrics into m. A nil m disables metrics.
func Instrumented(m *Metrics) CoreOption {
	return func(c *coreConfig) { c.metrics = m }
}

// NotifyOn publishes a [Notification] on ch after each confirmed or failed
// mutation.
func NotifyOn(ch *Channel[Notification]) CoreOption {
	return func(c *coreConfig) { c.notifier = ch }
}

// FailureMessage sets the user-facing message recorded when a load or
// mutation fails.
func FailureMessage(msg string) CoreOption {
	return func(c *coreConfig) { c.failureMsg = msg }
}

// ItemLabel sets the noun used in lookup errors, as in
// "User with ID 7 not found", and prefixed to mutation notifications, as in
// "User Ada added!". Lookups default to "Item".
func ItemLabel(label string) CoreOption {
	return func(c *coreConfig) { c.itemLabel = label }
}

// LookupAttempts sets how many times a lookup is tried before giving up.
// Retries are immediate. Defaults to 4 (one try plus three retries).
func LookupAttempts(n int) CoreOption {
	return func(c *coreConfig) { c.attempts = n }
}

// hubConfig holds mutable state during Hub construction.
type hubConfig struct {
	title           string
	collections     []CollectionSpec
	refreshInterval time.Duration
	port            int
	maxConcurrency  int
	logger          *slog.Logger
	registry        *prometheus.Registry
	notifyCallbacks []func(Notification)
}

// Option is a function that configures a [Hub] instance during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails.
type Option func(*hubConfig) error

// CollectionSpec describes one remote collection managed by a [Hub].
type CollectionSpec struct {
	// Name identifies the collection in the API, logs and metrics.
	Name string

	// URL is the collection endpoint, e.g. http://localhost:3000/user-places.
	URL string

	// Envelope is the JSON key wrapping the item array in list responses.
	// Empty means the response is a bare array.
	Envelope string

	// BodyField is the JSON key carrying the item ID in add requests.
	BodyField string

	// ItemLabel is the noun used in lookup errors and notifications.
	ItemLabel string

	// ReadOnly collections reject mutations.
	ReadOnly bool

	// Timeout is the per-request timeout. Zero uses the default.
	Timeout time.Duration

	// RefreshInterval reloads the collection periodically. Zero uses the
	// hub's refresh interval; a negative value disables refreshing.
	RefreshInterval time.Duration

	// FailureMessage is the user-facing text of failed loads and mutations.
	FailureMessage string

	// Headers are sent with every request to the collection.
	Headers map[string]string
}

// WithCollection adds a collection to the hub.
//
// Can be called multiple times. At least one collection must be configured
// for [New] to succeed.
//
// Example:
//
//	hub, err := statehub.New(
//	    statehub.WithCollection(statehub.CollectionSpec{
//	        Name:      "user-places",
//	        URL:       "http://localhost:3000/user-places",
//	        Envelope:  "places",
//	        BodyField: "placeId",
//	    }),
//	)
func WithCollection(spec CollectionSpec) Option {
	return func(cfg *hubConfig) error {
		if spec.Name == "" {
			return errors.New("collection name cannot be empty")
		}
		if spec.URL == "" {
			return fmt.Errorf("collection %q: url cannot be empty", spec.Name)
		}
		cfg.collections = append(cfg.collections, spec)
		return nil
	}
}

// WithRefreshInterval sets how often collections are reloaded from their
// backend. Defaults to 0, meaning collections are only loaded on start and
// on demand.
//
// Returns an error if the duration is negative.
func WithRefreshInterval(d time.Duration) Option {
	return func(cfg *hubConfig) error {
		if d < 0 {
			return errors.New("refresh interval cannot be negative")
		}
		cfg.refreshInterval = d
		return nil
	}
}

// WithPort sets the HTTP port for the mirror server.
//
// Defaults to 8080 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *hubConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency sets how many collections are refreshed at once.
//
// Defaults to 4. Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *hubConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the hub and every collection
// it creates.
//
// If not specified, [slog.Default] is used. Returns an error if the logger
// is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *hubConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithRegistry sets the Prometheus registry that statehub metrics are
// registered with and served from. If not specified, a private registry is
// created.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cfg *hubConfig) error {
		if reg == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithNotificationCallback registers a function called for every
// notification the hub publishes.
//
// Callbacks run synchronously on the publishing goroutine and must not
// block. Panics are recovered and logged. Nil callbacks are ignored.
func WithNotificationCallback(cb func(Notification)) Option {
	return func(cfg *hubConfig) error {
		if cb == nil {
			return nil
		}
		cfg.notifyCallbacks = append(cfg.notifyCallbacks, cb)
		return nil
	}
}

// WithTitle sets the hub title reported by the mirror server.
func WithTitle(title string) Option {
	return func(cfg *hubConfig) error {
		cfg.title = title
		return nil
	}
}
