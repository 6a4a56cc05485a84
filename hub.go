package statehub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/statehub/internal/refresh"
	"github.com/jpalmerr/statehub/internal/server"
)

const (
	defaultPort           = 8080
	defaultMaxConcurrency = 4
	notificationsChannel  = "notifications"
)

// Hub owns a set of collections configured from [CollectionSpec] values, a
// shared notification channel, metrics, a refresh scheduler and the mirror
// server.
//
// Hub is created using [New] with functional options and started with
// [Hub.Start]:
//
//	hub, err := statehub.New(statehub.WithCollection(spec))
//	if err != nil {
//	    slog.Error("failed to create hub", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	hub.Start(ctx) // blocks until context cancelled
//
// Collections are usable before Start: callers may subscribe, load and mutate
// them directly through [Hub.Collection].
type Hub struct {
	title           string
	port            int
	refreshInterval time.Duration
	maxConcurrency  int
	logger          *slog.Logger
	registry        *prometheus.Registry
	metrics         *Metrics
	notifications   *Channel[Notification]
	notifyCallbacks []func(Notification)

	order       []string
	specs       map[string]CollectionSpec
	collections map[string]*Collection[Record]
	remotes     map[string]*HTTPRemote[Record]
	refreshing  map[string]*Exclusive
}

// New creates a new [Hub] with the given options.
//
// At least one collection must be configured via [WithCollection]. Other
// options have sensible defaults:
//   - Port: 8080
//   - Refresh interval: 0 (no periodic refresh)
//   - Max concurrency: 4
//
// Returns an error if no collections are configured, names are duplicated, a
// collection URL is invalid, or any option is invalid.
func New(opts ...Option) (*Hub, error) {
	cfg := &hubConfig{
		port:           defaultPort,
		maxConcurrency: defaultMaxConcurrency,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.collections) == 0 {
		return nil, errors.New("at least one collection is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := cfg.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	h := &Hub{
		title:           cfg.title,
		port:            cfg.port,
		refreshInterval: cfg.refreshInterval,
		maxConcurrency:  cfg.maxConcurrency,
		logger:          logger,
		registry:        reg,
		metrics:         metrics,
		notifyCallbacks: cfg.notifyCallbacks,
		specs:           make(map[string]CollectionSpec, len(cfg.collections)),
		collections:     make(map[string]*Collection[Record], len(cfg.collections)),
		remotes:         make(map[string]*HTTPRemote[Record], len(cfg.collections)),
		refreshing:      make(map[string]*Exclusive, len(cfg.collections)),
	}
	h.notifications = NewChannel[Notification](Named(notificationsChannel), Logger(logger), Instrumented(metrics))

	for _, spec := range cfg.collections {
		if _, dup := h.specs[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate collection name: %q", spec.Name)
		}
		remote, err := NewHTTPRemote[Record](spec.URL, remoteOptions(spec)...)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", spec.Name, err)
		}

		h.order = append(h.order, spec.Name)
		h.specs[spec.Name] = spec
		h.remotes[spec.Name] = remote
		h.refreshing[spec.Name] = &Exclusive{}
		h.collections[spec.Name] = NewCollection[Record](spec.Name, remote,
			Logger(logger),
			Instrumented(metrics),
			NotifyOn(h.notifications),
			FailureMessage(spec.FailureMessage),
			ItemLabel(spec.ItemLabel),
		)
	}

	return h, nil
}

func remoteOptions(spec CollectionSpec) []HTTPOption {
	opts := []HTTPOption{
		WithRemoteName(spec.Name),
		WithEnvelope(spec.Envelope),
	}
	if spec.BodyField != "" {
		opts = append(opts, WithBodyField(spec.BodyField))
	}
	if spec.Timeout > 0 {
		opts = append(opts, WithTimeout(spec.Timeout))
	}
	for k, v := range spec.Headers {
		opts = append(opts, WithHeaders(k, v))
	}
	return opts
}

// Start loads every collection, starts periodic refreshing and serves the
// mirror server.
//
// Start is a blocking call that runs until the provided context is
// cancelled. On return every subscription Start created has been released
// and the remotes' idle connections are closed.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start.
func (h *Hub) Start(ctx context.Context) error {
	h.logger.Info("statehub starting", "collection_count", len(h.order))
	h.logger.Info("mirror server available", "url", fmt.Sprintf("http://localhost:%d", h.port))

	if ctx.Err() != nil {
		return nil
	}
	defer h.closeRemotes()

	subs := &Group{}
	defer subs.Close()
	for _, cb := range h.notifyCallbacks {
		subs.Add(h.notifications.Subscribe(cb))
	}

	h.LoadAll(ctx)

	scheduler := refresh.NewScheduler(h.refreshTargets(), h.refreshInterval, h.maxConcurrency, h.logger)
	scheduler.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range scheduler.Results() {
			attrs := []any{
				"collection", result.Name,
				"duration_ms", result.Duration.Milliseconds(),
			}
			if result.Err != nil {
				h.logger.Warn("refresh completed with error", append(attrs, "error", result.Err.Error())...)
			} else {
				h.logger.Debug("refresh completed", attrs...)
			}
		}
	}()

	cleanup := func() {
		scheduler.Stop()
		wg.Wait()
	}

	srv := server.NewServer(hubSource{h}, server.Config{
		Port:     h.port,
		Title:    h.title,
		Gatherer: h.registry,
		StatusOf: HTTPStatus,
		Logger:   h.logger,
	})
	if err := srv.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	cleanup()
	h.logger.Info("statehub stopped")
	return nil
}

// LoadAll loads every collection concurrently, at most maxConcurrency at a
// time. Failures are recorded in each collection's load status and logged.
func (h *Hub) LoadAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.maxConcurrency)
	for _, name := range h.order {
		c := h.collections[name]
		g.Go(func() error {
			if _, err := c.Load(gctx); err != nil && !errors.Is(err, ErrSuperseded) {
				h.logger.Warn("initial load failed", "collection", c.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// refreshTargets returns a scheduler target per collection with refreshing
// enabled.
func (h *Hub) refreshTargets() []refresh.Target {
	var targets []refresh.Target
	for _, name := range h.order {
		interval := h.specs[name].RefreshInterval
		if interval == 0 {
			interval = h.refreshInterval
		}
		if interval <= 0 {
			continue
		}
		targets = append(targets, refresh.Target{
			Name:     name,
			Interval: interval,
			Run: func(ctx context.Context) error {
				err := h.Refresh(ctx, name)
				if errors.Is(err, ErrBusy) {
					return nil
				}
				return err
			},
		})
	}
	return targets
}

// Refresh reloads the named collection and invalidates its cache. A refresh
// already running for the same collection makes this call return [ErrBusy]
// immediately.
func (h *Hub) Refresh(ctx context.Context, name string) error {
	c, ok := h.collections[name]
	if !ok {
		return unknownCollection("refresh", name)
	}
	return h.refreshing[name].Do(ctx, func(ctx context.Context) error {
		if _, err := c.Load(ctx); err != nil {
			return err
		}
		c.InvalidateCache()
		return nil
	})
}

func (h *Hub) closeRemotes() {
	for _, r := range h.remotes {
		r.Close()
	}
}

// Collection returns the named collection.
func (h *Hub) Collection(name string) (*Collection[Record], bool) {
	c, ok := h.collections[name]
	return c, ok
}

// Collections returns every collection in configuration order.
func (h *Hub) Collections() []*Collection[Record] {
	out := make([]*Collection[Record], len(h.order))
	for i, name := range h.order {
		out[i] = h.collections[name]
	}
	return out
}

// Notifications returns the channel every collection publishes mutation
// outcomes on.
func (h *Hub) Notifications() *Channel[Notification] {
	return h.notifications
}

// Registry returns the Prometheus registry statehub metrics live in.
func (h *Hub) Registry() *prometheus.Registry {
	return h.registry
}

// Port returns the configured HTTP port for the mirror server.
func (h *Hub) Port() int {
	return h.port
}

// RefreshInterval returns the default interval between collection reloads.
func (h *Hub) RefreshInterval() time.Duration {
	return h.refreshInterval
}

func unknownCollection(op, name string) error {
	return &Error{
		Kind:       KindNotFound,
		Op:         op,
		Collection: name,
		Msg:        fmt.Sprintf("collection %q not found", name),
	}
}

// hubSource exposes a Hub to the mirror server.
type hubSource struct {
	h *Hub
}

func (s hubSource) Collections() []server.Collection {
	out := make([]server.Collection, 0, len(s.h.order))
	for _, name := range s.h.order {
		out = append(out, s.view(name, false))
	}
	return out
}

func (s hubSource) Collection(name string) (server.Collection, bool) {
	if _, ok := s.h.collections[name]; !ok {
		return server.Collection{}, false
	}
	return s.view(name, true), true
}

func (s hubSource) view(name string, withItems bool) server.Collection {
	c := s.h.collections[name]
	status := c.Loader().Status()
	snap := c.Snapshot()

	v := server.Collection{
		Name:      name,
		ReadOnly:  s.h.specs[name].ReadOnly,
		Count:     snap.Len(),
		State:     status.State.String(),
		Fetching:  status.Fetching,
		Error:     status.Error,
		UpdatedAt: status.UpdatedAt,
	}
	if withItems {
		v.Items = snap.Items()
	}
	return v
}

func (s hubSource) mutable(op, name string) (*Collection[Record], error) {
	c, ok := s.h.collections[name]
	if !ok {
		return nil, unknownCollection(op, name)
	}
	if s.h.specs[name].ReadOnly {
		return nil, &Error{
			Kind:       KindInvalid,
			Op:         op,
			Collection: name,
			Msg:        fmt.Sprintf("collection %q is read-only", name),
		}
	}
	return c, nil
}

func (s hubSource) Add(ctx context.Context, name string, item map[string]any) error {
	c, err := s.mutable("add", name)
	if err != nil {
		return err
	}
	rec := Record(item)
	if rec.EntityID() == "" {
		return &Error{Kind: KindInvalid, Op: "add", Collection: name, Msg: "item must have an id"}
	}
	// the mutation outlives a client that disconnects mid-request
	return c.Add(context.WithoutCancel(ctx), rec)
}

func (s hubSource) Remove(ctx context.Context, name, id string) error {
	c, err := s.mutable("remove", name)
	if err != nil {
		return err
	}
	return c.RemoveID(context.WithoutCancel(ctx), id)
}

func (s hubSource) Lookup(ctx context.Context, name, id string) (any, error) {
	c, ok := s.h.collections[name]
	if !ok {
		return nil, unknownCollection("lookup", name)
	}
	return c.Lookup(ctx, id)
}

func (s hubSource) Refresh(ctx context.Context, name string) error {
	return s.h.Refresh(ctx, name)
}

func (s hubSource) Watch(fn func(server.Event)) func() {
	g := &Group{}
	for _, name := range s.h.order {
		c := s.h.collections[name]
		g.Add(
			c.Subscribe(func(snap Snapshot[Record]) {
				fn(server.Event{Type: server.EventSnapshot, Collection: name, Data: snap.Items()})
			}),
			c.Loader().Subscribe(func(st LoadStatus[[]Record]) {
				fn(server.Event{Type: server.EventStatus, Collection: name, Data: st})
			}),
		)
	}
	g.Add(s.h.notifications.Subscribe(func(n Notification) {
		fn(server.Event{Type: server.EventNotification, Collection: n.Collection, Data: n})
	}))
	return g.Close
}
