package statehub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// defaultLoadFailureMessage is the user-facing text of a failed load.
const defaultLoadFailureMessage = "Something Went Wrong!"

// ErrSuperseded is returned by [Loader.Load] when a newer Load started
// before this one finished. The older result is discarded.
var ErrSuperseded = errors.New("load superseded by a newer request")

// LoadState is the phase of a load cycle.
type LoadState int

const (
	// LoadIdle means no load has been requested yet.
	LoadIdle LoadState = iota

	// LoadFetching means a load is in flight.
	LoadFetching

	// LoadSucceeded means the last load delivered data.
	LoadSucceeded

	// LoadFailed means the last load failed. Data from an earlier success,
	// if any, is kept.
	LoadFailed
)

// String returns the state name.
func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case LoadFetching:
		return "fetching"
	case LoadSucceeded:
		return "succeeded"
	case LoadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s LoadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LoadStatus is an observable snapshot of a [Loader].
type LoadStatus[V any] struct {
	State     LoadState `json:"state"`
	Fetching  bool      `json:"fetching"`
	Data      V         `json:"-"`
	HasData   bool      `json:"has_data"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Loader runs the Idle → Fetching → Succeeded|Failed cycle shared by every
// "load X" operation.
//
// Starting a load sets Fetching. Success stores the data and clears the
// error. Failure stores the error message and leaves earlier data
// untouched. The only way out of Succeeded or Failed is a new [Loader.Load].
//
// If Load is called while another load is in flight, the older one is
// cancelled and its result discarded; the latest request wins.
//
// Status listeners are called synchronously and in order. They may call
// [Loader.Status] but must not call [Loader.Load] or [Loader.Subscribe] on
// the same loader from inside the callback.
type Loader[V any] struct {
	fetch      func(ctx context.Context) (V, error)
	name       string
	failureMsg string
	logger     *slog.Logger
	metrics    *Metrics

	// commit, if set, runs with the data of a winning load before listeners
	// hear about the new status.
	commit func(V)

	// pubMu orders transitions and their delivery; mu guards status.
	pubMu     sync.Mutex
	mu        sync.Mutex
	status    LoadStatus[V]
	gen       uint64
	cancel    context.CancelFunc
	listeners *registry[LoadStatus[V]]
}

// NewLoader creates an idle [Loader] that loads with fetch.
//
// Use [FailureMessage] to set the error text recorded on failure.
func NewLoader[V any](fetch func(ctx context.Context) (V, error), opts ...CoreOption) *Loader[V] {
	cfg := newCoreConfig(opts)
	return &Loader[V]{
		fetch:      fetch,
		name:       cfg.name,
		failureMsg: cfg.failureMessage(defaultLoadFailureMessage),
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		listeners:  newRegistry[LoadStatus[V]]("loader:"+cfg.name, cfg.logger),
	}
}

// Status returns the current status.
func (l *Loader[V]) Status() LoadStatus[V] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Subscribe registers fn and calls it immediately with the current status.
//
// The caller must release the returned [Subscription].
func (l *Loader[V]) Subscribe(fn func(LoadStatus[V])) *Subscription {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	li := l.listeners.add(fn)
	l.listeners.invoke(li, l.Status())
	return li.sub
}

// Listeners returns the number of active subscriptions.
func (l *Loader[V]) Listeners() int {
	return l.listeners.len()
}

// Load runs one load cycle and returns its data.
//
// On failure the returned error is an [*Error] carrying the configured
// failure message. If a newer Load starts first, Load returns
// [ErrSuperseded].
func (l *Loader[V]) Load(ctx context.Context) (V, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var gen uint64
	l.transition(func(st *LoadStatus[V]) bool {
		if l.cancel != nil {
			l.cancel()
		}
		l.gen++
		gen = l.gen
		l.cancel = cancel

		st.State = LoadFetching
		st.Fetching = true
		st.UpdatedAt = time.Now()
		return true
	})

	val, err := l.fetch(ctx)

	if !l.settle(gen, val, err) {
		var zero V
		return zero, ErrSuperseded
	}

	l.metrics.load(l.name, err == nil)
	if err != nil {
		l.logger.Warn("load failed", "collection", l.name, "error", err)

		kind := KindOf(err)
		if kind == 0 {
			kind = KindNetwork
		}
		var zero V
		return zero, &Error{Kind: kind, Op: "load", Collection: l.name, Msg: l.failureMsg, Err: err}
	}

	l.logger.Debug("load succeeded", "collection", l.name)
	return val, nil
}

// transition applies fn to the status and, if fn reports a change,
// delivers the new status to listeners.
func (l *Loader[V]) transition(fn func(*LoadStatus[V]) bool) bool {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	changed := fn(&l.status)
	st := l.status
	l.mu.Unlock()

	if changed {
		l.listeners.deliver(st)
	}
	return changed
}

// settle records the outcome of load generation gen. It reports false if a
// newer load has started since.
func (l *Loader[V]) settle(gen uint64, val V, err error) bool {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return false
	}
	l.cancel = nil
	l.status.Fetching = false
	l.status.UpdatedAt = time.Now()
	if err != nil {
		l.status.State = LoadFailed
		l.status.Error = l.failureMsg
	} else {
		l.status.State = LoadSucceeded
		l.status.Data = val
		l.status.HasData = true
		l.status.Error = ""
	}
	st := l.status
	l.mu.Unlock()

	if err == nil && l.commit != nil {
		l.commit(val)
	}
	l.listeners.deliver(st)
	return true
}
