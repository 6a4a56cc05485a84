package statehub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/statehub/internal/backend"
)

// item is the entity used by most tests.
type item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (i item) EntityID() string { return i.ID }
func (i item) Name() string     { return i.Title }

// user mirrors the backend's user shape, with a numeric ID.
type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (u user) EntityID() string { return strconv.Itoa(u.ID) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errBackend = errors.New("backend unavailable")

// fakeRemote is an in-memory Remote whose calls can be blocked or failed.
type fakeRemote struct {
	mu       sync.Mutex
	items    []item
	listErr  error
	getErr   error
	putErr   error
	delErr   error
	putGate  chan struct{} // if set, Put waits for it to close
	listGate chan struct{}

	lists   atomic.Int32
	gets    atomic.Int32
	puts    atomic.Int32
	deletes atomic.Int32
}

func newFakeRemote(items ...item) *fakeRemote {
	return &fakeRemote{items: items}
}

func (f *fakeRemote) List(ctx context.Context) ([]item, error) {
	f.lists.Add(1)
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]item(nil), f.items...), nil
}

func (f *fakeRemote) Get(_ context.Context, id string) (item, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return item{}, f.getErr
	}
	for _, it := range f.items {
		if it.ID == id {
			return it, nil
		}
	}
	return item{}, &Error{Kind: KindNotFound, Op: "get", ID: id}
}

func (f *fakeRemote) Search(_ context.Context, term string) ([]item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []item
	for _, it := range f.items {
		if strings.Contains(strings.ToLower(it.Title), strings.ToLower(term)) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeRemote) Put(ctx context.Context, it item) error {
	f.puts.Add(1)
	if f.putGate != nil {
		select {
		case <-f.putGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.items = append(f.items, it)
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.deletes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	for i, it := range f.items {
		if it.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	return nil
}

// recorder collects values delivered to a listener.
type recorder[V any] struct {
	mu   sync.Mutex
	vals []V
}

func (r *recorder[V]) record(v V) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder[V]) values() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]V(nil), r.vals...)
}

func (r *recorder[V]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vals)
}

// newBackend starts the in-memory places/users API.
func newBackend(t *testing.T, opts ...backend.Option) (*backend.Backend, *httptest.Server) {
	t.Helper()
	b := backend.New(append([]backend.Option{backend.WithLogger(quietLogger())}, opts...)...)
	ts := httptest.NewServer(b.Handler())
	t.Cleanup(ts.Close)
	return b, ts
}

// counterValue sums the counter samples of name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m, reg
}

// waitUntil polls cond until it holds or a second passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// checkIDs reports an error if got differs from want.
func checkIDs(t *testing.T, what string, got []string, want ...string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("%s IDs = %v, want %v", what, got, want)
	}
}
