package statehub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/statehub/internal/backend"
	"github.com/jpalmerr/statehub/internal/server"
)

func placesSpec(baseURL string) CollectionSpec {
	return CollectionSpec{Name: "places", URL: baseURL + "/places", Envelope: "places", ReadOnly: true}
}

func userPlacesSpec(baseURL string) CollectionSpec {
	return CollectionSpec{Name: "user-places", URL: baseURL + "/user-places", Envelope: "places", BodyField: "placeId"}
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, *backend.Backend) {
	t.Helper()
	b, ts := newBackend(t)
	base := []Option{
		WithCollection(placesSpec(ts.URL)),
		WithCollection(userPlacesSpec(ts.URL)),
		WithLogger(quietLogger()),
	}
	h, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h, b
}

func TestNew_Valid(t *testing.T) {
	h, _ := newTestHub(t)

	if len(h.Collections()) != 2 {
		t.Fatalf("len(Collections()) = %d, want 2", len(h.Collections()))
	}
	if h.Collections()[0].Name() != "places" || h.Collections()[1].Name() != "user-places" {
		t.Errorf("Collections() not in configuration order")
	}
	if _, ok := h.Collection("user-places"); !ok {
		t.Error("Collection(user-places) not found")
	}
	if _, ok := h.Collection("nope"); ok {
		t.Error("Collection(nope) should not exist")
	}
}

func TestNew_NoCollections(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Error("New() expected error for no collections, got nil")
	}
}

func TestNew_DuplicateCollectionNames(t *testing.T) {
	_, err := New(
		WithCollection(CollectionSpec{Name: "users", URL: "http://a.example.com/users"}),
		WithCollection(CollectionSpec{Name: "users", URL: "http://b.example.com/users"}),
	)
	if err == nil || !strings.Contains(err.Error(), "duplicate collection name") {
		t.Errorf("New() error = %v, want error containing 'duplicate collection name'", err)
	}
}

func TestNew_InvalidCollectionURL(t *testing.T) {
	_, err := New(WithCollection(CollectionSpec{Name: "users", URL: "localhost:3000/users"}))
	if err == nil || !strings.Contains(err.Error(), `collection "users"`) {
		t.Errorf("New() error = %v, want error naming the collection", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	h, _ := newTestHub(t)

	if h.Port() != 8080 {
		t.Errorf("Port() = %d, want 8080", h.Port())
	}
	if h.RefreshInterval() != 0 {
		t.Errorf("RefreshInterval() = %v, want 0", h.RefreshInterval())
	}
	if h.maxConcurrency != 4 {
		t.Errorf("maxConcurrency = %d, want 4", h.maxConcurrency)
	}
	if h.Registry() == nil {
		t.Error("Registry() = nil, want private registry")
	}
}

func TestOptions_Invalid(t *testing.T) {
	valid := WithCollection(CollectionSpec{Name: "users", URL: "http://example.com/users"})

	tests := []struct {
		name string
		opt  Option
	}{
		{"port zero", WithPort(0)},
		{"port too high", WithPort(65536)},
		{"negative refresh", WithRefreshInterval(-time.Second)},
		{"zero concurrency", WithMaxConcurrency(0)},
		{"nil logger", WithLogger(nil)},
		{"nil registry", WithRegistry(nil)},
		{"empty collection name", WithCollection(CollectionSpec{URL: "http://example.com"})},
		{"empty collection url", WithCollection(CollectionSpec{Name: "x"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(valid, tt.opt); err == nil {
				t.Errorf("New() expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestOptions_Valid(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, _ := newTestHub(t,
		WithPort(65535),
		WithRefreshInterval(time.Minute),
		WithMaxConcurrency(2),
		WithTitle("Places"),
		WithRegistry(reg),
		WithNotificationCallback(nil),
	)

	if h.Port() != 65535 {
		t.Errorf("Port() = %d, want 65535", h.Port())
	}
	if h.RefreshInterval() != time.Minute {
		t.Errorf("RefreshInterval() = %v, want 1m", h.RefreshInterval())
	}
	if h.title != "Places" {
		t.Errorf("title = %q, want Places", h.title)
	}
	if h.Registry() != reg {
		t.Error("Registry() did not return the configured registry")
	}
	if len(h.notifyCallbacks) != 0 {
		t.Errorf("nil callback registered")
	}
}

func TestWithLogger_UsedByCollections(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	_, ts := newBackend(t, backend.WithFailingMutations())

	h, err := New(WithCollection(userPlacesSpec(ts.URL)), WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c, _ := h.Collection("user-places")
	_ = c.Add(context.Background(), Record{"id": "p1"})

	if !strings.Contains(buf.String(), "mutation failed, rolled back") {
		t.Errorf("custom logger not used, got: %s", buf.String())
	}
}

func TestHub_LoadAll(t *testing.T) {
	h, _ := newTestHub(t)

	h.LoadAll(context.Background())

	places, _ := h.Collection("places")
	if places.Snapshot().Len() != 6 {
		t.Errorf("places count = %d, want 6", places.Snapshot().Len())
	}
	userPlaces, _ := h.Collection("user-places")
	if st := userPlaces.Loader().Status().State; st != LoadSucceeded {
		t.Errorf("user-places state = %v, want succeeded", st)
	}
}

func TestHub_RefreshUnknownCollection(t *testing.T) {
	h, _ := newTestHub(t)

	err := h.Refresh(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Refresh() error = %v, want ErrNotFound", err)
	}
}

func TestHub_RefreshWhileRunningIsBusy(t *testing.T) {
	h, b := newTestHub(t)
	b.SetLatency(200 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- h.Refresh(context.Background(), "places")
	}()

	deadline := time.Now().Add(time.Second)
	for !h.refreshing["places"].Running() {
		if time.Now().After(deadline) {
			t.Fatal("refresh never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.Refresh(context.Background(), "places"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Refresh() error = %v, want ErrBusy", err)
	}
	if err := <-done; err != nil {
		t.Errorf("first Refresh() error = %v", err)
	}
	if got := b.Hits(http.MethodGet, "/places"); got != 1 {
		t.Errorf("backend hits = %d, want 1", got)
	}
}

func TestHub_RefreshInvalidatesCache(t *testing.T) {
	h, b := newTestHub(t)
	c, _ := h.Collection("places")

	if _, err := c.Cached(context.Background()); err != nil {
		t.Fatalf("Cached() error = %v", err)
	}
	if err := h.Refresh(context.Background(), "places"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := c.Cached(context.Background()); err != nil {
		t.Fatalf("Cached() error = %v", err)
	}

	// one cached fetch, one refresh, one fetch after invalidation
	if got := b.Hits(http.MethodGet, "/places"); got != 3 {
		t.Errorf("backend hits = %d, want 3", got)
	}
}

func TestHub_RefreshTargets(t *testing.T) {
	_, ts := newBackend(t)
	h, err := New(
		WithCollection(CollectionSpec{Name: "a", URL: ts.URL + "/places"}),
		WithCollection(CollectionSpec{Name: "b", URL: ts.URL + "/places", RefreshInterval: 5 * time.Second}),
		WithCollection(CollectionSpec{Name: "c", URL: ts.URL + "/places", RefreshInterval: -1}),
		WithRefreshInterval(time.Minute),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	targets := h.refreshTargets()
	if len(targets) != 2 {
		t.Fatalf("len(refreshTargets()) = %d, want 2", len(targets))
	}
	if targets[0].Name != "a" || targets[0].Interval != time.Minute {
		t.Errorf("targets[0] = %s/%v, want a/1m", targets[0].Name, targets[0].Interval)
	}
	if targets[1].Name != "b" || targets[1].Interval != 5*time.Second {
		t.Errorf("targets[1] = %s/%v, want b/5s", targets[1].Name, targets[1].Interval)
	}
}

func TestHubSource_Mutations(t *testing.T) {
	h, b := newTestHub(t)
	src := hubSource{h}
	ctx := context.Background()

	if err := src.Add(ctx, "places", map[string]any{"id": "p1"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("Add(read-only) error = %v, want ErrInvalid", err)
	}
	if err := src.Add(ctx, "user-places", map[string]any{"title": "no id"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("Add(no id) error = %v, want ErrInvalid", err)
	}
	if err := src.Add(ctx, "nope", map[string]any{"id": "p1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Add(unknown) error = %v, want ErrNotFound", err)
	}

	if err := src.Add(ctx, "user-places", map[string]any{"id": "p2", "title": "Sahara Desert Dunes"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := b.UserPlaceIDs(); len(got) != 1 || got[0] != "p2" {
		t.Errorf("backend user places = %v, want [p2]", got)
	}

	view, ok := src.Collection("user-places")
	if !ok || view.Count != 1 {
		t.Errorf("Collection(user-places) = %+v, want count 1", view)
	}

	if err := src.Remove(ctx, "user-places", "p2"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := b.UserPlaceIDs(); len(got) != 0 {
		t.Errorf("backend user places = %v, want empty", got)
	}
}

func TestHubSource_Lookup(t *testing.T) {
	h, _ := newTestHub(t)
	src := hubSource{h}

	got, err := src.Lookup(context.Background(), "places", "p3")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	rec, ok := got.(Record)
	if !ok || rec["title"] != "Himalayan Peaks" {
		t.Errorf("Lookup() = %v, want Himalayan Peaks", got)
	}

	_, err = src.Lookup(context.Background(), "places", "p99")
	if !errors.Is(err, ErrNotFound) || err.Error() != "Item with ID p99 not found" {
		t.Errorf("Lookup(p99) error = %v", err)
	}
}

func TestHubSource_WatchAndRelease(t *testing.T) {
	h, _ := newTestHub(t)
	src := hubSource{h}

	var mu sync.Mutex
	var events []server.Event
	release := src.Watch(func(e server.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	// one snapshot and one status per collection
	mu.Lock()
	initial := len(events)
	mu.Unlock()
	if initial != 4 {
		t.Errorf("initial events = %d, want 4", initial)
	}

	h.Notifications().Publish(NewNotification("user-places", "hello"))
	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	if last.Type != server.EventNotification {
		t.Errorf("last event type = %q, want notification", last.Type)
	}

	release()
	c, _ := h.Collection("places")
	if c.Store().Listeners() != 0 || c.Loader().Listeners() != 0 || h.Notifications().Listeners() != 0 {
		t.Error("Watch release left listeners registered")
	}
}

// waitForServer polls the mirror server until it answers.
func waitForServer(t *testing.T, port int) {
	t.Helper()
	url := fmt.Sprintf("http://localhost:%d/api/collections", port)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server on port %d did not come up", port)
}

func TestStart_BlocksUntilContextCancelled(t *testing.T) {
	h, _ := newTestHub(t, WithPort(19301))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.Start(ctx)
	}()

	waitForServer(t, 19301)

	select {
	case err := <-done:
		t.Fatalf("Start() returned early with error: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	h, _ := newTestHub(t, WithPort(19302))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.Start(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return for cancelled context")
	}
}

func TestStart_ServesLoadedCollections(t *testing.T) {
	h, _ := newTestHub(t, WithPort(19303))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Start(ctx) }()
	waitForServer(t, 19303)

	resp, err := http.Get("http://localhost:19303/api/collections/places")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var view struct {
		State string   `json:"state"`
		Count int      `json:"count"`
		Items []Record `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if view.State != "succeeded" || view.Count != 6 || len(view.Items) != 6 {
		t.Errorf("view = %+v, want 6 loaded places", view)
	}

	metrics, err := http.Get("http://localhost:19303/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	metrics.Body.Close()
	if metrics.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", metrics.StatusCode)
	}
}

func TestStart_InvokesNotificationCallbacks(t *testing.T) {
	var mu sync.Mutex
	var got []Notification
	h, _ := newTestHub(t, WithPort(19304), WithNotificationCallback(func(n Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	}), WithNotificationCallback(func(Notification) {
		panic("callback panic")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()
	waitForServer(t, 19304)

	c, _ := h.Collection("user-places")
	if err := c.Add(context.Background(), Record{"id": "p4", "title": "Caribbean Beach"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	mu.Lock()
	if len(got) != 1 || got[0].Message != "Caribbean Beach added!" {
		t.Errorf("callback notifications = %+v", got)
	}
	mu.Unlock()

	cancel()
	<-done
	if h.Notifications().Listeners() != 0 {
		t.Errorf("callbacks still subscribed after Start returned")
	}
}

func TestStart_PortInUse(t *testing.T) {
	h1, _ := newTestHub(t, WithPort(19305))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h1.Start(ctx) }()
	waitForServer(t, 19305)

	h2, _ := newTestHub(t, WithPort(19305))
	err := h2.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to start HTTP server") {
		t.Errorf("Start() error = %v, want bind failure", err)
	}
}
