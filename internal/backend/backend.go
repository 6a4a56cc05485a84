// Package backend is an in-memory JSON API for places and users, used by
// tests and by "statehub mockserver" as a stand-in for a real backend.
//
// Routes:
//
//	GET    /places                 {"places": [...]}
//	GET    /places/{id}            single place
//	GET    /user-places            {"places": [...]}
//	PUT    /user-places            body {"placeId": "p1"}
//	DELETE /user-places/{id}
//	GET    /users[?name_like=term] bare array
//	GET    /users/{id}             single user
package backend

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Option configures a [Backend].
type Option func(*Backend)

// WithLatency delays every response by d.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency.Store(int64(d)) }
}

// WithFailingMutations makes every PUT and DELETE answer 500.
func WithFailingMutations() Option {
	return func(b *Backend) { b.failMutations.Store(true) }
}

// WithLogger sets the request logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// WithUserPlaces seeds the saved places.
func WithUserPlaces(ids ...string) Option {
	return func(b *Backend) { b.userPlaces = append([]string(nil), ids...) }
}

// Backend serves the fake API. It is safe for concurrent use, and its fault
// settings can be changed while it serves.
type Backend struct {
	logger        *slog.Logger
	latency       atomic.Int64
	failMutations atomic.Bool

	mu         sync.Mutex
	places     []Place
	userPlaces []string
	users      []User
	hits       map[string]int
}

// New creates a [Backend] seeded with [DefaultPlaces] and [DefaultUsers].
func New(opts ...Option) *Backend {
	b := &Backend{
		logger:     slog.Default(),
		places:     DefaultPlaces(),
		userPlaces: []string{},
		users:      DefaultUsers(),
		hits:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetLatency changes the injected latency.
func (b *Backend) SetLatency(d time.Duration) {
	b.latency.Store(int64(d))
}

// SetFailMutations turns injected mutation failures on or off.
func (b *Backend) SetFailMutations(fail bool) {
	b.failMutations.Store(fail)
}

// Hits returns how many requests reached "METHOD /path".
func (b *Backend) Hits(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[method+" "+path]
}

// UserPlaceIDs returns the IDs of the saved places.
func (b *Backend) UserPlaceIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.userPlaces)
}

// Handler returns the API router.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(b.count)
	r.Use(b.delay)

	r.Get("/places", b.listPlaces)
	r.Get("/places/{id}", b.getPlace)

	r.Route("/user-places", func(r chi.Router) {
		r.Get("/", b.listUserPlaces)
		r.With(b.faults).Put("/", b.addUserPlace)
		r.With(b.faults).Delete("/{id}", b.removeUserPlace)
	})

	r.Get("/users", b.listUsers)
	r.Get("/users/{id}", b.getUser)
	return r
}

func (b *Backend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[r.Method+" "+r.URL.Path]++
		b.mu.Unlock()
		b.logger.Debug("backend request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// delay sleeps for the injected latency, giving up if the client leaves.
func (b *Backend) delay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := time.Duration(b.latency.Load()); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.failMutations.Load() {
			b.writeError(w, http.StatusInternalServerError, "simulated failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) listPlaces(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	places := slices.Clone(b.places)
	b.mu.Unlock()
	b.writeJSON(w, http.StatusOK, map[string][]Place{"places": places})
}

func (b *Backend) getPlace(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	p, ok := b.placeLocked(chi.URLParam(r, "id"))
	b.mu.Unlock()
	if !ok {
		b.writeError(w, http.StatusNotFound, "place not found")
		return
	}
	b.writeJSON(w, http.StatusOK, p)
}

func (b *Backend) listUserPlaces(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeJSON(w, http.StatusOK, map[string][]Place{"places": b.userPlacesLocked()})
}

func (b *Backend) addUserPlace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlaceID string `json:"placeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PlaceID == "" {
		b.writeError(w, http.StatusBadRequest, "placeId is required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.placeLocked(body.PlaceID); !ok {
		b.writeError(w, http.StatusNotFound, "place not found")
		return
	}
	if !slices.Contains(b.userPlaces, body.PlaceID) {
		b.userPlaces = append(b.userPlaces, body.PlaceID)
	}
	b.writeJSON(w, http.StatusOK, map[string][]Place{"userPlaces": b.userPlacesLocked()})
}

func (b *Backend) removeUserPlace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.userPlaces = slices.DeleteFunc(b.userPlaces, func(s string) bool { return s == id })
	b.writeJSON(w, http.StatusOK, map[string][]Place{"userPlaces": b.userPlacesLocked()})
}

func (b *Backend) listUsers(w http.ResponseWriter, r *http.Request) {
	term := strings.ToLower(r.URL.Query().Get("name_like"))

	b.mu.Lock()
	users := make([]User, 0, len(b.users))
	for _, u := range b.users {
		if term == "" || strings.Contains(strings.ToLower(u.Name), term) {
			users = append(users, u)
		}
	}
	b.mu.Unlock()
	b.writeJSON(w, http.StatusOK, users)
}

func (b *Backend) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		b.writeError(w, http.StatusNotFound, "user not found")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.ID == id {
			b.writeJSON(w, http.StatusOK, u)
			return
		}
	}
	b.writeError(w, http.StatusNotFound, "user not found")
}

func (b *Backend) placeLocked(id string) (Place, bool) {
	for _, p := range b.places {
		if p.ID == id {
			return p, true
		}
	}
	return Place{}, false
}

func (b *Backend) userPlacesLocked() []Place {
	out := make([]Place, 0, len(b.userPlaces))
	for _, id := range b.userPlaces {
		if p, ok := b.placeLocked(id); ok {
			out = append(out, p)
		}
	}
	return out
}

func (b *Backend) writeError(w http.ResponseWriter, status int, msg string) {
	b.writeJSON(w, status, map[string]string{"message": msg})
}

func (b *Backend) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.logger.Error("failed to encode response", "error", err)
	}
}
