package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "statehub"

	// maxRequestBodySize caps PUT bodies.
	maxRequestBodySize = 1 << 20
)

// Config configures a [Server].
type Config struct {
	// Port is the TCP port to listen on.
	Port int

	// Title is reported by GET /api/collections. Defaults to "statehub".
	Title string

	// Gatherer is served at /metrics. If nil, /metrics is not mounted.
	Gatherer prometheus.Gatherer

	// StatusOf maps an error returned by the [Source] to an HTTP status.
	// If nil, every error maps to 500.
	StatusOf func(error) int

	// Logger receives server events. Defaults to [slog.Default].
	Logger *slog.Logger
}

// Server handles HTTP requests for the mirror API.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	src        Source
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	router     chi.Router
	ws         *wsHub
}

// NewServer creates a new HTTP [Server] over src.
//
// The server is not started until [Server.Start] is called.
func NewServer(src Source, cfg Config) *Server {
	if cfg.Title == "" {
		cfg.Title = defaultTitle
	}
	if cfg.StatusOf == nil {
		cfg.StatusOf = func(error) int { return http.StatusInternalServerError }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		src:    src,
		cfg:    cfg,
		logger: logger,
	}
	s.ws = newWSHub(src, logger)
	s.router = s.routes()
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/collections", s.handleCollections)
		r.Route("/collections/{name}", func(r chi.Router) {
			r.Get("/", s.handleCollection)
			r.Post("/refresh", s.handleRefresh)
			r.Put("/items", s.handleAdd)
			r.Get("/items/{id}", s.handleLookup)
			r.Delete("/items/{id}", s.handleRemove)
		})
		r.Get("/sse", s.handleSSE)
		r.Get("/ws", s.ws.ServeHTTP)
	})

	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it closes WebSocket clients and initiates a
// graceful shutdown.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so streaming handlers end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.ws.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}
