// Package http exposes the analysis engine over a local, read-only REST
// surface: one POST endpoint per operation, each replying with the
// uniform result envelope, plus health and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/config"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/provider"
)

// Server serves the analysis API.
type Server struct {
	router    *mux.Router
	server    *http.Server
	config    config.ServerConfig
	engineCfg config.EngineConfig
	metrics   *MetricsRegistry
	health    *HealthHandler

	version    string
	buildStamp string
	client     *provider.Client
}

// ServerOption customizes server construction.
type ServerOption func(*Server)

// WithVersion stamps health responses with build information.
func WithVersion(version, buildStamp string) ServerOption {
	return func(s *Server) {
		s.version = version
		s.buildStamp = buildStamp
	}
}

// WithProvider attaches a market data client so health reports its
// breaker and limiter state and its cache feeds the metrics registry.
func WithProvider(client *provider.Client) ServerOption {
	return func(s *Server) { s.client = client }
}

// WithEngineDefaults supplies fallback engine settings for requests that
// omit alignment, source quorum, worker count, or move threshold.
func WithEngineDefaults(cfg config.EngineConfig) ServerOption {
	return func(s *Server) { s.engineCfg = cfg }
}

// NewServer creates an HTTP server bound to the configured address. The
// port is probed up front so a busy port fails fast instead of at Start.
func NewServer(cfg config.ServerConfig, opts ...ServerOption) (*Server, error) {
	addr := cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	server := &Server{
		router:  mux.NewRouter(),
		config:  cfg,
		metrics: NewMetricsRegistry(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(server)
	}

	server.health = NewHealthHandler(server.client, server.version, server.buildStamp)
	if server.client != nil {
		server.client.SetMetricsCallback(server.metrics.ProviderCallback())
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
	}

	return server, nil
}

// Metrics exposes the server's metrics registry.
func (s *Server) Metrics() *MetricsRegistry {
	return s.metrics
}

// Handler returns the fully routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.Handle("/health", s.health).Methods("GET")

	// Preflight OPTIONS must match a route for the CORS middleware to run.
	v1 := api.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/detect", s.runOperation("detect", s.detectOperation)).Methods("POST", "OPTIONS")
	v1.HandleFunc("/frequency", s.runOperation("frequency", s.frequencyOperation)).Methods("POST", "OPTIONS")
	v1.HandleFunc("/combine", s.runOperation("combine", s.combineOperation)).Methods("POST", "OPTIONS")
	v1.HandleFunc("/filter", s.runOperation("filter", s.filterOperation)).Methods("POST", "OPTIONS")
	v1.HandleFunc("/quality", s.runOperation("quality", s.qualityOperation)).Methods("POST", "OPTIONS")
	v1.HandleFunc("/falsesignals", s.runOperation("falsesignals", s.falseSignalsOperation)).Methods("POST", "OPTIONS")
	v1.HandleFunc("/optimize", s.runOperation("optimize", s.optimizeOperation)).Methods("POST", "OPTIONS")

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// requestIDMiddleware adds a unique request ID to each request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs every request with its resolved status.
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("Request handled")
	})
}

// timeoutMiddleware bounds request handling by the write timeout so a
// long optimization sweep cannot outlive its response window.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.GetWriteTimeout())
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for local development. Only localhost
// origins are reflected.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets the JSON content type for API responses.
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := errors.New("no such endpoint: " + r.Method + " " + r.URL.Path)
	s.writeEnvelope(w, http.StatusNotFound, engine.WrapErr("request", err))
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.GetAddress()).
		Msg("Starting HTTP server (local-only, read-only)")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the configured listen address.
func (s *Server) GetAddress() string {
	return s.config.Addr()
}

// responseWrapper captures HTTP status codes for logging.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}
