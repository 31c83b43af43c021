// Package server implements the HTTP API of the semantic search service:
// authenticated search, admin-only source management and reindexing, and
// the health, readiness, and metrics endpoints.
// The server is started by the `semsearch serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/semsearch/internal/logging"
)

// New constructs a Server from the core components and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Search == nil {
		return nil, fmt.Errorf("server: search engine must not be nil")
	}
	if deps.Indexer == nil {
		return nil, fmt.Errorf("server: indexer must not be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("server: registry must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Admin reindex runs synchronously and is bounded by REINDEX_TIMEOUT.
		cfg.WriteTimeout = 6 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	rl := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)

	s := &Server{
		search:   deps.Search,
		indexer:  deps.Indexer,
		registry: deps.Registry,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	keys := authKeys{user: cfg.APIKey, admin: cfg.AdminKey}
	if keys.disabled() {
		log.Warn("server: authentication disabled, set SEMSEARCH_API_KEY and SEMSEARCH_ADMIN_KEY to enable")
	}

	// protect applies rate limiting and authentication to an API route.
	protect := func(role role, name string, h http.HandlerFunc) http.Handler {
		return rl.middleware(role, authMiddleware(keys, role, s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", protect(roleUser, "search", s.handleSearch))
	mux.Handle("GET /api/sources/{id}", protect(roleUser, "source", s.handleGetSource))
	mux.Handle("POST /api/admin/reindex", protect(roleAdmin, "reindex", s.handleReindex))
	mux.Handle("POST /api/admin/sources", protect(roleAdmin, "register_source", s.handleRegisterSource))
	mux.Handle("GET /api/admin/sources", protect(roleAdmin, "list_sources", s.handleListSources))
	mux.Handle("DELETE /api/admin/sources/{id}", protect(roleAdmin, "delete_source", s.handleDeleteSource))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root HTTP handler. Used by tests and embedders that
// run their own listener.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
