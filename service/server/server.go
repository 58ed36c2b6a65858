package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chipin/chipin/service/balance"
	"github.com/chipin/chipin/service/config"
	"github.com/chipin/chipin/service/db"
	"github.com/chipin/chipin/service/metrics"
	"github.com/chipin/chipin/service/temporal"
)

// Server represents the HTTP server for the transfer service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        *db.Store
	engine       *Engine
	balances     *balance.Resolver
	scheduler    temporal.Scheduler
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to maintain the uncertain-transfer sweep schedule.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, engine *Engine, balances *balance.Resolver, scheduler temporal.Scheduler, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		engine:       engine,
		balances:     balances,
		scheduler:    scheduler,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// The sweep schedule catches uncertain transfers whose reconcile
	// workflow never resolved them.
	if err := s.ensureSweepSchedule(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure sweep schedule: %w", err)
	}

	mux := http.NewServeMux()

	// Transfer routes
	mux.Handle("POST /api/v1/transfers", s.instrument("/api/v1/transfers", handleSubmitTransfer(s.engine, s.logger)))
	mux.Handle("GET /api/v1/transfers/{id}", s.instrument("/api/v1/transfers/{id}", handleGetTransfer(s.store, s.logger)))
	mux.Handle("GET /api/v1/transfers", s.instrument("/api/v1/transfers", handleListTransfers(s.store, s.logger)))

	// Balance and recipient routes
	mux.Handle("GET /api/v1/balances/{address}", s.instrument("/api/v1/balances/{address}", handleGetBalance(s.balances, s.logger)))
	mux.Handle("GET /api/v1/balances", s.instrument("/api/v1/balances", handleGetBalance(s.balances, s.logger)))
	mux.Handle("POST /api/v1/recipients/resolve", s.instrument("/api/v1/recipients/resolve", handleResolveRecipient(s.store, s.logger)))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/transfers/{user_id}", handleStreamTransfers(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/transfers", handleStreamTransfers(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// instrument wraps a handler with HTTP metrics when a collector is
// configured.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// ensureSweepSchedule creates or updates the periodic sweep that resolves
// uncertain transfers left behind by failed or interrupted reconciliations.
func (s *Server) ensureSweepSchedule(ctx context.Context) error {
	if s.scheduler == nil {
		s.logger.Warn("scheduler not configured, skipping sweep schedule")
		return nil
	}

	interval := s.cfg.ReconcileInterval
	if interval == 0 {
		interval = time.Minute
	}
	minAge := s.cfg.ReconcileMinAge
	if minAge == 0 {
		minAge = 30 * time.Second
	}

	if err := s.scheduler.UpsertSweepSchedule(ctx, interval, minAge); err != nil {
		return err
	}

	s.logger.Info("sweep schedule ensured",
		"interval", interval,
		"min_age", minAge,
	)
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
