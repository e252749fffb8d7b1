// Package server exposes the vault service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/metrics"
	"github.com/alanyoungcy/urbanium/internal/server/handler"
	"github.com/alanyoungcy/urbanium/internal/server/middleware"
	"github.com/alanyoungcy/urbanium/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route except health and metrics. Empty disables
	// authentication.
	APIKey     string
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health *handler.HealthHandler
	Vaults *handler.VaultHandler
	Admin  *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. wsHub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	v := handlers.Vaults
	mux.HandleFunc("POST /api/vaults", v.CreateVault)
	mux.HandleFunc("GET /api/vaults", v.ListVaults)
	mux.HandleFunc("GET /api/vaults/{id}", v.GetVault)
	mux.HandleFunc("POST /api/vaults/{id}/deposit", v.Deposit)
	mux.HandleFunc("POST /api/vaults/{id}/withdraw", v.Withdraw)
	mux.HandleFunc("POST /api/vaults/{id}/route", v.RouteYield)
	mux.HandleFunc("GET /api/vaults/{id}/positions", v.ListPositions)
	mux.HandleFunc("GET /api/vaults/{id}/positions/{holder}", v.GetPosition)
	mux.HandleFunc("GET /api/vaults/{id}/events", v.Events)

	a := handlers.Admin
	mux.HandleFunc("POST /api/admin/assets", a.RegisterAsset)
	mux.HandleFunc("POST /api/admin/fund", a.Fund)
	mux.HandleFunc("POST /api/admin/archive", a.ArchiveAudit)
	mux.HandleFunc("POST /api/vaults/{id}/snapshot", a.Snapshot)
	mux.HandleFunc("GET /api/wallets/{holder}/{asset}", a.Wallet)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger, metrics.HTTP())(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
