package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/server/handler"
	"github.com/alanyoungcy/yieldvault/internal/server/middleware"
	"github.com/alanyoungcy/yieldvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per client per minute; 0 disables limiting.
	RateLimit       int
	SignatureMaxAge time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Operations, Admin and the mutating Strategy routes are only registered
// when Operations is set; a read-only replica leaves it nil.
type Handlers struct {
	Health     *handler.HealthHandler
	Vault      *handler.VaultHandler
	Strategy   *handler.StrategyHandler
	History    *handler.HistoryHandler
	Operations *handler.OperationsHandler
	Admin      *handler.AdminHandler
}

// Deps carries the collaborators of the middleware chain. Limiter may be nil.
type Deps struct {
	Callers middleware.CallerResolver
	Limiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API of the vault.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, deps, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/vault", handlers.Vault.GetVault)
	mux.HandleFunc("GET /api/vault/balances/{address}", handlers.Vault.GetBalance)
	mux.HandleFunc("GET /api/strategies", handlers.Strategy.ListStrategies)
	mux.HandleFunc("GET /api/reports", handlers.History.ListReports)
	mux.HandleFunc("GET /api/audit", handlers.History.ListAudit)
	mux.HandleFunc("GET /api/events", handlers.History.ListEvents)
	mux.HandleFunc("GET /api/archives", handlers.History.ListArchives)
	mux.HandleFunc("GET /api/archives/{kind}/{file}", handlers.History.GetArchive)

	if handlers.Operations != nil {
		signed := middleware.Signature(deps.Callers, cfg.SignatureMaxAge, logger)
		handle := func(pattern string, fn http.HandlerFunc) {
			mux.Handle(pattern, signed(fn))
		}

		handle("POST /api/deposit", handlers.Operations.Deposit)
		handle("POST /api/withdraw", handlers.Operations.Withdraw)

		handle("POST /api/strategies", handlers.Strategy.AddStrategy)
		handle("PUT /api/strategies/{address}", handlers.Strategy.UpdateStrategy)
		handle("POST /api/strategies/{address}/harvest", handlers.Strategy.Harvest)
		handle("POST /api/strategies/{address}/revoke", handlers.Strategy.Revoke)
		handle("POST /api/strategies/{address}/emergency-exit", handlers.Strategy.EmergencyExit)
		handle("POST /api/strategies/{address}/migrate", handlers.Strategy.Migrate)

		handle("POST /api/vault/shutdown", handlers.Admin.Shutdown)
		handle("PUT /api/vault/deposit-limit", handlers.Admin.SetDepositLimit)
		handle("PUT /api/vault/performance-fee", handlers.Admin.SetPerformanceFee)
		handle("PUT /api/vault/rewards", handlers.Admin.SetRewards)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
