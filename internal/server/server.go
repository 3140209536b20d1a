// Package server provides the admin HTTP surface for the lease daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/apperrors"
	"github.com/egresskit/stickyd/internal/config"
	"github.com/egresskit/stickyd/internal/engine"
	"github.com/egresskit/stickyd/internal/health"
)

// Server is the admin HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	engine     *engine.Engine
	checker    *health.Checker
	logger     *zap.Logger
	cfg        *config.Config
}

// NewServer creates the admin server and wires its routes.
func NewServer(cfg *config.Config, eng *engine.Engine, checker *health.Checker, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		router:  router,
		engine:  eng,
		checker: checker,
		logger:  logger,
		cfg:     cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		Recovery(s.logger),
		RequestID,
		Logging(s.logger),
	}
	if s.cfg.RateLimiter.Enabled {
		limiter := NewRateLimiter(s.cfg.RateLimiter.RequestsPerSecond, s.cfg.RateLimiter.BurstSize, s.logger)
		middlewareChain = append(middlewareChain, limiter.Limit)
	}
	chain := Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler { return chain(next) })

	s.router.HandleFunc("/health", s.handleLiveness).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReadiness).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/leases", s.handleListLeases).Methods(http.MethodGet)
	v1.HandleFunc("/leases/{tenant_id}", s.handleGetLease).Methods(http.MethodGet)
	v1.HandleFunc("/leases/{tenant_id}", s.handleInvalidateLease).Methods(http.MethodDelete)
	v1.HandleFunc("/leases/{tenant_id}/consistency", s.handleConsistencyReport).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, apperrors.CodeInvalidRequest, "endpoint not found")
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, apperrors.CodeInvalidRequest, "method not allowed")
	})
	s.router.NotFoundHandler = notFound
	s.router.MethodNotAllowedHandler = methodNotAllowed
	// Subrouters do not inherit the parent's handlers.
	v1.NotFoundHandler = notFound
	v1.MethodNotAllowedHandler = methodNotAllowed
}

// handleGetLease acquires or returns the tenant's lease. A persistence
// failure is reported in the body but does not suppress the lease itself.
func (s *Server) handleGetLease(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	lease, err := s.engine.GetLease(r.Context(), tenantID)
	if lease == nil && err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"status": "ok",
		"lease":  lease,
	}
	if err != nil {
		s.logger.Error("Lease granted but not persisted",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		resp["warning"] = "lease is active but could not be persisted; it will not survive a restart"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvalidateLease(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	if err := s.engine.InvalidateLease(r.Context(), tenantID); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConsistencyReport(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	report, err := s.engine.GetConsistencyReport(r.Context(), tenantID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListLeases(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.engine.LeasedTenants(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"tenants": tenants,
		"count":   len(tenants),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.checker.IsLive() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	ready := "ready"
	if !s.checker.IsReady() {
		status = http.StatusServiceUnavailable
		ready = "not_ready"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status": ready,
		"checks": s.checker.Checks(),
	})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.CodeOf(err)

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	s.writeError(w, r, status, code, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code apperrors.Code, message string) {
	s.writeJSON(w, status, apperrors.ErrorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("Starting admin HTTP server",
		zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
