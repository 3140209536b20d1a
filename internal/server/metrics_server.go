package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer serves the Prometheus scrape endpoint on its own port so
// operational traffic never competes with lease calls.
type MetricsServer struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewMetricsServer creates a scrape server for the given registry.
func NewMetricsServer(port int, path string, registry *prometheus.Registry, logger *zap.Logger) *MetricsServer {
	if path == "" {
		path = "/metrics"
	}

	router := http.NewServeMux()
	router.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
		logger: logger,
	}
}

// Start blocks serving scrapes until the listener closes.
func (m *MetricsServer) Start() error {
	m.logger.Info("Starting metrics server", zap.String("addr", m.httpServer.Addr))

	if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.httpServer.Shutdown(ctx)
}
