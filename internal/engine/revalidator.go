package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/util/workerpool"
)

// RevalidatorConfig holds background revalidation configuration
type RevalidatorConfig struct {
	Interval time.Duration
	Workers  int
}

// Revalidator periodically re-checks every stored lease's liveness over a
// bounded worker pool, so dead assignments are noticed before the tenant's
// next call instead of during it.
type Revalidator struct {
	engine   *Engine
	interval time.Duration
	pool     *workerpool.Pool
	logger   *zap.Logger
}

// NewRevalidator creates a revalidator. An interval of 0 disables it.
func NewRevalidator(cfg *RevalidatorConfig, engine *Engine, logger *zap.Logger) *Revalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Revalidator{
		engine:   engine,
		interval: cfg.Interval,
		logger:   logger,
		pool: workerpool.New(&workerpool.Config{
			Name:       "revalidate",
			MaxWorkers: cfg.Workers,
			QueueSize:  256,
			Logger:     logger,
		}),
	}
}

// Run blocks, revalidating all leases every interval until ctx is canceled.
func (r *Revalidator) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("Background revalidation disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Revalidator stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce revalidates every currently-leased tenant and waits for the sweep
// to finish.
func (r *Revalidator) RunOnce(ctx context.Context) {
	tenants, err := r.engine.LeasedTenants(ctx)
	if err != nil {
		r.logger.Error("Failed to list leased tenants", zap.Error(err))
		return
	}

	r.logger.Info("Starting lease revalidation sweep", zap.Int("tenants", len(tenants)))
	done := make(chan struct{}, len(tenants))

	for _, tenantID := range tenants {
		tenantID := tenantID
		task := workerpool.Task{
			ID: "revalidate-" + tenantID,
			Fn: func(taskCtx context.Context) error {
				defer func() { done <- struct{}{} }()

				healthy, err := r.engine.Revalidate(ctx, tenantID)
				result := "healthy"
				switch {
				case err != nil:
					result = "error"
				case !healthy:
					result = "dropped"
				}
				if r.engine.metrics != nil {
					r.engine.metrics.RevalidationsTotal.WithLabelValues(result).Inc()
				}
				return err
			},
		}
		if err := r.pool.Submit(ctx, task); err != nil {
			r.logger.Warn("Failed to submit revalidation task",
				zap.String("tenant_id", tenantID), zap.Error(err))
			done <- struct{}{}
		}
	}

	for range tenants {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	r.logger.Info("Lease revalidation sweep finished", zap.Int("tenants", len(tenants)))
}

// Stop shuts the worker pool down.
func (r *Revalidator) Stop(timeout time.Duration) error {
	return r.pool.Stop(timeout)
}
