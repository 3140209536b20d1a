// Package engine implements sticky assignment: the same tenant keeps the
// same egress configuration across calls for as long as it stays healthy,
// and is transparently moved to a replacement when it does not.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/apperrors"
	"github.com/egresskit/stickyd/internal/metrics"
	"github.com/egresskit/stickyd/internal/model"
	"github.com/egresskit/stickyd/internal/probe"
	"github.com/egresskit/stickyd/internal/selector"
	"github.com/egresskit/stickyd/internal/store"
)

// Prober checks proxy liveness against a quorum of echo targets.
type Prober interface {
	IsAlive(ctx context.Context, cfg model.ProxyConfig, quorum int) bool
}

// Verifier classifies the observed origin of a proxy against the target
// predicate.
type Verifier interface {
	Verify(ctx context.Context, cfg model.ProxyConfig) model.Verification
}

// CandidateSelector derives the ordered tier list for a tenant.
type CandidateSelector interface {
	DeriveCandidates(tenantID string) ([]selector.Candidate, error)
}

// Config holds engine configuration
type Config struct {
	// CallCeiling bounds one full GetLease walk across every tier.
	CallCeiling time.Duration
	// ConsistencyWindow is how many recent usage records the risk
	// classification inspects.
	ConsistencyWindow int
}

// Engine orchestrates selector, prober, verifier and the two stores. It is
// the single writer for both stores; all mutation runs under a per-tenant
// lock so two concurrent callers cannot race to create divergent leases for
// one tenant.
type Engine struct {
	selector CandidateSelector
	prober   Prober
	verifier Verifier
	leases   store.LeaseStore
	ledger   store.UsageLedger

	callCeiling time.Duration
	window      int
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

// New creates a new engine.
func New(
	cfg *Config,
	sel CandidateSelector,
	prober Prober,
	verifier Verifier,
	leases store.LeaseStore,
	ledger store.UsageLedger,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Engine {
	if cfg.CallCeiling == 0 {
		cfg.CallCeiling = 90 * time.Second
	}
	if cfg.ConsistencyWindow == 0 {
		cfg.ConsistencyWindow = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		selector:    sel,
		prober:      prober,
		verifier:    verifier,
		leases:      leases,
		ledger:      ledger,
		callCeiling: cfg.CallCeiling,
		window:      cfg.ConsistencyWindow,
		logger:      logger,
		metrics:     m,
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

// lockTenant serializes all lease work for one tenant.
func (e *Engine) lockTenant(tenantID string) func() {
	e.mu.Lock()
	lock, ok := e.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		e.tenantLocks[tenantID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// GetLease returns a currently-valid lease for the tenant, creating or
// replacing one as needed. Distinguishable failures: a configuration error
// (empty tenant id, broken provider setup) or candidate exhaustion. A
// persistence failure does NOT void the result: the lease is returned
// together with a StoreIO error so the caller knows stickiness may not
// survive a restart.
func (e *Engine) GetLease(ctx context.Context, tenantID string) (*model.Lease, error) {
	tenantID = selector.NormalizeTenantID(tenantID)
	if tenantID == "" {
		return nil, apperrors.Configuration("tenant id must not be empty")
	}

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.GetLeaseDuration.Observe(time.Since(start).Seconds())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.callCeiling)
	defer cancel()

	unlock := e.lockTenant(tenantID)
	defer unlock()

	if lease, err := e.leases.Get(ctx, tenantID); err == nil {
		if e.prober.IsAlive(ctx, lease.Config, probe.QuorumFast) {
			return e.refreshLease(ctx, lease)
		}

		e.logger.Warn("Stored lease failed liveness re-check, replacing",
			zap.String("tenant_id", tenantID),
			zap.String("strategy", lease.Config.Strategy),
			zap.String("session_id", lease.SessionID))
		if e.metrics != nil {
			e.metrics.LeaseReplacementsTotal.Inc()
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		e.logger.Error("Lease lookup failed, treating as absent",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}

	return e.createLease(ctx, tenantID)
}

// refreshLease handles the healthy-lease path: bump the validation
// timestamp, record usage and hand the stored lease back unchanged.
func (e *Engine) refreshLease(ctx context.Context, lease *model.Lease) (*model.Lease, error) {
	lease.LastValidated = time.Now().UTC()

	var storeErr error
	if err := e.leases.Put(ctx, lease); err != nil {
		storeErr = err
		if e.metrics != nil {
			e.metrics.StoreWriteFailuresTotal.Inc()
		}
	}

	e.recordUsage(ctx, lease)
	if e.metrics != nil {
		e.metrics.LeaseHitsTotal.Inc()
	}

	e.logger.Debug("Existing sticky lease still healthy",
		zap.String("tenant_id", lease.TenantID),
		zap.String("city", lease.Verification.City),
		zap.String("region", lease.Verification.Region),
		zap.String("session_id", lease.SessionID))
	return lease, storeErr
}

// createLease walks the candidate tiers in order and commits the first one
// that passes the robust connectivity quorum. The store is left untouched
// when every tier fails.
func (e *Engine) createLease(ctx context.Context, tenantID string) (*model.Lease, error) {
	candidates, err := e.selector.DeriveCandidates(tenantID)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			e.logger.Warn("Lease creation ran out of time",
				zap.String("tenant_id", tenantID), zap.Error(ctx.Err()))
			break
		}

		e.logger.Info("Trying candidate configuration",
			zap.String("tenant_id", tenantID),
			zap.String("strategy", candidate.Config.Strategy),
			zap.String("username", candidate.Config.Redacted()))

		if !e.prober.IsAlive(ctx, candidate.Config, probe.QuorumRobust) {
			continue
		}

		lease := e.buildLease(ctx, tenantID, candidate)

		var storeErr error
		if err := e.leases.Put(ctx, lease); err != nil {
			storeErr = err
			if e.metrics != nil {
				e.metrics.StoreWriteFailuresTotal.Inc()
			}
		}

		e.recordUsage(ctx, lease)
		if e.metrics != nil {
			e.metrics.LeaseGrantsTotal.WithLabelValues(lease.Config.Strategy).Inc()
			e.updateTenantGauge(ctx)
		}

		e.logger.Info("New sticky lease assigned",
			zap.String("tenant_id", tenantID),
			zap.String("strategy", lease.Config.Strategy),
			zap.String("city", lease.Verification.City),
			zap.String("region", lease.Verification.Region),
			zap.Bool("verified", lease.Verification.Verified))
		return lease, storeErr
	}

	if e.metrics != nil {
		e.metrics.LeaseExhaustionsTotal.Inc()
	}
	e.logger.Error("All candidate configurations failed connectivity",
		zap.String("tenant_id", tenantID), zap.Int("tiers", len(candidates)))
	return nil, apperrors.Exhausted(tenantID)
}

// buildLease runs attribute verification for a connectivity-confirmed
// candidate and assembles the lease. When verification is inconclusive the
// lease still pins the requested location, marked assumed, so the sticky
// location stays consistent call over call.
func (e *Engine) buildLease(ctx context.Context, tenantID string, candidate selector.Candidate) *model.Lease {
	now := time.Now().UTC()
	verification := e.verifier.Verify(ctx, candidate.Config)

	lease := &model.Lease{
		TenantID:      tenantID,
		Config:        candidate.Config,
		Target:        candidate.Target,
		SessionID:     selector.SessionID(tenantID),
		Verification:  verification,
		CreatedAt:     now,
		LastValidated: now,
	}

	if !verification.Verified {
		lease.Assumed = true
		lease.Note = "connectivity confirmed but attribute verification inconclusive; location assumed from requested target"
		lease.Verification.City = candidate.Target.DisplayCity()
		lease.Verification.Region = candidate.Target.DisplayRegion()
		lease.Verification.Country = "US (Assigned)"
	}
	return lease
}

// recordUsage appends a ledger entry and warns when the recent window shows
// the tenant hopping between locations.
func (e *Engine) recordUsage(ctx context.Context, lease *model.Lease) {
	record := model.UsageRecord{
		Timestamp: time.Now().UTC(),
		City:      lease.Verification.City,
		Region:    lease.Verification.Region,
		IP:        lease.Verification.IP,
		SessionID: lease.SessionID,
		Strategy:  lease.Config.Strategy,
	}

	if err := e.ledger.Append(ctx, lease.TenantID, record); err != nil {
		e.logger.Error("Failed to record lease usage",
			zap.String("tenant_id", lease.TenantID), zap.Error(err))
		if e.metrics != nil {
			e.metrics.StoreWriteFailuresTotal.Inc()
		}
	}

	locations, err := e.ledger.RecentDistinctLocations(ctx, lease.TenantID, e.window)
	if err != nil || len(locations) <= 1 {
		return
	}

	names := make([]string, 0, len(locations))
	for loc := range locations {
		names = append(names, loc)
	}
	e.logger.Warn("Location inconsistency detected in recent usage",
		zap.String("tenant_id", lease.TenantID),
		zap.Int("distinct_locations", len(locations)),
		zap.Strings("locations", names))
}

// InvalidateLease drops the tenant's stored lease so the next GetLease call
// re-derives from scratch. Recovery tooling only; the main flow never calls
// this.
func (e *Engine) InvalidateLease(ctx context.Context, tenantID string) error {
	tenantID = selector.NormalizeTenantID(tenantID)
	if tenantID == "" {
		return apperrors.Configuration("tenant id must not be empty")
	}

	unlock := e.lockTenant(tenantID)
	defer unlock()

	if err := e.leases.Delete(ctx, tenantID); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.LeaseInvalidations.Inc()
		e.updateTenantGauge(ctx)
	}
	e.logger.Info("Lease invalidated", zap.String("tenant_id", tenantID))
	return nil
}

// Revalidate re-checks a stored lease's liveness with the fast quorum. A
// healthy lease gets its validation timestamp refreshed; a dead one is
// dropped so the next GetLease reassigns. Returns whether the lease was
// healthy; LeaseNotFound when the tenant holds none.
func (e *Engine) Revalidate(ctx context.Context, tenantID string) (bool, error) {
	tenantID = selector.NormalizeTenantID(tenantID)

	unlock := e.lockTenant(tenantID)
	defer unlock()

	lease, err := e.leases.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, apperrors.LeaseNotFound(tenantID)
		}
		return false, err
	}

	if e.prober.IsAlive(ctx, lease.Config, probe.QuorumFast) {
		lease.LastValidated = time.Now().UTC()
		if err := e.leases.Put(ctx, lease); err != nil {
			return true, err
		}
		return true, nil
	}

	e.logger.Warn("Background revalidation found dead lease, dropping",
		zap.String("tenant_id", tenantID),
		zap.String("strategy", lease.Config.Strategy))
	if err := e.leases.Delete(ctx, tenantID); err != nil {
		return false, err
	}
	if e.metrics != nil {
		e.metrics.LeaseReplacementsTotal.Inc()
		e.updateTenantGauge(ctx)
	}
	return false, nil
}

// LeasedTenants lists all tenants currently holding a stored lease.
func (e *Engine) LeasedTenants(ctx context.Context) ([]string, error) {
	return e.leases.List(ctx)
}

func (e *Engine) updateTenantGauge(ctx context.Context) {
	ids, err := e.leases.List(ctx)
	if err != nil {
		return
	}
	e.metrics.TenantsTracked.Set(float64(len(ids)))
}
