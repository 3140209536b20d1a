package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/apperrors"
	"github.com/egresskit/stickyd/internal/model"
	"github.com/egresskit/stickyd/internal/selector"
	"github.com/egresskit/stickyd/internal/store"
)

// fakeProber decides liveness from a configurable function and records how
// often each quorum level was requested.
type fakeProber struct {
	mu      sync.Mutex
	aliveFn func(cfg model.ProxyConfig, quorum int) bool
	calls   int
}

func (p *fakeProber) IsAlive(ctx context.Context, cfg model.ProxyConfig, quorum int) bool {
	p.mu.Lock()
	p.calls++
	fn := p.aliveFn
	p.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn(cfg, quorum)
}

func (p *fakeProber) setAlive(fn func(cfg model.ProxyConfig, quorum int) bool) {
	p.mu.Lock()
	p.aliveFn = fn
	p.mu.Unlock()
}

// fakeVerifier returns a fixed verification result.
type fakeVerifier struct {
	mu     sync.Mutex
	result model.Verification
}

func (v *fakeVerifier) Verify(ctx context.Context, cfg model.ProxyConfig) model.Verification {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.result
}

func usVerification() model.Verification {
	return model.Verification{
		Verified:  true,
		HasData:   true,
		IP:        "203.0.113.1",
		Country:   "United States",
		Region:    "Arizona",
		City:      "Phoenix",
		Service:   "IP-API",
		CheckedAt: time.Now().UTC(),
	}
}

type testHarness struct {
	engine   *Engine
	prober   *fakeProber
	verifier *fakeVerifier
	leases   *store.MemoryLeaseStore
	ledger   *store.MemoryUsageLedger
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	sel, err := selector.NewSelector(selector.Provider{
		Endpoint: "proxy.example.com:9000",
		Username: "package-309866",
		Password: "secret",
	}, []model.CandidateTarget{
		{City: "phoenix", Region: "arizona"},
		{City: "miami", Region: "florida"},
		{City: "chicago", Region: "illinois"},
	}, zap.NewNop())
	require.NoError(t, err)

	h := &testHarness{
		prober:   &fakeProber{},
		verifier: &fakeVerifier{result: usVerification()},
		leases:   store.NewMemoryLeaseStore(),
		ledger:   store.NewMemoryUsageLedger(50),
	}
	h.engine = New(
		&Config{CallCeiling: 30 * time.Second, ConsistencyWindow: 5},
		sel, h.prober, h.verifier, h.leases, h.ledger,
		zap.NewNop(), nil,
	)
	return h
}

func TestGetLease_HappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lease, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, lease)

	assert.Equal(t, "42", lease.TenantID)
	assert.Equal(t, model.StrategyTargeted, lease.Config.Strategy)
	assert.True(t, lease.Verification.Verified)
	assert.Equal(t, "Phoenix", lease.Verification.City)
	assert.Equal(t, "Arizona", lease.Verification.Region)
	assert.False(t, lease.Assumed)
	assert.Equal(t, selector.SessionID("42"), lease.SessionID)
	assert.False(t, lease.CreatedAt.IsZero())

	// The lease was persisted and a usage record written.
	stored, err := h.leases.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, lease.Config, stored.Config)

	history, err := h.ledger.History(ctx, "42")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Phoenix", history[0].City)
	assert.Equal(t, model.StrategyTargeted, history[0].Strategy)
}

func TestGetLease_StickyUnderHealthyResource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		lease, err := h.engine.GetLease(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, first.Config, lease.Config)
		assert.Equal(t, first.SessionID, lease.SessionID)
		assert.Equal(t, first.Verification.City, lease.Verification.City)
		assert.Equal(t, first.Verification.Region, lease.Verification.Region)
	}

	history, err := h.ledger.History(ctx, "42")
	require.NoError(t, err)
	assert.Len(t, history, 50, "ledger is capped while usage accumulates")

	// Still exactly one stored lease.
	ids, err := h.leases.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, ids)
}

func TestGetLease_TierFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Tier 1 never reaches quorum; tier 2 does.
	h.prober.setAlive(func(cfg model.ProxyConfig, quorum int) bool {
		return cfg.Strategy != model.StrategyTargeted
	})

	lease, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, model.StrategyGeneric, lease.Config.Strategy)
	assert.Contains(t, lease.Config.Username, "country-us-sessionid-")
}

func TestGetLease_LegacyFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.prober.setAlive(func(cfg model.ProxyConfig, quorum int) bool {
		return cfg.Strategy == model.StrategyLegacy
	})

	lease, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, model.StrategyLegacy, lease.Config.Strategy)
	assert.Equal(t, "package-309866", lease.Config.Username)
}

func TestGetLease_GracefulReplacement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, model.StrategyTargeted, first.Config.Strategy)

	// The resource behind the stored lease dies; only the generic tier works.
	h.prober.setAlive(func(cfg model.ProxyConfig, quorum int) bool {
		return cfg.Strategy == model.StrategyGeneric
	})

	replacement, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.NotEqual(t, first.Config, replacement.Config)
	assert.Equal(t, model.StrategyGeneric, replacement.Config.Strategy)

	// The old lease is gone for good: subsequent calls return the new one.
	again, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, replacement.Config, again.Config)

	stored, err := h.leases.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, replacement.Config, stored.Config)
}

func TestGetLease_ExhaustionLeavesStoreUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.prober.setAlive(func(model.ProxyConfig, int) bool { return false })

	lease, err := h.engine.GetLease(ctx, "42")
	assert.Nil(t, lease)
	require.Error(t, err)
	assert.True(t, apperrors.IsExhausted(err))
	assert.False(t, apperrors.IsConfiguration(err), "exhaustion must be distinguishable from misconfiguration")

	_, err = h.leases.Get(ctx, "42")
	assert.ErrorIs(t, err, store.ErrNotFound, "no partial lease may be written")

	history, err := h.ledger.History(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGetLease_VerificationInconclusiveButAlive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Connectivity fine, every geolocation service unreachable.
	h.verifier.result = model.Verification{CheckedAt: time.Now().UTC()}

	lease, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)

	assert.False(t, lease.Verification.Verified)
	assert.True(t, lease.Assumed)
	assert.NotEmpty(t, lease.Note)
	// Location pinned from the requested target, never "Unknown".
	assert.Equal(t, lease.Target.DisplayCity(), lease.Verification.City)
	assert.Equal(t, lease.Target.DisplayRegion(), lease.Verification.Region)
	assert.Equal(t, "US (Assigned)", lease.Verification.Country)
}

func TestGetLease_EmptyTenantID(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.GetLease(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestGetLease_TenantIDNormalization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.GetLease(ctx, " 42 ")
	require.NoError(t, err)

	second, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, first.Config, second.Config)

	ids, err := h.leases.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, ids, "normalized ids must not diverge into separate leases")
}

func TestGetLease_AtMostOneLeasePerTenantUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := h.engine.GetLease(ctx, "42")
			assert.NoError(t, err)
			assert.NotNil(t, lease)
		}()
	}
	wg.Wait()

	ids, err := h.leases.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	// Every caller got the identical configuration.
	stored, err := h.leases.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, selector.SessionID("42"), stored.SessionID)
}

// failingLeaseStore wraps a working store but fails every Put.
type failingLeaseStore struct {
	*store.MemoryLeaseStore
}

func (s *failingLeaseStore) Put(ctx context.Context, lease *model.Lease) error {
	return apperrors.StoreIO("write", errors.New("disk full"))
}

func TestGetLease_StoreWriteFailureStillReturnsLease(t *testing.T) {
	h := newHarness(t)
	h.engine.leases = &failingLeaseStore{store.NewMemoryLeaseStore()}

	lease, err := h.engine.GetLease(context.Background(), "42")
	require.NotNil(t, lease, "in-memory result must survive a persistence failure")
	require.Error(t, err)
	assert.True(t, apperrors.IsStoreIO(err))
}

func TestInvalidateLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)

	require.NoError(t, h.engine.InvalidateLease(ctx, "42"))
	_, err = h.leases.Get(ctx, "42")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Next call re-derives; deterministic derivation yields the same tier-1
	// config, but it is a new lease record.
	second, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, first.Config, second.Config)
	assert.True(t, second.CreatedAt.After(first.CreatedAt) || second.CreatedAt.Equal(first.CreatedAt))
}

func TestRevalidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Revalidate(ctx, "42")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeLeaseNotFound, apperrors.CodeOf(err))

	lease, err := h.engine.GetLease(ctx, "42")
	require.NoError(t, err)

	healthy, err := h.engine.Revalidate(ctx, "42")
	require.NoError(t, err)
	assert.True(t, healthy)

	stored, err := h.leases.Get(ctx, "42")
	require.NoError(t, err)
	assert.False(t, stored.LastValidated.Before(lease.LastValidated))

	// Dead lease gets dropped so the next GetLease reassigns.
	h.prober.setAlive(func(model.ProxyConfig, int) bool { return false })
	healthy, err = h.engine.Revalidate(ctx, "42")
	require.NoError(t, err)
	assert.False(t, healthy)

	_, err = h.leases.Get(ctx, "42")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevalidator_SweepDropsDeadLeases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, tenant := range []string{"1", "2", "3"} {
		_, err := h.engine.GetLease(ctx, tenant)
		require.NoError(t, err)
	}

	h.prober.setAlive(func(model.ProxyConfig, int) bool { return false })

	r := NewRevalidator(&RevalidatorConfig{Interval: time.Hour, Workers: 2}, h.engine, zap.NewNop())
	defer r.Stop(time.Second)
	r.RunOnce(ctx)

	ids, err := h.leases.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
