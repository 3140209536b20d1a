// Package selector derives candidate proxy configurations for a tenant.
// Derivation is deterministic: the same tenant always maps to the same
// primary target and the same tier-1 configuration, across processes and
// restarts, which is what makes assignments sticky before any lease exists.
package selector

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/apperrors"
	"github.com/egresskit/stickyd/internal/model"
)

// Candidate pairs a derivable proxy configuration with the attribute target
// it was built for. Candidates are tried strictly in slice order.
type Candidate struct {
	Config model.ProxyConfig
	Target model.CandidateTarget
}

// Provider is the base credential triple for the upstream egress provider.
type Provider struct {
	Endpoint string
	Username string
	Password string
}

// Selector derives tiered candidate configurations from a fixed target pool.
type Selector struct {
	provider Provider
	pool     []model.CandidateTarget
	logger   *zap.Logger
}

// NewSelector creates a selector over the given pool. The pool must not be
// empty and the provider must carry a full credential triple.
func NewSelector(provider Provider, pool []model.CandidateTarget, logger *zap.Logger) (*Selector, error) {
	if len(pool) == 0 {
		return nil, apperrors.Configuration("candidate pool is empty")
	}
	if provider.Endpoint == "" || provider.Username == "" || provider.Password == "" {
		return nil, apperrors.Configuration("provider endpoint and credential pair are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{provider: provider, pool: pool, logger: logger}, nil
}

// NormalizeTenantID maps a tenant id to its canonical string form so that
// "123" and "123 " key and hash identically.
func NormalizeTenantID(tenantID string) string {
	return strings.ToLower(strings.TrimSpace(tenantID))
}

// Hash computes the stable hash of a tenant id: SHA-256 of the UTF-8 bytes,
// first 8 bytes big-endian. Never a per-process hash; the value must agree
// across runs.
func Hash(tenantID string) uint64 {
	h := sha256.New()
	h.Write([]byte(NormalizeTenantID(tenantID)))
	hashBytes := h.Sum(nil)
	return binary.BigEndian.Uint64(hashBytes[:8])
}

// SessionID derives the stable per-tenant session token embedded in tier-1
// credentials.
func SessionID(tenantID string) string {
	normalized := NormalizeTenantID(tenantID)
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("sticky_%s_%s", hex.EncodeToString(sum[:])[:8], normalized)
}

// PrimaryTarget returns the pool entry this tenant deterministically maps to.
func (s *Selector) PrimaryTarget(tenantID string) model.CandidateTarget {
	idx := Hash(tenantID) % uint64(len(s.pool))
	return s.pool[idx]
}

// DeriveCandidates builds the ordered list of configuration attempts for a
// tenant: region+city targeted, country-generic, then the raw legacy
// credential. Tier 1 is fully deterministic; tier 2 carries a fresh random
// session token for broader acceptance.
func (s *Selector) DeriveCandidates(tenantID string) ([]Candidate, error) {
	target := s.PrimaryTarget(tenantID)
	sessionID := SessionID(tenantID)

	s.logger.Debug("Derived primary target",
		zap.String("tenant_id", NormalizeTenantID(tenantID)),
		zap.String("city", target.City),
		zap.String("region", target.Region),
		zap.String("session_id", sessionID))

	candidates := []Candidate{
		{
			Config: model.ProxyConfig{
				Endpoint: s.provider.Endpoint,
				Username: fmt.Sprintf("%s-country-us-region-%s-city-%s-sessionid-%s",
					s.provider.Username, target.Region, target.City, sessionID),
				Password: s.provider.Password,
				Strategy: model.StrategyTargeted,
			},
			Target: target,
		},
		{
			Config: model.ProxyConfig{
				Endpoint: s.provider.Endpoint,
				Username: fmt.Sprintf("%s-country-us-sessionid-%s",
					s.provider.Username, randomSessionToken()),
				Password: s.provider.Password,
				Strategy: model.StrategyGeneric,
			},
			Target: model.CandidateTarget{Country: "us", Region: target.Region, City: target.City},
		},
		{
			Config: model.ProxyConfig{
				Endpoint: s.provider.Endpoint,
				Username: s.provider.Username,
				Password: s.provider.Password,
				Strategy: model.StrategyLegacy,
			},
			Target: target,
		},
	}

	for i := range candidates {
		candidates[i].Target.Country = "us"
	}
	return candidates, nil
}

// PoolSize returns the number of targets in the pool.
func (s *Selector) PoolSize() int {
	return len(s.pool)
}

// randomSessionToken returns a fresh provider-safe session token.
func randomSessionToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
