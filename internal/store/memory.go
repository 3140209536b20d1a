package store

import (
	"context"
	"sync"

	"github.com/egresskit/stickyd/internal/model"
)

// MemoryLeaseStore is an in-memory LeaseStore for tests and embedding.
type MemoryLeaseStore struct {
	mu     sync.RWMutex
	leases map[string]*model.Lease
}

// NewMemoryLeaseStore creates an empty in-memory lease store.
func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{leases: make(map[string]*model.Lease)}
}

func (s *MemoryLeaseStore) Get(ctx context.Context, tenantID string) (*model.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lease, ok := s.leases[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *lease
	return &copied, nil
}

func (s *MemoryLeaseStore) Put(ctx context.Context, lease *model.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *lease
	s.leases[lease.TenantID] = &copied
	return nil
}

func (s *MemoryLeaseStore) Delete(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.leases, tenantID)
	return nil
}

func (s *MemoryLeaseStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.leases))
	for id := range s.leases {
		ids = append(ids, id)
	}
	return ids, nil
}

// MemoryUsageLedger is an in-memory UsageLedger for tests and embedding.
type MemoryUsageLedger struct {
	cap     int
	mu      sync.RWMutex
	history map[string][]model.UsageRecord
}

// NewMemoryUsageLedger creates an empty in-memory ledger with the given
// per-tenant cap.
func NewMemoryUsageLedger(cap int) *MemoryUsageLedger {
	if cap < 1 {
		cap = 50
	}
	return &MemoryUsageLedger{cap: cap, history: make(map[string][]model.UsageRecord)}
}

func (l *MemoryUsageLedger) Append(ctx context.Context, tenantID string, record model.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := append(l.history[tenantID], record)
	if len(records) > l.cap {
		records = records[len(records)-l.cap:]
	}
	l.history[tenantID] = records
	return nil
}

func (l *MemoryUsageLedger) History(ctx context.Context, tenantID string) ([]model.UsageRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := l.history[tenantID]
	out := make([]model.UsageRecord, len(records))
	copy(out, records)
	return out, nil
}

func (l *MemoryUsageLedger) RecentDistinctLocations(ctx context.Context, tenantID string, window int) (map[string]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return model.DistinctLocations(l.history[tenantID], window), nil
}
