package store

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/apperrors"
	"github.com/egresskit/stickyd/internal/model"
)

// FileLeaseStore implements LeaseStore on a single JSON file. Every mutation
// is a full read-modify-write of the map, acceptable at tens to low hundreds
// of tenants; a keyed database can replace this behind the same interface.
type FileLeaseStore struct {
	path   string
	mu     sync.RWMutex
	leases map[string]*model.Lease
	logger *zap.Logger
}

// NewFileLeaseStore loads the store from path. An unreadable or corrupt file
// degrades to an empty map with an error log: losing sticky assignments means
// "assign fresh", never a crash.
func NewFileLeaseStore(path string, logger *zap.Logger) *FileLeaseStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileLeaseStore{
		path:   path,
		leases: make(map[string]*model.Lease),
		logger: logger,
	}

	var loaded map[string]*model.Lease
	if err := readJSON(path, &loaded); err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Failed to load lease store, starting empty",
				zap.String("path", path), zap.Error(err))
		}
	} else {
		s.leases = loaded
		logger.Info("Lease store loaded",
			zap.String("path", path), zap.Int("tenants", len(loaded)))
	}
	return s
}

// Get returns the stored lease for a tenant, or ErrNotFound.
func (s *FileLeaseStore) Get(ctx context.Context, tenantID string) (*model.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lease, ok := s.leases[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *lease
	return &copied, nil
}

// Put replaces the tenant's lease and flushes the whole map before
// returning. On a flush failure the in-memory state is already updated and a
// StoreIO error reports that the assignment may not survive a restart.
func (s *FileLeaseStore) Put(ctx context.Context, lease *model.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *lease
	s.leases[lease.TenantID] = &copied

	if err := writeJSONAtomic(s.path, s.leases); err != nil {
		s.logger.Error("Failed to persist lease store",
			zap.String("path", s.path), zap.Error(err))
		return apperrors.StoreIO("write", err)
	}
	return nil
}

// Delete removes the tenant's lease. Deleting an absent tenant is a no-op.
func (s *FileLeaseStore) Delete(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leases[tenantID]; !ok {
		return nil
	}
	delete(s.leases, tenantID)

	if err := writeJSONAtomic(s.path, s.leases); err != nil {
		s.logger.Error("Failed to persist lease store",
			zap.String("path", s.path), zap.Error(err))
		return apperrors.StoreIO("write", err)
	}
	return nil
}

// List returns the ids of all tenants holding a lease.
func (s *FileLeaseStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.leases))
	for id := range s.leases {
		ids = append(ids, id)
	}
	return ids, nil
}
