package store

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/apperrors"
	"github.com/egresskit/stickyd/internal/model"
)

// FileUsageLedger implements UsageLedger on a single JSON file. Each tenant's
// history is bounded: once the cap is exceeded the oldest records are evicted
// first, ring-buffer style.
type FileUsageLedger struct {
	path    string
	cap     int
	mu      sync.RWMutex
	history map[string][]model.UsageRecord
	logger  *zap.Logger
}

// NewFileUsageLedger loads the ledger from path with the given per-tenant
// record cap. Corrupt or missing files degrade to an empty ledger.
func NewFileUsageLedger(path string, cap int, logger *zap.Logger) *FileUsageLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cap < 1 {
		cap = 50
	}
	l := &FileUsageLedger{
		path:    path,
		cap:     cap,
		history: make(map[string][]model.UsageRecord),
		logger:  logger,
	}

	var loaded map[string][]model.UsageRecord
	if err := readJSON(path, &loaded); err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Failed to load usage ledger, starting empty",
				zap.String("path", path), zap.Error(err))
		}
	} else {
		l.history = loaded
	}
	return l
}

// Append records one usage event, evicts past the cap and flushes before
// returning.
func (l *FileUsageLedger) Append(ctx context.Context, tenantID string, record model.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := append(l.history[tenantID], record)
	if len(records) > l.cap {
		records = records[len(records)-l.cap:]
	}
	l.history[tenantID] = records

	if err := writeJSONAtomic(l.path, l.history); err != nil {
		l.logger.Error("Failed to persist usage ledger",
			zap.String("path", l.path), zap.Error(err))
		return apperrors.StoreIO("write", err)
	}
	return nil
}

// History returns the tenant's records, oldest first. An unknown tenant has
// an empty history, not an error.
func (l *FileUsageLedger) History(ctx context.Context, tenantID string) ([]model.UsageRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := l.history[tenantID]
	out := make([]model.UsageRecord, len(records))
	copy(out, records)
	return out, nil
}

// RecentDistinctLocations reports the distinct (city, region) pairs in the
// tenant's last window records.
func (l *FileUsageLedger) RecentDistinctLocations(ctx context.Context, tenantID string, window int) (map[string]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return model.DistinctLocations(l.history[tenantID], window), nil
}
