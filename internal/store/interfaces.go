// Package store holds the durable state of the lease engine: the tenant to
// lease mapping and the append-only usage history. The engine is the single
// writer for both; implementations only need to survive being read and
// written through it concurrently.
package store

import (
	"context"
	"errors"

	"github.com/egresskit/stickyd/internal/model"
)

// ErrNotFound is returned when a tenant has no stored entry
var ErrNotFound = errors.New("not found")

// LeaseStore is the durable tenant to lease mapping. Put fully replaces any
// prior lease for the tenant; reads always reflect the last successful Put.
type LeaseStore interface {
	Get(ctx context.Context, tenantID string) (*model.Lease, error)
	Put(ctx context.Context, lease *model.Lease) error
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) ([]string, error)
}

// UsageLedger is the append-only per-tenant usage history, bounded to the
// most recent records per tenant.
type UsageLedger interface {
	Append(ctx context.Context, tenantID string, record model.UsageRecord) error
	History(ctx context.Context, tenantID string) ([]model.UsageRecord, error)
	RecentDistinctLocations(ctx context.Context, tenantID string, window int) (map[string]struct{}, error)
}
