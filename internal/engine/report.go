package engine

import (
	"context"
	"time"

	"github.com/egresskit/stickyd/internal/apperrors"
	"github.com/egresskit/stickyd/internal/model"
	"github.com/egresskit/stickyd/internal/selector"
)

// ConsistencyReport summarizes how consistent a tenant's recent usage
// locations have been. Read-only: generating a report never mutates the
// ledger, so back-to-back calls return identical results.
type ConsistencyReport struct {
	TenantID          string                 `json:"tenant_id"`
	TotalUsages       int                    `json:"total_usages"`
	DistinctLocations int                    `json:"distinct_locations"`
	Window            int                    `json:"window"`
	RiskLevel         model.RiskLevel        `json:"risk_level"`
	Locations         map[string][]time.Time `json:"locations"`
}

// GetConsistencyReport builds the diagnostic report for a tenant from its
// usage history. The risk level reflects only the recent window; the
// Locations map covers the full retained history with the timestamps each
// location was used at.
func (e *Engine) GetConsistencyReport(ctx context.Context, tenantID string) (*ConsistencyReport, error) {
	tenantID = selector.NormalizeTenantID(tenantID)
	if tenantID == "" {
		return nil, apperrors.Configuration("tenant id must not be empty")
	}

	history, err := e.ledger.History(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	recent, err := e.ledger.RecentDistinctLocations(ctx, tenantID, e.window)
	if err != nil {
		return nil, err
	}

	locations := make(map[string][]time.Time)
	for _, record := range history {
		loc := record.Location()
		locations[loc] = append(locations[loc], record.Timestamp)
	}

	return &ConsistencyReport{
		TenantID:          tenantID,
		TotalUsages:       len(history),
		DistinctLocations: len(recent),
		Window:            e.window,
		RiskLevel:         model.ClassifyRisk(len(recent)),
		Locations:         locations,
	}, nil
}
