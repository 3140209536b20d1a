package model

import "time"

// UsageRecord is one append-only entry in a tenant's usage history.
type UsageRecord struct {
	Timestamp time.Time `json:"timestamp"`
	City      string    `json:"city"`
	Region    string    `json:"region"`
	IP        string    `json:"ip"`
	SessionID string    `json:"session_id"`
	Strategy  string    `json:"strategy"`
}

// Location returns the "city, region" pair this record was observed at.
func (r UsageRecord) Location() string {
	return r.City + ", " + r.Region
}

// RiskLevel classifies how consistent a tenant's recent usage locations are.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
	RiskNone   RiskLevel = "NONE" // no usage yet
)

// ClassifyRisk maps a distinct-location count over the recent window to a
// risk level: one location is consistent, two is suspect, three or more is
// the pattern that triggers upstream re-verification.
func ClassifyRisk(distinctLocations int) RiskLevel {
	switch {
	case distinctLocations <= 0:
		return RiskNone
	case distinctLocations == 1:
		return RiskLow
	case distinctLocations == 2:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// DistinctLocations reports the set of distinct (city, region) pairs in the
// last window records. A window of 0 or less inspects the whole history.
func DistinctLocations(records []UsageRecord, window int) map[string]struct{} {
	if window > 0 && len(records) > window {
		records = records[len(records)-window:]
	}
	locations := make(map[string]struct{}, len(records))
	for _, r := range records {
		locations[r.Location()] = struct{}{}
	}
	return locations
}
