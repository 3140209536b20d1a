package model

import "time"

// Verification is the outcome of a geolocation check through a proxy.
// HasData distinguishes "every service was unreachable" from "services
// answered but the target predicate was not met"; callers must be able to
// tell unknown from not-matching.
type Verification struct {
	Verified  bool      `json:"verified"`
	HasData   bool      `json:"has_data"`
	IP        string    `json:"ip,omitempty"`
	Country   string    `json:"country,omitempty"`
	Region    string    `json:"region,omitempty"`
	City      string    `json:"city,omitempty"`
	Service   string    `json:"service,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Lease is the persisted unit of assignment: one tenant bound to one proxy
// configuration plus the attributes last observed through it. At most one
// Lease exists per tenant in a LeaseStore, and its Config passed a
// connectivity probe at the time it was stored.
type Lease struct {
	TenantID      string          `json:"tenant_id"`
	Config        ProxyConfig     `json:"config"`
	Target        CandidateTarget `json:"target"`
	SessionID     string          `json:"session_id"`
	Verification  Verification    `json:"verification"`
	Assumed       bool            `json:"assumed,omitempty"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastValidated time.Time       `json:"last_validated"`
}

// Location returns the city and region this lease is pinned to, observed
// when verification succeeded, assumed from the requested target otherwise.
func (l *Lease) Location() (city, region string) {
	return l.Verification.City, l.Verification.Region
}
