package model

import (
	"fmt"
	"net/url"
	"unicode"
	"unicode/utf8"
)

// Strategy names identify which fallback tier produced a ProxyConfig.
const (
	StrategyTargeted = "region+city targeted"
	StrategyGeneric  = "country-generic"
	StrategyLegacy   = "legacy passthrough"
)

// ProxyConfig describes one reachable instance of the upstream egress
// provider: transport endpoint plus the credential pair used to authenticate.
// A ProxyConfig is immutable once constructed; a different tier produces a
// different value, never a mutation.
type ProxyConfig struct {
	Endpoint string `json:"endpoint"`
	Username string `json:"username"`
	Password string `json:"password"`
	Strategy string `json:"strategy"`
}

// Validate checks that the config carries enough to open a connection.
func (c ProxyConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("proxy config: endpoint is required")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("proxy config: credential pair is required")
	}
	return nil
}

// URL returns the http proxy URL for this config.
func (c ProxyConfig) URL() (*url.URL, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &url.URL{
		Scheme: "http",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Endpoint,
	}, nil
}

// Redacted returns a loggable form of the username (credentials in the
// username encode targeting, the first segments are enough to attribute a
// tier in logs).
func (c ProxyConfig) Redacted() string {
	if len(c.Username) > 50 {
		return c.Username[:50] + "..."
	}
	return c.Username
}

// CandidateTarget names the geographic attributes requested for a tenant.
// It records what was asked of the provider, not what was observed.
type CandidateTarget struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// DisplayCity returns the city in display form ("phoenix" -> "Phoenix").
func (t CandidateTarget) DisplayCity() string { return titleCase(t.City) }

// DisplayRegion returns the region in display form.
func (t CandidateTarget) DisplayRegion() string { return titleCase(t.Region) }

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
