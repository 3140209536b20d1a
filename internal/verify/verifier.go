// Package verify classifies the observed geographic origin of a proxy
// against a target predicate by querying independent geolocation services
// through it. Services answer with heterogeneous schemas; the verifier
// normalizes them into one canonical observation.
package verify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/metrics"
	"github.com/egresskit/stickyd/internal/model"
	"github.com/egresskit/stickyd/internal/probe"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Observation is the canonical attribute set extracted from one service.
type Observation struct {
	IP      string
	Country string
	Region  string
	City    string
}

// Predicate decides whether an observation satisfies the attribute target.
type Predicate func(Observation) bool

// usIndicators are the tokens that mark a country answer as US-based.
// Matching is a case-insensitive substring check because services disagree on
// spelling ("US", "United States", "USA").
var usIndicators = []string{"US", "USA", "UNITED STATES", "AMERICA"}

// USPredicate reports whether the observed country is US-based.
func USPredicate(obs Observation) bool {
	country := strings.ToUpper(obs.Country)
	for _, indicator := range usIndicators {
		if strings.Contains(country, indicator) {
			return true
		}
	}
	return false
}

// Service is one geolocation endpoint with its response-schema field names.
type Service struct {
	Name    string
	URL     string
	Timeout time.Duration

	// Field-name candidates, tried in order, because each service has its own
	// schema (country vs country_name vs countryCode and so on).
	IPFields      []string
	CountryFields []string
	RegionFields  []string
	CityFields    []string
}

// DefaultServices returns the geolocation services in fixed priority order,
// fastest and most reliable first.
func DefaultServices() []Service {
	return []Service{
		{
			Name:          "IP-API",
			URL:           "http://ip-api.com/json/",
			Timeout:       10 * time.Second,
			IPFields:      []string{"query", "ip"},
			CountryFields: []string{"country", "countryCode"},
			RegionFields:  []string{"regionName", "region"},
			CityFields:    []string{"city"},
		},
		{
			Name:          "IPapi.co",
			URL:           "https://ipapi.co/json/",
			Timeout:       12 * time.Second,
			IPFields:      []string{"ip"},
			CountryFields: []string{"country_name", "country_code", "country"},
			RegionFields:  []string{"region", "region_code"},
			CityFields:    []string{"city"},
		},
		{
			Name:          "FreeGeoIP",
			URL:           "https://freegeoip.app/json/",
			Timeout:       10 * time.Second,
			IPFields:      []string{"ip"},
			CountryFields: []string{"country_name", "country_code"},
			RegionFields:  []string{"region_name", "region_code"},
			CityFields:    []string{"city"},
		},
	}
}

// Config holds verifier configuration
type Config struct {
	Services  []Service
	Predicate Predicate
	Transport probe.TransportFunc
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Verifier runs attribute verification through a proxy configuration.
type Verifier struct {
	services  []Service
	predicate Predicate
	transport probe.TransportFunc
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewVerifier creates a new verifier.
func NewVerifier(cfg *Config) *Verifier {
	if len(cfg.Services) == 0 {
		cfg.Services = DefaultServices()
	}
	if cfg.Predicate == nil {
		cfg.Predicate = USPredicate
	}
	if cfg.Transport == nil {
		cfg.Transport = probe.ProxyTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Verifier{
		services:  cfg.Services,
		predicate: cfg.Predicate,
		transport: cfg.Transport,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Verify queries the services in priority order and stops at the first
// observation satisfying the predicate. A service that is unreachable or
// returns malformed data is skipped, not fatal. When services answered but
// none matched, the last successful observation is still returned with
// HasData set, so callers can distinguish "target not met" from "unknown".
// A failed service is not retried within one Verify call.
func (v *Verifier) Verify(ctx context.Context, cfg model.ProxyConfig) model.Verification {
	result := model.Verification{CheckedAt: time.Now().UTC()}

	if err := cfg.Validate(); err != nil {
		v.logger.Error("Verification rejected invalid proxy config", zap.Error(err))
		return result
	}

	transport, err := v.transport(cfg)
	if err != nil {
		v.logger.Error("Failed to build proxy transport", zap.Error(err))
		return result
	}

	for _, svc := range v.services {
		if ctx.Err() != nil {
			v.logger.Warn("Verification canceled", zap.Error(ctx.Err()))
			break
		}

		obs, ok := v.observe(ctx, transport, svc)
		if !ok {
			continue
		}

		result.HasData = true
		result.IP = obs.IP
		result.Country = obs.Country
		result.Region = obs.Region
		result.City = obs.City
		result.Service = svc.Name

		if v.predicate(obs) {
			result.Verified = true
			v.logger.Info("Attribute target verified",
				zap.String("service", svc.Name),
				zap.String("country", obs.Country),
				zap.String("region", obs.Region),
				zap.String("city", obs.City))
			return result
		}

		v.logger.Warn("Service answered but target not met",
			zap.String("service", svc.Name),
			zap.String("country", obs.Country))
	}

	if !result.HasData {
		v.logger.Warn("No geolocation service reachable through proxy",
			zap.String("strategy", cfg.Strategy))
	}
	return result
}

// observe queries one service and normalizes its answer.
func (v *Verifier) observe(ctx context.Context, transport http.RoundTripper, svc Service) (Observation, bool) {
	start := time.Now()
	obs, ok := v.fetch(ctx, transport, svc)

	result := "pass"
	if !ok {
		result = "fail"
	}
	if v.metrics != nil {
		v.metrics.VerifyRequestsTotal.WithLabelValues(svc.Name, result).Inc()
		v.metrics.VerifyDuration.Observe(time.Since(start).Seconds())
	}
	return obs, ok
}

func (v *Verifier) fetch(ctx context.Context, transport http.RoundTripper, svc Service) (Observation, bool) {
	timeout := svc.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, svc.URL, nil)
	if err != nil {
		return Observation{}, false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Transport: transport, Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		v.logger.Warn("Geolocation service unreachable",
			zap.String("service", svc.Name), zap.Error(err))
		return Observation{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Warn("Geolocation service returned bad status",
			zap.String("service", svc.Name),
			zap.Int("status", resp.StatusCode))
		return Observation{}, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Observation{}, false
	}

	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		v.logger.Warn("Geolocation service returned malformed payload",
			zap.String("service", svc.Name), zap.Error(err))
		return Observation{}, false
	}

	obs := Observation{
		IP:      firstString(data, svc.IPFields),
		Country: firstString(data, svc.CountryFields),
		Region:  firstString(data, svc.RegionFields),
		City:    firstString(data, svc.CityFields),
	}
	if obs.Country == "" && obs.IP == "" {
		// An answer carrying neither field is useless for classification.
		return Observation{}, false
	}
	return obs, true
}

// firstString returns the first non-empty string value among the candidate
// field names.
func firstString(data map[string]interface{}, fields []string) string {
	for _, field := range fields {
		if v, ok := data[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
