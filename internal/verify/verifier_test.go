package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/model"
)

func directTransport(model.ProxyConfig) (http.RoundTripper, error) {
	return http.DefaultTransport, nil
}

func validConfig() model.ProxyConfig {
	return model.ProxyConfig{
		Endpoint: "proxy.example.com:9000",
		Username: "user",
		Password: "pass",
	}
}

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ipAPIService(url string) Service {
	return Service{
		Name:          "IP-API",
		URL:           url,
		Timeout:       time.Second,
		IPFields:      []string{"query", "ip"},
		CountryFields: []string{"country", "countryCode"},
		RegionFields:  []string{"regionName", "region"},
		CityFields:    []string{"city"},
	}
}

func ipapiCoService(url string) Service {
	return Service{
		Name:          "IPapi.co",
		URL:           url,
		Timeout:       time.Second,
		IPFields:      []string{"ip"},
		CountryFields: []string{"country_name", "country_code"},
		RegionFields:  []string{"region"},
		CityFields:    []string{"city"},
	}
}

func newTestVerifier(services ...Service) *Verifier {
	return NewVerifier(&Config{
		Services:  services,
		Predicate: USPredicate,
		Transport: directTransport,
		Logger:    zap.NewNop(),
	})
}

func TestUSPredicate(t *testing.T) {
	tests := []struct {
		country string
		want    bool
	}{
		{"United States", true},
		{"US", true},
		{"USA", true},
		{"america", true},
		{"UNITED STATES OF AMERICA", true},
		{"Canada", false},
		{"Germany", false},
		{"", false},
		// "RUSSIA" contains "US" as a substring; the indicator list is a
		// deliberate carry-over of the heuristic, matching its behavior.
		{"Russia", true},
	}
	for _, tt := range tests {
		t.Run(tt.country, func(t *testing.T) {
			assert.Equal(t, tt.want, USPredicate(Observation{Country: tt.country}))
		})
	}
}

func TestVerify_FirstSatisfyingServiceWins(t *testing.T) {
	us := jsonServer(t, http.StatusOK,
		`{"query":"203.0.113.7","country":"United States","regionName":"Arizona","city":"Phoenix"}`)
	never := jsonServer(t, http.StatusOK, `{"ip":"203.0.113.8","country_name":"Canada"}`)

	v := newTestVerifier(ipAPIService(us.URL), ipapiCoService(never.URL))
	result := v.Verify(context.Background(), validConfig())

	assert.True(t, result.Verified)
	assert.True(t, result.HasData)
	assert.Equal(t, "203.0.113.7", result.IP)
	assert.Equal(t, "United States", result.Country)
	assert.Equal(t, "Arizona", result.Region)
	assert.Equal(t, "Phoenix", result.City)
	assert.Equal(t, "IP-API", result.Service)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestVerify_SchemaNormalization(t *testing.T) {
	// ipapi.co-style field names must normalize into the same observation.
	srv := jsonServer(t, http.StatusOK,
		`{"ip":"203.0.113.9","country_name":"United States","region":"Florida","city":"Miami"}`)

	v := newTestVerifier(ipapiCoService(srv.URL))
	result := v.Verify(context.Background(), validConfig())

	require.True(t, result.Verified)
	assert.Equal(t, "United States", result.Country)
	assert.Equal(t, "Florida", result.Region)
	assert.Equal(t, "Miami", result.City)
}

func TestVerify_MalformedServiceSkipped(t *testing.T) {
	garbage := jsonServer(t, http.StatusOK, `<html>not json</html>`)
	us := jsonServer(t, http.StatusOK,
		`{"ip":"203.0.113.5","country_name":"United States","region":"Illinois","city":"Chicago"}`)

	v := newTestVerifier(ipAPIService(garbage.URL), ipapiCoService(us.URL))
	result := v.Verify(context.Background(), validConfig())

	assert.True(t, result.Verified)
	assert.Equal(t, "IPapi.co", result.Service)
}

func TestVerify_TargetNotMetKeepsLastObservation(t *testing.T) {
	ca := jsonServer(t, http.StatusOK,
		`{"query":"198.51.100.1","country":"Canada","regionName":"Ontario","city":"Toronto"}`)
	de := jsonServer(t, http.StatusOK,
		`{"ip":"198.51.100.2","country_name":"Germany","region":"Bavaria","city":"Munich"}`)

	v := newTestVerifier(ipAPIService(ca.URL), ipapiCoService(de.URL))
	result := v.Verify(context.Background(), validConfig())

	assert.False(t, result.Verified)
	assert.True(t, result.HasData, "partial data must survive a failed predicate")
	assert.Equal(t, "Germany", result.Country)
	assert.Equal(t, "IPapi.co", result.Service)
}

func TestVerify_NoServiceReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	v := newTestVerifier(ipAPIService(url))
	result := v.Verify(context.Background(), validConfig())

	assert.False(t, result.Verified)
	assert.False(t, result.HasData, "unreachable must be distinct from not-matching")
	assert.Empty(t, result.Service)
}

func TestVerify_InvalidConfig(t *testing.T) {
	us := jsonServer(t, http.StatusOK, `{"query":"1.1.1.1","country":"United States"}`)
	v := newTestVerifier(ipAPIService(us.URL))

	cfg := validConfig()
	cfg.Password = ""
	result := v.Verify(context.Background(), cfg)

	assert.False(t, result.Verified)
	assert.False(t, result.HasData)
}

func TestVerify_BadStatusSkipped(t *testing.T) {
	throttled := jsonServer(t, http.StatusTooManyRequests, `{"error":"rate limited"}`)
	us := jsonServer(t, http.StatusOK,
		`{"ip":"203.0.113.6","country_name":"United States","region":"Arizona","city":"Tempe"}`)

	v := newTestVerifier(ipAPIService(throttled.URL), ipapiCoService(us.URL))
	result := v.Verify(context.Background(), validConfig())

	assert.True(t, result.Verified)
	assert.Equal(t, "IPapi.co", result.Service)
}
