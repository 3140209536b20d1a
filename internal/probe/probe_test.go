package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/model"
)

// directTransport bypasses the proxy so targets can be httptest servers.
func directTransport(model.ProxyConfig) (http.RoundTripper, error) {
	return http.DefaultTransport, nil
}

func validConfig() model.ProxyConfig {
	return model.ProxyConfig{
		Endpoint: "proxy.example.com:9000",
		Username: "user",
		Password: "pass",
		Strategy: model.StrategyTargeted,
	}
}

func echoServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProber(targets []Target) *Prober {
	return NewProber(&Config{
		Targets:   targets,
		Transport: directTransport,
		Logger:    zap.NewNop(),
	})
}

func TestIsAlive_QuorumReached(t *testing.T) {
	good := echoServer(t, http.StatusOK, "203.0.113.10")
	bad := echoServer(t, http.StatusForbidden, "denied access")

	tests := []struct {
		name    string
		targets []Target
		quorum  int
		want    bool
	}{
		{
			name: "one of two passes, fast quorum",
			targets: []Target{
				{Name: "bad", URL: bad.URL, Timeout: time.Second},
				{Name: "good", URL: good.URL, Timeout: time.Second},
			},
			quorum: QuorumFast,
			want:   true,
		},
		{
			name: "one of two passes, robust quorum",
			targets: []Target{
				{Name: "bad", URL: bad.URL, Timeout: time.Second},
				{Name: "good", URL: good.URL, Timeout: time.Second},
			},
			quorum: QuorumRobust,
			want:   false,
		},
		{
			name: "two of three pass, robust quorum",
			targets: []Target{
				{Name: "good1", URL: good.URL, Timeout: time.Second},
				{Name: "bad", URL: bad.URL, Timeout: time.Second},
				{Name: "good2", URL: good.URL, Timeout: time.Second},
			},
			quorum: QuorumRobust,
			want:   true,
		},
		{
			name: "all fail",
			targets: []Target{
				{Name: "bad1", URL: bad.URL, Timeout: time.Second},
				{Name: "bad2", URL: bad.URL, Timeout: time.Second},
			},
			quorum: QuorumFast,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProber(tt.targets)
			got := p.IsAlive(context.Background(), validConfig(), tt.quorum)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsAlive_TinyBodyRejected(t *testing.T) {
	tiny := echoServer(t, http.StatusOK, "ok")

	p := newTestProber([]Target{{Name: "tiny", URL: tiny.URL, Timeout: time.Second}})
	assert.False(t, p.IsAlive(context.Background(), validConfig(), QuorumFast))
}

func TestIsAlive_InvalidConfigFailsFast(t *testing.T) {
	good := echoServer(t, http.StatusOK, "203.0.113.10")
	p := newTestProber([]Target{{Name: "good", URL: good.URL, Timeout: time.Second}})

	cfg := validConfig()
	cfg.Username = ""
	assert.False(t, p.IsAlive(context.Background(), cfg, QuorumFast))

	cfg = validConfig()
	cfg.Endpoint = ""
	assert.False(t, p.IsAlive(context.Background(), cfg, QuorumFast))
}

func TestIsAlive_NeverPanicsOnUnreachableTarget(t *testing.T) {
	// Closed server: connection refused must become a plain false.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := newTestProber([]Target{{Name: "gone", URL: url, Timeout: time.Second}})
	assert.False(t, p.IsAlive(context.Background(), validConfig(), QuorumFast))
}

func TestIsAlive_ContextCancellation(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(slow.Close)

	p := newTestProber([]Target{{Name: "slow", URL: slow.URL, Timeout: 30 * time.Second}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.False(t, p.IsAlive(ctx, validConfig(), QuorumFast))
}
