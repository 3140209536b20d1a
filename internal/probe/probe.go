// Package probe issues liveness checks against a proxy configuration by
// fetching a small set of independent IP-echo endpoints through it. Every
// transport-level failure is absorbed into the boolean result; callers never
// see network errors.
package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/metrics"
	"github.com/egresskit/stickyd/internal/model"
)

// Quorum thresholds. Fast is the fail-fast existence check used when
// re-validating a stored lease; Robust is required before committing a new
// lease.
const (
	QuorumFast   = 1
	QuorumRobust = 2
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// A probe response shorter than this is treated as garbage, not an echo.
const minBodyBytes = 5

// Target is one echo endpoint with its own timeout and descriptive identity,
// so failures can be attributed in logs.
type Target struct {
	Name    string
	URL     string
	Timeout time.Duration
}

// TransportFunc builds the HTTP transport used to reach a target through the
// given proxy configuration. Tests substitute a direct transport.
type TransportFunc func(cfg model.ProxyConfig) (http.RoundTripper, error)

// Config holds prober configuration
type Config struct {
	Targets   []Target
	Transport TransportFunc
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Prober checks proxy liveness against a quorum of echo targets.
type Prober struct {
	targets   []Target
	transport TransportFunc
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewProber creates a new prober.
func NewProber(cfg *Config) *Prober {
	if cfg.Transport == nil {
		cfg.Transport = ProxyTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Prober{
		targets:   cfg.Targets,
		transport: cfg.Transport,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// ProxyTransport is the default TransportFunc: an HTTP transport tunneling
// through the config's proxy URL.
func ProxyTransport(cfg model.ProxyConfig) (http.RoundTripper, error) {
	proxyURL, err := cfg.URL()
	if err != nil {
		return nil, err
	}
	return &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout: 15 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		DisableKeepAlives:     true,
	}, nil
}

// IsAlive reports whether the proxy passes at least quorum of the echo
// targets. A missing endpoint or credential pair is a configuration problem,
// logged as such, but still reported as false. Targets are tried in order
// and the decision short-circuits once the quorum is reached.
func (p *Prober) IsAlive(ctx context.Context, cfg model.ProxyConfig, quorum int) bool {
	if err := cfg.Validate(); err != nil {
		p.logger.Error("Probe rejected invalid proxy config", zap.Error(err))
		return false
	}
	if quorum < 1 {
		quorum = QuorumFast
	}

	transport, err := p.transport(cfg)
	if err != nil {
		p.logger.Error("Failed to build proxy transport", zap.Error(err))
		return false
	}

	passed := 0
	for _, target := range p.targets {
		if ctx.Err() != nil {
			p.logger.Warn("Probe canceled",
				zap.String("strategy", cfg.Strategy),
				zap.Error(ctx.Err()))
			return false
		}

		if p.probeOne(ctx, transport, target) {
			passed++
			if passed >= quorum {
				p.logger.Debug("Proxy connectivity confirmed",
					zap.String("strategy", cfg.Strategy),
					zap.Int("passed", passed),
					zap.Int("quorum", quorum))
				return true
			}
		}
	}

	p.logger.Info("Proxy failed connectivity quorum",
		zap.String("strategy", cfg.Strategy),
		zap.String("username", cfg.Redacted()),
		zap.Int("passed", passed),
		zap.Int("quorum", quorum),
		zap.Int("targets", len(p.targets)))
	return false
}

// probeOne fetches a single target and decides pass/fail. All errors are
// swallowed into the boolean.
func (p *Prober) probeOne(ctx context.Context, transport http.RoundTripper, target Target) bool {
	start := time.Now()
	ok := p.fetch(ctx, transport, target)
	duration := time.Since(start)

	result := "pass"
	if !ok {
		result = "fail"
	}
	if p.metrics != nil {
		p.metrics.ProbeRequestsTotal.WithLabelValues(target.Name, result).Inc()
		p.metrics.ProbeDuration.Observe(duration.Seconds())
	}

	p.logger.Debug("Probe target finished",
		zap.String("target", target.Name),
		zap.String("result", result),
		zap.Duration("duration", duration))
	return ok
}

func (p *Prober) fetch(ctx context.Context, transport http.RoundTripper, target Target) bool {
	timeout := target.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.URL, nil)
	if err != nil {
		p.logger.Warn("Probe request build failed",
			zap.String("target", target.Name), zap.Error(err))
		return false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain, application/json, */*")

	client := &http.Client{Transport: transport, Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		p.logger.Warn("Probe target unreachable",
			zap.String("target", target.Name), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("Probe target returned bad status",
			zap.String("target", target.Name),
			zap.Int("status", resp.StatusCode))
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(body))) > minBodyBytes
}
