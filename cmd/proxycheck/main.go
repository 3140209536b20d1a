// Command proxycheck is a one-shot diagnostic for the provider integration.
// It derives every fallback tier for a tenant id, runs the connectivity
// probes and geolocation verification against each, and prints what an
// operator needs to decide which tier the provider currently accepts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/config"
	"github.com/egresskit/stickyd/internal/model"
	"github.com/egresskit/stickyd/internal/probe"
	"github.com/egresskit/stickyd/internal/selector"
	"github.com/egresskit/stickyd/internal/verify"
)

func main() {
	var (
		configPath = flag.String("config", "./config.yaml", "path to config file")
		tenantID   = flag.String("tenant", "diagnostic", "tenant id to derive tiers for")
		timeout    = flag.Duration("timeout", 2*time.Minute, "overall check timeout")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()

	pool := make([]model.CandidateTarget, 0, len(cfg.Pool))
	for _, target := range cfg.Pool {
		pool = append(pool, model.CandidateTarget{Country: "us", Region: target.Region, City: target.City})
	}

	sel, err := selector.NewSelector(selector.Provider{
		Endpoint: cfg.Provider.Endpoint,
		Username: cfg.Provider.Username,
		Password: cfg.Provider.Password,
	}, pool, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "selector: %v\n", err)
		os.Exit(1)
	}

	probeTargets := make([]probe.Target, 0, len(cfg.Probes))
	for _, t := range cfg.Probes {
		probeTargets = append(probeTargets, probe.Target{Name: t.Name, URL: t.URL, Timeout: t.Timeout})
	}
	prober := probe.NewProber(&probe.Config{Targets: probeTargets, Logger: logger})
	verifier := verify.NewVerifier(&verify.Config{Logger: logger})

	candidates, err := sel.DeriveCandidates(*tenantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "derive: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("Provider endpoint: %s\n", cfg.Provider.Endpoint)
	fmt.Printf("Tenant id:         %s\n", selector.NormalizeTenantID(*tenantID))
	fmt.Printf("Session id:        %s\n\n", selector.SessionID(*tenantID))

	anyAlive := false
	for i, candidate := range candidates {
		fmt.Printf("[%d/%d] %s\n", i+1, len(candidates), candidate.Config.Strategy)
		fmt.Printf("      username: %s\n", candidate.Config.Redacted())

		start := time.Now()
		alive := prober.IsAlive(ctx, candidate.Config, probe.QuorumRobust)
		fmt.Printf("      connectivity: %s (%.1fs)\n", passFail(alive), time.Since(start).Seconds())

		if !alive {
			fmt.Println()
			continue
		}
		anyAlive = true

		result := verifier.Verify(ctx, candidate.Config)
		switch {
		case result.Verified:
			fmt.Printf("      geo: US verified via %s (%s, %s, ip %s)\n",
				result.Service, result.City, result.Region, result.IP)
		case result.HasData:
			fmt.Printf("      geo: target NOT met, observed %s / %s via %s\n",
				result.Country, result.City, result.Service)
		default:
			fmt.Println("      geo: no service reachable, location unknown")
		}
		fmt.Println()
	}

	if !anyAlive {
		fmt.Println("RESULT: no tier passed connectivity. Check credentials and endpoint.")
		os.Exit(1)
	}
	fmt.Println("RESULT: at least one tier is usable.")
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
