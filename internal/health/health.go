package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Checker tracks the liveness and readiness of the daemon. Readiness
// degrades when the data directory stops being writable, since every lease
// grant has to be persisted there.
type Checker struct {
	dataDir string
	logger  *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// CheckResult is the outcome of a single named check.
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChecker creates a checker for the given data directory.
func NewChecker(dataDir string, logger *zap.Logger) *Checker {
	return &Checker{
		dataDir:     dataDir,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: true,
	}
}

// Start runs checks every interval until the context is cancelled.
func (c *Checker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.RunChecks()

	for {
		select {
		case <-ticker.C:
			c.RunChecks()
		case <-ctx.Done():
			c.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks executes all checks once and updates the aggregate state.
func (c *Checker) RunChecks() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastCheck = time.Now()

	allReady := true
	for _, check := range []func() CheckResult{
		c.checkDataDirWritable,
		c.checkLeaseFile,
		c.checkDiskSpace,
	} {
		result := check()
		c.checks[result.Name] = result
		if result.Status == "critical" {
			allReady = false
		}
	}

	// Liveness only asserts the process is responsive, which running this
	// function already demonstrates.
	c.livenessOK = true
	c.readinessOK = allReady

	c.logger.Debug("Health check completed",
		zap.Bool("ready", c.readinessOK),
		zap.Int("checks", len(c.checks)))
}

// checkDataDirWritable verifies the data directory exists and accepts writes.
func (c *Checker) checkDataDirWritable() CheckResult {
	now := time.Now()

	info, err := os.Stat(c.dataDir)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_writable",
			Status:    "critical",
			Message:   fmt.Sprintf("Data directory not accessible: %v", err),
			Timestamp: now,
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Name:      "data_dir_writable",
			Status:    "critical",
			Message:   "Data path is not a directory",
			Timestamp: now,
		}
	}

	probe := filepath.Join(c.dataDir, fmt.Sprintf(".health_check_%d", now.UnixNano()))
	f, err := os.Create(probe)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_writable",
			Status:    "critical",
			Message:   fmt.Sprintf("Cannot write to data directory: %v", err),
			Timestamp: now,
		}
	}
	f.Close()
	os.Remove(probe)

	return CheckResult{
		Name:      "data_dir_writable",
		Status:    "healthy",
		Message:   "Data directory is writable",
		Timestamp: now,
	}
}

// checkLeaseFile verifies the persisted lease file, when present, still
// parses. A corrupt file means restarts would silently drop every lease.
func (c *Checker) checkLeaseFile() CheckResult {
	now := time.Now()
	path := filepath.Join(c.dataDir, "leases.json")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return CheckResult{
			Name:      "lease_file",
			Status:    "healthy",
			Message:   "No lease file yet",
			Timestamp: now,
		}
	}
	if err != nil {
		return CheckResult{
			Name:      "lease_file",
			Status:    "warning",
			Message:   fmt.Sprintf("Cannot read lease file: %v", err),
			Timestamp: now,
		}
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		return CheckResult{
			Name:      "lease_file",
			Status:    "warning",
			Message:   fmt.Sprintf("Lease file is corrupt: %v", err),
			Timestamp: now,
		}
	}

	return CheckResult{
		Name:      "lease_file",
		Status:    "healthy",
		Message:   fmt.Sprintf("Lease file parses, %d tenants", len(parsed)),
		Timestamp: now,
	}
}

// checkDiskSpace warns as the volume holding the data directory fills up.
func (c *Checker) checkDiskSpace() CheckResult {
	now := time.Now()

	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.dataDir, &stat); err != nil {
		return CheckResult{
			Name:      "disk_space",
			Status:    "warning",
			Message:   fmt.Sprintf("Failed to stat filesystem: %v", err),
			Timestamp: now,
		}
	}

	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return CheckResult{
			Name:      "disk_space",
			Status:    "warning",
			Message:   "Filesystem reports zero size",
			Timestamp: now,
		}
	}
	used := total - (stat.Bfree * uint64(stat.Bsize))
	usagePercent := float64(used) / float64(total) * 100

	status := "healthy"
	if usagePercent > 95 {
		status = "critical"
	} else if usagePercent > 90 {
		status = "warning"
	}

	return CheckResult{
		Name:      "disk_space",
		Status:    status,
		Message:   fmt.Sprintf("Disk usage: %.2f%%", usagePercent),
		Timestamp: now,
	}
}

// IsLive reports liveness for the kubernetes-style probe.
func (c *Checker) IsLive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.livenessOK
}

// IsReady reports readiness for the kubernetes-style probe.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readinessOK
}

// Checks returns a copy of the latest check results.
func (c *Checker) Checks() map[string]CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]CheckResult, len(c.checks))
	for name, result := range c.checks {
		out[name] = result
	}
	return out
}

// SetReadiness overrides readiness, used while draining during shutdown.
func (c *Checker) SetReadiness(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessOK = ready
}
