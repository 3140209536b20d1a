package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/egresskit/stickyd/internal/probe"
)

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RateLimiterConfig holds admin surface rate limiting configuration
type RateLimiterConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// ProviderConfig holds the base credential triple for the egress provider.
// Username and password are normally supplied via environment variables.
type ProviderConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TargetConfig is one entry of the candidate pool
type TargetConfig struct {
	City   string `yaml:"city"`
	Region string `yaml:"region"`
}

// ProbeTargetConfig is one echo endpoint used for connectivity checks
type ProbeTargetConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LeaseConfig holds lease engine configuration
type LeaseConfig struct {
	DataDir           string        `yaml:"data_dir"`
	CallCeiling       time.Duration `yaml:"call_ceiling"`
	HistoryCap        int           `yaml:"history_cap"`
	ConsistencyWindow int           `yaml:"consistency_window"`
}

// RevalidateConfig holds background revalidation configuration
type RevalidateConfig struct {
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for the lease daemon
type Config struct {
	Server      ServerConfig        `yaml:"server"`
	RateLimiter RateLimiterConfig   `yaml:"rate_limiter"`
	Provider    ProviderConfig      `yaml:"provider"`
	Pool        []TargetConfig      `yaml:"pool"`
	Probes      []ProbeTargetConfig `yaml:"probes"`
	Lease       LeaseConfig         `yaml:"lease"`
	Revalidate  RevalidateConfig    `yaml:"revalidate"`
	Metrics     MetricsConfig       `yaml:"metrics"`
	Logging     LoggingConfig       `yaml:"logging"`
}

// LoadConfig loads configuration from a file, applies environment overrides
// and validates the result. The file may be absent as long as the required
// values arrive via environment variables.
func LoadConfig(filePath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filePath)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	setDefaults(&cfg)
	applyEnvironmentOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultPool is the fixed ordered list of attribute targets known to be
// accepted reliably by the upstream provider. Order matters: the tenant hash
// indexes into it.
func DefaultPool() []TargetConfig {
	return []TargetConfig{
		{City: "phoenix", Region: "arizona"},
		{City: "scottsdale", Region: "arizona"},
		{City: "tempe", Region: "arizona"},
		{City: "mesa", Region: "arizona"},
		{City: "losangeles", Region: "california"},
		{City: "sandiego", Region: "california"},
		{City: "miami", Region: "florida"},
		{City: "orlando", Region: "florida"},
		{City: "chicago", Region: "illinois"},
		{City: "newyork", Region: "newyork"},
	}
}

// DefaultProbes returns the default echo endpoints with their individual
// timeouts.
func DefaultProbes() []ProbeTargetConfig {
	return []ProbeTargetConfig{
		{Name: "HTTPBin", URL: "http://httpbin.org/ip", Timeout: 10 * time.Second},
		{Name: "ICanHazIP", URL: "http://icanhazip.com", Timeout: 8 * time.Second},
		{Name: "IPify", URL: "https://api.ipify.org", Timeout: 12 * time.Second},
		{Name: "AWS CheckIP", URL: "http://checkip.amazonaws.com", Timeout: 10 * time.Second},
	}
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// GetLease may walk every tier; the write timeout must outlast the
		// engine's call ceiling.
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RateLimiter.RequestsPerSecond == 0 {
		cfg.RateLimiter.RequestsPerSecond = 10
	}
	if cfg.RateLimiter.BurstSize == 0 {
		cfg.RateLimiter.BurstSize = 20
	}
	if cfg.Provider.Endpoint == "" {
		cfg.Provider.Endpoint = "residential-proxy.soax.com:9000"
	}
	if len(cfg.Pool) == 0 {
		cfg.Pool = DefaultPool()
	}
	if len(cfg.Probes) == 0 {
		cfg.Probes = DefaultProbes()
	}
	if cfg.Lease.DataDir == "" {
		cfg.Lease.DataDir = "./account_data"
	}
	if cfg.Lease.CallCeiling == 0 {
		cfg.Lease.CallCeiling = 90 * time.Second
	}
	if cfg.Lease.HistoryCap == 0 {
		cfg.Lease.HistoryCap = 50
	}
	if cfg.Lease.ConsistencyWindow == 0 {
		cfg.Lease.ConsistencyWindow = 5
	}
	if cfg.Revalidate.Workers == 0 {
		cfg.Revalidate.Workers = 4
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	if username := os.Getenv("SOAX_USERNAME"); username != "" {
		cfg.Provider.Username = username
	}
	if password := os.Getenv("SOAX_PASSWORD"); password != "" {
		cfg.Provider.Password = password
	}
	if endpoint := os.Getenv("SOAX_ENDPOINT"); endpoint != "" {
		cfg.Provider.Endpoint = endpoint
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.Lease.DataDir = dataDir
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Provider.Username == "" {
		return fmt.Errorf("provider.username is required (or SOAX_USERNAME)")
	}
	if c.Provider.Password == "" {
		return fmt.Errorf("provider.password is required (or SOAX_PASSWORD)")
	}
	if c.Provider.Endpoint == "" {
		return fmt.Errorf("provider.endpoint is required")
	}
	if len(c.Pool) == 0 {
		return fmt.Errorf("pool must not be empty")
	}
	for i, t := range c.Pool {
		if t.City == "" || t.Region == "" {
			return fmt.Errorf("pool[%d]: city and region are required", i)
		}
	}
	// New-lease commits need a robust quorum of passing probes; fewer
	// targets than that can never grant a lease.
	if len(c.Probes) < probe.QuorumRobust {
		return fmt.Errorf("probes: at least %d targets are required", probe.QuorumRobust)
	}
	for i, p := range c.Probes {
		if p.URL == "" {
			return fmt.Errorf("probes[%d]: url is required", i)
		}
	}
	if c.Lease.HistoryCap < 1 {
		return fmt.Errorf("lease.history_cap must be positive")
	}
	if c.Lease.ConsistencyWindow < 1 {
		return fmt.Errorf("lease.consistency_window must be positive")
	}
	return nil
}
