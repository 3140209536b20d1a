package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  username: package-309866
  password: secret
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 90*time.Second, cfg.Lease.CallCeiling)
	assert.Equal(t, 50, cfg.Lease.HistoryCap)
	assert.Equal(t, 5, cfg.Lease.ConsistencyWindow)
	assert.Equal(t, 4, cfg.Revalidate.Workers)
	assert.Len(t, cfg.Pool, 10)
	assert.Len(t, cfg.Probes, 4)
	assert.Equal(t, "phoenix", cfg.Pool[0].City)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
provider:
  endpoint: custom.example.com:7000
  username: user
  password: pass
pool:
  - city: austin
    region: texas
lease:
  call_ceiling: 45s
  history_cap: 10
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "custom.example.com:7000", cfg.Provider.Endpoint)
	assert.Equal(t, 45*time.Second, cfg.Lease.CallCeiling)
	assert.Equal(t, 10, cfg.Lease.HistoryCap)
	require.Len(t, cfg.Pool, 1)
	assert.Equal(t, "austin", cfg.Pool[0].City)
	assert.Equal(t, "texas", cfg.Pool[0].Region)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SOAX_USERNAME", "env-user")
	t.Setenv("SOAX_PASSWORD", "env-pass")
	t.Setenv("SOAX_ENDPOINT", "env.example.com:9000")
	t.Setenv("DATA_DIR", "/var/lib/stickyd")

	path := writeConfig(t, `
provider:
  username: file-user
  password: file-pass
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env-user", cfg.Provider.Username)
	assert.Equal(t, "env-pass", cfg.Provider.Password)
	assert.Equal(t, "env.example.com:9000", cfg.Provider.Endpoint)
	assert.Equal(t, "/var/lib/stickyd", cfg.Lease.DataDir)
}

func TestLoadConfig_MissingFileWithEnvCredentials(t *testing.T) {
	t.Setenv("SOAX_USERNAME", "env-user")
	t.Setenv("SOAX_PASSWORD", "env-pass")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-user", cfg.Provider.Username)
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	t.Setenv("SOAX_USERNAME", "")
	t.Setenv("SOAX_PASSWORD", "")

	path := writeConfig(t, `
server:
  port: 8080
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username")
}

func TestLoadConfig_TooFewProbeTargets(t *testing.T) {
	path := writeConfig(t, `
provider:
  username: user
  password: pass
probes:
  - name: OnlyOne
    url: http://example.com/ip
    timeout: 10s
`)

	// A single echo target can never satisfy the robust commit quorum.
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probes")
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "provider: [not a map")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}
