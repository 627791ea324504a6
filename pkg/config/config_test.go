package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paddock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.HA.StartRetry)
	assert.Equal(t, 120*time.Second, cfg.HA.VmOpWaitInterval)
	assert.Equal(t, 5, cfg.HA.VmOpLockStateRetry)
	assert.Equal(t, 60*time.Second, cfg.HA.PingInterval)
	assert.Equal(t, 0.2, cfg.DRS.IterationsFraction)
	assert.Equal(t, 0.5, cfg.DRS.ImbalanceThreshold)
	assert.False(t, cfg.DRS.AutomaticEnable)
	assert.Equal(t, "firstfit", cfg.Planner.Default)
}

func TestLoadFileAndClusterOverrides(t *testing.T) {
	path := writeConfig(t, `
ha:
  start_retry: 3
  ping_interval: 5s
drs:
  imbalance_threshold: 0.3
  automatic_interval: 30m
  clusters:
    c2:
      automatic_enable: true
      automatic_interval: 5m
      algorithm: condensed
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.HA.StartRetry)
	assert.Equal(t, 5*time.Second, cfg.HA.PingInterval)
	assert.Equal(t, 4, cfg.HA.Workers)

	c1 := cfg.DRSForCluster("c1")
	assert.False(t, c1.AutomaticEnable)
	assert.Equal(t, 30*time.Minute, c1.AutomaticInterval)
	assert.Equal(t, 0.3, c1.ImbalanceThreshold)
	assert.Equal(t, "balanced", c1.Algorithm)

	c2 := cfg.DRSForCluster("c2")
	assert.True(t, c2.AutomaticEnable)
	assert.Equal(t, 5*time.Minute, c2.AutomaticInterval)
	assert.Equal(t, 0.3, c2.ImbalanceThreshold)
	assert.Equal(t, "condensed", c2.Algorithm)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("PADDOCK_HA_START_RETRY", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.HA.StartRetry)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero start retry", func(c *Config) { c.HA.StartRetry = 0 }},
		{"zero lock retry", func(c *Config) { c.HA.VmOpLockStateRetry = 0 }},
		{"fraction above one", func(c *Config) { c.DRS.IterationsFraction = 1.5 }},
		{"unknown metric type", func(c *Config) { c.DRS.MetricType = "peak" }},
		{"unknown metric", func(c *Config) { c.DRS.Metric = "gpu" }},
		{"no deploy attempts", func(c *Config) { c.Planner.MaxDeployAttempts = 0 }},
		{"unknown agent probe", func(c *Config) { c.HA.AgentProbe = "icmp" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
