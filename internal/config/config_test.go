package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "aggressive", cfg.Mode)
	assert.Equal(t, time.Minute, cfg.DiagnosticInterval)
	assert.Equal(t, 5*time.Second, cfg.PredictiveInterval)
	assert.Equal(t, 3, cfg.MaxConcurrentRepairs)
	assert.Equal(t, 3, cfg.Learning.MinSamples)
	assert.InDelta(t, 0.7, cfg.Learning.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 70, cfg.Predict.PreventionThreshold)
	assert.Equal(t, "buffer_reset", cfg.Predict.DefaultActions["voice_pipeline"])
	assert.False(t, cfg.Docker.Enabled)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autonomic.yaml")
	content := `
mode: conservative
diagnostic_interval: 30s
max_concurrent_repairs: 5
learning:
  min_samples: 10
predict:
  prevention_threshold: 80
  default_actions:
    asset_ledger: reconnect
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "conservative", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.DiagnosticInterval)
	assert.Equal(t, 5, cfg.MaxConcurrentRepairs)
	assert.Equal(t, 10, cfg.Learning.MinSamples)
	assert.Equal(t, 80, cfg.Predict.PreventionThreshold)
	assert.Equal(t, "reconnect", cfg.Predict.DefaultActions["asset_ledger"])
	// Untouched keys keep defaults.
	assert.Equal(t, 5*time.Second, cfg.PredictiveInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad mode", mutate: func(c *Config) { c.Mode = "reckless" }},
		{name: "zero diagnostic interval", mutate: func(c *Config) { c.DiagnosticInterval = 0 }},
		{name: "zero predictive interval", mutate: func(c *Config) { c.PredictiveInterval = 0 }},
		{name: "zero repair cap", mutate: func(c *Config) { c.MaxConcurrentRepairs = 0 }},
		{name: "negative dispatch rate", mutate: func(c *Config) { c.RepairDispatchRate = -1 }},
		{name: "threshold too high", mutate: func(c *Config) { c.Predict.PreventionThreshold = 101 }},
		{name: "confidence above one", mutate: func(c *Config) { c.Learning.ConfidenceThreshold = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AUTONOMIC_MODE", "standard")
	t.Setenv("AUTONOMIC_MAX_CONCURRENT_REPAIRS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "standard", cfg.Mode)
	assert.Equal(t, 7, cfg.MaxConcurrentRepairs)
}
