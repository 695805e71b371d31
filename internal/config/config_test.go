package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesReferenceValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 60*time.Second, cfg.Analyzer.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Analyzer.Window)
	assert.Equal(t, 10, cfg.Analyzer.BruteForce.Threshold)
	assert.Equal(t, 60, cfg.Analyzer.BruteForce.BlockMinutes)
	assert.Contains(t, cfg.Analyzer.BruteForce.Whitelist, "127.0.0.1")
	assert.Equal(t, 20, cfg.Analyzer.Scanning.Threshold)
	assert.Equal(t, 1440, cfg.Analyzer.Scanning.BlockMinutes)
	assert.Empty(t, cfg.Analyzer.Scanning.Whitelist)
	assert.Equal(t, 30*time.Second, cfg.Agent.Interval)
	assert.InDelta(t, 0.4, cfg.Agent.TriggerProbability, 1e-9)
	assert.Equal(t, int64(1_000_000), cfg.Ingestion.LargePayloadBytes)
	assert.Equal(t, 50, cfg.Status.PageSize)
	assert.Empty(t, cfg.Admission.TrustedProxies, "forwarding headers are ignored unless proxies are configured")
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketguard.yaml")
	content := `
http_addr: ":9090"
analyzer:
  interval: 30s
  scanning:
    threshold: 40
    block_minutes: 120
    whitelist: ["10.0.0.5"]
agent:
  trigger_probability: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("AGENT_TRIGGER_PROBABILITY", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.Analyzer.Interval)
	assert.Equal(t, 40, cfg.Analyzer.Scanning.Threshold)
	assert.Equal(t, []string{"10.0.0.5"}, cfg.Analyzer.Scanning.Whitelist)
	assert.Equal(t, 10, cfg.Analyzer.BruteForce.Threshold, "unset fields keep defaults")
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.InDelta(t, 0.25, cfg.Agent.TriggerProbability, 1e-9)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"probability above one", func(c *Config) { c.Agent.TriggerProbability = 1.5 }},
		{"zero analyzer interval", func(c *Config) { c.Analyzer.Interval = 0 }},
		{"zero block minutes", func(c *Config) { c.Analyzer.Scanning.BlockMinutes = 0 }},
		{"negative delay", func(c *Config) { c.Agent.PatchDelay = -time.Second }},
		{"zero page size", func(c *Config) { c.Status.PageSize = 0 }},
		{"malformed trusted proxy", func(c *Config) { c.Admission.TrustedProxies = []string{"10.0.0.0/99"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
