package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tokenworks/uplink/internal/uplink"
)

const sampleYAML = `
orchestrator:
  base_url: http://orch.local:3000/
  send_timeout_ms: 4000
device:
  team_id: "042"
queue:
  dsn: /var/lib/uplink/queue.jsonl
  capacity: 80
sync:
  batch_limit: 5
  sync_tokens: true
  token_db_path: /var/lib/uplink/tokens.json
diagnostics:
  listen_addr: 0.0.0.0:9180
`

func loadSample(t *testing.T, yaml string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uplink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	return cfg
}

func TestLoadValidateNormalize(t *testing.T) {
	cfg := loadSample(t, sampleYAML)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)

	// http upgraded, trailing slash trimmed.
	require.Equal(t, "https://orch.local:3000", cfg.Orchestrator.BaseURL)
	require.Equal(t, 4000, cfg.Orchestrator.SendTimeoutMs)
	require.Equal(t, int(uplink.DefaultBatchTimeout.Milliseconds()), cfg.Orchestrator.BatchTimeoutMs)
	require.Equal(t, 80, cfg.Queue.Capacity)
	require.Equal(t, int64(uplink.DefaultCorruptionLimit), cfg.Queue.CorruptionLimitBytes)
	require.Equal(t, 5, cfg.Sync.BatchLimit)
	require.Equal(t, int(uplink.DefaultProbePeriod.Milliseconds()), cfg.Sync.ProbePeriodMs)
	require.Equal(t, "0.0.0.0:9180", cfg.Diagnostics.ListenAddr)
}

func TestNormalizeKeepsInsecureHTTPWhenAllowed(t *testing.T) {
	cfg := loadSample(t, strings.Replace(sampleYAML,
		"base_url: http://orch.local:3000/",
		"base_url: http://orch.local:3000/\n  allow_insecure_http: true", 1))
	require.NoError(t, Validate(cfg))
	Normalize(cfg)
	require.Equal(t, "http://orch.local:3000", cfg.Orchestrator.BaseURL)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Orchestrator.BaseURL = "" }},
		{"bad scheme", func(c *Config) { c.Orchestrator.BaseURL = "ftp://orch.local" }},
		{"team id too short", func(c *Config) { c.Device.TeamID = "42" }},
		{"team id not digits", func(c *Config) { c.Device.TeamID = "04x" }},
		{"negative capacity", func(c *Config) { c.Queue.Capacity = -1 }},
		{"tokens without path", func(c *Config) { c.Sync.SyncTokens = true; c.Sync.TokenDBPath = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadSample(t, sampleYAML)
			tc.mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}

func TestEnsureDeviceIDGeneratesAndPersists(t *testing.T) {
	cfg := loadSample(t, sampleYAML)
	cfg.Device.IDFile = filepath.Join(t.TempDir(), "device-id")

	id, err := EnsureDeviceID(cfg)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "uplink-"))

	again, err := EnsureDeviceID(cfg)
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestEnsureDeviceIDPrefersConfigured(t *testing.T) {
	cfg := loadSample(t, sampleYAML)
	cfg.Device.ID = "scanner-07"
	id, err := EnsureDeviceID(cfg)
	require.NoError(t, err)
	require.Equal(t, "scanner-07", id)
}
