// Package config loads the device configuration from one YAML file read at
// startup. Load parses, Validate checks without mutating, Normalize fills
// defaults and rewrites what validation allowed through. There is no
// runtime reload; a device is reconfigured by restarting it.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Device       DeviceConfig       `yaml:"device"`
	Queue        QueueConfig        `yaml:"queue"`
	Sync         SyncConfig         `yaml:"sync"`
	Diagnostics  DiagnosticsConfig  `yaml:"diagnostics"`
}

type OrchestratorConfig struct {
	// BaseURL is upgraded to https during normalization unless
	// AllowInsecureHTTP is set.
	BaseURL           string `yaml:"base_url"`
	AllowInsecureHTTP bool   `yaml:"allow_insecure_http"`
	// InsecureSkipTLSVerify accepts self-signed certificates, the way lab
	// orchestrators are deployed.
	InsecureSkipTLSVerify bool `yaml:"insecure_skip_tls_verify"`
	SendTimeoutMs         int  `yaml:"send_timeout_ms"`
	BatchTimeoutMs        int  `yaml:"batch_timeout_ms"`
}

type DeviceConfig struct {
	// ID is generated and persisted on first boot when empty.
	ID string `yaml:"id"`
	// TeamID is exactly three digits when set.
	TeamID string `yaml:"team_id"`
	// IDFile is where a generated ID is persisted.
	IDFile string `yaml:"id_file"`
}

type QueueConfig struct {
	// DSN selects the backend: a bare path or file: for the on-device
	// log, memory: for simulation, postgres: for hosted replay rigs.
	DSN                  string `yaml:"dsn"`
	Capacity             int    `yaml:"capacity"`
	CorruptionLimitBytes int64  `yaml:"corruption_limit_bytes"`
}

type SyncConfig struct {
	ProbePeriodMs int    `yaml:"probe_period_ms"`
	BatchLimit    int    `yaml:"batch_limit"`
	DrainPauseMs  int    `yaml:"drain_pause_ms"`
	SyncTokens    bool   `yaml:"sync_tokens"`
	TokenDBPath   string `yaml:"token_db_path"`
	SpoolDir      string `yaml:"spool_dir"`
}

type DiagnosticsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and parses the file. Call Validate then Normalize before use.
func Load(path string) (*Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *OrchestratorConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

func (c *OrchestratorConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMs) * time.Millisecond
}

func (c *SyncConfig) ProbePeriod() time.Duration {
	return time.Duration(c.ProbePeriodMs) * time.Millisecond
}

func (c *SyncConfig) DrainPause() time.Duration {
	return time.Duration(c.DrainPauseMs) * time.Millisecond
}
