package config

import (
	"strings"

	"github.com/tokenworks/uplink/internal/uplink"
)

// Normalize applies post-validation normalization: defaults for every
// unset knob and the http-to-https upgrade. It is allowed to mutate the
// configuration and must be called only after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	base := strings.TrimSpace(cfg.Orchestrator.BaseURL)
	if strings.HasPrefix(base, "http://") && !cfg.Orchestrator.AllowInsecureHTTP {
		base = "https://" + strings.TrimPrefix(base, "http://")
	}
	cfg.Orchestrator.BaseURL = strings.TrimRight(base, "/")

	if cfg.Orchestrator.SendTimeoutMs <= 0 {
		cfg.Orchestrator.SendTimeoutMs = int(uplink.DefaultSendTimeout.Milliseconds())
	}
	if cfg.Orchestrator.BatchTimeoutMs <= 0 {
		cfg.Orchestrator.BatchTimeoutMs = int(uplink.DefaultBatchTimeout.Milliseconds())
	}

	if strings.TrimSpace(cfg.Queue.DSN) == "" {
		cfg.Queue.DSN = "queue.jsonl"
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = uplink.DefaultQueueCapacity
	}
	if cfg.Queue.CorruptionLimitBytes == 0 {
		cfg.Queue.CorruptionLimitBytes = uplink.DefaultCorruptionLimit
	}

	if cfg.Sync.ProbePeriodMs <= 0 {
		cfg.Sync.ProbePeriodMs = int(uplink.DefaultProbePeriod.Milliseconds())
	}
	if cfg.Sync.BatchLimit == 0 {
		cfg.Sync.BatchLimit = uplink.DefaultBatchLimit
	}
	if cfg.Sync.DrainPauseMs <= 0 {
		cfg.Sync.DrainPauseMs = int(uplink.DefaultDrainPause.Milliseconds())
	}

	if strings.TrimSpace(cfg.Device.IDFile) == "" {
		cfg.Device.IDFile = "device-id"
	}
	if strings.TrimSpace(cfg.Diagnostics.ListenAddr) == "" {
		cfg.Diagnostics.ListenAddr = "127.0.0.1:9180"
	}
}
