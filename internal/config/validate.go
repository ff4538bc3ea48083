package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks configuration correctness. It performs declarative
// validation only and does not mutate the configuration.
func Validate(cfg *Config) error {
	base := strings.TrimSpace(cfg.Orchestrator.BaseURL)
	if base == "" {
		return fmt.Errorf("orchestrator.base_url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("orchestrator.base_url: %w", err)
	}
	// http is accepted here; Normalize upgrades it to https unless the
	// insecure flag opts out.
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("orchestrator.base_url: scheme %q is not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("orchestrator.base_url: host is required")
	}

	if cfg.Device.TeamID != "" && !validTeamID(cfg.Device.TeamID) {
		return fmt.Errorf("device.team_id must be exactly three digits, got %q", cfg.Device.TeamID)
	}

	if cfg.Queue.Capacity < 0 {
		return fmt.Errorf("queue.capacity must not be negative")
	}
	if cfg.Queue.CorruptionLimitBytes < 0 {
		return fmt.Errorf("queue.corruption_limit_bytes must not be negative")
	}
	if cfg.Sync.BatchLimit < 0 {
		return fmt.Errorf("sync.batch_limit must not be negative")
	}
	if cfg.Sync.SyncTokens && strings.TrimSpace(cfg.Sync.TokenDBPath) == "" {
		return fmt.Errorf("sync.token_db_path is required when sync.sync_tokens is set")
	}
	return nil
}

func validTeamID(teamID string) bool {
	if len(teamID) != 3 {
		return false
	}
	for i := 0; i < len(teamID); i++ {
		if teamID[i] < '0' || teamID[i] > '9' {
			return false
		}
	}
	return true
}
