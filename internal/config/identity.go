package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnsureDeviceID resolves the device identity. An explicit configured ID
// wins; otherwise a previously persisted ID is reused; otherwise a new one
// is generated and persisted so the orchestrator sees a stable identity
// across reboots.
func EnsureDeviceID(cfg *Config) (string, error) {
	if id := strings.TrimSpace(cfg.Device.ID); id != "" {
		return id, nil
	}

	stored, err := os.ReadFile(cfg.Device.IDFile)
	if err == nil {
		if id := strings.TrimSpace(string(stored)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	id := "uplink-" + uuid.NewString()
	if dir := filepath.Dir(cfg.Device.IDFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(cfg.Device.IDFile, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
