package scansource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/tokenworks/uplink/internal/uplink"
)

const badSuffix = ".bad"

// spoolRecord is the file format a reader daemon drops into the spool
// directory: one JSON object per file. Device identity and timestamp are
// optional; the source fills them in.
type spoolRecord struct {
	TokenID   string `json:"tokenId"`
	TeamID    string `json:"teamId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SpoolSource watches a directory for scan files written by an external
// reader process. Each .json file is parsed, emitted, and removed; files
// that do not parse are renamed aside so they stop matching the watch and
// can be inspected later.
type SpoolSource struct {
	dir      string
	deviceID string
	logger   uplink.Logger
	events   chan uplink.ScanEvent
}

func NewSpoolSource(dir, deviceID string, logger uplink.Logger) (*SpoolSource, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, uplink.ErrInvalidInput
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SpoolSource{
		dir:      dir,
		deviceID: deviceID,
		logger:   logger,
		events:   make(chan uplink.ScanEvent, 16),
	}, nil
}

func (s *SpoolSource) Events() <-chan uplink.ScanEvent {
	return s.events
}

// Run watches the spool until ctx ends. Files already present at startup
// are drained first so scans taken while the service was down are not lost.
func (s *SpoolSource) Run(ctx context.Context) error {
	defer close(s.events)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting spool watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}

	if err := s.sweep(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if err := s.consume(ctx, event.Name); err != nil {
				return err
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Printf("spool: watch error: %v", watchErr)
		}
	}
}

// sweep consumes every spool file already on disk, oldest name first.
func (s *SpoolSource) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := s.consume(ctx, filepath.Join(s.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *SpoolSource) consume(ctx context.Context, path string) error {
	if !strings.HasSuffix(path, ".json") {
		return nil
	}
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		s.logger.Printf("spool: reading %s: %v", path, err)
		return nil
	}

	var record spoolRecord
	if err := json.Unmarshal(payload, &record); err != nil || strings.TrimSpace(record.TokenID) == "" {
		s.quarantine(path, err)
		return nil
	}

	event := NewScanEvent(record.TokenID, record.TeamID, s.deviceID)
	if record.Timestamp != "" {
		event.Timestamp = record.Timestamp
	}

	select {
	case s.events <- event:
	case <-ctx.Done():
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Printf("spool: removing %s: %v", path, err)
	}
	return nil
}

// quarantine moves a malformed file out of the watch so it is not reparsed
// on every sweep.
func (s *SpoolSource) quarantine(path string, parseErr error) {
	s.logger.Printf("spool: quarantining malformed scan file %s: %v", path, parseErr)
	if err := os.Rename(path, path+badSuffix); err != nil {
		s.logger.Printf("spool: quarantining %s failed: %v", path, err)
	}
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}
