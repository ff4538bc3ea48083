// Package tokendb maintains the local copy of the token metadata database
// published by the orchestrator. The database maps token identifiers to the
// media assets a scan should present; it is small by contract and replaced
// wholesale on every successful sync.
package tokendb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	// MaxDatabaseBytes bounds the published file. Oversized files are
	// refused outright rather than truncated.
	MaxDatabaseBytes = 50 * 1024
	// MaxTokens bounds the entry count after parsing.
	MaxTokens = 50

	tempSuffix = ".tmp"
)

var (
	ErrDatabaseTooLarge = errors.New("token database exceeds size limit")
	ErrTooManyTokens    = errors.New("token database exceeds token limit")
	ErrNotFound         = errors.New("token not found")
)

// TokenRecord describes the media bound to one token.
type TokenRecord struct {
	Video           string `json:"video,omitempty"`
	Image           string `json:"image,omitempty"`
	Audio           string `json:"audio,omitempty"`
	ProcessingImage string `json:"processingImage,omitempty"`
}

// HasMedia reports whether the record points at anything presentable.
func (r TokenRecord) HasMedia() bool {
	return r.Video != "" || r.Image != "" || r.Audio != ""
}

// ResolvePath turns a database-relative asset reference into a path under
// assetDir. Absolute references are kept as published.
func ResolvePath(assetDir, asset string) string {
	if asset == "" {
		return ""
	}
	if filepath.IsAbs(asset) {
		return asset
	}
	return filepath.Join(assetDir, asset)
}

// VideoPath resolves the record's video asset under assetDir.
func (r TokenRecord) VideoPath(assetDir string) string { return ResolvePath(assetDir, r.Video) }

// ImagePath resolves the record's image asset under assetDir.
func (r TokenRecord) ImagePath(assetDir string) string { return ResolvePath(assetDir, r.Image) }

// AudioPath resolves the record's audio asset under assetDir.
func (r TokenRecord) AudioPath(assetDir string) string { return ResolvePath(assetDir, r.Audio) }

// Store holds the current database in memory and mirrors it to one file on
// disk. Reads are lock-cheap; installs replace the whole map.
type Store struct {
	path   string
	mu     sync.RWMutex
	tokens map[string]TokenRecord
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("token database path must not be empty")
	}
	return &Store{path: path, tokens: map[string]TokenRecord{}}, nil
}

// Load reads the on-disk copy left by a previous run. A missing file is a
// fresh device, not an error; an unreadable file is discarded so the next
// sync can replace it.
func (s *Store) Load() (int, error) {
	payload, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	tokens, err := parseDatabase(payload)
	if err != nil {
		removeErr := os.Remove(s.path)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return 0, removeErr
		}
		return 0, fmt.Errorf("discarding unreadable token database: %w", err)
	}
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	return len(tokens), nil
}

// Install validates payload against the size and count bounds, writes it to
// disk via a temp-file rename, and swaps the in-memory map. On any error
// the previous database stays active.
func (s *Store) Install(payload []byte) (int, error) {
	if len(payload) > MaxDatabaseBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrDatabaseTooLarge, len(payload))
	}
	tokens, err := parseDatabase(payload)
	if err != nil {
		return 0, err
	}
	if len(tokens) > MaxTokens {
		return 0, fmt.Errorf("%w: %d tokens", ErrTooManyTokens, len(tokens))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return 0, err
	}
	tmpPath := s.path + tempSuffix
	if err := os.WriteFile(tmpPath, payload, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	return len(tokens), nil
}

// Lookup returns the record for one token identifier.
func (s *Store) Lookup(tokenID string) (TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.tokens[tokenID]
	if !ok {
		return TokenRecord{}, fmt.Errorf("%w: %s", ErrNotFound, tokenID)
	}
	return record, nil
}

// Count returns the number of known tokens.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// TokenIDs returns the known identifiers in sorted order, for diagnostics.
func (s *Store) TokenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func parseDatabase(payload []byte) (map[string]TokenRecord, error) {
	var tokens map[string]TokenRecord
	if err := json.Unmarshal(payload, &tokens); err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = map[string]TokenRecord{}
	}
	for id := range tokens {
		if strings.TrimSpace(id) == "" {
			return nil, errors.New("token database contains an empty token id")
		}
	}
	return tokens, nil
}
