// Package cache is a small name-keyed JSON cache backed by one file per
// entry. It exists for responses that are expensive or impolite to refetch,
// frame listings and geocode lookups mostly, and is always handed to its
// consumers explicitly.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Store reads and writes cache entries under a single directory. A zero TTL
// means entries never go stale on read; Purge is the only way to expire them.
type Store struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

// Option mutates store configuration.
type Option func(*Store)

// WithTTL marks entries older than ttl as misses on read.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the logger used for degraded-path warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(dir string, opts ...Option) *Store {
	store := &Store{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Key joins a cache name with its distinguishing arguments, sanitized so the
// result is always a safe file name.
func Key(name string, args ...string) string {
	parts := append([]string{name}, args...)
	joined := strings.Join(parts, "-")
	return sanitize(joined)
}

func sanitize(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, sanitize(name)+".json")
}

// Get decodes the named entry into dest. The boolean reports a usable hit;
// absent and stale entries are plain misses, a present-but-unreadable entry
// is an error so callers can distinguish corruption from cold cache.
func (s *Store) Get(name string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: stat %s: %w", path, err)
	}
	if s.ttl > 0 && s.now().After(info.ModTime().Add(s.ttl)) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to drop stale cache entry", "path", path, "error", err)
		}
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("cache: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", path, err)
	}
	return true, nil
}

// Put writes the named entry atomically, replacing any previous value.
func (s *Store) Put(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cache: create dir: %w", err)
	}
	path := s.path(name)

	tmp, err := os.CreateTemp(s.dir, "entry-*.json")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmp)
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("cache: encode %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("cache: flush %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("cache: replace %s: %w", path, err)
	}
	success = true

	// Get and Purge judge staleness by mtime; stamp it from the store clock.
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("cache: stamp %s: %w", path, err)
	}
	return nil
}

// Drop removes the named entry if present.
func (s *Store) Drop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: drop %s: %w", name, err)
	}
	return nil
}

// Purge removes entries whose last write is older than olderThan and reports
// how many were removed. olderThan <= 0 clears everything.
func (s *Store) Purge(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: read dir: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("failed to stat cache entry during purge", "name", entry.Name(), "error", err)
			continue
		}
		if olderThan > 0 && info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to purge cache entry", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
