// Package cache is a content-addressable store of analyzer results. An entry
// is keyed by the item's bytes, the rubric and the model, so renamed files
// still hit and any change to the three inputs forces a fresh analysis.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/persist"
)

// EntryVersion is the current cache entry format.
const EntryVersion = "1.0"

// DirName is the per-project cache directory.
const DirName = ".cache"

// ErrNotFound is returned by HashContent when the item does not exist.
var ErrNotFound = errors.New("item not found")

// Entry is one memoized analyzer result. PhotoFilename is diagnostic only;
// the key does not depend on it.
type Entry struct {
	Version       string          `json:"version"`
	CacheKey      string          `json:"cacheKey"`
	PhotoFilename string          `json:"photoFilename"`
	Result        json.RawMessage `json:"result"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Meta carries the diagnostic fields stored beside a result.
type Meta struct {
	PhotoFilename string
}

// Stats describes a project's cache directory and this manager's counters.
type Stats struct {
	TotalEntries   int   `json:"totalEntries"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	MemoryEntries  int   `json:"memoryEntries,omitempty"`
	MemoryBytes    int64 `json:"memoryBytes,omitempty"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// Manager reads and writes cache entries. It is safe for concurrent use;
// concurrent writers never observe each other's partial files.
type Manager struct {
	codec  persist.Codec
	logger *slog.Logger
	now    func() time.Time
	memory *memoryLayer

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithCompression stores entries as LZ4-compressed JSON.
func WithCompression() Option {
	return func(m *Manager) { m.codec = persist.NewLZ4Codec(nil) }
}

// WithMemoryLimit keeps up to maxBytes of result payloads in memory in front
// of the disk. Zero or negative disables the layer.
func WithMemoryLimit(maxBytes int64) Option {
	return func(m *Manager) {
		m.memory = nil
		if maxBytes > 0 {
			m.memory = newMemoryLayer(maxBytes)
		}
	}
}

// WithLogger sets the logger for degraded reads and writes.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a cache manager storing plain JSON entries.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		codec:  persist.NewCompactJSONCodec(),
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Dir returns the cache directory for projectDir.
func Dir(projectDir string) string {
	return filepath.Join(projectDir, DirName)
}

// HashContent returns the hex SHA-256 of the file at path, read as a stream.
func HashContent(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return "", fmt.Errorf("open item: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()

	_, copyErr := io.Copy(hasher, file)
	if copyErr != nil {
		return "", fmt.Errorf("hash item %s: %w", path, copyErr)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ComputeKey returns the hex SHA-256 of contentHash, configHash and modelID
// concatenated in that order.
func ComputeKey(contentHash, configHash, modelID string) string {
	sum := sha256.Sum256([]byte(contentHash + configHash + modelID))

	return hex.EncodeToString(sum[:])
}

// Get returns the entry stored under key. Absent directories, absent files,
// corrupted entries and IO failures that persist after one retry are all
// reported as a miss.
func (m *Manager) Get(projectDir, key string) (*Entry, bool) {
	dir := Dir(projectDir)
	path := filepath.Join(dir, key)

	if m.memory != nil {
		if entry, ok := m.memory.get(path); ok {
			m.hits.Add(1)

			return entry, true
		}
	}

	var entry Entry

	err := persist.Retry(persist.DefaultAttempts, persist.DefaultRetryDelay, func() error {
		entry = Entry{}

		return persist.LoadState(dir, key, m.codec, &entry)
	})

	switch {
	case err == nil && entry.CacheKey == key && entry.Result != nil:
	case err == nil:
		m.logger.Warn("ignoring cache entry with mismatched key", "key", key, "stored_key", entry.CacheKey)
		m.misses.Add(1)

		return nil, false
	case errors.Is(err, os.ErrNotExist):
		m.misses.Add(1)

		return nil, false
	default:
		m.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		m.misses.Add(1)

		return nil, false
	}

	m.hits.Add(1)

	if m.memory != nil {
		m.memory.put(path, &entry)
	}

	return &entry, true
}

// Put stores result under key, creating the cache directory on first use.
// An existing entry with the same key is overwritten.
func (m *Manager) Put(projectDir, key string, result json.RawMessage, meta Meta) error {
	dir := Dir(projectDir)

	entry := &Entry{
		Version:       EntryVersion,
		CacheKey:      key,
		PhotoFilename: meta.PhotoFilename,
		Result:        result,
		CreatedAt:     m.now().UTC(),
	}

	err := persist.Retry(persist.DefaultAttempts, persist.DefaultRetryDelay, func() error {
		return persist.SaveState(dir, key, m.codec, entry)
	})
	if err != nil {
		return fmt.Errorf("store cache entry %s: %w", key, err)
	}

	if m.memory != nil {
		m.memory.put(filepath.Join(dir, key), entry)
	}

	return nil
}

// Clear removes the project's cache directory. A missing directory is not an error.
func (m *Manager) Clear(projectDir string) error {
	if m.memory != nil {
		m.memory.clear()
	}

	err := os.RemoveAll(Dir(projectDir))
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	return nil
}

// Stats counts the entries on disk for projectDir and reports this
// manager's lookup counters. In-flight temp files are not counted.
func (m *Manager) Stats(projectDir string) (Stats, error) {
	st := Stats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
	}

	if m.memory != nil {
		st.MemoryEntries, st.MemoryBytes = m.memory.stats()
	}

	dirEntries, err := os.ReadDir(Dir(projectDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}

		return st, fmt.Errorf("read cache dir: %w", err)
	}

	ext := m.codec.Extension()

	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || persist.IsTemp(name) || !strings.HasSuffix(name, ext) {
			continue
		}

		info, infoErr := dirEntry.Info()
		if infoErr != nil {
			// Removed between ReadDir and Info.
			continue
		}

		st.TotalEntries++
		st.TotalSizeBytes += info.Size()
	}

	return st, nil
}
