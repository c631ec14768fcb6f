package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sonomap/internal/analysis"
	"sonomap/internal/logging"
)

const (
	// StoreVersion tags the persisted layout. Any mismatch on load
	// discards the store wholesale.
	StoreVersion = "1"

	// DefaultMaxEntries bounds the entry count before eviction runs.
	DefaultMaxEntries = 500

	// ByteBudget bounds the serialized store size (4.5 MiB).
	ByteBudget = int64(4608 * 1024)

	// retainFraction of DefaultMaxEntries survives an eviction pass.
	retainFraction = 0.7
)

// File identifies a cacheable audio file.
type File struct {
	Path string
	Size int64
	Name string
}

// Key derives the deterministic cache key for a file. Files sharing a path
// but differing in size intentionally get distinct keys.
func Key(path string, size int64) string {
	return fmt.Sprintf("%s_%d", path, size)
}

// Entry wraps a cached analysis with access metadata and denormalized
// identity fields for diagnostics.
type Entry struct {
	FileName     string          `json:"file_name"`
	Path         string          `json:"path"`
	Size         int64           `json:"size"`
	Analysis     analysis.Result `json:"analysis"`
	CachedAt     time.Time       `json:"cached_at"`
	LastAccessed time.Time       `json:"last_accessed"`
}

type persistedStore struct {
	Version string           `json:"version"`
	Data    map[string]Entry `json:"data"`
}

// Stats reports entry count and estimated serialized size for diagnostics.
type Stats struct {
	Entries         int   `json:"entries"`
	SerializedBytes int64 `json:"serialized_bytes"`
	MaxEntries      int   `json:"max_entries"`
}

// Cache provides thread-safe access to the analysis cache. A Cache with an
// empty path is non-functional: every operation becomes a no-op miss.
type Cache struct {
	path       string
	maxEntries int
	byteBudget int64
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// Option configures optional Cache behavior.
type Option func(*Cache)

// WithMaxEntries overrides the entry-count bound (used by tests).
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithByteBudget overrides the serialized-size bound (used by tests).
func WithByteBudget(n int64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.byteBudget = n
		}
	}
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a cache backed by the JSON file at path. The file is created
// lazily on first Set. An existing store with a mismatched version is
// discarded entirely.
func New(path string, logger *slog.Logger, opts ...Option) *Cache {
	logger = logging.NewComponentLogger(logger, "cache")

	c := &Cache{
		path:       path,
		maxEntries: DefaultMaxEntries,
		byteBudget: ByteBudget,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	if path == "" {
		return c
	}

	if err := c.load(); err != nil {
		logger.Warn("failed to load analysis cache",
			logging.String(logging.FieldEventType, "cache_load_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "cache will start empty"),
			logging.String(logging.FieldImpact, "previously analyzed files will be re-analyzed"))
	}

	return c
}

// Has reports whether an entry exists for the file without touching access
// metadata.
func (c *Cache) Has(file File) bool {
	if c.path == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[Key(file.Path, file.Size)]
	return ok
}

// Get returns the cached analysis for the file. A hit refreshes the entry's
// last-accessed timestamp, which drives eviction ordering.
func (c *Cache) Get(file File) (analysis.Result, bool) {
	if c.path == "" {
		return analysis.Result{}, false
	}
	key := Key(file.Path, file.Size)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return analysis.Result{}, false
	}
	entry.LastAccessed = c.now()
	c.entries[key] = entry
	return entry.Analysis, true
}

// Set inserts or overwrites the entry for the file, evicts if either bound
// is exceeded, then persists the store. Persistence failures are retried
// once after a forced eviction and otherwise swallowed.
func (c *Cache) Set(file File, result analysis.Result) {
	if c.path == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := Key(file.Path, file.Size)
	if existing, ok := c.entries[key]; ok {
		// Overwrite keeps the original creation time.
		now = existing.CachedAt
	}
	c.entries[key] = Entry{
		FileName:     file.Name,
		Path:         file.Path,
		Size:         file.Size,
		Analysis:     result,
		CachedAt:     now,
		LastAccessed: c.now(),
	}

	if len(c.entries) > c.maxEntries {
		c.evict()
	}

	data, err := c.serialize()
	if err != nil {
		c.logger.Warn("failed to serialize analysis cache",
			logging.String(logging.FieldEventType, "cache_serialize_failed"),
			logging.Error(err),
			logging.String(logging.FieldImpact, "analysis will not be reused next session"))
		return
	}
	if int64(len(data)) > c.byteBudget {
		c.evictForced()
		if data, err = c.serialize(); err != nil {
			return
		}
	}

	if err := c.save(data); err == nil {
		return
	}

	// Quota or I/O failure: evict once more and retry exactly once.
	c.evictForced()
	data, serErr := c.serialize()
	if serErr != nil {
		return
	}
	if err := c.save(data); err != nil {
		c.logger.Warn("analysis cache write failed after retry",
			logging.String(logging.FieldEventType, "cache_write_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the cache directory"),
			logging.String(logging.FieldImpact, "analysis will not be reused next session"))
	}
}

// Clear removes all entries and persists the empty store.
func (c *Cache) Clear() error {
	if c.path == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)

	data, err := c.serialize()
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := c.save(data); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	c.logger.Debug("cleared analysis cache")
	return nil
}

// Count returns the number of entries in the cache.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats reports diagnostics about the cache contents.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Entries: len(c.entries), MaxEntries: c.maxEntries}
	if data, err := c.serialize(); err == nil {
		stats.SerializedBytes = int64(len(data))
	}
	return stats
}

// Entries returns all entries sorted by last access descending (hottest
// first) for CLI inspection.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.After(entries[j].LastAccessed)
	})
	return entries
}

// evict keeps only the newest retainFraction of maxEntries by last access.
// Dropping the coldest 30%+ in one pass amortizes eviction cost across many
// insertions. Callers hold the write lock.
func (c *Cache) evict() {
	retain := int(float64(c.maxEntries) * retainFraction)
	if len(c.entries) <= retain {
		return
	}
	c.evictTo(retain)
}

// evictForced runs after a byte-budget overrun or a failed write, where the
// entry count may already satisfy the count bound. It always sheds load:
// when the count-derived target would be a no-op it drops the coldest 30%
// of whatever is present.
func (c *Cache) evictForced() {
	retain := int(float64(c.maxEntries) * retainFraction)
	if len(c.entries) <= retain {
		retain = int(float64(len(c.entries)) * retainFraction)
	}
	c.evictTo(retain)
}

func (c *Cache) evictTo(retain int) {
	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.After(entries[j].LastAccessed)
	})

	kept := make(map[string]Entry, retain)
	for _, entry := range entries[:retain] {
		kept[Key(entry.Path, entry.Size)] = entry
	}
	dropped := len(c.entries) - len(kept)
	c.entries = kept

	c.logger.Debug("evicted cold cache entries",
		logging.Int("dropped", dropped),
		logging.Int("retained", len(kept)))
}

func (c *Cache) serialize() ([]byte, error) {
	return json.Marshal(persistedStore{Version: StoreVersion, Data: c.entries})
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // fresh start
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var store persistedStore
	if err := json.Unmarshal(data, &store); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}

	if store.Version != StoreVersion {
		c.logger.Info("discarding cache with mismatched version",
			logging.String(logging.FieldEventType, "cache_version_mismatch"),
			logging.String("found", store.Version),
			logging.String("expected", StoreVersion),
			logging.String(logging.FieldImpact, "all files will be re-analyzed once"))
		return nil
	}

	if store.Data != nil {
		c.entries = store.Data
	}
	c.logger.Debug("loaded analysis cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String("path", c.path))
	return nil
}

// save writes the serialized store to disk atomically.
func (c *Cache) save(data []byte) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
