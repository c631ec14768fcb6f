package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"sonomap/internal/config"
)

// NewConfig returns a validated configuration rooted in a per-test temp
// directory, with the dataset directory already created.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DatasetDir = filepath.Join(dir, "music")
	cfg.Paths.CacheDir = filepath.Join(dir, "cache")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Cache.Path = filepath.Join(dir, "cache", "analysis-cache.json")
	cfg.Catalog.Path = filepath.Join(dir, "cache", "catalog.db")
	cfg.Daemon.SocketPath = filepath.Join(dir, "cache", "sonomap.sock")

	if err := os.MkdirAll(cfg.Paths.DatasetDir, 0o755); err != nil {
		t.Fatalf("create dataset dir: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}
