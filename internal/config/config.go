package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DatasetDir string `toml:"dataset_dir"`
	CacheDir   string `toml:"cache_dir"`
	LogDir     string `toml:"log_dir"`
}

// Analysis contains engine and decoding settings.
type Analysis struct {
	MaxSeconds     int    `toml:"max_seconds"`
	RequestTimeout int    `toml:"request_timeout"`
	WorkerBinary   string `toml:"worker_binary"`
}

// CacheSettings contains configuration for the analysis cache.
type CacheSettings struct {
	Enabled    bool   `toml:"enabled"`
	Path       string `toml:"path"`
	MaxEntries int    `toml:"max_entries"`
}

// CatalogSettings contains configuration for the run-history database.
type CatalogSettings struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Daemon contains daemon lifecycle settings.
type Daemon struct {
	SocketPath string `toml:"socket_path"`
	MinFreeMB  int64  `toml:"min_free_mb"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for sonomap.
type Config struct {
	Paths    Paths           `toml:"paths"`
	Analysis Analysis        `toml:"analysis"`
	Cache    CacheSettings   `toml:"cache"`
	Catalog  CatalogSettings `toml:"catalog"`
	Daemon   Daemon          `toml:"daemon"`
	Logging  Logging         `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sonomap/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and derived defaults filled in. The
// bool return reports whether a file was actually found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sonomap.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// normalize expands home-relative paths and fills derived defaults.
func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.DatasetDir,
		&c.Paths.CacheDir,
		&c.Paths.LogDir,
		&c.Cache.Path,
		&c.Catalog.Path,
		&c.Daemon.SocketPath,
		&c.Analysis.WorkerBinary,
	} {
		if strings.TrimSpace(*field) == "" {
			*field = ""
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}

	if c.Cache.Path == "" && c.Paths.CacheDir != "" {
		c.Cache.Path = filepath.Join(c.Paths.CacheDir, "analysis-cache.json")
	}
	if c.Catalog.Path == "" && c.Paths.CacheDir != "" {
		c.Catalog.Path = filepath.Join(c.Paths.CacheDir, "catalog.db")
	}
	if c.Daemon.SocketPath == "" && c.Paths.CacheDir != "" {
		c.Daemon.SocketPath = filepath.Join(c.Paths.CacheDir, "sonomap.sock")
	}
	return nil
}

// EnsureDirectories creates the directories required for operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.CacheDir, "sonomap.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
