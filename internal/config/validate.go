package config

import (
	"errors"
	"fmt"
	"strings"
)

var validLogFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate checks the configuration for values that would break operation.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DatasetDir) == "" {
		problems = append(problems, "paths.dataset_dir must be set")
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		problems = append(problems, "paths.cache_dir must be set")
	}
	if c.Analysis.MaxSeconds <= 0 {
		problems = append(problems, "analysis.max_seconds must be positive")
	}
	if c.Analysis.RequestTimeout <= 0 {
		problems = append(problems, "analysis.request_timeout must be positive")
	}
	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		problems = append(problems, "cache.max_entries must be positive when the cache is enabled")
	}
	if c.Daemon.MinFreeMB < 0 {
		problems = append(problems, "daemon.min_free_mb must not be negative")
	}
	if _, ok := validLogFormats[c.Logging.Format]; !ok {
		problems = append(problems, fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}
	if _, ok := validLogLevels[c.Logging.Level]; !ok {
		problems = append(problems, fmt.Sprintf("logging.level %q is not debug, info, warn, or error", c.Logging.Level))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
