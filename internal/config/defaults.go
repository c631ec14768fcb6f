package config

// Default returns the baseline configuration before any file overrides.
// Paths stay home-relative here; Load expands them during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DatasetDir: "~/music",
			CacheDir:   "~/.cache/sonomap",
			LogDir:     "~/.local/share/sonomap/logs",
		},
		Analysis: Analysis{
			MaxSeconds:     30,
			RequestTimeout: 60,
		},
		Cache: CacheSettings{
			Enabled:    true,
			MaxEntries: 500,
		},
		Catalog: CatalogSettings{
			Enabled: true,
		},
		Daemon: Daemon{
			MinFreeMB: 64,
		},
		Logging: Logging{
			Format: "text",
			Level:  "info",
		},
	}
}
