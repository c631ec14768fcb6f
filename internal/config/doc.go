// Package config loads, validates, and defaults sonomap's TOML
// configuration.
package config
