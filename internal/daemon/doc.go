// Package daemon runs the long-lived analysis service: it owns the cache,
// the engine worker channel, and the run-history catalog, and processes the
// configured dataset on demand.
package daemon
