// Package analysis defines the feature-analysis contracts shared by the
// engine, worker channel, cache, and batch processor.
//
// A Result is produced atomically by one engine invocation: partial results
// are never observable outside the engine call. When real analysis cannot
// be obtained (engine unavailable, timeout, decode failure) the pipeline
// substitutes a Synthetic result so downstream consumers never see a file
// without analysis. Synthetic results are never persisted to the cache.
package analysis
