// Package services defines shared utilities consumed by the analysis
// pipeline and its integrations.
//
// Key responsibilities:
//   - Context helpers that stamp file paths and correlation identifiers
//     for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     (engine unavailable, timeout, decode, validation, configuration) so
//     the batch processor can account for them consistently before
//     absorbing them into synthetic fallbacks.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
