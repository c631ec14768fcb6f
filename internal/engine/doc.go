// Package engine implements the feature extractor the worker process runs.
//
// The extractor maps a decoded mono signal to an analysis.Result using
// inexpensive time-domain heuristics: RMS for energy and loudness, zero
// crossing rate for mood, onset autocorrelation over an energy envelope for
// tempo, a coarse chroma correlation for key and scale, and energy variance
// for the structure label. It is deterministic for a given signal. The
// pipeline treats it as opaque; callers only rely on the Result contract.
//
// Signals are assumed to be mono at the nominal 44.1 kHz rate the decoder
// produces.
package engine
