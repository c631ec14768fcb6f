// Package decode reads PCM WAV files into the mono float signal the
// analysis engine consumes.
//
// Supported encodings are 8/16/24-bit integer PCM and 32-bit IEEE float.
// Multi-channel audio is averaged down to mono. Any parse failure is a
// decode failure to the batch processor: the file never reaches the engine
// and receives a synthetic fallback instead.
package decode
