// Package dataset models the collection of audio files the pipeline
// processes and the loader that discovers them on disk.
//
// Records are created once per discovered file and live for the whole
// session; the batch processor fills in the Analysis field exactly once,
// from cache or from a fresh engine run. Paths are NFC-normalized so cache
// keys stay stable across filesystems that store decomposed Unicode.
package dataset
