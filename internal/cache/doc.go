// Package cache provides the persistent analysis cache that lets repeated
// runs over the same dataset skip expensive feature extraction.
//
// Entries are keyed by "<path>_<size>": a file whose byte size changed is
// treated as a new file, which acts as a cheap integrity check. The store
// is a single JSON document carrying a version tag; a version mismatch on
// load discards every entry rather than attempting migration.
//
// Two eviction policies bound growth. When the entry count exceeds the
// configured maximum, one pass keeps only the newest 70% by last access,
// amortizing eviction cost across many insertions. Independently, if the
// serialized store exceeds the byte budget, eviction runs before the write
// is attempted; a write that still fails forces one more eviction and one
// retry, after which the failure is logged and swallowed. Cache writes are
// best-effort and never fatal: the in-memory state stays correct even when
// persistence fails.
package cache
