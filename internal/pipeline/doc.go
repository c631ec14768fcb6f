// Package pipeline drives every file in a dataset through "cache or
// analyze" while keeping the host responsive.
//
// Files are processed strictly sequentially: at most one analyze request is
// outstanding at any time, so no two cache writes for the same key can
// race. The first file is resolved before the processor signals readiness,
// giving an interactive front end at least one fully analyzed item. Between
// every sub-step (decode, analyze, cache write) the processor calls its
// yield hook, bounding any continuous compute stretch on the host side.
//
// Every failure below the processor is absorbed: decode failures, engine
// errors, and timeouts all produce a synthetic analysis for the file, and
// synthetic results are never written to the cache. After a run, every
// record carries a non-nil analysis.
package pipeline
