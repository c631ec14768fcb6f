// Package catalog persists analysis run history to SQLite.
//
// The catalog is observational bookkeeping: a record of which datasets were
// processed, when, and with what outcome per file. Processing never depends
// on it, so recording failures are logged and swallowed instead of
// propagated.
package catalog
