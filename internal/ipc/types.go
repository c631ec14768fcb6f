package ipc

import "time"

// StatusRequest asks for a daemon snapshot.
type StatusRequest struct{}

// RunStats carries batch counters for one run.
type RunStats struct {
	Total     int  `json:"total"`
	Cached    int  `json:"cached"`
	Analyzed  int  `json:"analyzed"`
	Fallback  int  `json:"fallback"`
	Completed bool `json:"completed"`
}

// StatusResponse is the daemon snapshot returned to clients.
type StatusResponse struct {
	Running     bool      `json:"running"`
	StartedAt   time.Time `json:"started_at"`
	DatasetDir  string    `json:"dataset_dir"`
	Fingerprint string    `json:"fingerprint"`
	EngineReady bool      `json:"engine_ready"`

	ProgressCurrent int `json:"progress_current"`
	ProgressTotal   int `json:"progress_total"`
	ProgressCached  int `json:"progress_cached"`

	LastRun *RunStats `json:"last_run,omitempty"`

	CacheEntries    int   `json:"cache_entries"`
	CacheBytes      int64 `json:"cache_bytes"`
	CacheMaxEntries int   `json:"cache_max_entries"`
}

// StopRequest asks the daemon to shut down.
type StopRequest struct{}

// StopResponse acknowledges a shutdown request.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}

// RescanRequest asks the daemon to re-scan the dataset and process it.
type RescanRequest struct{}

// RescanResponse acknowledges a rescan request.
type RescanResponse struct {
	Queued bool `json:"queued"`
}

// CacheStatsRequest asks for analysis cache diagnostics.
type CacheStatsRequest struct{}

// CacheStatsResponse reports analysis cache diagnostics.
type CacheStatsResponse struct {
	Entries         int   `json:"entries"`
	SerializedBytes int64 `json:"serialized_bytes"`
	MaxEntries      int   `json:"max_entries"`
}

// CacheEntry is one cached analysis row for CLI listing.
type CacheEntry struct {
	FileName     string    `json:"file_name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Key          string    `json:"key"`
	Scale        string    `json:"scale"`
	Tempo        float64   `json:"tempo"`
	Energy       float64   `json:"energy"`
	CachedAt     time.Time `json:"cached_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// CacheListRequest asks for cached entries, hottest first.
type CacheListRequest struct{}

// CacheListResponse carries cached entries, hottest first.
type CacheListResponse struct {
	Entries []CacheEntry `json:"entries"`
}

// CacheClearRequest asks the daemon to drop the analysis cache.
type CacheClearRequest struct{}

// CacheClearResponse reports how many entries were dropped.
type CacheClearResponse struct {
	Dropped int `json:"dropped"`
}

// RunListRequest asks for recent run history.
type RunListRequest struct {
	Limit int `json:"limit"`
}

// RunRecord is one run-history row.
type RunRecord struct {
	ID          string     `json:"id"`
	DatasetDir  string     `json:"dataset_dir"`
	Fingerprint string     `json:"fingerprint"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Stats       RunStats   `json:"stats"`
}

// RunListResponse carries recent runs, newest first.
type RunListResponse struct {
	Runs []RunRecord `json:"runs"`
}
