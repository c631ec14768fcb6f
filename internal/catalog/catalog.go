package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"sonomap/internal/dataset"
	"sonomap/internal/logging"
	"sonomap/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump it when the schema
// changes; mismatched catalogs must be deleted and recreated.
const schemaVersion = 1

// ErrSchemaMismatch indicates the catalog schema version does not match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Catalog wraps the SQLite run-history database.
type Catalog struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// RunSummary mirrors one row of the runs table.
type RunSummary struct {
	ID          string
	DatasetDir  string
	Fingerprint string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Total       int
	Cached      int
	Analyzed    int
	Fallback    int
	Completed   bool
}

// Open initializes or connects to the catalog database at path and verifies
// the schema.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	c := &Catalog{db: db, path: path, logger: logging.NewComponentLogger(logger, "catalog")}
	if err := c.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Catalog) initSchema(ctx context.Context) error {
	var tableExists int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return c.createSchema(ctx)
	}

	var version int
	err = c.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: catalog has version %d, expected %d (delete %s to recreate)",
			ErrSchemaMismatch, version, schemaVersion, c.path)
	}
	return nil
}

func (c *Catalog) createSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// BeginRun inserts a new run row and returns a recorder for it.
func (c *Catalog) BeginRun(ctx context.Context, datasetDir, fingerprint string) (*Run, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (id, dataset_dir, fingerprint, started_at) VALUES (?, ?, ?, ?)`,
		id, datasetDir, fingerprint, now)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{id: id, catalog: c}, nil
}

// ListRuns returns the most recent runs, newest first.
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, dataset_dir, fingerprint, started_at, finished_at,
		        total, cached, analyzed, fallback, completed
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			run         RunSummary
			startedRaw  string
			finishedRaw sql.NullString
			completed   int
		)
		if err := rows.Scan(&run.ID, &run.DatasetDir, &run.Fingerprint, &startedRaw, &finishedRaw,
			&run.Total, &run.Cached, &run.Analyzed, &run.Fallback, &completed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if started, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
			run.StartedAt = started
		}
		if finishedRaw.Valid {
			if finished, err := time.Parse(time.RFC3339Nano, finishedRaw.String); err == nil {
				run.FinishedAt = &finished
			}
		}
		run.Completed = completed != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FileCount returns the number of per-file rows recorded for a run.
func (c *Catalog) FileCount(ctx context.Context, runID string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM run_files WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count run files: %w", err)
	}
	return count, nil
}

// Run records per-file outcomes for one analysis run. It satisfies the
// pipeline's recorder surface.
type Run struct {
	id      string
	catalog *Catalog
}

var _ pipeline.Recorder = (*Run)(nil)

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// RecordFile persists one file outcome. Failures are logged and swallowed
// so bookkeeping can never stall processing.
func (r *Run) RecordFile(ctx context.Context, record *dataset.Record) {
	if record == nil || record.Analysis == nil {
		return
	}
	_, err := r.catalog.db.ExecContext(ctx,
		`INSERT INTO run_files (run_id, path, name, size, source, key, scale, tempo, energy, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id,
		record.Path,
		record.Name,
		record.Size,
		string(record.Source),
		record.Analysis.Key,
		record.Analysis.Scale,
		record.Analysis.Tempo,
		record.Analysis.Energy,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		r.catalog.logger.Warn("failed to record file outcome",
			logging.Error(err),
			logging.String(logging.FieldEventType, "catalog_record_failed"),
			logging.String(logging.FieldFilePath, record.Path),
			logging.String(logging.FieldImpact, "run history will be incomplete"))
	}
}

// Finish stamps the run with its final counters and completion time.
func (r *Run) Finish(ctx context.Context, summary pipeline.Summary) error {
	_, err := r.catalog.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, total = ?, cached = ?, analyzed = ?, fallback = ?, completed = ?
		 WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		summary.Total,
		summary.Cached,
		summary.Analyzed,
		summary.Fallback,
		boolToInt(summary.Completed),
		r.id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
