package daemon

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"sonomap/internal/cache"
	"sonomap/internal/catalog"
	"sonomap/internal/config"
	"sonomap/internal/dataset"
	"sonomap/internal/decode"
	"sonomap/internal/engine"
	"sonomap/internal/logging"
	"sonomap/internal/pipeline"
	"sonomap/internal/services"
	"sonomap/internal/worker"
)

// EngineWorkerCommand is the hidden subcommand the daemon passes when it
// re-executes its own binary as the engine worker.
const EngineWorkerCommand = "engine-worker"

// StatusSnapshot is a point-in-time view of the daemon for IPC clients.
type StatusSnapshot struct {
	Running     bool
	StartedAt   time.Time
	DatasetDir  string
	Fingerprint string
	EngineReady bool
	Progress    pipeline.Progress
	LastRun     *pipeline.Summary
	CacheStats  cache.Stats
}

// Daemon owns the analysis service state.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *cache.Cache
	history *catalog.Catalog
	channel *worker.Channel
	lock    *flock.Flock

	mu          sync.Mutex
	startedAt   time.Time
	running     bool
	engineReady bool
	fingerprint string
	progress    pipeline.Progress
	lastRun     *pipeline.Summary

	rescan   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// Option adjusts daemon construction, mainly for tests.
type Option func(*options)

type options struct {
	transport func() (worker.Transport, error)
}

// WithTransport overrides the engine worker transport factory.
func WithTransport(factory func() (worker.Transport, error)) Option {
	return func(o *options) { o.transport = factory }
}

// New builds a daemon from configuration. The cache and catalog are opened
// here; the engine worker is not started until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "setup", "create directories", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		binary := cfg.Analysis.WorkerBinary
		if binary == "" {
			self, err := os.Executable()
			if err != nil {
				return nil, services.Wrap(services.ErrConfiguration, "daemon", "setup", "resolve own binary for engine worker", err)
			}
			binary = self
		}
		o.transport = worker.ProcessTransport(binary, EngineWorkerCommand)
	}

	logger = logging.NewComponentLogger(logger, "daemon")

	cachePath := cfg.Cache.Path
	if !cfg.Cache.Enabled {
		// A pathless cache is a functional no-op.
		cachePath = ""
	}
	store := cache.New(cachePath, logger, cache.WithMaxEntries(cfg.Cache.MaxEntries))

	var history *catalog.Catalog
	if cfg.Catalog.Enabled && cfg.Catalog.Path != "" {
		var err error
		history, err = catalog.Open(cfg.Catalog.Path, logger)
		if err != nil {
			logger.Warn("run history unavailable",
				logging.Error(err),
				logging.String(logging.FieldEventType, "catalog_open_failed"),
				logging.String(logging.FieldImpact, "runs will not be recorded"))
		}
	}

	channel := worker.NewChannel(o.transport, logger,
		worker.WithTimeout(time.Duration(cfg.Analysis.RequestTimeout)*time.Second))

	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		history: history,
		channel: channel,
		lock:    flock.New(cfg.LockPath()),
		rescan:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}, nil
}

// Run acquires the instance lock, starts the engine worker, processes the
// dataset once, then serves rescan requests until stopped. It blocks until
// the context is canceled or Shutdown is called.
func (d *Daemon) Run(ctx context.Context) error {
	if err := checkFreeSpace(d.cfg.Paths.CacheDir, d.cfg.Daemon.MinFreeMB); err != nil {
		return err
	}

	locked, err := d.lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "lock", "acquire instance lock", err)
	}
	if !locked {
		return services.Wrap(services.ErrConfiguration, "daemon", "lock", "another sonomap daemon holds the lock", nil)
	}
	defer func() { _ = d.lock.Unlock() }()

	d.mu.Lock()
	d.running = true
	d.startedAt = time.Now().UTC()
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	if err := d.channel.Initialize(ctx); err != nil {
		// Degraded mode: every file falls back to a synthetic result.
		d.logger.Warn("engine worker unavailable, running degraded",
			logging.Error(err),
			logging.String(logging.FieldEventType, "engine_init_failed"),
			logging.String(logging.FieldErrorHint, "check the worker binary and analysis.worker_binary"),
			logging.String(logging.FieldImpact, "all results will be synthetic until restart"))
	} else {
		d.mu.Lock()
		d.engineReady = true
		d.mu.Unlock()
	}
	defer d.channel.Terminate()

	d.logger.Info("daemon started",
		logging.String("dataset_dir", d.cfg.Paths.DatasetDir),
		logging.Bool("engine_ready", d.EngineReady()))

	if err := d.runOnce(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping", logging.String("reason", "context canceled"))
			return ctx.Err()
		case <-d.stop:
			d.logger.Info("daemon stopping", logging.String("reason", "stop requested"))
			return nil
		case <-d.rescan:
			if err := d.runOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// runOnce scans the dataset and processes it through the pipeline.
func (d *Daemon) runOnce(ctx context.Context) error {
	records, err := dataset.Load(d.cfg.Paths.DatasetDir)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "scan", "load dataset", err)
	}
	fingerprint := dataset.Fingerprint(records)

	d.mu.Lock()
	d.fingerprint = fingerprint
	d.progress = pipeline.Progress{Total: len(records)}
	d.mu.Unlock()

	d.logger.Info("dataset scanned",
		logging.Int("files", len(records)),
		logging.String("fingerprint", fingerprint))

	decoder := &decode.WAVDecoder{MaxSamples: d.cfg.Analysis.MaxSeconds * engine.SampleRate}

	opts := []pipeline.Option{
		pipeline.WithProgress(func(pr pipeline.Progress) {
			d.mu.Lock()
			d.progress = pr
			d.mu.Unlock()
		}),
	}

	var run *catalog.Run
	if d.history != nil {
		run, err = d.history.BeginRun(ctx, d.cfg.Paths.DatasetDir, fingerprint)
		if err != nil {
			d.logger.Warn("failed to begin catalog run",
				logging.Error(err),
				logging.String(logging.FieldEventType, "catalog_begin_failed"),
				logging.String(logging.FieldImpact, "this run will not appear in history"))
		} else {
			opts = append(opts, pipeline.WithRecorder(run))
		}
	}

	processor := pipeline.New(d.store, d.channel, decoder, d.logger, opts...)
	summary, runErr := processor.Run(ctx, records)

	d.mu.Lock()
	d.lastRun = &summary
	d.mu.Unlock()

	if run != nil {
		if err := run.Finish(context.WithoutCancel(ctx), summary); err != nil {
			d.logger.Warn("failed to finish catalog run", logging.Error(err))
		}
	}
	return runErr
}

// Shutdown asks Run to return. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// RequestRescan queues another dataset pass. Back-to-back requests coalesce.
func (d *Daemon) RequestRescan() {
	select {
	case d.rescan <- struct{}{}:
	default:
	}
}

// EngineReady reports whether the worker handshake succeeded.
func (d *Daemon) EngineReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engineReady
}

// Status returns a point-in-time snapshot for IPC clients.
func (d *Daemon) Status() StatusSnapshot {
	d.mu.Lock()
	snapshot := StatusSnapshot{
		Running:     d.running,
		StartedAt:   d.startedAt,
		DatasetDir:  d.cfg.Paths.DatasetDir,
		Fingerprint: d.fingerprint,
		EngineReady: d.engineReady,
		Progress:    d.progress,
		LastRun:     d.lastRun,
	}
	d.mu.Unlock()

	snapshot.CacheStats = d.store.Stats()
	return snapshot
}

// Cache exposes the analysis cache for IPC handlers.
func (d *Daemon) Cache() *cache.Cache {
	return d.store
}

// History exposes the run catalog for IPC handlers. May be nil.
func (d *Daemon) History() *catalog.Catalog {
	return d.history
}

// Close releases resources that outlive Run.
func (d *Daemon) Close() error {
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}
