package pipeline

import (
	"context"
	"log/slog"
	"runtime"

	"sonomap/internal/analysis"
	"sonomap/internal/cache"
	"sonomap/internal/dataset"
	"sonomap/internal/logging"
	"sonomap/internal/services"
)

// Decoder supplies a mono float signal for a file, and may fail.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float64, error)
}

// Analyzer is the worker channel surface the processor consumes.
type Analyzer interface {
	Analyze(ctx context.Context, signal []float64, fileName string) (analysis.Result, error)
}

// Recorder observes per-file outcomes for session bookkeeping. Recording is
// observational: failures are logged by the recorder itself and never
// affect processing.
type Recorder interface {
	RecordFile(ctx context.Context, record *dataset.Record)
}

// Progress reports batch completion state after each file resolves.
type Progress struct {
	Current int
	Total   int
	Cached  int
}

// Summary aggregates a finished run.
type Summary struct {
	Total     int
	Cached    int
	Analyzed  int
	Fallback  int
	Completed bool
}

// Processor sequences analysis across a dataset.
type Processor struct {
	cache    *cache.Cache
	analyzer Analyzer
	decoder  Decoder
	logger   *slog.Logger

	yield      func()
	onProgress func(Progress)
	onReady    func()
	recorder   Recorder
}

// Option configures optional Processor behavior.
type Option func(*Processor)

// WithYield replaces the hook invoked between processing sub-steps.
func WithYield(fn func()) Option {
	return func(p *Processor) {
		if fn != nil {
			p.yield = fn
		}
	}
}

// WithProgress registers a callback invoked after each file completes.
func WithProgress(fn func(Progress)) Option {
	return func(p *Processor) { p.onProgress = fn }
}

// WithReady registers a callback invoked once the first file is resolved
// and the dataset is safe to present interactively.
func WithReady(fn func()) Option {
	return func(p *Processor) { p.onReady = fn }
}

// WithRecorder attaches a session bookkeeping sink.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// New constructs a processor over an explicitly owned cache, analyzer, and
// decoder.
func New(c *cache.Cache, analyzer Analyzer, decoder Decoder, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		cache:    c,
		analyzer: analyzer,
		decoder:  decoder,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		yield:    runtime.Gosched,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes every record in order. An empty dataset is immediately
// ready. The error return is reserved for context cancellation; analysis
// failures never surface here.
func (p *Processor) Run(ctx context.Context, records []*dataset.Record) (Summary, error) {
	summary := Summary{Total: len(records)}

	if len(records) == 0 {
		p.ready()
		p.logger.Debug("empty dataset, pipeline immediately ready")
		summary.Completed = true
		return summary, nil
	}

	// Partition: attach cached analyses up front so the cached statistic
	// is known before any engine work starts.
	for _, record := range records {
		if result, ok := p.cache.Get(record.CacheFile()); ok {
			r := result
			record.Analysis = &r
			record.Source = analysis.SourceCache
			summary.Cached++
		}
	}

	// The first file resolves before readiness so an interactive surface
	// has at least one fully analyzed item.
	p.processFile(ctx, records[0])
	p.ready()
	p.report(1, summary)

	for i := 1; i < len(records); i++ {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("batch processing interrupted",
				logging.Error(err),
				logging.String(logging.FieldEventType, "pipeline_interrupted"),
				logging.Int("processed", i),
				logging.Int("total", summary.Total),
				logging.String(logging.FieldImpact, "remaining files keep their previous state"))
			return p.finish(summary, records[:i]), err
		}
		p.yield()
		p.processFile(ctx, records[i])
		p.report(i+1, summary)
	}

	summary = p.finish(summary, records)
	summary.Completed = true
	p.logger.Info("batch processing complete",
		logging.Int("total", summary.Total),
		logging.Int("cached", summary.Cached),
		logging.Int("analyzed", summary.Analyzed),
		logging.Int("fallback", summary.Fallback))
	return summary, nil
}

// processFile resolves one record: cache hit, fresh analysis, or synthetic
// fallback. Every path leaves the record with a non-nil analysis.
func (p *Processor) processFile(ctx context.Context, record *dataset.Record) {
	ctx = services.WithFilePath(ctx, record.Path)
	logger := logging.WithContext(ctx, p.logger)

	if record.Analysis != nil {
		// Attached during partition.
		p.record(ctx, record)
		return
	}

	result, err := p.analyzeFresh(ctx, record)
	if err != nil {
		reason := services.FallbackReason(err)
		logger.Warn("analysis failed, substituting synthetic result",
			logging.Error(err),
			logging.String(logging.FieldEventType, "analysis_fallback"),
			logging.String("reason", reason),
			logging.String(logging.FieldErrorHint, "check the engine worker and source file"),
			logging.String(logging.FieldImpact, "displayed features for this file are randomly generated"))

		synthetic := analysis.Synthetic()
		record.Analysis = &synthetic
		record.Source = analysis.SourceSynthetic
		// Synthetic results are never persisted: caching noise would
		// poison future sessions.
		p.record(ctx, record)
		return
	}

	record.Analysis = &result
	record.Source = analysis.SourceEngine
	p.yield()
	p.cache.Set(record.CacheFile(), result)
	p.record(ctx, record)
}

// analyzeFresh runs decode then engine analysis with a yield point between
// the steps. A decode failure never reaches the worker channel.
func (p *Processor) analyzeFresh(ctx context.Context, record *dataset.Record) (analysis.Result, error) {
	signal, err := p.decoder.Decode(ctx, record.Path)
	if err != nil {
		return analysis.Result{}, err
	}
	if len(signal) == 0 {
		return analysis.Result{}, services.Wrap(services.ErrDecode, "pipeline", "decode", "decoder returned empty signal", nil)
	}
	p.yield()

	result, err := p.analyzer.Analyze(ctx, signal, record.Name)
	if err != nil {
		return analysis.Result{}, err
	}
	if err := result.Validate(); err != nil {
		return analysis.Result{}, services.Wrap(services.ErrValidation, "pipeline", "analyze", "engine returned invalid result", err)
	}
	return result, nil
}

func (p *Processor) finish(summary Summary, processed []*dataset.Record) Summary {
	for _, record := range processed {
		switch record.Source {
		case analysis.SourceEngine:
			summary.Analyzed++
		case analysis.SourceSynthetic:
			summary.Fallback++
		}
	}
	return summary
}

func (p *Processor) ready() {
	if p.onReady != nil {
		p.onReady()
	}
}

func (p *Processor) report(current int, summary Summary) {
	if p.onProgress != nil {
		p.onProgress(Progress{Current: current, Total: summary.Total, Cached: summary.Cached})
	}
}

func (p *Processor) record(ctx context.Context, record *dataset.Record) {
	if p.recorder != nil {
		p.recorder.RecordFile(ctx, record)
	}
}
