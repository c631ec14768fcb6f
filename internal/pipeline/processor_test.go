package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sonomap/internal/analysis"
	"sonomap/internal/cache"
	"sonomap/internal/dataset"
	"sonomap/internal/logging"
	"sonomap/internal/pipeline"
	"sonomap/internal/services"
)

type fakeDecoder struct {
	failPaths map[string]bool
	calls     []string
}

func (d *fakeDecoder) Decode(ctx context.Context, path string) ([]float64, error) {
	d.calls = append(d.calls, path)
	if d.failPaths[path] {
		return nil, services.Wrap(services.ErrDecode, "decode", "decode", "unreadable file", errors.New("short read"))
	}
	return []float64{0.25, -0.25, 0.5, -0.5}, nil
}

type fakeAnalyzer struct {
	result analysis.Result
	err    error
	calls  []string
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, signal []float64, fileName string) (analysis.Result, error) {
	a.calls = append(a.calls, fileName)
	return a.result, a.err
}

func engineResult() analysis.Result {
	return analysis.Result{
		Energy:      0.5,
		Mood:        0.3,
		Key:         "D",
		Scale:       analysis.ScaleMinor,
		Tempo:       124,
		KeyStrength: 0.8,
		Structure:   "steady",
	}
}

func newCache(t *testing.T, opts ...cache.Option) *cache.Cache {
	t.Helper()
	return cache.New(filepath.Join(t.TempDir(), "analysis-cache.json"), logging.NewNop(), opts...)
}

func makeRecords(names ...string) []*dataset.Record {
	records := make([]*dataset.Record, 0, len(names))
	for i, name := range names {
		records = append(records, &dataset.Record{
			Path: "/music/" + name,
			Name: name,
			Size: int64(1000 + i),
		})
	}
	return records
}

func TestRunAnalyzesAndCachesEveryFile(t *testing.T) {
	c := newCache(t)
	analyzer := &fakeAnalyzer{result: engineResult()}
	decoder := &fakeDecoder{}

	var progress []pipeline.Progress
	p := pipeline.New(c, analyzer, decoder, logging.NewNop(),
		pipeline.WithProgress(func(pr pipeline.Progress) { progress = append(progress, pr) }))

	records := makeRecords("a.wav", "b.wav", "c.wav")
	summary, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Analyzed != 3 || summary.Cached != 0 || summary.Fallback != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !summary.Completed {
		t.Fatal("summary must be marked completed")
	}
	for _, record := range records {
		if record.Analysis == nil {
			t.Fatalf("record %s left without analysis", record.Name)
		}
		if record.Source != analysis.SourceEngine {
			t.Fatalf("record %s has source %q", record.Name, record.Source)
		}
	}
	if c.Count() != 3 {
		t.Fatalf("expected 3 cached entries, got %d", c.Count())
	}
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress reports, got %d", len(progress))
	}
	for i, pr := range progress {
		if pr.Current != i+1 || pr.Total != 3 || pr.Cached != 0 {
			t.Fatalf("progress %d: %+v", i, pr)
		}
	}
}

func TestRunFallsBackWhenEngineUnavailable(t *testing.T) {
	c := newCache(t)
	analyzer := &fakeAnalyzer{err: services.Wrap(services.ErrEngineUnavailable, "worker", "analyze", "channel not initialized", nil)}
	decoder := &fakeDecoder{}

	p := pipeline.New(c, analyzer, decoder, logging.NewNop())

	records := makeRecords("a.wav", "b.wav", "c.wav", "d.wav")
	summary, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Fallback != 4 || summary.Analyzed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, record := range records {
		if record.Analysis == nil {
			t.Fatalf("record %s must carry a synthetic analysis", record.Name)
		}
		if record.Source != analysis.SourceSynthetic {
			t.Fatalf("record %s has source %q", record.Name, record.Source)
		}
		if err := record.Analysis.Validate(); err != nil {
			t.Fatalf("synthetic analysis for %s invalid: %v", record.Name, err)
		}
	}
	if c.Count() != 0 {
		t.Fatalf("synthetic results must never be cached, got %d entries", c.Count())
	}
}

func TestRunUsesCachedEntriesWithoutReanalyzing(t *testing.T) {
	seededAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := seededAt
	c := newCache(t, cache.WithClock(func() time.Time { return now }))

	records := makeRecords("a.wav", "b.wav", "c.wav")
	cached := engineResult()
	cached.Key = "F"
	c.Set(records[0].CacheFile(), cached)
	now = seededAt.Add(time.Hour)

	analyzer := &fakeAnalyzer{result: engineResult()}
	decoder := &fakeDecoder{}

	var progress []pipeline.Progress
	p := pipeline.New(c, analyzer, decoder, logging.NewNop(),
		pipeline.WithProgress(func(pr pipeline.Progress) { progress = append(progress, pr) }))

	summary, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Cached != 1 || summary.Analyzed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if records[0].Source != analysis.SourceCache {
		t.Fatalf("pre-cached record has source %q", records[0].Source)
	}
	if records[0].Analysis.Key != "F" {
		t.Fatalf("cached analysis not attached: %+v", records[0].Analysis)
	}
	for _, name := range analyzer.calls {
		if name == "a.wav" {
			t.Fatal("cached file must not reach the engine")
		}
	}
	if len(analyzer.calls) != 2 {
		t.Fatalf("expected 2 engine calls, got %v", analyzer.calls)
	}
	if c.Count() != 3 {
		t.Fatalf("expected 3 cache entries after run, got %d", c.Count())
	}
	for _, entry := range c.Entries() {
		if entry.FileName == "a.wav" && !entry.CachedAt.Equal(seededAt) {
			t.Fatalf("cache hit must not rewrite creation time: %v", entry.CachedAt)
		}
	}
	for _, pr := range progress {
		if pr.Cached != 1 {
			t.Fatalf("progress must carry the cached count: %+v", pr)
		}
	}
}

func TestRunDecodeFailureNeverReachesEngine(t *testing.T) {
	c := newCache(t)
	analyzer := &fakeAnalyzer{result: engineResult()}
	decoder := &fakeDecoder{failPaths: map[string]bool{"/music/b.wav": true}}

	p := pipeline.New(c, analyzer, decoder, logging.NewNop())

	records := makeRecords("a.wav", "b.wav", "c.wav")
	summary, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Analyzed != 2 || summary.Fallback != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if records[1].Source != analysis.SourceSynthetic {
		t.Fatalf("undecodable record has source %q", records[1].Source)
	}
	for _, name := range analyzer.calls {
		if name == "b.wav" {
			t.Fatal("undecodable file must not reach the engine")
		}
	}
	if c.Has(records[1].CacheFile()) {
		t.Fatal("failed file must not be cached")
	}
	if c.Count() != 2 {
		t.Fatalf("expected 2 cache entries, got %d", c.Count())
	}
}

func TestRunInvalidEngineResultFallsBack(t *testing.T) {
	bad := engineResult()
	bad.Tempo = -10

	c := newCache(t)
	p := pipeline.New(c, &fakeAnalyzer{result: bad}, &fakeDecoder{}, logging.NewNop())

	records := makeRecords("a.wav")
	summary, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fallback != 1 {
		t.Fatalf("invalid engine output must fall back: %+v", summary)
	}
	if c.Count() != 0 {
		t.Fatal("invalid engine output must not be cached")
	}
}

func TestRunSignalsReadyAfterFirstFile(t *testing.T) {
	c := newCache(t)
	analyzer := &fakeAnalyzer{result: engineResult()}

	var events []string
	p := pipeline.New(c, analyzer, &fakeDecoder{}, logging.NewNop(),
		pipeline.WithReady(func() {
			events = append(events, "ready")
		}),
		pipeline.WithProgress(func(pr pipeline.Progress) {
			events = append(events, "progress")
		}))

	if _, err := p.Run(context.Background(), makeRecords("a.wav", "b.wav")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events) != 3 || events[0] != "ready" {
		t.Fatalf("readiness must precede progress reports: %v", events)
	}
	if len(analyzer.calls) == 0 || analyzer.calls[0] != "a.wav" {
		t.Fatalf("first file must be analyzed before readiness: %v", analyzer.calls)
	}
}

func TestRunEmptyDatasetIsImmediatelyReady(t *testing.T) {
	ready := false
	p := pipeline.New(newCache(t), &fakeAnalyzer{result: engineResult()}, &fakeDecoder{}, logging.NewNop(),
		pipeline.WithReady(func() { ready = true }))

	summary, err := p.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ready {
		t.Fatal("empty dataset must still signal readiness")
	}
	if summary.Total != 0 || !summary.Completed {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	c := newCache(t)
	analyzer := &fakeAnalyzer{result: engineResult()}

	ctx, cancel := context.WithCancel(context.Background())
	p := pipeline.New(c, analyzer, &fakeDecoder{}, logging.NewNop(),
		pipeline.WithProgress(func(pr pipeline.Progress) {
			if pr.Current == 2 {
				cancel()
			}
		}))

	records := makeRecords("a.wav", "b.wav", "c.wav", "d.wav")
	summary, err := p.Run(ctx, records)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if summary.Completed {
		t.Fatal("interrupted run must not be marked completed")
	}
	if summary.Analyzed != 2 {
		t.Fatalf("expected 2 files analyzed before cancellation, got %d", summary.Analyzed)
	}
	if records[3].Analysis != nil {
		t.Fatal("files past the cancellation point must stay untouched")
	}
}

func TestRunYieldsBetweenSteps(t *testing.T) {
	yields := 0
	p := pipeline.New(newCache(t), &fakeAnalyzer{result: engineResult()}, &fakeDecoder{}, logging.NewNop(),
		pipeline.WithYield(func() { yields++ }))

	if _, err := p.Run(context.Background(), makeRecords("a.wav", "b.wav")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Each fresh file yields after decode and after analyze, plus one
	// yield between the two files.
	if yields != 5 {
		t.Fatalf("expected 5 yield points, got %d", yields)
	}
}
