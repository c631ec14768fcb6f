package worker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"sonomap/internal/analysis"
	"sonomap/internal/logging"
	"sonomap/internal/services"
	"sonomap/internal/worker"
)

type stubEngine struct {
	result analysis.Result
	err    error
}

func (s stubEngine) Analyze(signal []float64, name string) (analysis.Result, error) {
	return s.result, s.err
}

func engineResult() analysis.Result {
	return analysis.Result{
		Energy:      0.6,
		Mood:        0.4,
		Key:         "G",
		Scale:       analysis.ScaleMajor,
		Tempo:       132,
		KeyStrength: 0.75,
		Structure:   "dynamic",
	}
}

// pipeTransport joins two in-memory pipes into the channel's transport.
type pipeTransport struct {
	reads     *io.PipeReader
	writes    *io.PipeWriter
	closeOnce sync.Once
}

func (p *pipeTransport) Read(b []byte) (int, error)  { return p.reads.Read(b) }
func (p *pipeTransport) Write(b []byte) (int, error) { return p.writes.Write(b) }
func (p *pipeTransport) Close() error {
	p.closeOnce.Do(func() {
		p.writes.Close()
		p.reads.Close()
	})
	return nil
}

// newServedChannel wires a channel to a live Serve loop over in-memory pipes.
func newServedChannel(t *testing.T, eng worker.Engine, opts ...worker.Option) *worker.Channel {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	transport := &pipeTransport{reads: respR, writes: reqW}

	go func() {
		_ = worker.Serve(reqR, respW, eng, logging.NewNop())
		respW.Close()
	}()

	ch := worker.NewChannel(func() (worker.Transport, error) { return transport, nil }, logging.NewNop(), opts...)
	t.Cleanup(ch.Terminate)
	return ch
}

// scriptedChannel exposes the raw request/response pipes so tests can play
// out-of-protocol scenarios (dropped responses, stray ids).
func scriptedChannel(t *testing.T, opts ...worker.Option) (*worker.Channel, *json.Decoder, *json.Encoder) {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	transport := &pipeTransport{reads: respR, writes: reqW}

	ch := worker.NewChannel(func() (worker.Transport, error) { return transport, nil }, logging.NewNop(), opts...)
	t.Cleanup(ch.Terminate)
	return ch, json.NewDecoder(reqR), json.NewEncoder(respW)
}

// answerInit consumes the init request and confirms the handshake. Errors
// are surfaced indirectly: Initialize fails when the handshake is broken.
func answerInit(dec *json.Decoder, enc *json.Encoder) error {
	var env worker.Envelope
	if err := dec.Decode(&env); err != nil {
		return err
	}
	if env.Type != worker.TypeInit {
		return fmt.Errorf("expected init request, got %q", env.Type)
	}
	return enc.Encode(worker.Envelope{Type: worker.TypeInitComplete, ID: env.ID})
}

func TestAnalyzeRoundTrip(t *testing.T) {
	ch := newServedChannel(t, stubEngine{result: engineResult()})

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	got, err := ch.Analyze(ctx, []float64{0.1, -0.2, 0.3}, "a.wav")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got != engineResult() {
		t.Fatalf("result mismatch: got %+v", got)
	}
	if n := ch.PendingCount(); n != 0 {
		t.Fatalf("expected no pending requests after completion, got %d", n)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	ch := newServedChannel(t, stubEngine{result: engineResult()})

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize must be a no-op: %v", err)
	}
}

func TestAnalyzeBeforeInitializeFailsFast(t *testing.T) {
	ch := worker.NewChannel(func() (worker.Transport, error) {
		t.Fatal("transport must not start before Initialize")
		return nil, nil
	}, logging.NewNop())

	_, err := ch.Analyze(context.Background(), []float64{0.1}, "a.wav")
	if !errors.Is(err, services.ErrEngineUnavailable) {
		t.Fatalf("expected engine-unavailable marker, got %v", err)
	}
}

func TestEngineErrorSurfacesAsError(t *testing.T) {
	ch := newServedChannel(t, stubEngine{err: errors.New("signal too noisy")})

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := ch.Analyze(ctx, []float64{0.1, 0.2}, "b.wav")
	if err == nil {
		t.Fatal("expected error from failing engine")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestRequestTimeoutRemovesPending(t *testing.T) {
	ch, dec, enc := scriptedChannel(t, worker.WithTimeout(60*time.Millisecond))

	initDone := make(chan struct{})
	var analyzeID uint64
	go func() {
		defer close(initDone)
		if err := answerInit(dec, enc); err != nil {
			return
		}
		// Swallow the analyze request without responding.
		var env worker.Envelope
		if err := dec.Decode(&env); err != nil {
			return
		}
		analyzeID = env.ID
	}()

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	start := time.Now()
	_, err := ch.Analyze(ctx, []float64{0.5}, "slow.wav")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > time.Second {
		t.Fatalf("timeout fired outside expected window: %v", elapsed)
	}
	if n := ch.PendingCount(); n != 0 {
		t.Fatalf("pending request must be removed on timeout, got %d", n)
	}

	// A late response for the expired id must be a no-op.
	<-initDone
	body, _ := json.Marshal(worker.AnalysisPayload{Analysis: engineResult(), FileName: "slow.wav"})
	if err := enc.Encode(worker.Envelope{Type: worker.TypeAnalysisComplete, ID: analyzeID, Payload: body}); err != nil {
		t.Fatalf("encode late response: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := ch.PendingCount(); n != 0 {
		t.Fatalf("late response must not mutate channel state, got %d pending", n)
	}
}

func TestBlockedWriteTimesOutAndTerminates(t *testing.T) {
	ch, dec, enc := scriptedChannel(t, worker.WithTimeout(80*time.Millisecond))

	// Confirm the handshake, then stop draining the request pipe entirely
	// so the next envelope write blocks mid-transport.
	go func() {
		_ = answerInit(dec, enc)
	}()

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	start := time.Now()
	_, err := ch.Analyze(ctx, make([]float64, 50000), "wedged.wav")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("blocked write must be bounded by the request timeout, took %v", elapsed)
	}
	if n := ch.PendingCount(); n != 0 {
		t.Fatalf("pending request must be removed on timeout, got %d", n)
	}

	// Terminate must not queue behind the stuck writer.
	done := make(chan struct{})
	go func() {
		ch.Terminate()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Terminate blocked behind a wedged transport write")
	}
}

func TestUnknownCorrelationIDIsDiscarded(t *testing.T) {
	ch, dec, enc := scriptedChannel(t)

	go func() {
		if err := answerInit(dec, enc); err != nil {
			return
		}
		var env worker.Envelope
		if err := dec.Decode(&env); err != nil {
			return
		}
		// A stray response first, then the real one.
		body, _ := json.Marshal(worker.AnalysisPayload{Analysis: engineResult()})
		_ = enc.Encode(worker.Envelope{Type: worker.TypeAnalysisComplete, ID: env.ID + 1000, Payload: body})
		_ = enc.Encode(worker.Envelope{Type: worker.TypeAnalysisComplete, ID: env.ID, Payload: body})
	}()

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	got, err := ch.Analyze(ctx, []float64{0.2}, "c.wav")
	if err != nil {
		t.Fatalf("Analyze despite stray response: %v", err)
	}
	if got != engineResult() {
		t.Fatalf("result mismatch: %+v", got)
	}
}

func TestTimeoutLogCarriesCorrelationID(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	transport := &pipeTransport{reads: respR, writes: reqW}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ch := worker.NewChannel(func() (worker.Transport, error) { return transport, nil },
		logger, worker.WithTimeout(60*time.Millisecond))
	t.Cleanup(ch.Terminate)
	dec, enc := json.NewDecoder(reqR), json.NewEncoder(respW)

	go func() {
		if err := answerInit(dec, enc); err != nil {
			return
		}
		// Swallow the analyze request so it times out.
		var env worker.Envelope
		_ = dec.Decode(&env)
	}()

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := ch.Analyze(ctx, []float64{0.1}, "slow.wav"); !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}

	// Init took id 1, so the analyze request is id 2.
	if !strings.Contains(buf.String(), "correlation_id=2") {
		t.Fatalf("timeout log must carry the correlation id, got: %s", buf.String())
	}
}

func TestTerminateFailsPendingRequests(t *testing.T) {
	ch, dec, enc := scriptedChannel(t)

	go func() {
		if err := answerInit(dec, enc); err != nil {
			return
		}
		// Leave the analyze request hanging.
		var env worker.Envelope
		_ = dec.Decode(&env)
	}()

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Analyze(ctx, []float64{0.3}, "d.wav")
		errCh <- err
	}()

	// Give the request a moment to register, then tear everything down.
	time.Sleep(20 * time.Millisecond)
	ch.Terminate()

	select {
	case err := <-errCh:
		if !errors.Is(err, services.ErrEngineUnavailable) {
			t.Fatalf("expected engine-unavailable marker, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not failed by Terminate")
	}

	if _, err := ch.Analyze(ctx, []float64{0.4}, "e.wav"); !errors.Is(err, services.ErrEngineUnavailable) {
		t.Fatalf("analyze after terminate must fail fast, got %v", err)
	}
}

func TestCorrelationIDsAreMonotonic(t *testing.T) {
	ch, dec, enc := scriptedChannel(t)

	ids := make(chan uint64, 8)
	go func() {
		if err := answerInit(dec, enc); err != nil {
			return
		}
		for {
			var env worker.Envelope
			if err := dec.Decode(&env); err != nil {
				return
			}
			ids <- env.ID
			body, _ := json.Marshal(worker.AnalysisPayload{Analysis: engineResult()})
			_ = enc.Encode(worker.Envelope{Type: worker.TypeAnalysisComplete, ID: env.ID, Payload: body})
		}
	}()

	ctx := context.Background()
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var last uint64
	for i := 0; i < 3; i++ {
		if _, err := ch.Analyze(ctx, []float64{0.1}, "f.wav"); err != nil {
			t.Fatalf("Analyze %d: %v", i, err)
		}
		id := <-ids
		if id <= last {
			t.Fatalf("correlation ids must increase: %d after %d", id, last)
		}
		last = id
	}
}
