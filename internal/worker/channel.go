package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"sonomap/internal/analysis"
	"sonomap/internal/logging"
	"sonomap/internal/services"
)

// DefaultRequestTimeout bounds every request on the channel.
const DefaultRequestTimeout = 60 * time.Second

// Transport moves raw bytes to and from the isolated execution context.
// Close must unblock any in-flight Read.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

type response struct {
	envelope Envelope
	err      error
}

type pendingRequest struct {
	id        uint64
	createdAt time.Time
	done      chan response
}

// Channel is the host side of the worker protocol. It is safe for
// concurrent use, though the batch processor issues at most one analyze
// request at a time.
type Channel struct {
	timeout   time.Duration
	logger    *slog.Logger
	transport func() (Transport, error)

	mu          sync.Mutex
	conn        Transport
	enc         *json.Encoder
	pending     map[uint64]*pendingRequest
	nextID      uint64
	initialized bool
	terminated  bool

	// writeMu serializes envelope writes separately from mu so a blocked
	// transport write can never hold up Terminate.
	writeMu sync.Mutex

	readDone chan struct{}
}

// Option configures optional Channel behavior.
type Option func(*Channel)

// WithTimeout overrides the per-request timeout (used by tests).
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChannel creates a channel whose transport is produced lazily by
// Initialize. The factory runs once per successful Initialize; for the
// production path it spawns the engine-worker child process.
func NewChannel(transport func() (Transport, error), logger *slog.Logger, opts ...Option) *Channel {
	c := &Channel{
		timeout:   DefaultRequestTimeout,
		logger:    logging.NewComponentLogger(logger, "worker-channel"),
		transport: transport,
		pending:   make(map[uint64]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize starts the isolated context and performs the init handshake.
// A second call on an already-initialized channel is a no-op.
func (c *Channel) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return services.Wrap(services.ErrEngineUnavailable, "worker", "initialize", "channel terminated", nil)
	}
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	conn, err := c.transport()
	if err != nil {
		c.mu.Unlock()
		return services.Wrap(services.ErrEngineUnavailable, "worker", "initialize", "start isolated context", err)
	}
	c.conn = conn
	c.enc = json.NewEncoder(conn)
	readDone := make(chan struct{})
	c.readDone = readDone
	go c.readLoop(conn, readDone)
	c.mu.Unlock()

	reply, err := c.request(ctx, TypeInit, nil)
	if err != nil {
		c.Terminate()
		return services.Wrap(services.ErrEngineUnavailable, "worker", "initialize", "init handshake failed", err)
	}
	if reply.Type != TypeInitComplete {
		c.Terminate()
		return services.Wrap(services.ErrEngineUnavailable, "worker", "initialize",
			fmt.Sprintf("unexpected handshake reply %q", reply.Type), nil)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	c.logger.Debug("worker channel initialized")
	return nil
}

// Analyze sends the signal to the isolated context and waits for the
// matching response. Callers must treat any error as grounds for a
// synthetic fallback; analysis failure never stalls a file.
func (c *Channel) Analyze(ctx context.Context, signal []float64, fileName string) (analysis.Result, error) {
	c.mu.Lock()
	ready := c.initialized && !c.terminated
	c.mu.Unlock()
	if !ready {
		return analysis.Result{}, services.Wrap(services.ErrEngineUnavailable, "worker", "analyze", "channel not initialized", nil)
	}

	payload, err := json.Marshal(AnalyzePayload{AudioBuffer: signal, FileName: fileName})
	if err != nil {
		return analysis.Result{}, services.Wrap(services.ErrValidation, "worker", "analyze", "encode request", err)
	}

	reply, err := c.request(ctx, TypeAnalyze, payload)
	if err != nil {
		return analysis.Result{}, err
	}

	switch reply.Type {
	case TypeAnalysisComplete:
		var body AnalysisPayload
		if err := json.Unmarshal(reply.Payload, &body); err != nil {
			return analysis.Result{}, services.Wrap(services.ErrValidation, "worker", "analyze", "decode response", err)
		}
		return body.Analysis, nil
	case TypeError:
		var body ErrorPayload
		if err := json.Unmarshal(reply.Payload, &body); err != nil {
			return analysis.Result{}, services.Wrap(services.ErrTransient, "worker", "analyze", "malformed error response", err)
		}
		return analysis.Result{}, services.Wrap(services.ErrTransient, "worker", "analyze", body.Error, nil)
	default:
		return analysis.Result{}, services.Wrap(services.ErrTransient, "worker", "analyze",
			fmt.Sprintf("unexpected response type %q", reply.Type), nil)
	}
}

// Terminate tears down the isolated context and fails every pending
// request. Subsequent Analyze calls fail fast.
func (c *Channel) Terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	c.initialized = false
	conn := c.conn
	c.conn = nil
	readDone := c.readDone
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.failAll(services.Wrap(services.ErrEngineUnavailable, "worker", "terminate", "channel terminated", nil))
	if readDone != nil {
		<-readDone
	}
	c.logger.Debug("worker channel terminated")
}

// request allocates a correlation id, registers the pending record, writes
// the envelope, and waits for the matching response. The timeout covers the
// write as well as the wait: a worker that stops draining its stdin cannot
// block the request forever.
func (c *Channel) request(ctx context.Context, msgType string, payload json.RawMessage) (Envelope, error) {
	c.mu.Lock()
	if c.terminated || c.enc == nil {
		c.mu.Unlock()
		return Envelope{}, services.Wrap(services.ErrEngineUnavailable, "worker", "request", "channel closed", nil)
	}
	c.nextID++
	id := c.nextID
	req := &pendingRequest{
		id:        id,
		createdAt: time.Now(),
		done:      make(chan response, 1),
	}
	c.pending[id] = req
	enc := c.enc
	c.mu.Unlock()

	// Tag the context so logs on this request carry the correlation id.
	ctx = services.WithRequestID(ctx, strconv.FormatUint(id, 10))

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	// The write runs off the state mutex so Terminate stays reachable while
	// it blocks. A writer stuck on a wedged transport is unblocked by
	// Terminate closing the connection.
	written := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		written <- enc.Encode(Envelope{Type: msgType, ID: id, Payload: payload})
	}()

	for {
		select {
		case err := <-written:
			if err != nil {
				c.removePending(id)
				return Envelope{}, services.Wrap(services.ErrEngineUnavailable, "worker", "request", "write envelope", err)
			}
			// Envelope is on the wire; keep waiting for the response.
			written = nil
		case resp := <-req.done:
			if resp.err != nil {
				return Envelope{}, resp.err
			}
			return resp.envelope, nil
		case <-timer.C:
			// Remove the pending record so a late response becomes a no-op.
			c.removePending(id)
			logging.WithContext(ctx, c.logger).Warn("worker request timed out",
				logging.String(logging.FieldEventType, "worker_request_timeout"),
				logging.String("request_type", msgType),
				logging.String(logging.FieldImpact, "the analysis falls back to a synthetic result"))
			return Envelope{}, services.Wrap(services.ErrTimeout, "worker", "request",
				fmt.Sprintf("no response for %s request %d within %s", msgType, id, c.timeout), nil)
		case <-ctx.Done():
			c.removePending(id)
			return Envelope{}, ctx.Err()
		}
	}
}

// readLoop is the single inbound dispatcher: it matches responses to
// pending requests by correlation id and never crashes on unknown ids.
func (c *Channel) readLoop(conn Transport, done chan struct{}) {
	defer close(done)

	dec := json.NewDecoder(conn)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			c.mu.Lock()
			terminated := c.terminated
			c.mu.Unlock()
			if !terminated && !errors.Is(err, io.EOF) {
				c.logger.Warn("worker channel read failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "worker_read_failed"),
					logging.String(logging.FieldErrorHint, "the engine process may have crashed"),
					logging.String(logging.FieldImpact, "in-flight analyses fall back to synthetic results"))
			}
			c.failAll(services.Wrap(services.ErrEngineUnavailable, "worker", "read", "channel closed", err))
			return
		}

		c.mu.Lock()
		req, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()

		if !ok {
			// Late or stray response: the id was timed out, cancelled,
			// or never issued. Log and discard.
			c.logger.Debug("discarding response with unknown correlation id",
				logging.Uint64(logging.FieldCorrelationID, env.ID),
				logging.String("type", env.Type))
			continue
		}
		req.done <- response{envelope: env}
	}
}

func (c *Channel) removePending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()

	for _, req := range pending {
		req.done <- response{err: err}
	}
}

// PendingCount reports in-flight requests for diagnostics.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
