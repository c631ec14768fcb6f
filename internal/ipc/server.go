package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"sonomap/internal/daemon"
	"sonomap/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Sonomap", &service{daemon: d, logger: logger}); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "a stale socket may block future starts"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
}

// Status returns a daemon snapshot.
func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	snapshot := s.daemon.Status()
	*resp = StatusResponse{
		Running:         snapshot.Running,
		StartedAt:       snapshot.StartedAt,
		DatasetDir:      snapshot.DatasetDir,
		Fingerprint:     snapshot.Fingerprint,
		EngineReady:     snapshot.EngineReady,
		ProgressCurrent: snapshot.Progress.Current,
		ProgressTotal:   snapshot.Progress.Total,
		ProgressCached:  snapshot.Progress.Cached,
		CacheEntries:    snapshot.CacheStats.Entries,
		CacheBytes:      snapshot.CacheStats.SerializedBytes,
		CacheMaxEntries: snapshot.CacheStats.MaxEntries,
	}
	if snapshot.LastRun != nil {
		resp.LastRun = &RunStats{
			Total:     snapshot.LastRun.Total,
			Cached:    snapshot.LastRun.Cached,
			Analyzed:  snapshot.LastRun.Analyzed,
			Fallback:  snapshot.LastRun.Fallback,
			Completed: snapshot.LastRun.Completed,
		}
	}
	return nil
}

// Stop asks the daemon to shut down.
func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Shutdown()
	resp.Stopping = true
	return nil
}

// Rescan queues another dataset pass.
func (s *service) Rescan(_ RescanRequest, resp *RescanResponse) error {
	s.daemon.RequestRescan()
	resp.Queued = true
	return nil
}

// CacheStats returns analysis cache diagnostics.
func (s *service) CacheStats(_ CacheStatsRequest, resp *CacheStatsResponse) error {
	stats := s.daemon.Cache().Stats()
	*resp = CacheStatsResponse{
		Entries:         stats.Entries,
		SerializedBytes: stats.SerializedBytes,
		MaxEntries:      stats.MaxEntries,
	}
	return nil
}

// CacheList returns cached entries, hottest first.
func (s *service) CacheList(_ CacheListRequest, resp *CacheListResponse) error {
	for _, entry := range s.daemon.Cache().Entries() {
		resp.Entries = append(resp.Entries, CacheEntry{
			FileName:     entry.FileName,
			Path:         entry.Path,
			Size:         entry.Size,
			Key:          entry.Analysis.Key,
			Scale:        entry.Analysis.Scale,
			Tempo:        entry.Analysis.Tempo,
			Energy:       entry.Analysis.Energy,
			CachedAt:     entry.CachedAt,
			LastAccessed: entry.LastAccessed,
		})
	}
	return nil
}

// CacheClear drops all cached analyses.
func (s *service) CacheClear(_ CacheClearRequest, resp *CacheClearResponse) error {
	resp.Dropped = s.daemon.Cache().Count()
	return s.daemon.Cache().Clear()
}

// RunList returns recent run history.
func (s *service) RunList(req RunListRequest, resp *RunListResponse) error {
	history := s.daemon.History()
	if history == nil {
		return errors.New("run history is disabled")
	}
	runs, err := history.ListRuns(context.Background(), req.Limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, RunRecord{
			ID:          run.ID,
			DatasetDir:  run.DatasetDir,
			Fingerprint: run.Fingerprint,
			StartedAt:   run.StartedAt,
			FinishedAt:  run.FinishedAt,
			Stats: RunStats{
				Total:     run.Total,
				Cached:    run.Cached,
				Analyzed:  run.Analyzed,
				Fallback:  run.Fallback,
				Completed: run.Completed,
			},
		})
	}
	return nil
}
