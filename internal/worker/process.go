package worker

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// killGracePeriod bounds how long Close waits for the worker to exit after
// SIGTERM before escalating to SIGKILL.
const killGracePeriod = 2 * time.Second

// processTransport runs the engine in a child process and exposes its
// stdin/stdout pipes as the channel transport.
type processTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// ProcessTransport returns a transport factory that spawns the given
// command. The production caller passes the sonomap binary itself with the
// hidden engine-worker subcommand.
func ProcessTransport(binary string, args ...string) func() (Transport, error) {
	return func() (Transport, error) {
		cmd := exec.Command(binary, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start engine worker: %w", err)
		}
		return &processTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

func (p *processTransport) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *processTransport) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Close shuts the worker down: closing stdin lets the serve loop exit on
// EOF and SIGTERM asks a live process to stop. A worker that ignores both
// is killed after the grace period so Close cannot hang on a wedged child.
func (p *processTransport) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}

		waited := make(chan error, 1)
		go func() { waited <- p.cmd.Wait() }()

		var err error
		select {
		case err = <-waited:
		case <-time.After(killGracePeriod):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			err = <-waited
		}
		if err != nil {
			// An exit error is expected when the worker dies to our signal.
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				p.closeErr = err
			}
		}
	})
	return p.closeErr
}
