// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/cowork-app/cowork/lib/protocol"
)

var (
	// ErrNotRunning is returned by SendCommand when no worker process
	// exists. Callers decide whether to spawn and retry.
	ErrNotRunning = errors.New("worker is not running")

	// ErrWorkerNotFound is returned by Spawn when no worker executable
	// could be located.
	ErrWorkerNotFound = errors.New("worker executable not found")
)

// A WriteError reports a failure to deliver a command over the
// worker's stdin pipe. It usually means the worker died between the
// running check and the write.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing command to worker stdin: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// An EventHandler receives everything the worker produces. HandleEvent
// and HandleDiagnostic are called from the supervisor's reader
// goroutines in arrival order; HandleTermination is called exactly
// once per process, after both output streams have drained.
type EventHandler interface {
	HandleEvent(event protocol.Event)
	HandleDiagnostic(line string)
	HandleTermination(exitCode int, hasCode bool)
}

// Config describes how a Supervisor finds and runs the worker.
type Config struct {
	// BinaryDir is the directory holding packaged worker binaries.
	// Empty means discovery starts at the development fallbacks.
	BinaryDir string

	// Candidates overrides DefaultCandidates when non-empty.
	Candidates []string

	// Handler receives all worker output. Required.
	Handler EventHandler

	// Logger receives supervisor diagnostics. Nil discards them.
	Logger *slog.Logger
}

// A Supervisor manages the lifecycle of a single worker process.
type Supervisor struct {
	binaryDir  string
	candidates []string
	handler    EventHandler
	logger     *slog.Logger

	mu      sync.Mutex
	handle  *handle
	running bool
	ready   bool
}

// handle ties the reader goroutines and the exit watcher to the
// specific process they belong to, so a stale watcher never clears
// state owned by a successor process.
type handle struct {
	command *exec.Cmd
	stdin   io.WriteCloser
}

// New returns a Supervisor with no worker running.
func New(config Config) (*Supervisor, error) {
	if config.Handler == nil {
		return nil, fmt.Errorf("worker supervisor requires an event handler")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		binaryDir:  config.BinaryDir,
		candidates: config.Candidates,
		handler:    config.Handler,
		logger:     logger,
	}, nil
}

// Spawn starts the worker process. It is idempotent: if a worker is
// already running the call succeeds without touching it. The worker is
// considered ready as soon as the process starts; the caller does not
// wait for the worker's own ready event.
func (s *Supervisor) Spawn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return nil
	}

	path, err := Locate(s.binaryDir, s.candidates)
	if err != nil {
		return err
	}

	command := exec.CommandContext(ctx, path)
	stdin, err := command.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening worker stdin: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening worker stdout: %w", err)
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		return fmt.Errorf("opening worker stderr: %w", err)
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("starting worker %s: %w", path, err)
	}

	processHandle := &handle{command: command, stdin: stdin}
	s.handle = processHandle
	s.running = true
	s.ready = true
	s.logger.Info("worker started", "path", path, "pid", command.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readEvents(stdout, &readers)
	go s.drainStderr(stderr, &readers)
	go s.watchExit(processHandle, &readers)
	return nil
}

// SendCommand encodes command and writes it to the worker's stdin.
// The write is serialized under the supervisor lock so concurrent
// senders never interleave frames. A nil return means the bytes
// reached the pipe, nothing more.
func (s *Supervisor) SendCommand(command protocol.Command) error {
	data, err := protocol.EncodeCommand(command)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ErrNotRunning
	}
	if _, err := s.handle.stdin.Write(data); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// Stop kills the worker process. It is idempotent: stopping a stopped
// supervisor is a no-op. The termination event is still delivered by
// the exit watcher after the process reaps.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	processHandle := s.handle
	s.handle = nil
	s.running = false
	s.ready = false

	processHandle.stdin.Close()
	if err := processHandle.command.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing worker: %w", err)
	}
	s.logger.Info("worker stopped", "pid", processHandle.command.Process.Pid)
	return nil
}

// IsRunning reports whether a worker process exists and is accepting
// commands.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.ready
}

// readEvents pumps the worker's stdout line by line. Lines that do not
// decode as events are logged and skipped; a malformed line never
// tears down the stream.
func (s *Supervisor) readEvents(stdout io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		event, err := protocol.DecodeEvent(line)
		if err != nil {
			s.logger.Warn("discarding undecodable worker output", "error", err)
			continue
		}
		s.handler.HandleEvent(event)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("worker stdout read failed", "error", err)
	}
}

// drainStderr forwards the worker's stderr line by line. Stderr is
// plain text, never parsed as protocol traffic.
func (s *Supervisor) drainStderr(stderr io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.handler.HandleDiagnostic(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("worker stderr read failed", "error", err)
	}
}

// watchExit reaps the worker process once both output streams have
// drained, clears supervisor state if this process still owns it, and
// reports the termination. State is cleared only when the stored
// handle matches: Stop and a subsequent Spawn may already have moved
// the supervisor on.
func (s *Supervisor) watchExit(processHandle *handle, readers *sync.WaitGroup) {
	readers.Wait()
	waitErr := processHandle.command.Wait()
	exitCode, hasCode := exitStatus(waitErr)

	s.mu.Lock()
	if s.handle == processHandle {
		s.handle = nil
		s.running = false
		s.ready = false
	}
	s.mu.Unlock()

	s.logger.Info("worker exited", "exitCode", exitCode, "hasExitCode", hasCode)
	s.handler.HandleTermination(exitCode, hasCode)
}

// exitStatus extracts the exit code from a Wait error. A process
// killed by a signal has no exit code.
func exitStatus(waitErr error) (int, bool) {
	if waitErr == nil {
		return 0, true
	}
	var exitError *exec.ExitError
	if errors.As(waitErr, &exitError) {
		if code := exitError.ExitCode(); code >= 0 {
			return code, true
		}
	}
	return 0, false
}
