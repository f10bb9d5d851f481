// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// =============================================================================
// SESSION STATE
// =============================================================================

// State represents the lifecycle state of a session.
type State int

const (
	// StateNotStarted is the initial state before Start is called.
	StateNotStarted State = iota

	// StateStarting means the server process is starting.
	StateStarting

	// StateRunning means the server is ready for requests.
	StateRunning

	// StateStopping means the session is shutting down.
	StateStopping

	// StateStopped means the server process has terminated.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	names := []string{"not-started", "starting", "running", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CONFIG
// =============================================================================

// Config controls session behavior. Zero values fall back to defaults.
type Config struct {
	// Command is the tsserver executable. Defaults to "tsserver".
	Command string

	// Args are extra arguments passed to the executable.
	Args []string

	// LoadTimeout bounds waits for project indexing (see LoadGate).
	LoadTimeout time.Duration

	// DiscoveryTimeout bounds the related-file discovery scan.
	DiscoveryTimeout time.Duration

	// ShutdownGrace is how long Stop waits for a graceful exit before
	// killing the process.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the default session configuration.
//
// The two readiness timeouts are deliberately separate knobs: waiting for
// indexing and scanning for related files bound different operations and are
// tuned independently.
func DefaultConfig() Config {
	return Config{
		Command:          "tsserver",
		LoadTimeout:      DefaultLoadTimeout,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		ShutdownGrace:    5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.Command == "" {
		c.Command = "tsserver"
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session owns one tsserver process for one workspace root.
//
// # Description
//
// Manages spawn, transport wiring and shutdown. Exactly one session exists
// per workspace root; the host application holds it and injects it into
// every operation. Transport failures surface to the requests pending at the
// time only; the session is restarted explicitly, never auto-healed.
//
// # Thread Safety
//
// Safe for concurrent use.
type Session struct {
	config   Config
	rootPath string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	protocol *Protocol
	gate     *LoadGate

	state   State
	stateMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}

	open   map[string]bool
	openMu sync.Mutex

	logger *slog.Logger
}

// NewSession creates a session for the given workspace root (not started).
func NewSession(rootPath string, config Config) *Session {
	config.applyDefaults()
	return &Session{
		config:   config,
		rootPath: rootPath,
		gate:     NewLoadGate(),
		open:     make(map[string]bool),
		logger:   slog.Default().With(slog.String("component", "tsserver.Session")),
	}
}

// Start spawns the tsserver process and wires the transport.
//
// # Description
//
// Idempotent: when already running it is a no-op. A stopped session can be
// started again; doing so resets the load gate and the open-file set. If the
// process fails to spawn, Start fails and the session is left stopped.
//
// # Errors
//
//	ErrServerNotInstalled - tsserver binary not found
//	ErrSessionStarting - another Start or Stop is in progress
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	switch s.state {
	case StateRunning:
		s.stateMu.Unlock()
		return nil
	case StateStarting, StateStopping:
		s.stateMu.Unlock()
		return ErrSessionStarting
	}
	s.state = StateStarting
	s.stateMu.Unlock()

	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.setState(StateStopped)
		s.logger.Warn("tsserver not installed",
			slog.String("command", s.config.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Command)
	}

	s.logger.Info("starting tsserver",
		slog.String("command", path),
		slog.String("root_path", s.rootPath),
	)

	// Server context outlives the caller's context.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.readDone = make(chan struct{})
	s.gate.Reset()
	s.openMu.Lock()
	s.open = make(map[string]bool)
	s.openMu.Unlock()

	s.cmd = exec.CommandContext(s.ctx, path, s.config.Args...)
	s.cmd.Dir = s.rootPath

	s.stdin, err = s.cmd.StdinPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		s.cleanup()
		recordSpawn(ctx, false)
		return fmt.Errorf("start process: %w", err)
	}

	s.protocol = NewProtocol(s.stdout, s.stdin)
	s.protocol.OnEvent(EventProjectLoadingFinish, func(body json.RawMessage) {
		var b ProjectLoadingFinishBody
		_ = json.Unmarshal(body, &b)
		s.logger.Debug("project loading finished",
			slog.String("project", b.ProjectName),
		)
		s.gate.MarkLoaded()
	})

	// Running before the read loop spawns: an immediate crash must not be
	// overwritten by a late state transition here.
	s.setState(StateRunning)
	recordSpawn(ctx, true)

	readDone := s.readDone
	protocol := s.protocol
	cmd := s.cmd
	go func() {
		defer close(readDone)
		err := protocol.ReadLoop(s.ctx)
		if err == ErrServerCrashed {
			s.logger.Warn("tsserver terminated unexpectedly")
			protocol.Close()
			// Full cleanup: cancel the spawn context, release the pipes
			// and reset per-start state, then reap the dead child.
			s.cleanup()
			if cmd.Process != nil {
				_ = cmd.Wait()
			}
		}
	}()

	s.logger.Info("tsserver session running",
		slog.String("root_path", s.rootPath),
	)
	return nil
}

// Stop shuts the session down.
//
// # Description
//
// Sends the exit command, waits for the process up to the shutdown grace
// period, then kills it. All pending requests are rejected with a
// session-stopped failure; the load gate and the open-file set are cleared.
// Idempotent.
func (s *Session) Stop(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	if s.state == StateStopped || s.state == StateStopping || s.state == StateNotStarted {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateStopping
	s.stateMu.Unlock()

	s.logger.Info("stopping tsserver session",
		slog.String("root_path", s.rootPath),
	)

	defer s.cleanup()

	if s.protocol != nil {
		// Graceful shutdown; tsserver exits on the exit command.
		_ = s.protocol.Notify(CommandExit, nil)
		s.protocol.Close()
	}

	if s.stdin != nil {
		_ = s.stdin.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case <-time.After(s.config.ShutdownGrace):
			_ = s.cmd.Process.Kill()
			<-done
		case <-done:
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	if s.readDone != nil {
		select {
		case <-s.readDone:
		case <-time.After(time.Second):
		}
	}

	return nil
}

// cleanup releases resources and resets per-start state.
func (s *Session) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	s.gate.Reset()
	s.openMu.Lock()
	s.open = make(map[string]bool)
	s.openMu.Unlock()
	s.setState(StateStopped)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current session state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsRunning reports whether the session accepts requests.
func (s *Session) IsRunning() bool {
	return s.State() == StateRunning
}

// RootPath returns the workspace root.
func (s *Session) RootPath() string {
	return s.rootPath
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.config
}

// Gate returns the project-load gate.
func (s *Session) Gate() *LoadGate {
	return s.gate
}

// =============================================================================
// REQUESTS
// =============================================================================

// Request sends a command and waits for its response.
func (s *Session) Request(ctx context.Context, command string, args interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if !s.IsRunning() {
		return nil, ErrSessionNotRunning
	}
	start := time.Now()
	resp, err := s.protocol.Request(ctx, command, args)
	recordRequest(ctx, command, time.Since(start), err == nil)
	return resp, err
}

// Notify sends a command that receives no response.
func (s *Session) Notify(command string, args interface{}) error {
	if !s.IsRunning() {
		return ErrSessionNotRunning
	}
	return s.protocol.Notify(command, args)
}

// OpenFile tells the server about a file. Opening an already-open file with
// no content is a no-op; passing content always re-sends, which is how a
// caller refreshes the server's view after writing to disk.
func (s *Session) OpenFile(path, content string) error {
	s.openMu.Lock()
	alreadyOpen := s.open[path]
	if !alreadyOpen {
		s.open[path] = true
	}
	s.openMu.Unlock()

	if alreadyOpen && content == "" {
		return nil
	}

	args := OpenArgs{
		File:            path,
		FileContent:     content,
		ProjectRootPath: s.rootPath,
	}
	if err := s.Notify(CommandOpen, args); err != nil {
		s.openMu.Lock()
		delete(s.open, path)
		s.openMu.Unlock()
		return err
	}
	return nil
}

// CloseFile tells the server a file is no longer open.
func (s *Session) CloseFile(path string) error {
	s.openMu.Lock()
	if !s.open[path] {
		s.openMu.Unlock()
		return nil
	}
	delete(s.open, path)
	s.openMu.Unlock()

	return s.Notify(CommandClose, FileArgs{File: path})
}

// IsOpen reports whether a file has been opened in this session.
func (s *Session) IsOpen(path string) bool {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	return s.open[path]
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}
