// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for tsbridge components.
//
// Built on the standard library slog package with a layered output model:
// stderr by default (follows Unix CLI conventions), plus optional JSON
// file logging for the long-lived serve mode.
//
// # Basic Usage
//
// For one-shot CLI usage with stderr output:
//
//	logger := logging.Default()
//	logger.Info("rename complete", "files", count)
//
// # File Logging
//
// To enable file logging alongside stderr:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelDebug,
//	    LogDir:  "~/.tsbridge/logs", // Supports ~ expansion
//	    Service: "serve",
//	})
//	defer logger.Close() // Important: closes the log file
//	logger.SetDefault()
//
// This creates log files named `{service}_{date}.log` in JSON format.
//
// # Thread Safety
//
// Logger is safe for concurrent use from multiple goroutines.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ============================================================================
// Levels
// ============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to LevelInfo
// so a typo in a config file never silences logging entirely.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ============================================================================
// Configuration
// ============================================================================

// Config configures the Logger. A zero-value Config writes Info and above
// to stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables JSON file logging alongside stderr. The file is named
	// "{Service}_{YYYY-MM-DD}.log" and the directory is created with 0750
	// permissions if missing. Supports ~ expansion. Empty disables file
	// logging.
	LogDir string

	// Service is attached to every entry as the "service" attribute and
	// used in the log file name.
	Service string

	// JSON switches stderr output to JSON format. File output is always
	// JSON regardless of this setting.
	JSON bool

	// Quiet disables stderr output. Combine with LogDir for daemon-style
	// file-only logging.
	Quiet bool
}

// ============================================================================
// Logger
// ============================================================================

// Logger wraps slog.Logger with multi-destination output and cleanup.
type Logger struct {
	slog   *slog.Logger
	config Config
	file   *os.File
}

// New creates a logger from the given configuration.
//
// File-logging setup failures degrade to stderr-only output rather than
// failing the caller; a refactor should never abort because a log
// directory could not be created.
func New(config Config) *Logger {
	l := &Logger{config: config}

	var stderrWriter, fileWriter io.Writer
	if !config.Quiet {
		stderrWriter = os.Stderr
	}
	if config.LogDir != "" {
		if f, err := openLogFile(config.LogDir, config.Service); err == nil {
			l.file = f
			fileWriter = f
		}
	}

	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var handler slog.Handler
	switch {
	case stderrWriter != nil && fileWriter != nil && !config.JSON:
		// Text on the terminal, JSON in the file.
		handler = &teeHandler{
			primary:   slog.NewTextHandler(stderrWriter, opts),
			secondary: slog.NewJSONHandler(fileWriter, opts),
		}
	case stderrWriter != nil && fileWriter != nil:
		handler = slog.NewJSONHandler(io.MultiWriter(stderrWriter, fileWriter), opts)
	case fileWriter != nil:
		handler = slog.NewJSONHandler(fileWriter, opts)
	case stderrWriter != nil && config.JSON:
		handler = slog.NewJSONHandler(stderrWriter, opts)
	case stderrWriter != nil:
		handler = slog.NewTextHandler(stderrWriter, opts)
	default:
		handler = slog.NewTextHandler(io.Discard, opts)
	}

	sl := slog.New(handler)
	if config.Service != "" {
		sl = sl.With(slog.String("service", config.Service))
	}
	l.slog = sl
	return l
}

// Default returns a stderr-only Info-level logger.
func Default() *Logger {
	return New(Config{})
}

// Slog exposes the underlying slog.Logger for packages that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// SetDefault installs this logger as the process-wide slog default, so
// components that call slog.Default() pick it up.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.slog)
}

// With returns a child logger carrying additional attributes. The child
// shares the parent's outputs; closing it is a no-op.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), config: l.config}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Close closes the log file, if any. Safe to call on loggers without file
// logging and safe to call more than once.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ============================================================================
// Internals
// ============================================================================

// teeHandler fans each record out to two handlers with independent formats.
type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	if h.primary.Enabled(ctx, record.Level) {
		firstErr = h.primary.Handle(ctx, record.Clone())
	}
	if h.secondary.Enabled(ctx, record.Level) {
		if err := h.secondary.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// openLogFile opens (creating as needed) the dated log file for a service.
func openLogFile(dir, service string) (*os.File, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	name := service
	if name == "" {
		name = "tsbridge"
	}
	path := filepath.Join(dir, name+"_"+time.Now().Format("2006-01-02")+".log")
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
}
