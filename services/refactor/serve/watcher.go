// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package serve

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/tsbridge/services/refactor/tsserver"
)

// watchIgnores are directory and file patterns never worth watching.
var watchIgnores = []string{".git", "node_modules", ".idea", "*.swp", "*.tmp", "dist", "build"}

// Watcher keeps the session's view of the workspace fresh while the server
// runs long-lived: when an editor or build step rewrites a source file that
// the session has open, the new content is pushed to tsserver so subsequent
// operations compute edits against current text.
//
// # Debouncing
//
// Changes are collected into a buffer and flushed when the debounce window
// expires without new events, so a burst of writes during a save-all or a
// formatter run triggers one refresh per file.
//
// # Thread Safety
//
// Safe for concurrent use. Refreshes happen on a single goroutine.
type Watcher struct {
	root     string
	session  *tsserver.Session
	watcher  *fsnotify.Watcher
	debounce time.Duration

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	logger *slog.Logger
}

// NewWatcher creates a watcher over the session's workspace root.
func NewWatcher(session *tsserver.Session) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     session.RootPath(),
		session:  session,
		watcher:  fsw,
		debounce: 100 * time.Millisecond,
		changes:  make(chan string, 1000),
		done:     make(chan struct{}),
		logger:   slog.Default().With(slog.String("component", "serve.Watcher")),
	}, nil
}

// Start begins watching. Spawns the event processor and the debouncer; both
// exit on Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	w.logger.Info("watching workspace", slog.String("root", w.root))
	return nil
}

// Stop stops the watcher. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// addRecursive adds the root and all non-ignored subdirectories.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// shouldIgnore checks a path against the ignore patterns.
func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range watchIgnores {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if strings.Contains(path, string(filepath.Separator)+pattern+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// isSourceFile reports whether a path is a watchable source file.
func isSourceFile(path string) bool {
	switch filepath.Ext(path) {
	case ".ts", ".tsx", ".js", ".jsx", ".mts", ".cts":
		return true
	}
	return false
}

// processEvents funnels relevant fsnotify events into the debounce channel.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			// New directories join the watch set.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
					continue
				}
			}

			if !isSourceFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			select {
			case w.changes <- event.Name:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop batches changes and refreshes the session's view once the
// window goes quiet.
func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			pending[path] = true
			timer.Reset(w.debounce)
		case <-timer.C:
			w.refresh(pending)
			pending = make(map[string]bool)
		}
	}
}

// refresh re-sends changed files the session already has open.
func (w *Watcher) refresh(paths map[string]bool) {
	for path := range paths {
		if !w.session.IsOpen(path) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := w.session.OpenFile(path, string(data)); err != nil {
			w.logger.Debug("refresh failed",
				slog.String("file", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.logger.Debug("refreshed file view", slog.String("file", path))
	}
}
