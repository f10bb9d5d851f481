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
	"sync"
	"time"
)

// DefaultLoadTimeout bounds how long callers wait for project indexing.
const DefaultLoadTimeout = 30 * time.Second

// LoadGate tracks the server's asynchronous "project indexing finished"
// signal and lets callers wait for it without acting against a partially
// indexed workspace.
//
// # Description
//
// The gate holds a broadcast channel that is closed exactly once when the
// projectLoadingFinish event arrives. Every concurrent waiter selects on the
// same channel, so N callers arriving in the same window collectively finish
// in roughly one timeout, not N timeouts. The loaded flag flips permanently
// true and resets only on session restart.
//
// # Thread Safety
//
// Safe for concurrent use.
type LoadGate struct {
	mu     sync.Mutex
	loaded bool
	ready  chan struct{}
}

// NewLoadGate creates a gate in the not-loaded state.
func NewLoadGate() *LoadGate {
	return &LoadGate{ready: make(chan struct{})}
}

// MarkLoaded flips the gate to loaded and wakes every waiter. Idempotent.
func (g *LoadGate) MarkLoaded() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loaded {
		return
	}
	g.loaded = true
	close(g.ready)
}

// Reset returns the gate to the not-loaded state. Called on session restart;
// waiters blocked on the previous generation keep waiting on the old channel
// and time out normally.
func (g *LoadGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.loaded {
		return
	}
	g.loaded = false
	g.ready = make(chan struct{})
}

// Loaded reports whether indexing has finished.
func (g *LoadGate) Loaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

// EnsureReady waits until the project is loaded or the timeout elapses.
//
// # Description
//
// Returns immediately when already loaded. A timeout is an advisory
// outcome, not a failure: the caller proceeds and appends a warning to its
// result. Zero or negative timeout falls back to DefaultLoadTimeout.
//
// # Outputs
//
//   - bool: True if the project finished loading within the window.
func (g *LoadGate) EnsureReady(ctx context.Context, timeout time.Duration) bool {
	g.mu.Lock()
	if g.loaded {
		g.mu.Unlock()
		return true
	}
	ready := g.ready
	g.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
