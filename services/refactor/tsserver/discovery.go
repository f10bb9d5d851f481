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
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultDiscoveryTimeout bounds the related-file discovery scan.
const DefaultDiscoveryTimeout = 5 * time.Second

// discoveryOpenRate caps open notifications per second so a large project
// scan does not flood the server's request queue.
const discoveryOpenRate = 200

// discoveryConcurrency bounds parallel fileReferences requests.
const discoveryConcurrency = 4

// DiscoveryStatus summarizes a discovery pass. Every field is advisory:
// discovery degrades, it never fails the operation that ran it.
type DiscoveryStatus struct {
	// ProjectFullyLoaded is false when the load gate timed out and the scan
	// ran against a partial index.
	ProjectFullyLoaded bool

	// ScanTimedOut is true when the scan hit its deadline before covering
	// every candidate file.
	ScanTimedOut bool

	// FilesOpened counts the related files pushed into the server's view.
	FilesOpened int
}

// Degraded reports whether the status warrants a warning on the result.
func (s DiscoveryStatus) Degraded() bool {
	return !s.ProjectFullyLoaded || s.ScanTimedOut
}

// Discovery widens the server's project view around a target file before a
// multi-file operation runs.
//
// # Description
//
// tsserver only reports edits in files it has loaded. Discovery first asks
// for the target's project metadata (projectInfo with needFileNameList) to
// learn which files belong to the project, then asks which files reference
// the target (fileReferences), walks one level of the reverse-dependency
// edge from each of those, and opens everything found that is a project
// member. Opens are rate limited and the whole pass is bounded by the
// discovery timeout; on timeout the operation proceeds with whatever was
// opened and the caller attaches a partial-index warning.
//
// # Thread Safety
//
// Safe for concurrent use; each call is independent.
type Discovery struct {
	session *Session
	logger  *slog.Logger
}

// NewDiscovery creates a discovery helper bound to a session.
func NewDiscovery(session *Session) *Discovery {
	return &Discovery{
		session: session,
		logger:  slog.Default().With(slog.String("component", "tsserver.Discovery")),
	}
}

// Run performs one discovery pass centered on the target file.
//
// # Description
//
// Waits for project indexing first, then scans. Never returns an error: a
// broken session or an exhausted deadline yields a degraded status, and the
// parent operation decides how loudly to warn.
func (d *Discovery) Run(ctx context.Context, targetFile string) DiscoveryStatus {
	status := DiscoveryStatus{
		ProjectFullyLoaded: d.session.Gate().EnsureReady(ctx, d.session.Config().LoadTimeout),
	}

	scanCtx, cancel := context.WithTimeout(ctx, d.session.Config().DiscoveryTimeout)
	defer cancel()

	scope, scopeKnown := d.projectScope(scanCtx, targetFile)

	seeds, err := d.referencingFiles(scanCtx, targetFile)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			status.ScanTimedOut = true
		}
		d.logger.Debug("discovery seed scan failed",
			slog.String("file", targetFile),
			slog.String("error", err.Error()),
		)
		return status
	}

	limiter := rate.NewLimiter(rate.Limit(discoveryOpenRate), discoveryOpenRate)
	opened := 0
	for _, f := range seeds {
		if !relevantFile(f) || d.session.IsOpen(f) {
			continue
		}
		if scopeKnown && !scope[f] {
			continue
		}
		if err := limiter.Wait(scanCtx); err != nil {
			status.ScanTimedOut = true
			status.FilesOpened = opened
			return status
		}
		if err := d.session.OpenFile(f, ""); err != nil {
			continue
		}
		opened++
	}

	// Second hop: files that reference the seeds. Catches re-export
	// barrels sitting between the target and its real consumers.
	second := d.secondHop(scanCtx, seeds, &status)
	for _, f := range second {
		if !relevantFile(f) || d.session.IsOpen(f) {
			continue
		}
		if scopeKnown && !scope[f] {
			continue
		}
		if err := limiter.Wait(scanCtx); err != nil {
			status.ScanTimedOut = true
			break
		}
		if err := d.session.OpenFile(f, ""); err != nil {
			continue
		}
		opened++
	}

	status.FilesOpened = opened
	d.logger.Debug("discovery finished",
		slog.String("file", targetFile),
		slog.Int("files_opened", opened),
		slog.Bool("fully_loaded", status.ProjectFullyLoaded),
		slog.Bool("timed_out", status.ScanTimedOut),
	)
	return status
}

// projectScope fetches the file list of the project containing the target.
// The set bounds which discovered candidates get opened; files outside the
// project (or outside any project tsserver knows about) cannot contribute
// edits. Best effort: when the request fails the scan runs unfiltered.
func (d *Discovery) projectScope(ctx context.Context, file string) (map[string]bool, bool) {
	resp, err := d.session.Request(ctx, CommandProjectInfo, ProjectInfoArgs{
		File:             file,
		NeedFileNameList: true,
	})
	if err != nil {
		d.logger.Debug("project info unavailable",
			slog.String("file", file),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	var body ProjectInfoBody
	if err := json.Unmarshal(resp.Body, &body); err != nil || len(body.FileNames) == 0 {
		return nil, false
	}
	if body.LanguageServiceDisabled {
		d.logger.Warn("language service disabled for project",
			slog.String("config", body.ConfigFileName),
		)
	}

	scope := make(map[string]bool, len(body.FileNames))
	for _, f := range body.FileNames {
		scope[f] = true
	}
	return scope, true
}

// referencingFiles returns the files that reference the given file.
func (d *Discovery) referencingFiles(ctx context.Context, file string) ([]string, error) {
	resp, err := d.session.Request(ctx, CommandFileReferences, FileArgs{File: file})
	if err != nil {
		return nil, err
	}

	var body ReferencesBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, ErrInvalidResponse
	}

	seen := make(map[string]bool, len(body.Refs))
	files := make([]string, 0, len(body.Refs))
	for _, ref := range body.Refs {
		if ref.File == file || seen[ref.File] {
			continue
		}
		seen[ref.File] = true
		files = append(files, ref.File)
	}
	return files, nil
}

// secondHop collects referencing files of each seed in parallel.
func (d *Discovery) secondHop(ctx context.Context, seeds []string, status *DiscoveryStatus) []string {
	var mu sync.Mutex
	seen := make(map[string]bool)
	var out []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryConcurrency)

	for _, seed := range seeds {
		g.Go(func() error {
			files, err := d.referencingFiles(gctx, seed)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return nil
			}
			mu.Lock()
			for _, f := range files {
				if !seen[f] {
					seen[f] = true
					out = append(out, f)
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil && errors.Is(err, context.DeadlineExceeded) {
		status.ScanTimedOut = true
	}
	return out
}

// relevantFile filters discovery candidates down to first-party sources.
func relevantFile(path string) bool {
	if strings.Contains(path, "node_modules") {
		return false
	}
	if strings.HasSuffix(path, ".d.ts") {
		return false
	}
	switch {
	case strings.HasSuffix(path, ".ts"),
		strings.HasSuffix(path, ".tsx"),
		strings.HasSuffix(path, ".js"),
		strings.HasSuffix(path, ".jsx"),
		strings.HasSuffix(path, ".mts"),
		strings.HasSuffix(path, ".cts"):
		return true
	}
	return false
}
