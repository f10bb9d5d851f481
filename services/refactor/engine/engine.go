// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the refactoring operations on top of the
// tsserver transport: rename, extract, file move, import organization and
// reference lookup.
//
// Every operation follows the same pipeline: ensure the session is running,
// open the target file, wait for (or best-effort widen) the server's project
// view, issue the command, resolve the returned position-addressed edits
// against in-memory buffers, then write the buffers atomically unless the
// caller asked for a preview. Concurrent operations targeting the same file
// race; last writer wins.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/tsbridge/services/refactor/textedit"
	"github.com/AleutianAI/tsbridge/services/refactor/tsserver"
)

// identifierRe matches a valid JavaScript/TypeScript identifier.
var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// session is the subset of the tsserver session the engine depends on.
type session interface {
	Start(ctx context.Context) error
	IsRunning() bool
	Request(ctx context.Context, command string, args interface{}) (*tsserver.Response, error)
	OpenFile(path, content string) error
	CloseFile(path string) error
	RootPath() string
	Config() tsserver.Config
	Gate() *tsserver.LoadGate
}

// discoverer runs one related-file discovery pass.
type discoverer interface {
	Run(ctx context.Context, targetFile string) tsserver.DiscoveryStatus
}

// Engine executes refactoring operations against one workspace session.
//
// # Thread Safety
//
// Safe for concurrent use; file-level write races between concurrent
// operations on the same file are not arbitrated.
type Engine struct {
	session   session
	discovery discoverer
	logger    *slog.Logger
}

// New creates an engine bound to a session.
func New(sess *tsserver.Session) *Engine {
	return &Engine{
		session:   sess,
		discovery: tsserver.NewDiscovery(sess),
		logger:    slog.Default().With(slog.String("component", "engine")),
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

// RenameRequest renames the symbol at a position across the project.
type RenameRequest struct {
	File    string
	Line    int
	Offset  int
	NewName string
	Preview bool
}

// MoveRequest moves a file and updates import paths that reference it.
type MoveRequest struct {
	OldPath string
	NewPath string
	Preview bool
}

// OrganizeImportsRequest sorts and prunes one file's imports.
type OrganizeImportsRequest struct {
	File    string
	Preview bool
}

// ReferencesRequest lists usages of the symbol at a position.
type ReferencesRequest struct {
	File   string
	Line   int
	Offset int
}

// =============================================================================
// RENAME
// =============================================================================

// Rename renames the symbol at the given position everywhere it is used.
func (e *Engine) Rename(ctx context.Context, req RenameRequest) *Result {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "Rename", req.File)
	defer span.End()

	res := e.rename(ctx, req)

	setOperationSpanResult(span, len(res.FilesChanged), res.Success)
	recordOperationMetrics(ctx, "rename", time.Since(start), len(res.FilesChanged), res.Success)
	return res
}

func (e *Engine) rename(ctx context.Context, req RenameRequest) *Result {
	logger := e.opLogger("rename", req.File)

	if !identifierRe.MatchString(req.NewName) {
		return failuref("invalid identifier %q", req.NewName)
	}

	files := newWorkspaceFiles()
	status, failed := e.prepareCrossFile(ctx, files, req.File)
	if failed != nil {
		return failed
	}

	resp, err := e.session.Request(ctx, tsserver.CommandRename, tsserver.RenameArgs{
		FileLocationArgs: tsserver.FileLocationArgs{File: req.File, Line: req.Line, Offset: req.Offset},
	})
	if err != nil {
		return failuref("rename failed: %v", err)
	}

	var body tsserver.RenameBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return failuref("rename failed: unreadable server response: %v", err)
	}

	if !body.Info.CanRename {
		msg := body.Info.LocalizedErrorMessage
		if msg == "" {
			msg = "the symbol at this position cannot be renamed"
		}
		return notApplicable(msg,
			"Place the cursor on the symbol's declaration or a direct usage",
			"Module names and external library symbols cannot be renamed",
		)
	}

	fileEdits := make([]tsserver.FileCodeEdits, 0, len(body.Locs))
	for _, group := range body.Locs {
		edits := make([]tsserver.CodeEdit, 0, len(group.Locs))
		for _, loc := range group.Locs {
			edits = append(edits, tsserver.CodeEdit{
				Start:   loc.Start,
				End:     loc.End,
				NewText: loc.PrefixText + req.NewName + loc.SuffixText,
			})
		}
		fileEdits = append(fileEdits, tsserver.FileCodeEdits{FileName: group.File, TextChanges: edits})
	}

	changes, err := e.applyEdits(files, fileEdits)
	if err != nil {
		return failuref("applying edits: %v", err)
	}

	logger.Info("rename computed",
		slog.String("symbol", body.Info.DisplayName),
		slog.String("new_name", req.NewName),
		slog.Int("files", len(changes)),
		slog.Bool("preview", req.Preview),
	)

	message := fmt.Sprintf("Renamed %s to %s in %d file(s)", body.Info.DisplayName, req.NewName, len(changes))
	command := fmt.Sprintf("tsbridge rename %s --line %d --offset %d --to %s", req.File, req.Line, req.Offset, req.NewName)
	return e.finish(files, changes, req.Preview, command, message, status)
}

// =============================================================================
// MOVE FILE
// =============================================================================

// MoveFile moves a file on disk and rewrites every import that referenced it.
func (e *Engine) MoveFile(ctx context.Context, req MoveRequest) *Result {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "MoveFile", req.OldPath)
	defer span.End()

	res := e.moveFile(ctx, req)

	setOperationSpanResult(span, len(res.FilesChanged), res.Success)
	recordOperationMetrics(ctx, "move_file", time.Since(start), len(res.FilesChanged), res.Success)
	return res
}

func (e *Engine) moveFile(ctx context.Context, req MoveRequest) *Result {
	logger := e.opLogger("move_file", req.OldPath)

	if req.OldPath == req.NewPath {
		return failuref("source and destination are the same file")
	}
	if _, err := os.Stat(req.NewPath); err == nil {
		return failuref("destination %s already exists", req.NewPath)
	}

	files := newWorkspaceFiles()
	status, failed := e.prepareCrossFile(ctx, files, req.OldPath)
	if failed != nil {
		return failed
	}

	resp, err := e.session.Request(ctx, tsserver.CommandGetEditsForFileRename, tsserver.GetEditsForFileRenameArgs{
		OldFilePath: req.OldPath,
		NewFilePath: req.NewPath,
	})
	if err != nil {
		return failuref("move failed: %v", err)
	}

	var fileEdits []tsserver.FileCodeEdits
	if err := json.Unmarshal(resp.Body, &fileEdits); err != nil {
		return failuref("move failed: unreadable server response: %v", err)
	}

	changes, err := e.applyEdits(files, fileEdits)
	if err != nil {
		return failuref("applying edits: %v", err)
	}

	message := fmt.Sprintf("Moved %s to %s, updated imports in %d file(s)", req.OldPath, req.NewPath, len(changes))
	if req.Preview {
		return &Result{
			Success:      true,
			Message:      withWarnings(message, status),
			FilesChanged: changes,
			Preview: &Preview{
				FilesAffected: len(changes) + 1,
				EstimatedTime: estimateApplyTime(len(changes) + 1),
				Command:       fmt.Sprintf("tsbridge move %s %s", req.OldPath, req.NewPath),
			},
		}
	}

	written, err := files.flush()
	if err != nil {
		return failuref("writing files: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(req.NewPath), 0o755); err != nil {
		return failuref("creating destination directory: %v", err)
	}
	if err := os.Rename(req.OldPath, req.NewPath); err != nil {
		return failuref("moving file: %v", err)
	}

	_ = e.session.CloseFile(req.OldPath)
	refreshable := written[:0:0]
	for _, p := range written {
		if p != req.OldPath {
			refreshable = append(refreshable, p)
		}
	}
	e.refreshServerView(files, refreshable)
	if content, ok := files.content(req.OldPath); ok {
		_ = e.session.OpenFile(req.NewPath, content)
	}

	logger.Info("file moved",
		slog.String("new_path", req.NewPath),
		slog.Int("files", len(changes)),
	)
	return &Result{
		Success:      true,
		Message:      withWarnings(message, status),
		FilesChanged: changes,
	}
}

// =============================================================================
// ORGANIZE IMPORTS
// =============================================================================

// OrganizeImports sorts, merges and prunes one file's import statements.
func (e *Engine) OrganizeImports(ctx context.Context, req OrganizeImportsRequest) *Result {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "OrganizeImports", req.File)
	defer span.End()

	res := e.organizeImports(ctx, req)

	setOperationSpanResult(span, len(res.FilesChanged), res.Success)
	recordOperationMetrics(ctx, "organize_imports", time.Since(start), len(res.FilesChanged), res.Success)
	return res
}

func (e *Engine) organizeImports(ctx context.Context, req OrganizeImportsRequest) *Result {
	files := newWorkspaceFiles()
	status, failed := e.prepareLocal(ctx, files, req.File)
	if failed != nil {
		return failed
	}

	resp, err := e.session.Request(ctx, tsserver.CommandOrganizeImports, tsserver.OrganizeImportsArgs{
		Scope: tsserver.OrganizeImportsScope{
			Type: "file",
			Args: tsserver.FileArgs{File: req.File},
		},
	})
	if err != nil {
		return failuref("organize imports failed: %v", err)
	}

	var fileEdits []tsserver.FileCodeEdits
	if err := json.Unmarshal(resp.Body, &fileEdits); err != nil {
		return failuref("organize imports failed: unreadable server response: %v", err)
	}

	changes, err := e.applyEdits(files, fileEdits)
	if err != nil {
		return failuref("applying edits: %v", err)
	}

	if len(changes) == 0 {
		return &Result{Success: true, Message: withWarnings("Imports already organized", status)}
	}

	message := fmt.Sprintf("Organized imports in %s", req.File)
	command := fmt.Sprintf("tsbridge organize-imports %s", req.File)
	return e.finish(files, changes, req.Preview, command, message, status)
}

// =============================================================================
// REFERENCES
// =============================================================================

// References lists every usage of the symbol at the given position.
func (e *Engine) References(ctx context.Context, req ReferencesRequest) *ReferencesResult {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "References", req.File)
	defer span.End()

	res := e.references(ctx, req)

	setOperationSpanResult(span, len(res.References), res.Success)
	recordOperationMetrics(ctx, "references", time.Since(start), len(res.References), res.Success)
	return res
}

func (e *Engine) references(ctx context.Context, req ReferencesRequest) *ReferencesResult {
	files := newWorkspaceFiles()
	status, failed := e.prepareCrossFile(ctx, files, req.File)
	if failed != nil {
		return &ReferencesResult{Success: false, Message: failed.Message}
	}

	resp, err := e.session.Request(ctx, tsserver.CommandReferences, tsserver.FileLocationArgs{
		File: req.File, Line: req.Line, Offset: req.Offset,
	})
	if err != nil {
		return &ReferencesResult{Success: false, Message: fmt.Sprintf("references failed: %v", err)}
	}

	var body tsserver.ReferencesBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return &ReferencesResult{Success: false, Message: fmt.Sprintf("references failed: unreadable server response: %v", err)}
	}

	refs := make([]Reference, 0, len(body.Refs))
	for _, r := range body.Refs {
		refs = append(refs, Reference{
			File:          r.File,
			Line:          r.Start.Line,
			Offset:        r.Start.Offset,
			LineText:      r.LineText,
			IsDefinition:  r.IsDefinition,
			IsWriteAccess: r.IsWriteAccess,
		})
	}

	name := body.SymbolName
	if name == "" {
		name = "symbol"
	}
	return &ReferencesResult{
		Success:    true,
		Message:    withWarnings(fmt.Sprintf("Found %d reference(s) to %s", len(refs), name), status),
		SymbolName: body.SymbolName,
		References: refs,
	}
}

// =============================================================================
// SHARED PIPELINE
// =============================================================================

// prepareCrossFile readies the session for a multi-file operation: start,
// open the target, then widen the server's view via discovery. Discovery
// degradation comes back as advisory status, never as a failure.
func (e *Engine) prepareCrossFile(ctx context.Context, files *workspaceFiles, path string) (tsserver.DiscoveryStatus, *Result) {
	if failed := e.ensureRunning(ctx); failed != nil {
		return tsserver.DiscoveryStatus{}, failed
	}
	if failed := e.openTarget(files, path); failed != nil {
		return tsserver.DiscoveryStatus{}, failed
	}
	return e.discovery.Run(ctx, path), nil
}

// prepareLocal readies the session for a single-file operation: start, open
// the target and wait for indexing, skipping the related-file scan.
func (e *Engine) prepareLocal(ctx context.Context, files *workspaceFiles, path string) (tsserver.DiscoveryStatus, *Result) {
	if failed := e.ensureRunning(ctx); failed != nil {
		return tsserver.DiscoveryStatus{}, failed
	}
	if failed := e.openTarget(files, path); failed != nil {
		return tsserver.DiscoveryStatus{}, failed
	}
	status := tsserver.DiscoveryStatus{
		ProjectFullyLoaded: e.session.Gate().EnsureReady(ctx, e.session.Config().LoadTimeout),
	}
	return status, nil
}

func (e *Engine) ensureRunning(ctx context.Context) *Result {
	if e.session.IsRunning() {
		return nil
	}
	if err := e.session.Start(ctx); err != nil {
		return failuref("starting tsserver: %v", err)
	}
	return nil
}

func (e *Engine) openTarget(files *workspaceFiles, path string) *Result {
	content, err := files.load(path)
	if err != nil {
		return failuref("%v", err)
	}
	if err := e.session.OpenFile(path, content); err != nil {
		return failuref("opening %s in tsserver: %v", path, err)
	}
	return nil
}

// applyEdits resolves every file's complete edit batch against one buffer.
// No writes happen here; flushing is the caller's final step.
func (e *Engine) applyEdits(files *workspaceFiles, fileEdits []tsserver.FileCodeEdits) ([]textedit.FileChange, error) {
	var changes []textedit.FileChange
	for _, fe := range fileEdits {
		if len(fe.TextChanges) == 0 {
			continue
		}
		content, err := files.load(fe.FileName)
		if err != nil {
			return nil, err
		}

		edits := make([]textedit.TextEdit, 0, len(fe.TextChanges))
		for _, c := range fe.TextChanges {
			edits = append(edits, textedit.TextEdit{
				StartLine:   c.Start.Line,
				StartOffset: c.Start.Offset,
				EndLine:     c.End.Line,
				EndOffset:   c.End.Offset,
				NewText:     c.NewText,
			})
		}

		newContent, lineChanges, err := textedit.Apply(content, edits)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fe.FileName, err)
		}

		files.store(fe.FileName, newContent)
		changes = append(changes, textedit.FileChange{Path: fe.FileName, Edits: lineChanges})
	}
	return changes, nil
}

// finish turns applied buffers into a result: a preview report, or an
// atomic flush plus a server-view refresh.
func (e *Engine) finish(files *workspaceFiles, changes []textedit.FileChange, preview bool, command, message string, status tsserver.DiscoveryStatus) *Result {
	if preview {
		// Previews carry a full diff per file; the caller has no written
		// file to inspect.
		for i := range changes {
			original, ok := files.original(changes[i].Path)
			if !ok {
				continue
			}
			if current, ok := files.content(changes[i].Path); ok {
				changes[i].Diff = textedit.UnifiedDiff(changes[i].Path, original, current)
			}
		}
		return &Result{
			Success:      true,
			Message:      withWarnings(message, status),
			FilesChanged: changes,
			Preview: &Preview{
				FilesAffected: len(changes),
				EstimatedTime: estimateApplyTime(len(changes)),
				Command:       command,
			},
		}
	}

	written, err := files.flush()
	if err != nil {
		return failuref("writing files: %v", err)
	}
	e.refreshServerView(files, written)

	return &Result{
		Success:      true,
		Message:      withWarnings(message, status),
		FilesChanged: changes,
	}
}

// refreshServerView re-sends written buffers so the server's project view
// matches the disk after a flush.
func (e *Engine) refreshServerView(files *workspaceFiles, written []string) {
	for _, path := range written {
		if content, ok := files.content(path); ok {
			_ = e.session.OpenFile(path, content)
		}
	}
}

func (e *Engine) opLogger(operation, file string) *slog.Logger {
	return e.logger.With(
		slog.String("operation", operation),
		slog.String("operation_id", uuid.NewString()),
		slog.String("file", file),
	)
}
