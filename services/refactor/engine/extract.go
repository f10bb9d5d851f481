// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/tsbridge/services/refactor/textedit"
	"github.com/AleutianAI/tsbridge/services/refactor/tsserver"
)

// Extraction kinds.
const (
	ExtractFunction = "function"
	ExtractConstant = "constant"
)

// ExtractRequest extracts the selected span into a new declaration.
type ExtractRequest struct {
	File        string
	StartLine   int
	StartOffset int
	EndLine     int
	EndOffset   int

	// Kind selects the extraction: ExtractFunction or ExtractConstant.
	Kind string

	// Name is the desired declaration name. The server always assigns a
	// fixed placeholder; when Name is set a scoped rename runs afterwards
	// and the placeholder never appears in the result.
	Name string

	Preview bool
}

// insertedDeclRe pulls the declared name out of an inserted declaration.
var insertedDeclRe = regexp.MustCompile(`(?:function|const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*[=(]`)

// Extract performs the two-phase extract-and-rename workflow.
//
// # Description
//
// Phase 1 asks the server which extractions apply to the span, requests the
// edits for the matching one and applies them; the server names the new
// declaration with a fixed placeholder. Phase 2, when a custom name was
// requested, relocates the placeholder declaration in the updated text and
// issues a rename scoped to it. If the declaration cannot be relocated,
// phase 2 is skipped and the placeholder name stands; phase 1 alone is a
// complete, correct extraction.
func (e *Engine) Extract(ctx context.Context, req ExtractRequest) *Result {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "Extract", req.File)
	defer span.End()

	res := e.extract(ctx, req)

	setOperationSpanResult(span, len(res.FilesChanged), res.Success)
	recordOperationMetrics(ctx, "extract", time.Since(start), len(res.FilesChanged), res.Success)
	return res
}

func (e *Engine) extract(ctx context.Context, req ExtractRequest) *Result {
	logger := e.opLogger("extract", req.File)

	if req.Kind != ExtractFunction && req.Kind != ExtractConstant {
		return failuref("unknown extraction kind %q", req.Kind)
	}
	if req.Name != "" && !identifierRe.MatchString(req.Name) {
		return failuref("invalid identifier %q", req.Name)
	}

	files := newWorkspaceFiles()
	status, failed := e.prepareLocal(ctx, files, req.File)
	if failed != nil {
		return failed
	}
	original, _ := files.content(req.File)

	rangeArgs := tsserver.FileRangeArgs{
		File:        req.File,
		StartLine:   req.StartLine,
		StartOffset: req.StartOffset,
		EndLine:     req.EndLine,
		EndOffset:   req.EndOffset,
	}

	refactor, action, failed := e.selectExtraction(ctx, rangeArgs, req.Kind)
	if failed != nil {
		return failed
	}

	resp, err := e.session.Request(ctx, tsserver.CommandGetEditsForRefactor, tsserver.GetEditsForRefactorArgs{
		FileRangeArgs: rangeArgs,
		Refactor:      refactor,
		Action:        action,
	})
	if err != nil {
		return failuref("extract failed: %v", err)
	}

	var body tsserver.RefactorEditBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return failuref("extract failed: unreadable server response: %v", err)
	}
	if len(body.Edits) == 0 {
		return e.extractionNotApplicable(req.Kind)
	}

	changes, err := e.applyEdits(files, body.Edits)
	if err != nil {
		return failuref("applying edits: %v", err)
	}

	placeholder := placeholderName(body.Edits, req.File)
	finalName := placeholder

	if req.Name != "" && req.Name != placeholder {
		if renamed := e.renamePlaceholder(ctx, files, req.File, placeholder, req.Name); renamed {
			erasePlaceholder(changes, placeholder, req.Name)
			finalName = req.Name
		} else {
			logger.Debug("placeholder relocation failed, keeping server name",
				slog.String("placeholder", placeholder),
			)
		}
	}
	if req.Preview {
		// The buffer was pushed to the server for phase 2; put the
		// on-disk content back so the view matches the disk again.
		defer func() { _ = e.session.OpenFile(req.File, original) }()
	}

	logger.Info("extraction computed",
		slog.String("kind", req.Kind),
		slog.String("name", finalName),
		slog.Bool("preview", req.Preview),
	)

	message := fmt.Sprintf("Extracted %s %s in %s", req.Kind, finalName, req.File)
	if finalName == "" {
		message = fmt.Sprintf("Extracted %s in %s", req.Kind, req.File)
	}
	command := fmt.Sprintf("tsbridge extract %s --start %d:%d --end %d:%d --kind %s",
		req.File, req.StartLine, req.StartOffset, req.EndLine, req.EndOffset, req.Kind)
	if req.Name != "" {
		command += " --name " + req.Name
	}
	return e.finish(files, changes, req.Preview, command, message, status)
}

// selectExtraction asks the server which refactorings apply to the span and
// picks the action matching the requested kind.
func (e *Engine) selectExtraction(ctx context.Context, rangeArgs tsserver.FileRangeArgs, kind string) (refactor, action string, failed *Result) {
	resp, err := e.session.Request(ctx, tsserver.CommandGetApplicableRefactors, rangeArgs)
	if err != nil {
		return "", "", failuref("extract failed: %v", err)
	}

	var refactors []tsserver.ApplicableRefactorInfo
	if err := json.Unmarshal(resp.Body, &refactors); err != nil {
		return "", "", failuref("extract failed: unreadable server response: %v", err)
	}

	prefix := "function_scope"
	if kind == ExtractConstant {
		prefix = "constant_scope"
	}

	for _, r := range refactors {
		for _, a := range r.Actions {
			if a.NotApplicableReason != "" {
				continue
			}
			if strings.HasPrefix(a.Name, prefix) {
				return r.Name, a.Name, nil
			}
		}
	}
	return "", "", e.extractionNotApplicable(kind)
}

func (e *Engine) extractionNotApplicable(kind string) *Result {
	return notApplicable(
		fmt.Sprintf("nothing extractable as a %s at the selected range", kind),
		"Select a complete expression or statement range",
		"Expand the selection to cover the whole expression",
		"Check the file for syntax errors near the selection",
	)
}

// renamePlaceholder runs phase 2: push the updated buffer to the server,
// relocate the placeholder declaration and rename it in place. Returns false
// when anything prevents the rename; the caller degrades silently.
func (e *Engine) renamePlaceholder(ctx context.Context, files *workspaceFiles, path, placeholder, name string) bool {
	if placeholder == "" {
		return false
	}
	content, ok := files.content(path)
	if !ok {
		return false
	}

	loc, ok := locateDeclaration(content, placeholder)
	if !ok {
		return false
	}

	// Content push only: the server sees the phase-1 result without any
	// disk write, which keeps preview mode pure.
	if err := e.session.OpenFile(path, content); err != nil {
		return false
	}

	resp, err := e.session.Request(ctx, tsserver.CommandRename, tsserver.RenameArgs{
		FileLocationArgs: tsserver.FileLocationArgs{File: path, Line: loc.Line, Offset: loc.Offset},
	})
	if err != nil {
		return false
	}

	var body tsserver.RenameBody
	if err := json.Unmarshal(resp.Body, &body); err != nil || !body.Info.CanRename {
		return false
	}

	for _, group := range body.Locs {
		groupContent, err := files.load(group.File)
		if err != nil {
			return false
		}
		edits := make([]textedit.TextEdit, 0, len(group.Locs))
		for _, l := range group.Locs {
			edits = append(edits, textedit.TextEdit{
				StartLine:   l.Start.Line,
				StartOffset: l.Start.Offset,
				EndLine:     l.End.Line,
				EndOffset:   l.End.Offset,
				NewText:     l.PrefixText + name + l.SuffixText,
			})
		}
		newContent, _, err := textedit.Apply(groupContent, edits)
		if err != nil {
			return false
		}
		files.store(group.File, newContent)
	}
	return true
}

// placeholderName pulls the server-assigned declaration name out of the
// phase-1 edits for the target file.
func placeholderName(edits []tsserver.FileCodeEdits, targetFile string) string {
	for _, fe := range edits {
		if fe.FileName != targetFile {
			continue
		}
		for _, c := range fe.TextChanges {
			if m := insertedDeclRe.FindStringSubmatch(c.NewText); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// locateDeclaration finds the 1-indexed position of a declaration's name in
// the updated content.
func locateDeclaration(content, name string) (tsserver.Location, bool) {
	re := regexp.MustCompile(`(?:function|const|let|var)\s+(` + regexp.QuoteMeta(name) + `)\s*[=(]`)
	for i, line := range strings.Split(content, "\n") {
		if m := re.FindStringSubmatchIndex(line); m != nil {
			return tsserver.Location{Line: i + 1, Offset: m[2] + 1}, true
		}
	}
	return tsserver.Location{}, false
}

// erasePlaceholder rewrites every report entry so the placeholder never
// reaches the caller once a custom name was applied.
func erasePlaceholder(changes []textedit.FileChange, placeholder, name string) {
	if placeholder == "" {
		return
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(placeholder) + `\b`)
	for i := range changes {
		for j := range changes[i].Edits {
			changes[i].Edits[j].New = re.ReplaceAllString(changes[i].Edits[j].New, name)
		}
	}
}
