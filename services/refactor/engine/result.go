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
	"fmt"
	"strings"

	"github.com/AleutianAI/tsbridge/services/refactor/textedit"
	"github.com/AleutianAI/tsbridge/services/refactor/tsserver"
)

// Result is the outcome of one refactoring operation.
//
// Every operation resolves to a Result; expected failures (nothing applicable
// at the span, symbol not renameable, transport down) are reported here with
// actionable text, never as a panic.
type Result struct {
	// Success reports whether the operation completed.
	Success bool `json:"success"`

	// Message is human-readable outcome text, with advisory warnings
	// appended when discovery degraded.
	Message string `json:"message"`

	// FilesChanged lists per-file line changes, in document order.
	FilesChanged []textedit.FileChange `json:"filesChanged,omitempty"`

	// Preview is set instead of writing files when preview mode is on.
	Preview *Preview `json:"preview,omitempty"`

	// NextActions suggests follow-ups when the operation could not apply.
	NextActions []string `json:"nextActions,omitempty"`
}

// Preview summarizes what a non-preview call would do.
type Preview struct {
	// FilesAffected is the number of files the operation would modify.
	FilesAffected int `json:"filesAffected"`

	// EstimatedTime is a coarse apply-time estimate.
	EstimatedTime string `json:"estimatedTime"`

	// Command reproduces the operation without preview mode.
	Command string `json:"command"`
}

// Reference is one usage of a symbol.
type Reference struct {
	File          string `json:"file"`
	Line          int    `json:"line"`
	Offset        int    `json:"offset"`
	LineText      string `json:"lineText,omitempty"`
	IsDefinition  bool   `json:"isDefinition"`
	IsWriteAccess bool   `json:"isWriteAccess"`
}

// ReferencesResult is the outcome of the read-only references query.
type ReferencesResult struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	SymbolName string      `json:"symbolName,omitempty"`
	References []Reference `json:"references,omitempty"`
}

// failuref builds a failure result.
func failuref(format string, args ...interface{}) *Result {
	return &Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// notApplicable builds the structured failure for an empty refactor result.
func notApplicable(message string, nextActions ...string) *Result {
	return &Result{Success: false, Message: message, NextActions: nextActions}
}

// withWarnings appends advisory text for a degraded discovery pass. The
// result stays successful; completeness, not correctness, is in question.
func withWarnings(message string, status tsserver.DiscoveryStatus) string {
	var warnings []string
	if !status.ProjectFullyLoaded {
		warnings = append(warnings, "project indexing did not finish in time; some references may be missed")
	}
	if status.ScanTimedOut {
		warnings = append(warnings, "related-file scan timed out; edits in unscanned files may be missing")
	}
	if len(warnings) == 0 {
		return message
	}
	return message + " (warning: " + strings.Join(warnings, "; ") + ")"
}

// estimateApplyTime gives a coarse preview estimate from file count.
func estimateApplyTime(files int) string {
	switch {
	case files <= 1:
		return "under a second"
	case files <= 10:
		return "a few seconds"
	default:
		return "tens of seconds"
	}
}
