// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package textedit

// TextEdit describes a single replacement within one file.
//
// Lines and offsets are 1-indexed, matching tsserver's addressing. The span
// [start, end) is half-open and addressed against the file's original
// content, not against previously applied edits in the same batch.
type TextEdit struct {
	// StartLine is the 1-indexed line the span starts on.
	StartLine int `json:"startLine"`

	// StartOffset is the 1-indexed character offset within StartLine.
	StartOffset int `json:"startOffset"`

	// EndLine is the 1-indexed line the span ends on.
	EndLine int `json:"endLine"`

	// EndOffset is the 1-indexed character offset within EndLine (exclusive).
	EndOffset int `json:"endOffset"`

	// NewText replaces the addressed span.
	NewText string `json:"newText"`
}

// LineChange records one applied edit for diff reporting.
type LineChange struct {
	// Line is the 1-indexed line the edit started on, in original coordinates.
	Line int `json:"line"`

	// Old is the text of the addressed span before the edit.
	Old string `json:"old"`

	// New is the text spliced in place of the span.
	New string `json:"new"`
}

// FileChange reports all edits applied to one file.
type FileChange struct {
	// Path is the absolute path of the touched file.
	Path string `json:"path"`

	// Edits lists the applied changes in top-to-bottom document order.
	Edits []LineChange `json:"edits"`

	// Diff is a unified diff of the whole file. Populated for previews,
	// where the caller cannot inspect the written file.
	Diff string `json:"diff,omitempty"`
}
