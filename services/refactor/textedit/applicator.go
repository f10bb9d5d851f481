// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textedit applies batches of position-addressed text edits to file
// content without corrupting offsets.
//
// All edits in a batch are addressed against the same original content, so
// the applicator processes the file from bottom to top, right to left: every
// mutation happens strictly after the document position of the edits that
// remain, and their coordinates stay valid. The package is pure and performs
// no I/O; callers own reading and writing files.
package textedit

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// declLineRe matches a line that begins a new declaration. Used to decide
// whether an inserted line should have its indentation normalized.
var declLineRe = regexp.MustCompile(`^[ \t]*(?:export\s+)?(?:async\s+)?(?:function|const|let|var|class)\b`)

// leadingWhitespaceRe captures a line's indentation.
var leadingWhitespaceRe = regexp.MustCompile(`^[ \t]*`)

// Apply applies a batch of edits to one file's content.
//
// # Description
//
// Sorts the edits into strictly decreasing document order (line desc, then
// offset desc), splices each one against an in-memory line array, and records
// a LineChange per edit. The returned changes are re-sorted into original
// top-to-bottom order for readability; application order and report order are
// independent.
//
// # Inputs
//
//   - content: The file's original content.
//   - edits: Edits addressed against content. The slice is not mutated.
//
// # Outputs
//
//   - string: The patched content.
//   - []LineChange: One entry per edit, in document order.
//   - error: Non-nil if any edit addresses a position outside the content.
//
// # Determinism
//
// Any permutation of the same edit set produces byte-identical output; the
// sort is a total order over (StartLine, StartOffset, EndLine, EndOffset).
func Apply(content string, edits []TextEdit) (string, []LineChange, error) {
	if len(edits) == 0 {
		return content, nil, nil
	}

	lines := strings.Split(content, "\n")

	ordered := make([]TextEdit, len(edits))
	copy(ordered, edits)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.StartLine != b.StartLine {
			return a.StartLine > b.StartLine
		}
		if a.StartOffset != b.StartOffset {
			return a.StartOffset > b.StartOffset
		}
		if a.EndLine != b.EndLine {
			return a.EndLine > b.EndLine
		}
		return a.EndOffset > b.EndOffset
	})

	changes := make([]LineChange, 0, len(ordered))
	for _, e := range ordered {
		change, err := applyOne(&lines, e)
		if err != nil {
			return "", nil, err
		}
		changes = append(changes, change)
	}

	// Report in original top-to-bottom order.
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Line < changes[j].Line
	})

	return strings.Join(lines, "\n"), changes, nil
}

// applyOne splices a single edit into the line array and returns its record.
func applyOne(lines *[]string, e TextEdit) (LineChange, error) {
	if err := validateEdit(*lines, e); err != nil {
		return LineChange{}, err
	}

	ls := *lines
	if e.StartLine == e.EndLine {
		line := ls[e.StartLine-1]
		old := line[e.StartOffset-1 : e.EndOffset-1]
		merged := line[:e.StartOffset-1] + e.NewText + line[e.EndOffset-1:]
		inserted := strings.Split(merged, "\n")
		normalized := normalizeInsertedIndent(ls, e.StartLine-1, 1, inserted, e.NewText)
		*lines = spliceLines(ls, e.StartLine-1, 1, inserted)
		return LineChange{Line: e.StartLine, Old: old, New: normalized}, nil
	}

	// Multi-line span: collapse the spanned lines into prefix + NewText +
	// suffix, then splice the result back in.
	first := ls[e.StartLine-1]
	last := ls[e.EndLine-1]
	prefix := first[:e.StartOffset-1]
	suffix := last[e.EndOffset-1:]

	var old strings.Builder
	old.WriteString(first[e.StartOffset-1:])
	for i := e.StartLine; i < e.EndLine-1; i++ {
		old.WriteString("\n")
		old.WriteString(ls[i])
	}
	old.WriteString("\n")
	old.WriteString(last[:e.EndOffset-1])

	merged := prefix + e.NewText + suffix
	inserted := strings.Split(merged, "\n")
	spanned := e.EndLine - e.StartLine + 1
	normalized := normalizeInsertedIndent(ls, e.StartLine-1, spanned, inserted, e.NewText)
	*lines = spliceLines(ls, e.StartLine-1, spanned, inserted)
	return LineChange{Line: e.StartLine, Old: old.String(), New: normalized}, nil
}

// validateEdit checks that an edit addresses positions inside the content.
func validateEdit(lines []string, e TextEdit) error {
	if e.StartLine < 1 || e.StartOffset < 1 || e.EndOffset < 1 || e.EndLine < e.StartLine {
		return fmt.Errorf("invalid edit span %d:%d-%d:%d", e.StartLine, e.StartOffset, e.EndLine, e.EndOffset)
	}
	if e.StartLine == e.EndLine && e.EndOffset < e.StartOffset {
		return fmt.Errorf("invalid edit span %d:%d-%d:%d: end before start", e.StartLine, e.StartOffset, e.EndLine, e.EndOffset)
	}
	if e.EndLine > len(lines) {
		return fmt.Errorf("edit line %d beyond end of file (%d lines)", e.EndLine, len(lines))
	}
	if e.StartOffset-1 > len(lines[e.StartLine-1]) {
		return fmt.Errorf("edit offset %d beyond end of line %d", e.StartOffset, e.StartLine)
	}
	if e.EndOffset-1 > len(lines[e.EndLine-1]) {
		return fmt.Errorf("edit offset %d beyond end of line %d", e.EndOffset, e.EndLine)
	}
	return nil
}

// spliceLines replaces count lines starting at idx with the given replacement.
func spliceLines(lines []string, idx, count int, replacement []string) []string {
	out := make([]string, 0, len(lines)-count+len(replacement))
	out = append(out, lines[:idx]...)
	out = append(out, replacement...)
	out = append(out, lines[idx+count:]...)
	return out
}

// normalizeInsertedIndent adjusts the indentation of a freshly inserted
// declaration line to match its surroundings.
//
// When an edit introduces a new declaration (extracted function or constant),
// the compiler server formats it for its own view of the file, which can
// disagree with the on-disk indentation. If the first inserted declaration
// line's leading whitespace differs from the nearest non-blank neighbor
// (searching forward, then backward, a few lines), the inserted line is
// rewritten to use the neighbor's indentation. Returns the (possibly
// adjusted) inserted text for the change report.
func normalizeInsertedIndent(lines []string, idx, spanned int, inserted []string, newText string) string {
	if !strings.Contains(newText, "\n") {
		return newText
	}

	declIdx := -1
	for i, line := range inserted {
		if declLineRe.MatchString(line) && strings.TrimSpace(line) != "" {
			declIdx = i
			break
		}
	}
	if declIdx < 0 {
		return newText
	}

	ref, ok := neighborIndent(lines, idx, spanned)
	if !ok {
		return newText
	}

	current := leadingWhitespaceRe.FindString(inserted[declIdx])
	if current == ref {
		return newText
	}
	inserted[declIdx] = ref + strings.TrimLeft(inserted[declIdx], " \t")
	return strings.Join(inserted, "\n")
}

// neighborIndent finds the indentation of the nearest non-blank line outside
// the replaced region, looking forward first, then backward, up to three
// lines each way.
func neighborIndent(lines []string, idx, spanned int) (string, bool) {
	for i := idx + spanned; i < len(lines) && i < idx+spanned+3; i++ {
		if strings.TrimSpace(lines[i]) != "" {
			return leadingWhitespaceRe.FindString(lines[i]), true
		}
	}
	for i := idx - 1; i >= 0 && i > idx-4; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return leadingWhitespaceRe.FindString(lines[i]), true
		}
	}
	return "", false
}
