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

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_SingleEdit_RoundTrip(t *testing.T) {
	content := "const area = 3.14159 * radius * radius;\n"

	edits := []TextEdit{
		{StartLine: 1, StartOffset: 14, EndLine: 1, EndOffset: 21, NewText: "PI"},
	}

	result, changes, err := Apply(content, edits)
	require.NoError(t, err)

	assert.Equal(t, "const area = PI * radius * radius;\n", result)
	require.Len(t, changes, 1)
	assert.Equal(t, "3.14159", changes[0].Old, "old must equal the original [start, end) slice")
	assert.Equal(t, "PI", changes[0].New)
	assert.Equal(t, 1, changes[0].Line)
}

func TestApply_EmptyBatch(t *testing.T) {
	result, changes, err := Apply("unchanged\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged\n", result)
	assert.Empty(t, changes)
}

func TestApply_Insertion(t *testing.T) {
	content := "line one\nline two\n"

	// Zero-width span inserts without replacing.
	edits := []TextEdit{
		{StartLine: 2, StartOffset: 1, EndLine: 2, EndOffset: 1, NewText: "new "},
	}

	result, changes, err := Apply(content, edits)
	require.NoError(t, err)
	assert.Equal(t, "line one\nnew line two\n", result)
	require.Len(t, changes, 1)
	assert.Equal(t, "", changes[0].Old)
}

func TestApply_MultiLineCollapse(t *testing.T) {
	content := "function f() {\n  let a = 1;\n  let b = 2;\n  return a + b;\n}\n"

	// Replace lines 2-3 entirely with a single statement.
	edits := []TextEdit{
		{StartLine: 2, StartOffset: 1, EndLine: 3, EndOffset: 13, NewText: "  const sum = 3;"},
	}

	result, changes, err := Apply(content, edits)
	require.NoError(t, err)
	assert.Equal(t, "function f() {\n  const sum = 3;\n  return a + b;\n}\n", result)
	require.Len(t, changes, 1)
	assert.Equal(t, "  let a = 1;\n  let b = 2;", changes[0].Old)
}

func TestApply_DeterministicUnderPermutation(t *testing.T) {
	content := "alpha beta gamma\ndelta epsilon\nzeta eta theta\n"

	edits := []TextEdit{
		{StartLine: 1, StartOffset: 1, EndLine: 1, EndOffset: 6, NewText: "ALPHA"},
		{StartLine: 1, StartOffset: 12, EndLine: 1, EndOffset: 17, NewText: "GAMMA"},
		{StartLine: 2, StartOffset: 7, EndLine: 2, EndOffset: 14, NewText: "EPSILON"},
		{StartLine: 3, StartOffset: 1, EndLine: 3, EndOffset: 5, NewText: "ZETA"},
	}

	permutations := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}

	var first string
	for i, perm := range permutations {
		shuffled := make([]TextEdit, len(edits))
		for j, idx := range perm {
			shuffled[j] = edits[idx]
		}
		result, _, err := Apply(content, shuffled)
		require.NoError(t, err)
		if i == 0 {
			first = result
			assert.Equal(t, "ALPHA beta GAMMA\ndelta EPSILON\nZETA eta theta\n", result)
		} else {
			assert.Equal(t, first, result, "permutation %v diverged", perm)
		}
	}
}

func TestApply_ReportInDocumentOrder(t *testing.T) {
	content := "one\ntwo\nthree\n"

	// Supplied bottom-up; report must come back top-down.
	edits := []TextEdit{
		{StartLine: 3, StartOffset: 1, EndLine: 3, EndOffset: 6, NewText: "THREE"},
		{StartLine: 1, StartOffset: 1, EndLine: 1, EndOffset: 4, NewText: "ONE"},
	}

	_, changes, err := Apply(content, edits)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 1, changes[0].Line)
	assert.Equal(t, 3, changes[1].Line)
}

func TestApply_EarlierEditsUnshifted(t *testing.T) {
	// An edit that grows line 3 must not shift an edit on line 1.
	content := "short\nmiddle\nlong line here\n"

	edits := []TextEdit{
		{StartLine: 1, StartOffset: 1, EndLine: 1, EndOffset: 6, NewText: "a much longer first line"},
		{StartLine: 3, StartOffset: 6, EndLine: 3, EndOffset: 10, NewText: "sentence"},
	}

	result, _, err := Apply(content, edits)
	require.NoError(t, err)
	assert.Equal(t, "a much longer first line\nmiddle\nlong sentence here\n", result)
}

func TestApply_IndentNormalization(t *testing.T) {
	content := "function outer() {\n    const x = 1;\n    return x;\n}\n"

	// Inserted declaration uses two-space indent while neighbors use four.
	edits := []TextEdit{
		{StartLine: 2, StartOffset: 1, EndLine: 2, EndOffset: 1, NewText: "  const helper = 2;\n"},
	}

	result, _, err := Apply(content, edits)
	require.NoError(t, err)
	assert.Contains(t, result, "\n    const helper = 2;\n")
	assert.NotContains(t, result, "\n  const helper = 2;\n")
}

func TestApply_OutOfRange(t *testing.T) {
	content := "only line\n"

	cases := []TextEdit{
		{StartLine: 5, StartOffset: 1, EndLine: 5, EndOffset: 2, NewText: "x"},
		{StartLine: 1, StartOffset: 50, EndLine: 1, EndOffset: 51, NewText: "x"},
		{StartLine: 0, StartOffset: 1, EndLine: 1, EndOffset: 1, NewText: "x"},
		{StartLine: 1, StartOffset: 5, EndLine: 1, EndOffset: 2, NewText: "x"},
		{StartLine: 1, StartOffset: 1, EndLine: 1, EndOffset: 0, NewText: "x"},
		// Multi-line span with a zero end offset used to slice out of range.
		{StartLine: 1, StartOffset: 1, EndLine: 2, EndOffset: 0, NewText: "x"},
	}

	for _, e := range cases {
		_, _, err := Apply(content, []TextEdit{e})
		assert.Error(t, err, "edit %+v should be rejected", e)
	}
}

func TestApply_ExtractScenario(t *testing.T) {
	// Mirrors the extraction shape: insert the new declaration above, replace
	// the literal below, all addressed against the original content.
	content := "const area = 3.14159 * radius * radius;\n"

	edits := []TextEdit{
		{StartLine: 1, StartOffset: 1, EndLine: 1, EndOffset: 1, NewText: "const newLocal = 3.14159;\n"},
		{StartLine: 1, StartOffset: 14, EndLine: 1, EndOffset: 21, NewText: "newLocal"},
	}

	result, changes, err := Apply(content, edits)
	require.NoError(t, err)
	assert.Equal(t, "const newLocal = 3.14159;\nconst area = newLocal * radius * radius;\n", result)
	require.Len(t, changes, 2)
}

func TestUnifiedDiff(t *testing.T) {
	oldContent := "a\nb\nc\n"
	newContent := "a\nB\nc\n"

	diff := UnifiedDiff("/tmp/x.ts", oldContent, newContent)
	assert.Contains(t, diff, "--- /tmp/x.ts (original)")
	assert.Contains(t, diff, "+++ /tmp/x.ts (modified)")
	assert.Contains(t, diff, "-b\n")
	assert.Contains(t, diff, "+B\n")

	assert.Empty(t, UnifiedDiff("/tmp/x.ts", oldContent, oldContent))
}

func TestApply_PreservesTrailingNewline(t *testing.T) {
	withNewline := "x\n"
	result, _, err := Apply(withNewline, []TextEdit{
		{StartLine: 1, StartOffset: 1, EndLine: 1, EndOffset: 2, NewText: "y"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result, "\n"))

	withoutNewline := "x"
	result, _, err = Apply(withoutNewline, []TextEdit{
		{StartLine: 1, StartOffset: 1, EndLine: 1, EndOffset: 2, NewText: "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "y", result)
}
