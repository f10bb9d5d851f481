// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tsbridge/services/refactor/engine"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		input      string
		wantLine   int
		wantOffset int
		wantErr    bool
	}{
		{"5:14", 5, 14, false},
		{"1:1", 1, 1, false},
		{"120:3", 120, 3, false},
		{"5", 0, 0, true},
		{"5:", 0, 0, true},
		{":14", 0, 0, true},
		{"0:1", 0, 0, true},
		{"1:0", 0, 0, true},
		{"a:b", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		line, offset, err := parsePosition(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.wantLine, line)
		assert.Equal(t, tt.wantOffset, offset)
	}
}

func TestRenderResult_FailureReturnsSentinel(t *testing.T) {
	res := &engine.Result{Success: false, Message: "rename failed: no project"}

	err := renderResult(res, false)
	assert.ErrorIs(t, err, errOperationFailed)

	err = renderResult(res, true)
	assert.ErrorIs(t, err, errOperationFailed)
}

func TestRenderResult_Success(t *testing.T) {
	res := &engine.Result{Success: true, Message: "Renamed x to y in 2 file(s)"}
	assert.NoError(t, renderResult(res, false))
	assert.NoError(t, renderResult(res, true))
}

func TestRenderReferences(t *testing.T) {
	res := &engine.ReferencesResult{
		Success:    true,
		Message:    "Found 1 reference(s) to x",
		SymbolName: "x",
		References: []engine.Reference{
			{File: "/p/a.ts", Line: 1, Offset: 7, IsDefinition: true},
		},
	}
	assert.NoError(t, renderReferences(res, false))

	res.Success = false
	assert.ErrorIs(t, renderReferences(res, false), errOperationFailed)
}

func TestCommandRegistration(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"rename", "extract", "move", "organize-imports", "references", "serve"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
