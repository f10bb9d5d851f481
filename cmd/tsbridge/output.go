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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/tsbridge/services/refactor/engine"
)

// errOperationFailed signals a non-zero exit after the result has already
// been rendered to the user.
var errOperationFailed = errors.New("operation failed")

// renderResult writes a refactoring result to stdout. Returns
// errOperationFailed when the operation did not succeed so the process
// exits non-zero.
func renderResult(res *engine.Result, asJSON bool) error {
	if asJSON {
		return renderJSON(res, res.Success)
	}

	fmt.Println(res.Message)

	for _, fc := range res.FilesChanged {
		fmt.Printf("\n%s:\n", fc.Path)
		if fc.Diff != "" {
			fmt.Println(fc.Diff)
			continue
		}
		for _, edit := range fc.Edits {
			if strings.Contains(edit.New, "\n") || strings.Contains(edit.Old, "\n") {
				// Multi-line splice; show the block rather than a pair.
				fmt.Printf("  %d: -%q\n", edit.Line, edit.Old)
				fmt.Printf("  %d: +%q\n", edit.Line, edit.New)
				continue
			}
			fmt.Printf("  %d: %s -> %s\n", edit.Line, edit.Old, edit.New)
		}
	}

	if res.Preview != nil {
		fmt.Printf("\nPreview: %d file(s) would change (est. %s)\n",
			res.Preview.FilesAffected, res.Preview.EstimatedTime)
		fmt.Printf("Apply with: %s\n", res.Preview.Command)
	}

	if len(res.NextActions) > 0 {
		fmt.Println("\nSuggestions:")
		for _, action := range res.NextActions {
			fmt.Printf("  - %s\n", action)
		}
	}

	if !res.Success {
		return errOperationFailed
	}
	return nil
}

// renderReferences writes a references result to stdout.
func renderReferences(res *engine.ReferencesResult, asJSON bool) error {
	if asJSON {
		return renderJSON(res, res.Success)
	}

	fmt.Println(res.Message)
	for _, ref := range res.References {
		marker := " "
		if ref.IsDefinition {
			marker = "D"
		} else if ref.IsWriteAccess {
			marker = "W"
		}
		fmt.Printf("  %s %s:%d:%d", marker, ref.File, ref.Line, ref.Offset)
		if ref.LineText != "" {
			fmt.Printf("  %s", strings.TrimSpace(ref.LineText))
		}
		fmt.Println()
	}

	if !res.Success {
		return errOperationFailed
	}
	return nil
}

// renderJSON prints any result as indented JSON on stdout.
func renderJSON(v any, success bool) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if !success {
		return errOperationFailed
	}
	return nil
}
