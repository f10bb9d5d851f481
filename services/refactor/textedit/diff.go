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
	"fmt"
	"strings"
)

// UnifiedDiff renders a unified diff between two versions of a file.
// Used for previews and operation reports.
func UnifiedDiff(path, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}

	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	var diff strings.Builder
	diff.WriteString(fmt.Sprintf("--- %s (original)\n", path))
	diff.WriteString(fmt.Sprintf("+++ %s (modified)\n", path))

	for _, change := range findChanges(oldLines, newLines) {
		diff.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n",
			change.oldStart+1, change.oldCount,
			change.newStart+1, change.newCount))

		contextStart := max(0, change.oldStart-3)
		for i := contextStart; i < change.oldStart; i++ {
			diff.WriteString(fmt.Sprintf(" %s\n", oldLines[i]))
		}

		for i := change.oldStart; i < change.oldStart+change.oldCount; i++ {
			if i < len(oldLines) {
				diff.WriteString(fmt.Sprintf("-%s\n", oldLines[i]))
			}
		}

		for i := change.newStart; i < change.newStart+change.newCount; i++ {
			if i < len(newLines) {
				diff.WriteString(fmt.Sprintf("+%s\n", newLines[i]))
			}
		}

		contextEnd := min(len(oldLines), change.oldStart+change.oldCount+3)
		for i := change.oldStart + change.oldCount; i < contextEnd; i++ {
			diff.WriteString(fmt.Sprintf(" %s\n", oldLines[i]))
		}
	}

	return diff.String()
}

// changeRegion represents a region of change in the diff.
type changeRegion struct {
	oldStart int
	oldCount int
	newStart int
	newCount int
}

// findChanges identifies the region that differs between old and new content.
// Collapses everything between the first and last differing lines into one
// region; good enough for edit previews without a full LCS pass.
func findChanges(oldLines, newLines []string) []changeRegion {
	var changes []changeRegion

	firstDiff := -1
	minLen := min(len(oldLines), len(newLines))

	for i := 0; i < minLen; i++ {
		if oldLines[i] != newLines[i] {
			firstDiff = i
			break
		}
	}
	if firstDiff == -1 {
		if len(oldLines) == len(newLines) {
			return changes
		}
		firstDiff = minLen
	}

	oldIdx := len(oldLines) - 1
	newIdx := len(newLines) - 1
	for oldIdx >= firstDiff && newIdx >= firstDiff {
		if oldLines[oldIdx] != newLines[newIdx] {
			break
		}
		oldIdx--
		newIdx--
	}

	if firstDiff <= oldIdx || firstDiff <= newIdx {
		changes = append(changes, changeRegion{
			oldStart: firstDiff,
			oldCount: oldIdx - firstDiff + 1,
			newStart: firstDiff,
			newCount: newIdx - firstDiff + 1,
		})
	}

	return changes
}
