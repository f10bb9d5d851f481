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
	"os"
	"path/filepath"
	"sort"
)

// workspaceFiles buffers one operation's file contents. Every file's full
// edit batch resolves against one in-memory buffer before anything is
// written, so edits targeting different files never interleave and preview
// mode leaves the disk untouched.
type workspaceFiles struct {
	buffers   map[string]string
	originals map[string]string
	modes     map[string]os.FileMode
	dirty     map[string]bool
}

func newWorkspaceFiles() *workspaceFiles {
	return &workspaceFiles{
		buffers:   make(map[string]string),
		originals: make(map[string]string),
		modes:     make(map[string]os.FileMode),
		dirty:     make(map[string]bool),
	}
}

// load returns a file's content, reading from disk on first access.
func (w *workspaceFiles) load(path string) (string, error) {
	if content, ok := w.buffers[path]; ok {
		return content, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	content := string(data)
	w.buffers[path] = content
	w.originals[path] = content
	w.modes[path] = info.Mode().Perm()
	return content, nil
}

// original returns a file's content as first read from disk, before any
// edits in this operation.
func (w *workspaceFiles) original(path string) (string, bool) {
	c, ok := w.originals[path]
	return c, ok
}

// store replaces a file's buffer and marks it for flushing.
func (w *workspaceFiles) store(path, content string) {
	w.buffers[path] = content
	w.dirty[path] = true
	if _, ok := w.modes[path]; !ok {
		w.modes[path] = 0o644
	}
}

// content returns the current buffer for a path, if loaded.
func (w *workspaceFiles) content(path string) (string, bool) {
	c, ok := w.buffers[path]
	return c, ok
}

// dirtyPaths returns the modified paths in deterministic order.
func (w *workspaceFiles) dirtyPaths() []string {
	paths := make([]string, 0, len(w.dirty))
	for p := range w.dirty {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// flush writes every dirty buffer to disk atomically and returns the
// written paths. A failed write aborts the flush; already-written files
// stay written.
func (w *workspaceFiles) flush() ([]string, error) {
	var written []string
	for _, path := range w.dirtyPaths() {
		if err := atomicWriteFile(path, []byte(w.buffers[path]), w.modes[path]); err != nil {
			return written, err
		}
		written = append(written, path)
		delete(w.dirty, path)
	}
	return written, nil
}

// atomicWriteFile writes content to a file atomically using rename, so the
// file is either fully written or not modified at all.
func atomicWriteFile(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	// Temp file in the same directory keeps the rename on one filesystem.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing content: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing to disk: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
