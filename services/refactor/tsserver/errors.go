// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tsserver

import (
	"errors"
	"fmt"
)

// Sentinel errors for session and transport failures.
var (
	// ErrSessionNotRunning indicates the session is not in a running state.
	ErrSessionNotRunning = errors.New("tsserver session not running")

	// ErrSessionStarting indicates Start is already in progress elsewhere.
	ErrSessionStarting = errors.New("tsserver session start in progress")

	// ErrServerNotInstalled indicates the tsserver binary was not found.
	ErrServerNotInstalled = errors.New("tsserver not installed")

	// ErrSessionStopped rejects requests that were pending when the session
	// stopped.
	ErrSessionStopped = errors.New("tsserver session stopped")

	// ErrServerCrashed indicates the process terminated unexpectedly.
	ErrServerCrashed = errors.New("tsserver crashed")

	// ErrInvalidResponse indicates a response body could not be parsed.
	ErrInvalidResponse = errors.New("invalid tsserver response")
)

// ServiceError is a command the server executed but refused, carrying its
// diagnostic message. Distinct from transport failures: the session remains
// usable afterwards.
type ServiceError struct {
	// Command is the refused command.
	Command string

	// Message is the server's diagnostic text.
	Message string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tsserver rejected %s", e.Command)
	}
	return fmt.Sprintf("tsserver rejected %s: %s", e.Command, e.Message)
}
