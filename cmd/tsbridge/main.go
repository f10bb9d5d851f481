// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// tsbridge drives a TypeScript language server (tsserver) to perform
// project-wide refactorings from the command line or over HTTP.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/tsbridge/pkg/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Operation failures have already been rendered; everything else
		// gets an error line.
		if !errors.Is(err, errOperationFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// setupLogging installs the process-wide logger from the resolved config.
// Called from the root PersistentPreRunE after flags and config merge.
func setupLogging(level, dir, service string, jsonOut bool) *logging.Logger {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		LogDir:  dir,
		Service: service,
		// JSON results go to stdout; keep logs human-readable on stderr.
		JSON:  false,
		Quiet: jsonOut && service != "serve",
	})
	logger.SetDefault()
	return logger
}
