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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AleutianAI/tsbridge/pkg/logging"
	"github.com/AleutianAI/tsbridge/services/refactor/engine"
	"github.com/AleutianAI/tsbridge/services/refactor/serve"
	"github.com/AleutianAI/tsbridge/services/refactor/tsserver"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Global flags
	flagRoot             string
	flagTSServer         string
	flagConfigFile       string
	flagLoadTimeout      time.Duration
	flagDiscoveryTimeout time.Duration
	flagLogLevel         string
	flagLogDir           string
	flagJSON             bool

	// Rename flags
	renameLine   int
	renameOffset int
	renameTo     string

	// Extract flags
	extractStart string
	extractEnd   string
	extractKind  string
	extractName  string

	// References flags
	refsLine   int
	refsOffset int

	// Shared edit flags
	flagPreview bool

	// Serve flags
	servePort  int
	serveDebug bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// rootCmd is the top-level tsbridge command.
var rootCmd = &cobra.Command{
	Use:   "tsbridge",
	Short: "TypeScript refactoring via tsserver",
	Long: `tsbridge drives a TypeScript language server to perform project-wide
refactorings: rename symbols, extract functions and constants, move files
with import rewriting, organize imports, and find references.

Prerequisites:
  A tsserver binary on PATH (ships with the typescript npm package).

Examples:
  tsbridge rename src/api.ts --line 10 --offset 17 --to parseData
  tsbridge extract src/calc.ts --start 5:14 --end 5:21 --kind constant --name PI
  tsbridge move src/util.ts src/lib/util.ts
  tsbridge organize-imports src/index.ts
  tsbridge references src/api.ts --line 10 --offset 17
  tsbridge serve --port 8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRunEnvironment,
}

var renameCmd = &cobra.Command{
	Use:   "rename FILE",
	Short: "Rename a symbol across the project",
	Long: `Rename the symbol at a position in FILE, updating every reference
in the project including other files.

Positions are 1-indexed: --line 1 --offset 1 is the first character.

Examples:
  tsbridge rename src/api.ts --line 10 --offset 17 --to parseData
  tsbridge rename src/api.ts --line 10 --offset 17 --to parseData --preview`,
	Args: cobra.ExactArgs(1),
	RunE: runRename,
}

var extractCmd = &cobra.Command{
	Use:   "extract FILE",
	Short: "Extract a span into a function or constant",
	Long: `Extract the selected span of FILE into a new function or constant
and optionally give it a name in one step.

The span is given as 1-indexed line:offset pairs; the end offset is
exclusive.

Examples:
  tsbridge extract src/calc.ts --start 5:14 --end 5:21 --kind constant --name PI
  tsbridge extract src/calc.ts --start 10:1 --end 14:2 --kind function --name validate`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

var moveCmd = &cobra.Command{
	Use:   "move OLD NEW",
	Short: "Move a file and update imports",
	Long: `Move or rename a file on disk and rewrite every import that points
at it. Fails if NEW already exists.

Examples:
  tsbridge move src/util.ts src/lib/util.ts`,
	Args: cobra.ExactArgs(2),
	RunE: runMove,
}

var organizeImportsCmd = &cobra.Command{
	Use:   "organize-imports FILE",
	Short: "Sort and deduplicate a file's imports",
	Long: `Organize the import declarations of FILE: remove unused imports,
merge duplicates and sort the rest.

Examples:
  tsbridge organize-imports src/index.ts`,
	Args: cobra.ExactArgs(1),
	RunE: runOrganizeImports,
}

var referencesCmd = &cobra.Command{
	Use:   "references FILE",
	Short: "List references to a symbol",
	Long: `List every reference to the symbol at a position in FILE.

Examples:
  tsbridge references src/api.ts --line 10 --offset 17 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runReferences,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the refactoring HTTP service",
	Long: `Run tsbridge as a long-lived HTTP service. One tsserver session
stays warm across requests, a filesystem watcher keeps its view of the
workspace fresh, and Prometheus metrics are exposed on /metrics.

Examples:
  tsbridge serve --port 8080
  tsbridge serve --root /path/to/project --debug`,
	RunE: runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRoot, "root", ".", "Project root directory")
	pf.StringVar(&flagTSServer, "tsserver", "tsserver", "tsserver binary to spawn")
	pf.StringVar(&flagConfigFile, "config", "", "Config file (default: .tsbridge.yaml in root, if present)")
	pf.DurationVar(&flagLoadTimeout, "load-timeout", tsserver.DefaultLoadTimeout, "Max wait for project indexing")
	pf.DurationVar(&flagDiscoveryTimeout, "discovery-timeout", tsserver.DefaultDiscoveryTimeout, "Max wait for related-file discovery")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogDir, "log-dir", "", "Directory for JSON log files (disabled when empty)")
	pf.BoolVar(&flagJSON, "json", false, "Emit results as JSON on stdout")

	renameCmd.Flags().IntVar(&renameLine, "line", 0, "Symbol line (1-indexed)")
	renameCmd.Flags().IntVar(&renameOffset, "offset", 0, "Symbol column (1-indexed)")
	renameCmd.Flags().StringVar(&renameTo, "to", "", "New name for the symbol")
	renameCmd.Flags().BoolVar(&flagPreview, "preview", false, "Show edits without writing files")
	_ = renameCmd.MarkFlagRequired("line")
	_ = renameCmd.MarkFlagRequired("offset")
	_ = renameCmd.MarkFlagRequired("to")

	extractCmd.Flags().StringVar(&extractStart, "start", "", "Span start as line:offset")
	extractCmd.Flags().StringVar(&extractEnd, "end", "", "Span end as line:offset (exclusive)")
	extractCmd.Flags().StringVar(&extractKind, "kind", "", "Extraction kind: function or constant")
	extractCmd.Flags().StringVar(&extractName, "name", "", "Name for the extracted declaration")
	extractCmd.Flags().BoolVar(&flagPreview, "preview", false, "Show edits without writing files")
	_ = extractCmd.MarkFlagRequired("start")
	_ = extractCmd.MarkFlagRequired("end")
	_ = extractCmd.MarkFlagRequired("kind")

	moveCmd.Flags().BoolVar(&flagPreview, "preview", false, "Show edits without writing files")
	organizeImportsCmd.Flags().BoolVar(&flagPreview, "preview", false, "Show edits without writing files")

	referencesCmd.Flags().IntVar(&refsLine, "line", 0, "Symbol line (1-indexed)")
	referencesCmd.Flags().IntVar(&refsOffset, "offset", 0, "Symbol column (1-indexed)")
	_ = referencesCmd.MarkFlagRequired("line")
	_ = referencesCmd.MarkFlagRequired("offset")

	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP listen port")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug mode and request logging")

	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(organizeImportsCmd)
	rootCmd.AddCommand(referencesCmd)
	rootCmd.AddCommand(serveCmd)
}

// =============================================================================
// ENVIRONMENT SETUP
// =============================================================================

// initRunEnvironment merges config file, environment and flags, then installs
// the process logger. Precedence: flags > env (TSBRIDGE_*) > config file.
func initRunEnvironment(cmd *cobra.Command, args []string) error {
	v := viper.New()
	v.SetEnvPrefix("TSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	configPath := flagConfigFile
	if configPath == "" {
		candidate := filepath.Join(flagRoot, ".tsbridge.yaml")
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	flagRoot = v.GetString("root")
	flagTSServer = v.GetString("tsserver")
	flagLoadTimeout = v.GetDuration("load-timeout")
	flagDiscoveryTimeout = v.GetDuration("discovery-timeout")
	flagLogLevel = v.GetString("log-level")
	flagLogDir = v.GetString("log-dir")
	flagJSON = v.GetBool("json")

	setupLogging(flagLogLevel, flagLogDir, cmd.Name(), flagJSON)
	return nil
}

// newSession builds a tsserver session from the resolved configuration.
func newSession() (*tsserver.Session, error) {
	root, err := filepath.Abs(flagRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", flagRoot, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project root %q is not a directory", root)
	}

	return tsserver.NewSession(root, tsserver.Config{
		Command:          flagTSServer,
		LoadTimeout:      flagLoadTimeout,
		DiscoveryTimeout: flagDiscoveryTimeout,
	}), nil
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// withEngine runs one refactoring against a fresh session and renders the
// result. The session is always stopped, even on failure.
func withEngine(fn func(ctx context.Context, eng *engine.Engine) *engine.Result) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng := engine.New(session)
	res := fn(ctx, eng)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := session.Stop(stopCtx); err != nil {
		logging.Default().Warn("session stop", "error", err)
	}

	return renderResult(res, flagJSON)
}

func runRename(cmd *cobra.Command, args []string) error {
	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	return withEngine(func(ctx context.Context, eng *engine.Engine) *engine.Result {
		return eng.Rename(ctx, engine.RenameRequest{
			File:    file,
			Line:    renameLine,
			Offset:  renameOffset,
			NewName: renameTo,
			Preview: flagPreview,
		})
	})
}

func runExtract(cmd *cobra.Command, args []string) error {
	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	startLine, startOffset, err := parsePosition(extractStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	endLine, endOffset, err := parsePosition(extractEnd)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	return withEngine(func(ctx context.Context, eng *engine.Engine) *engine.Result {
		return eng.Extract(ctx, engine.ExtractRequest{
			File:        file,
			StartLine:   startLine,
			StartOffset: startOffset,
			EndLine:     endLine,
			EndOffset:   endOffset,
			Kind:        extractKind,
			Name:        extractName,
			Preview:     flagPreview,
		})
	})
}

func runMove(cmd *cobra.Command, args []string) error {
	oldPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	newPath, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}
	return withEngine(func(ctx context.Context, eng *engine.Engine) *engine.Result {
		return eng.MoveFile(ctx, engine.MoveRequest{
			OldPath: oldPath,
			NewPath: newPath,
			Preview: flagPreview,
		})
	})
}

func runOrganizeImports(cmd *cobra.Command, args []string) error {
	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	return withEngine(func(ctx context.Context, eng *engine.Engine) *engine.Result {
		return eng.OrganizeImports(ctx, engine.OrganizeImportsRequest{
			File:    file,
			Preview: flagPreview,
		})
	})
}

func runReferences(cmd *cobra.Command, args []string) error {
	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	session, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng := engine.New(session)
	res := eng.References(ctx, engine.ReferencesRequest{
		File:   file,
		Line:   refsLine,
		Offset: refsOffset,
	})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := session.Stop(stopCtx); err != nil {
		logging.Default().Warn("session stop", "error", err)
	}

	return renderReferences(res, flagJSON)
}

func runServe(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	srv, err := serve.NewServer(session, serve.Config{
		Port:  servePort,
		Debug: serveDebug,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return srv.Run(ctx)
}

// parsePosition parses a "line:offset" pair, both 1-indexed.
func parsePosition(s string) (line, offset int, err error) {
	lineStr, offsetStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("want line:offset, got %q", s)
	}
	line, err = strconv.Atoi(lineStr)
	if err != nil || line < 1 {
		return 0, 0, fmt.Errorf("bad line in %q", s)
	}
	offset, err = strconv.Atoi(offsetStr)
	if err != nil || offset < 1 {
		return 0, 0, fmt.Errorf("bad offset in %q", s)
	}
	return line, offset, nil
}
