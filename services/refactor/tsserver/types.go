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

import "encoding/json"

// Commands this client depends on. Names follow the tsserver protocol.
const (
	CommandOpen                   = "open"
	CommandClose                  = "close"
	CommandExit                   = "exit"
	CommandRename                 = "rename"
	CommandReferences             = "references"
	CommandGetApplicableRefactors = "getApplicableRefactors"
	CommandGetEditsForRefactor    = "getEditsForRefactor"
	CommandOrganizeImports        = "organizeImports"
	CommandGetEditsForFileRename  = "getEditsForFileRename"
	CommandProjectInfo            = "projectInfo"
	CommandFileReferences         = "fileReferences"
)

// EventProjectLoadingFinish signals that tsserver finished indexing the
// workspace's file/reference graph.
const EventProjectLoadingFinish = "projectLoadingFinish"

// Message type discriminators on incoming messages.
const (
	messageTypeResponse = "response"
	messageTypeEvent    = "event"
)

// =============================================================================
// WIRE MESSAGES
// =============================================================================

// requestMessage is the outgoing wire format.
type requestMessage struct {
	// Seq is the monotonically increasing request sequence id.
	Seq int64 `json:"seq"`

	// Type is always "request".
	Type string `json:"type"`

	// Command names the operation to perform.
	Command string `json:"command"`

	// Arguments contains the command parameters.
	Arguments interface{} `json:"arguments,omitempty"`
}

// incomingMessage is the superset of response and event wire fields; Type
// discriminates which half is populated.
type incomingMessage struct {
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command,omitempty"`
	RequestSeq int64           `json:"request_seq,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Event      string          `json:"event,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Response is a completed reply to one request.
type Response struct {
	// Command echoes the request's command.
	Command string

	// Success reports whether tsserver executed the command.
	Success bool

	// Message carries diagnostic text when Success is false.
	Message string

	// Body is the command-specific result payload.
	Body json.RawMessage
}

// =============================================================================
// POSITIONS & SPANS
// =============================================================================

// Location is a 1-indexed line/offset position in a file.
type Location struct {
	Line   int `json:"line"`
	Offset int `json:"offset"`
}

// TextSpan is a half-open [start, end) span.
type TextSpan struct {
	Start Location `json:"start"`
	End   Location `json:"end"`
}

// =============================================================================
// REQUEST ARGUMENTS
// =============================================================================

// FileArgs identifies a file.
type FileArgs struct {
	File string `json:"file"`
}

// OpenArgs opens a file in the server's project view. When FileContent is
// set the server uses it instead of reading from disk.
type OpenArgs struct {
	File            string `json:"file"`
	FileContent     string `json:"fileContent,omitempty"`
	ProjectRootPath string `json:"projectRootPath,omitempty"`
}

// FileLocationArgs addresses a position in a file.
type FileLocationArgs struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Offset int    `json:"offset"`
}

// RenameArgs requests rename locations for the symbol at a position.
type RenameArgs struct {
	FileLocationArgs
	FindInComments bool `json:"findInComments"`
	FindInStrings  bool `json:"findInStrings"`
}

// FileRangeArgs addresses a span in a file.
type FileRangeArgs struct {
	File        string `json:"file"`
	StartLine   int    `json:"startLine"`
	StartOffset int    `json:"startOffset"`
	EndLine     int    `json:"endLine"`
	EndOffset   int    `json:"endOffset"`
}

// GetEditsForRefactorArgs requests the edits for one refactoring action.
type GetEditsForRefactorArgs struct {
	FileRangeArgs
	Refactor string `json:"refactor"`
	Action   string `json:"action"`
}

// OrganizeImportsArgs requests import organization for one file.
type OrganizeImportsArgs struct {
	Scope OrganizeImportsScope `json:"scope"`
}

// OrganizeImportsScope scopes organizeImports to a file.
type OrganizeImportsScope struct {
	Type string   `json:"type"`
	Args FileArgs `json:"args"`
}

// GetEditsForFileRenameArgs requests import-path updates for a file move.
type GetEditsForFileRenameArgs struct {
	OldFilePath string `json:"oldFilePath"`
	NewFilePath string `json:"newFilePath"`
}

// ProjectInfoArgs requests project metadata for the project containing File.
type ProjectInfoArgs struct {
	File             string `json:"file"`
	NeedFileNameList bool   `json:"needFileNameList"`
}

// =============================================================================
// RESPONSE BODIES
// =============================================================================

// RenameInfo describes whether and how a symbol can be renamed.
type RenameInfo struct {
	CanRename             bool     `json:"canRename"`
	DisplayName           string   `json:"displayName,omitempty"`
	FullDisplayName       string   `json:"fullDisplayName,omitempty"`
	Kind                  string   `json:"kind,omitempty"`
	LocalizedErrorMessage string   `json:"localizedErrorMessage,omitempty"`
	TriggerSpan           TextSpan `json:"triggerSpan"`
}

// RenameTextSpan is one rename location within a file. Prefix/suffix text
// covers shorthand property renames.
type RenameTextSpan struct {
	Start      Location `json:"start"`
	End        Location `json:"end"`
	PrefixText string   `json:"prefixText,omitempty"`
	SuffixText string   `json:"suffixText,omitempty"`
}

// SpanGroup groups rename locations per file.
type SpanGroup struct {
	File string           `json:"file"`
	Locs []RenameTextSpan `json:"locs"`
}

// RenameBody is the rename command's result.
type RenameBody struct {
	Info RenameInfo  `json:"info"`
	Locs []SpanGroup `json:"locs"`
}

// ApplicableRefactorInfo describes one refactoring the server offers at a
// span, with its concrete actions.
type ApplicableRefactorInfo struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Inlineable  bool                 `json:"inlineable,omitempty"`
	Actions     []RefactorActionInfo `json:"actions"`
}

// RefactorActionInfo is one selectable action of a refactoring.
type RefactorActionInfo struct {
	Name                string `json:"name"`
	Description         string `json:"description"`
	NotApplicableReason string `json:"notApplicableReason,omitempty"`
}

// CodeEdit is one textual change within a file.
type CodeEdit struct {
	Start   Location `json:"start"`
	End     Location `json:"end"`
	NewText string   `json:"newText"`
}

// FileCodeEdits groups edits per file.
type FileCodeEdits struct {
	FileName    string     `json:"fileName"`
	TextChanges []CodeEdit `json:"textChanges"`
}

// RefactorEditBody is the getEditsForRefactor result. RenameLocation points
// at the introduced placeholder declaration when the action supports a
// follow-up rename.
type RefactorEditBody struct {
	Edits          []FileCodeEdits `json:"edits"`
	RenameLocation *Location       `json:"renameLocation,omitempty"`
	RenameFilename string          `json:"renameFilename,omitempty"`
}

// ReferenceItem is one reference to a symbol.
type ReferenceItem struct {
	File          string   `json:"file"`
	Start         Location `json:"start"`
	End           Location `json:"end"`
	LineText      string   `json:"lineText,omitempty"`
	IsDefinition  bool     `json:"isDefinition"`
	IsWriteAccess bool     `json:"isWriteAccess"`
}

// ReferencesBody is the references/fileReferences result.
type ReferencesBody struct {
	Refs                []ReferenceItem `json:"refs"`
	SymbolName          string          `json:"symbolName,omitempty"`
	SymbolDisplayString string          `json:"symbolDisplayString,omitempty"`
}

// ProjectInfoBody is the projectInfo result.
type ProjectInfoBody struct {
	ConfigFileName          string   `json:"configFileName"`
	FileNames               []string `json:"fileNames,omitempty"`
	LanguageServiceDisabled bool     `json:"languageServiceDisabled,omitempty"`
}

// ProjectLoadingFinishBody accompanies the projectLoadingFinish event.
type ProjectLoadingFinishBody struct {
	ProjectName string `json:"projectName"`
}
