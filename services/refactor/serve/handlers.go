// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package serve

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/tsbridge/services/refactor/engine"
	"github.com/AleutianAI/tsbridge/services/refactor/tsserver"
)

// ServiceVersion is the tsbridge service version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the body of a 4xx/5xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers contains the HTTP handlers for the refactoring operations.
type Handlers struct {
	engine  *engine.Engine
	session *tsserver.Session
}

// NewHandlers creates handlers for the given engine and session.
func NewHandlers(eng *engine.Engine, session *tsserver.Session) *Handlers {
	return &Handlers{engine: eng, session: session}
}

// RenameRequest is the body of POST /v1/refactor/rename.
type RenameRequest struct {
	File    string `json:"file" binding:"required"`
	Line    int    `json:"line" binding:"required,min=1"`
	Offset  int    `json:"offset" binding:"required,min=1"`
	NewName string `json:"newName" binding:"required"`
	Preview bool   `json:"preview"`
}

// ExtractRequest is the body of POST /v1/refactor/extract.
type ExtractRequest struct {
	File        string `json:"file" binding:"required"`
	StartLine   int    `json:"startLine" binding:"required,min=1"`
	StartOffset int    `json:"startOffset" binding:"required,min=1"`
	EndLine     int    `json:"endLine" binding:"required,min=1"`
	EndOffset   int    `json:"endOffset" binding:"required,min=1"`
	Kind        string `json:"kind" binding:"required,oneof=function constant"`
	Name        string `json:"name"`
	Preview     bool   `json:"preview"`
}

// MoveRequest is the body of POST /v1/refactor/move.
type MoveRequest struct {
	OldPath string `json:"oldPath" binding:"required"`
	NewPath string `json:"newPath" binding:"required"`
	Preview bool   `json:"preview"`
}

// OrganizeImportsRequest is the body of POST /v1/refactor/organize-imports.
type OrganizeImportsRequest struct {
	File    string `json:"file" binding:"required"`
	Preview bool   `json:"preview"`
}

// ReferencesRequest is the body of POST /v1/refactor/references.
type ReferencesRequest struct {
	File   string `json:"file" binding:"required"`
	Line   int    `json:"line" binding:"required,min=1"`
	Offset int    `json:"offset" binding:"required,min=1"`
}

// HandleRename handles POST /v1/refactor/rename.
//
// Response:
//
//	200 OK: engine.Result (Success false for expected failures)
//	400 Bad Request: Validation error
func (h *Handlers) HandleRename(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRename")

	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	res := h.engine.Rename(c.Request.Context(), engine.RenameRequest{
		File:    req.File,
		Line:    req.Line,
		Offset:  req.Offset,
		NewName: req.NewName,
		Preview: req.Preview,
	})
	c.JSON(http.StatusOK, res)
}

// HandleExtract handles POST /v1/refactor/extract.
func (h *Handlers) HandleExtract(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExtract")

	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	res := h.engine.Extract(c.Request.Context(), engine.ExtractRequest{
		File:        req.File,
		StartLine:   req.StartLine,
		StartOffset: req.StartOffset,
		EndLine:     req.EndLine,
		EndOffset:   req.EndOffset,
		Kind:        req.Kind,
		Name:        req.Name,
		Preview:     req.Preview,
	})
	c.JSON(http.StatusOK, res)
}

// HandleMove handles POST /v1/refactor/move.
func (h *Handlers) HandleMove(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleMove")

	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	res := h.engine.MoveFile(c.Request.Context(), engine.MoveRequest{
		OldPath: req.OldPath,
		NewPath: req.NewPath,
		Preview: req.Preview,
	})
	c.JSON(http.StatusOK, res)
}

// HandleOrganizeImports handles POST /v1/refactor/organize-imports.
func (h *Handlers) HandleOrganizeImports(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleOrganizeImports")

	var req OrganizeImportsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	res := h.engine.OrganizeImports(c.Request.Context(), engine.OrganizeImportsRequest{
		File:    req.File,
		Preview: req.Preview,
	})
	c.JSON(http.StatusOK, res)
}

// HandleReferences handles POST /v1/refactor/references.
func (h *Handlers) HandleReferences(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReferences")

	var req ReferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	res := h.engine.References(c.Request.Context(), engine.ReferencesRequest{
		File:   req.File,
		Line:   req.Line,
		Offset: req.Offset,
	})
	c.JSON(http.StatusOK, res)
}

// HandleHealth handles GET /v1/refactor/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": ServiceVersion,
	})
}

// HandleReady handles GET /v1/refactor/ready. Ready means the tsserver
// session is running and the project index is loaded.
func (h *Handlers) HandleReady(c *gin.Context) {
	running := h.session.IsRunning()
	loaded := h.session.Gate().Loaded()
	status := http.StatusOK
	if !running {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"running":       running,
		"projectLoaded": loaded,
		"state":         h.session.State().String(),
		"root":          h.session.RootPath(),
	})
}

// getOrCreateRequestID returns the inbound request id, minting one if absent.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
