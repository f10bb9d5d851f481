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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tsbridge/services/refactor/engine"
	"github.com/AleutianAI/tsbridge/services/refactor/tsserver"
)

func testRouter(t *testing.T) (*gin.Engine, *tsserver.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	session := tsserver.NewSession(t.TempDir(), tsserver.Config{
		Command: "definitely-not-a-real-tsserver-binary",
	})
	handlers := NewHandlers(engine.New(session), session)

	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router, session
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodGet, "/v1/refactor/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, ServiceVersion, body["version"])
}

func TestHandleReady_SessionDown(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodGet, "/v1/refactor/ready", "")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["running"])
	assert.Equal(t, "not-started", body["state"])
}

func TestHandleRename_InvalidBody(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/refactor/rename", `{"file":""}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_REQUEST", body.Code)
}

func TestHandleRename_ServerUnavailable(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/refactor/rename",
		`{"file":"/p/a.ts","line":1,"offset":1,"newName":"x"}`)

	// Expected failures come back as a structured result, not an HTTP error.
	require.Equal(t, http.StatusOK, w.Code)
	var res engine.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "tsserver")
}

func TestHandleExtract_InvalidKind(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/refactor/extract",
		`{"file":"/p/a.ts","startLine":1,"startOffset":1,"endLine":1,"endOffset":5,"kind":"class"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/refactor/rename", strings.NewReader("{}"))
	req.Header.Set("X-Request-ID", "req-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
