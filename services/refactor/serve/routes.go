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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all /v1/refactor/* endpoints with the given Gin
// router group. The group should already have any required middleware.
//
// Endpoints:
//
//	POST /v1/refactor/rename - Rename a symbol across the project
//	POST /v1/refactor/extract - Extract a span to a function or constant
//	POST /v1/refactor/move - Move a file and update imports
//	POST /v1/refactor/organize-imports - Organize one file's imports
//	POST /v1/refactor/references - List references to a symbol
//	GET  /v1/refactor/health - Health check
//	GET  /v1/refactor/ready - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	refactor := rg.Group("/refactor")
	{
		refactor.POST("/rename", handlers.HandleRename)
		refactor.POST("/extract", handlers.HandleExtract)
		refactor.POST("/move", handlers.HandleMove)
		refactor.POST("/organize-imports", handlers.HandleOrganizeImports)
		refactor.POST("/references", handlers.HandleReferences)

		refactor.GET("/health", handlers.HandleHealth)
		refactor.GET("/ready", handlers.HandleReady)
	}
}
