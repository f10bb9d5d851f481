// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package serve exposes the refactoring operations over HTTP for long-lived
// use: one tsserver session stays warm across requests, a filesystem watcher
// keeps its view of the workspace fresh, and Prometheus metrics are served
// on /metrics.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/tsbridge/services/refactor/engine"
	"github.com/AleutianAI/tsbridge/services/refactor/tsserver"
)

// Config controls the HTTP server.
type Config struct {
	// Port to listen on. Defaults to 8080.
	Port int

	// Debug enables gin debug mode and request logging.
	Debug bool
}

// Server is the long-lived HTTP mode of tsbridge.
type Server struct {
	config  Config
	session *tsserver.Session
	engine  *engine.Engine
	watcher *Watcher
	router  *gin.Engine
	logger  *slog.Logger
}

// NewServer wires the router, metrics exporter and workspace watcher around
// an existing session.
func NewServer(session *tsserver.Session, cfg Config) (*Server, error) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	// The otel prometheus exporter registers with the default prometheus
	// registry, so promhttp.Handler() serves every package's metrics.
	exporter, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	eng := engine.New(session)
	watcher, err := NewWatcher(session)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("tsbridge"))
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers := NewHandlers(eng, session)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	return &Server{
		config:  cfg,
		session: session,
		engine:  eng,
		watcher: watcher,
		router:  router,
		logger:  slog.Default().With(slog.String("component", "serve.Server")),
	}, nil
}

// Run starts the session, the watcher and the HTTP listener, then blocks
// until the context is cancelled and shuts everything down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.session.Start(ctx); err != nil {
		return fmt.Errorf("start tsserver session: %w", err)
	}
	if err := s.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening",
			slog.String("addr", srv.Addr),
			slog.String("root", s.session.RootPath()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.shutdown(context.Background(), srv)
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	s.shutdown(context.Background(), srv)
	return nil
}

func (s *Server) shutdown(ctx context.Context, srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	s.watcher.Stop()
	if err := s.session.Stop(shutdownCtx); err != nil {
		s.logger.Warn("session stop", slog.String("error", err.Error()))
	}
}
