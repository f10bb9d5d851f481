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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for refactoring operations.
var (
	tracer = otel.Tracer("aleutian.tsbridge.engine")
	meter  = otel.Meter("aleutian.tsbridge.engine")
)

// Metrics for refactoring operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	filesChanged     metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"refactor_operation_duration_seconds",
			metric.WithDescription("Duration of refactoring operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"refactor_operation_total",
			metric.WithDescription("Total number of refactoring operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesChanged, err = meter.Int64Histogram(
			"refactor_files_changed",
			metric.WithDescription("Number of files changed by refactoring operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a refactoring operation.
func startOperationSpan(ctx context.Context, operation, filePath string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine."+operation,
		trace.WithAttributes(
			attribute.String("refactor.operation", operation),
			attribute.String("refactor.file_path", filePath),
		),
	)
}

// setOperationSpanResult sets the result attributes on an operation span.
func setOperationSpanResult(span trace.Span, fileCount int, success bool) {
	span.SetAttributes(
		attribute.Int("refactor.files_changed", fileCount),
		attribute.Bool("refactor.success", success),
	)
}

// recordOperationMetrics records metrics for a refactoring operation.
func recordOperationMetrics(ctx context.Context, operation string, duration time.Duration, fileCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)

	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)

	if success {
		filesChanged.Record(ctx, int64(fileCount), metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}
