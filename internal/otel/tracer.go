// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbinitiative/zenexec/internal/config"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// setupTraceProvider exports spans over OTLP/HTTP. The endpoint is given as
// host:port, a scheme prefix is tolerated.
func setupTraceProvider(conf config.Tracing, nodeId string) (*trace.TracerProvider, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(conf.Endpoint, "https://"), "http://")
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating new exporter: %w", err)
	}
	res, err := serviceResource(conf.Name, nodeId)
	if err != nil {
		return nil, err
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter, trace.WithMaxExportBatchSize(trace.DefaultMaxExportBatchSize)),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(conf.SampleRatio))),
		trace.WithResource(res),
	), nil
}

// serviceResource identifies the node in exported spans and metrics.
func serviceResource(name string, nodeId string) (*resource.Resource, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceInstanceID(nodeId),
		),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %w", err)
	}
	return res, nil
}
