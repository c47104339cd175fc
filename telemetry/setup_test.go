// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/beacon/config"
)

// newTestSDK builds an SDK with synchronous in-memory pipelines and no
// metric exporter, suitable for offline tests.
func newTestSDK(t *testing.T, cfg *config.Config, opts ...Option) (*SDK, *tracetest.InMemoryExporter) {
	t.Helper()
	inmem := tracetest.NewInMemoryExporter()
	opts = append([]Option{
		WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(inmem)),
		WithLogProcessor(&captureLogProcessor{}),
		WithMetricExporter("none"),
	}, opts...)

	sdk, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sdk.Shutdown(context.Background()) })
	return sdk, inmem
}

func TestNewValidation(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(context.Background(), nil)
		require.ErrorIs(t, err, ErrNilConfig)
	})

	t.Run("missing API key", func(t *testing.T) {
		_, err := New(context.Background(), &config.Config{})
		require.ErrorIs(t, err, config.ErrMissingAPIKey)
	})

	t.Run("unknown metric exporter", func(t *testing.T) {
		_, err := New(context.Background(), testConfig(), WithMetricExporter("statsd"))
		require.Error(t, err)
	})
}

func TestSDKAppliesDefaultParent(t *testing.T) {
	cfg := &config.Config{APIKey: "sk-test", DefaultProjectID: "p-42"}
	sdk, inmem := newTestSDK(t, cfg)

	_, span := sdk.Tracer().Start(context.Background(), "op")
	span.End()

	spans := inmem.GetSpans()
	require.Len(t, spans, 1)
	tag, ok := spanParentTag(spans[0])
	require.True(t, ok)
	assert.Equal(t, "project_id:p-42", tag)
}

func TestSDKAmbientParentBeatsDefault(t *testing.T) {
	cfg := &config.Config{APIKey: "sk-test", DefaultProjectID: "p-42"}
	sdk, inmem := newTestSDK(t, cfg)

	ctx := ContextWithExperiment(context.Background(), "exp-1")
	_, span := sdk.Tracer().Start(ctx, "op")
	span.End()

	tag, _ := spanParentTag(inmem.GetSpans()[0])
	assert.Equal(t, "experiment_id:exp-1", tag)
}

func TestSDKProviders(t *testing.T) {
	sdk, _ := newTestSDK(t, testConfig())

	assert.NotNil(t, sdk.TracerProvider())
	assert.NotNil(t, sdk.LoggerProvider())
	assert.Nil(t, sdk.MeterProvider(), "metrics disabled via none")
	assert.Nil(t, sdk.MetricsHandler())
}

func TestSDKPrometheusMetrics(t *testing.T) {
	sdk, _ := newTestSDK(t, testConfig(), WithMetricExporter("prometheus"))

	assert.NotNil(t, sdk.MeterProvider())
	assert.NotNil(t, sdk.MetricsHandler())
}

func TestSDKForceFlush(t *testing.T) {
	sdk, _ := newTestSDK(t, testConfig())
	require.NoError(t, sdk.ForceFlush(context.Background()))
}

func TestSDKShutdownIdempotent(t *testing.T) {
	sdk, inmem := newTestSDK(t, testConfig())

	_, span := sdk.Tracer().Start(context.Background(), "op")
	span.End()

	require.NoError(t, sdk.Shutdown(context.Background()))
	require.NoError(t, sdk.Shutdown(context.Background()), "second call is a no-op")
	assert.Len(t, inmem.GetSpans(), 1)
}
