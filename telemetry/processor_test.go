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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestTracer wires a ParentProcessor ahead of a synchronous in-memory
// exporter so finished spans can be inspected immediately.
func newTestTracer(t *testing.T, defaultParent Parent) (trace.Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(NewParentProcessor(defaultParent)),
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("test"), exporter
}

func spanParentTag(s tracetest.SpanStub) (string, bool) {
	for _, attr := range s.Attributes {
		if attr.Key == ParentAttrKey {
			return attr.Value.AsString(), true
		}
	}
	return "", false
}

func TestParentProcessorPrecedence(t *testing.T) {
	t.Run("explicit attribute wins over ambient and default", func(t *testing.T) {
		tracer, exporter := newTestTracer(t, ProjectNameParent("default-proj"))

		ctx := ContextWithExperiment(context.Background(), "exp-7")
		_, span := tracer.Start(ctx, "op",
			trace.WithAttributes(ParentAttrKey.String("project_id:42")))
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		tag, ok := spanParentTag(spans[0])
		require.True(t, ok)
		assert.Equal(t, "project_id:42", tag)
	})

	t.Run("ambient context wins over default", func(t *testing.T) {
		tracer, exporter := newTestTracer(t, ProjectNameParent("default-proj"))

		ctx := ContextWithExperiment(context.Background(), "exp-7")
		_, span := tracer.Start(ctx, "op")
		span.End()

		tag, ok := spanParentTag(exporter.GetSpans()[0])
		require.True(t, ok)
		assert.Equal(t, "experiment_id:exp-7", tag)
	})

	t.Run("default applies when nothing else matches", func(t *testing.T) {
		tracer, exporter := newTestTracer(t, ProjectNameParent("default-proj"))

		_, span := tracer.Start(context.Background(), "op")
		span.End()

		tag, ok := spanParentTag(exporter.GetSpans()[0])
		require.True(t, ok)
		assert.Equal(t, "project_name:default-proj", tag)
	})

	t.Run("no default leaves the span untagged", func(t *testing.T) {
		tracer, exporter := newTestTracer(t, Parent{})

		_, span := tracer.Start(context.Background(), "op")
		span.End()

		_, ok := spanParentTag(exporter.GetSpans()[0])
		assert.False(t, ok)
	})

	t.Run("zero ambient parent falls through to default", func(t *testing.T) {
		tracer, exporter := newTestTracer(t, ProjectParent("p-1"))

		ctx := ContextWithParent(context.Background(), Parent{})
		_, span := tracer.Start(ctx, "op")
		span.End()

		tag, ok := spanParentTag(exporter.GetSpans()[0])
		require.True(t, ok)
		assert.Equal(t, "project_id:p-1", tag)
	})
}

// Spans created concurrently under different ambient parents must each
// carry their own goroutine's tag; resolution happens at start time, so
// no cross-contamination is possible.
func TestParentProcessorConcurrentIsolation(t *testing.T) {
	tracer, exporter := newTestTracer(t, Parent{})

	const goroutines = 8
	const spansEach = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ctx := ContextWithExperiment(context.Background(), fmt.Sprintf("exp-%d", g))
			for i := 0; i < spansEach; i++ {
				_, span := tracer.Start(ctx, fmt.Sprintf("experiment_id:exp-%d", g))
				span.End()
			}
		}(g)
	}
	wg.Wait()

	spans := exporter.GetSpans()
	require.Len(t, spans, goroutines*spansEach)
	for _, s := range spans {
		tag, ok := spanParentTag(s)
		require.True(t, ok)
		// The span name encodes the tag its goroutine expected.
		assert.Equal(t, s.Name, tag)
	}
}

// captureLogProcessor retains a clone of every record that flows past it.
type captureLogProcessor struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (c *captureLogProcessor) OnEmit(_ context.Context, record *sdklog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record.Clone())
	return nil
}

func (c *captureLogProcessor) Enabled(context.Context, sdklog.EnabledParameters) bool { return true }
func (c *captureLogProcessor) Shutdown(context.Context) error                         { return nil }
func (c *captureLogProcessor) ForceFlush(context.Context) error                       { return nil }

var _ sdklog.Processor = (*captureLogProcessor)(nil)

func recordParentTag(r sdklog.Record) (string, bool) {
	tag, found := "", false
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Key == ParentAttrKeyName {
			tag, found = kv.Value.AsString(), true
			return false
		}
		return true
	})
	return tag, found
}

func newTestLogger(t *testing.T, defaultParent Parent) (otellog.Logger, *captureLogProcessor) {
	t.Helper()
	capture := &captureLogProcessor{}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(NewParentLogProcessor(defaultParent)),
		sdklog.WithProcessor(capture),
	)
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	return lp.Logger("test"), capture
}

func TestParentLogProcessorPrecedence(t *testing.T) {
	t.Run("explicit attribute wins", func(t *testing.T) {
		logger, capture := newTestLogger(t, ProjectNameParent("default-proj"))

		var rec otellog.Record
		rec.SetBody(otellog.StringValue("hello"))
		rec.AddAttributes(otellog.String(ParentAttrKeyName, "project_id:42"))
		logger.Emit(ContextWithExperiment(context.Background(), "exp-7"), rec)

		require.Len(t, capture.records, 1)
		tag, ok := recordParentTag(capture.records[0])
		require.True(t, ok)
		assert.Equal(t, "project_id:42", tag)
	})

	t.Run("ambient context wins over default", func(t *testing.T) {
		logger, capture := newTestLogger(t, ProjectNameParent("default-proj"))

		var rec otellog.Record
		rec.SetBody(otellog.StringValue("hello"))
		logger.Emit(ContextWithExperiment(context.Background(), "exp-7"), rec)

		tag, ok := recordParentTag(capture.records[0])
		require.True(t, ok)
		assert.Equal(t, "experiment_id:exp-7", tag)
	})

	t.Run("default applies last", func(t *testing.T) {
		logger, capture := newTestLogger(t, ProjectNameParent("default-proj"))

		var rec otellog.Record
		rec.SetBody(otellog.StringValue("hello"))
		logger.Emit(context.Background(), rec)

		tag, ok := recordParentTag(capture.records[0])
		require.True(t, ok)
		assert.Equal(t, "project_name:default-proj", tag)
	})

	t.Run("untagged when nothing matches", func(t *testing.T) {
		logger, capture := newTestLogger(t, Parent{})

		var rec otellog.Record
		rec.SetBody(otellog.StringValue("hello"))
		logger.Emit(context.Background(), rec)

		_, ok := recordParentTag(capture.records[0])
		assert.False(t, ok)
	})
}
