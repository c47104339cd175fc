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

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/beacon/internal/diag"
)

// resolveAmbient applies the two lower precedence tiers shared by the span
// and log enrichers: the ambient context parent, then the static default.
// The explicit-attribute tier is checked by each enricher against its own
// record type before calling this.
func resolveAmbient(ctx context.Context, defaultParent Parent) (Parent, bool) {
	if p, ok := ParentFromContext(ctx); ok && !p.IsZero() {
		return p, true
	}
	if !defaultParent.IsZero() {
		return defaultParent, true
	}
	return Parent{}, false
}

// ParentProcessor resolves and writes the parent attribute onto every span
// at start time.
//
// Description:
//
//	ParentProcessor implements sdktrace.SpanProcessor. OnStart runs
//	synchronously inside tracer.Start, before the span is returned to the
//	caller: once creation returns, the span's tag is fully resolved.
//	Precedence: an attribute the caller set at start wins, then the
//	ambient context parent, then the configured default. A span matching
//	none of the three stays untagged — a valid, degraded state, never an
//	error.
//
// Thread Safety: Safe for concurrent use; the processor holds no mutable
// state, so resolution is race-free without locks.
type ParentProcessor struct {
	defaultParent Parent
}

// NewParentProcessor creates a span enricher with the given static default
// parent. A zero defaultParent disables the static tier.
func NewParentProcessor(defaultParent Parent) *ParentProcessor {
	return &ParentProcessor{defaultParent: defaultParent}
}

// OnStart writes the resolved parent attribute onto s, no-op if the caller
// already set one via trace.WithAttributes.
func (p *ParentProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	for _, attr := range s.Attributes() {
		if attr.Key == ParentAttrKey {
			return
		}
	}
	if resolved, ok := resolveAmbient(parent, p.defaultParent); ok {
		s.SetAttributes(ParentAttrKey.String(resolved.Tag()))
		diag.Debug("resolved span parent", "span", s.Name(), "parent", resolved.Tag())
		return
	}
	diag.Debug("span has no parent; exporting under default key", "span", s.Name())
}

// OnEnd dumps the finished span's attributes when debug diagnostics are
// enabled. Not part of the grouping guarantee.
func (p *ParentProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !diag.Enabled() {
		return
	}
	diag.Debug("span completed",
		"span", s.Name(),
		"trace_id", s.SpanContext().TraceID().String(),
		"span_id", s.SpanContext().SpanID().String(),
		"duration", s.EndTime().Sub(s.StartTime()),
		"attributes", len(s.Attributes()),
	)
}

// Shutdown implements sdktrace.SpanProcessor.
func (p *ParentProcessor) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (p *ParentProcessor) ForceFlush(context.Context) error { return nil }

var _ sdktrace.SpanProcessor = (*ParentProcessor)(nil)

// ParentLogProcessor is the log-record counterpart of ParentProcessor.
//
// Description:
//
//	Implements sdklog.Processor. OnEmit runs synchronously when a record
//	is emitted and applies the same precedence as the span enricher.
//
// Thread Safety: Safe for concurrent use.
type ParentLogProcessor struct {
	defaultParent Parent
}

// NewParentLogProcessor creates a log enricher with the given static
// default parent.
func NewParentLogProcessor(defaultParent Parent) *ParentLogProcessor {
	return &ParentLogProcessor{defaultParent: defaultParent}
}

// Enabled implements sdklog.Processor. Enrichment applies to every
// record; filtering belongs to processors downstream.
func (p *ParentLogProcessor) Enabled(context.Context, sdklog.EnabledParameters) bool {
	return true
}

// OnEmit writes the resolved parent attribute onto record, no-op if the
// emitter already set one.
func (p *ParentLogProcessor) OnEmit(ctx context.Context, record *sdklog.Record) error {
	tagged := false
	record.WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Key == ParentAttrKeyName {
			tagged = true
			return false
		}
		return true
	})
	if tagged {
		return nil
	}
	if resolved, ok := resolveAmbient(ctx, p.defaultParent); ok {
		record.AddAttributes(otellog.String(ParentAttrKeyName, resolved.Tag()))
	}
	return nil
}

// Shutdown implements sdklog.Processor.
func (p *ParentLogProcessor) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdklog.Processor.
func (p *ParentLogProcessor) ForceFlush(context.Context) error { return nil }

var _ sdklog.Processor = (*ParentLogProcessor)(nil)
