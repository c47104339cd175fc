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
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/beacon/config"
	"github.com/AleutianAI/beacon/internal/diag"
)

// Exporter lifecycle states. Terminal once stateShutdown is reached; there
// is no transition back to stateRunning.
const (
	stateRunning int32 = iota
	stateFlushing
	stateShutdown
)

// SpanTransportFactory builds the underlying transport for one parent tag.
// The empty tag is the default partition: its transport carries the auth
// header but no parent header.
type SpanTransportFactory func(tag string) (sdktrace.SpanExporter, error)

// SpanExporterOption configures a SpanExporter.
type SpanExporterOption func(*spanExporterOptions)

type spanExporterOptions struct {
	factory  SpanTransportFactory
	capacity int
}

// WithSpanTransportFactory overrides how per-parent transports are built.
// Intended for tests and for routing to non-default backends.
func WithSpanTransportFactory(f SpanTransportFactory) SpanExporterOption {
	return func(o *spanExporterOptions) { o.factory = f }
}

// WithSpanTransportCapacity overrides the transport cache capacity.
func WithSpanTransportCapacity(n int) SpanExporterOption {
	return func(o *spanExporterOptions) { o.capacity = n }
}

// SpanExporter routes finished spans to the backend, grouped by parent.
//
// Description:
//
//	SpanExporter implements sdktrace.SpanExporter and sits behind the
//	SDK's batch span processor. Each batch is partitioned by the parent
//	attribute the ParentProcessor resolved at span start; partitions
//	dispatch concurrently, each over a cached per-parent transport whose
//	x-aleutian-parent header carries the partition's tag. A failing
//	partition never blocks or corrupts the others; its error surfaces as
//	a *PartitionError in the joined export error. No retries happen here
//	— retry policy belongs to the transport and the batching layer above.
//
// Thread Safety: Safe for concurrent use.
type SpanExporter struct {
	state      atomic.Int32
	transports *transportCache[sdktrace.SpanExporter]
}

// NewSpanExporter creates a grouping span exporter for cfg.
//
// Inputs:
//   - cfg: SDK configuration. Must not be nil.
//   - opts: Optional overrides (transport factory, cache capacity).
//
// Outputs:
//   - *SpanExporter: The exporter. Never nil on success.
//   - error: ErrNilConfig when cfg is nil.
func NewSpanExporter(cfg *config.Config, opts ...SpanExporterOption) (*SpanExporter, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	o := spanExporterOptions{
		factory:  newSpanTransportFactory(cfg),
		capacity: cfg.MaxParentTransports,
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &SpanExporter{}
	e.transports = newTransportCache(o.capacity, o.factory, func(tag string, t sdktrace.SpanExporter) {
		// An evicted transport is usually idle; if a partition of the
		// same over-capacity batch is still exporting through it, that
		// partition fails and surfaces as a *PartitionError like any
		// transport failure. The next batch for the tag rebuilds.
		diag.Debug("evicting parent span transport", "parent", tag)
		if err := t.Shutdown(context.Background()); err != nil {
			diag.Warn("failed to shut down evicted span transport", "parent", tag, "error", err)
		}
	})
	return e, nil
}

// newSpanTransportFactory builds OTLP/HTTP span transports against the
// configured backend, one per parent tag.
func newSpanTransportFactory(cfg *config.Config) SpanTransportFactory {
	endpoint := cfg.APIURL + cfg.TracesPath
	apiKey := cfg.APIKey
	timeout := cfg.RequestTimeout

	return func(tag string) (sdktrace.SpanExporter, error) {
		headers := map[string]string{
			"Authorization": "Bearer " + apiKey,
		}
		if tag != "" {
			headers[ParentHeader] = tag
			diag.Debug("creating span transport", "parent", tag)
		}
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpointURL(endpoint),
			otlptracehttp.WithHeaders(headers),
			otlptracehttp.WithTimeout(timeout),
		)
		return otlptrace.New(context.Background(), client)
	}
}

// ExportSpans groups spans by parent tag and dispatches each group through
// its transport.
//
// Description:
//
//	Grouping is a pure function of the batch: insertion order is preserved
//	within each group, and a batch with k distinct tags produces exactly k
//	dispatches (plus one for untagged spans). Dispatches run concurrently;
//	the call returns when the slowest finishes or ctx expires.
//
// Outputs:
//   - error: nil when every partition succeeded; otherwise the join of one
//     *PartitionError per failed partition. ErrExporterShutdown after
//     Shutdown.
func (e *SpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.state.Load() != stateRunning {
		// Rejecting during the flushing window too: a late export would
		// rebuild a transport into a cache that is being drained.
		return ErrExporterShutdown
	}
	if len(spans) == 0 {
		return nil
	}

	order, groups := partitionSpans(spans)

	errs := make([]error, len(order))
	var wg sync.WaitGroup
	for i, tag := range order {
		wg.Add(1)
		go func(i int, tag string, group []sdktrace.ReadOnlySpan) {
			defer wg.Done()
			if err := e.exportPartition(ctx, tag, group); err != nil {
				errs[i] = &PartitionError{Parent: tag, Err: err}
			}
		}(i, tag, groups[tag])
	}
	wg.Wait()

	return errors.Join(errs...)
}

// partitionSpans splits a batch by parent tag, preserving batch order both
// across first-seen tags and within each group.
func partitionSpans(spans []sdktrace.ReadOnlySpan) (order []string, groups map[string][]sdktrace.ReadOnlySpan) {
	groups = make(map[string][]sdktrace.ReadOnlySpan)
	for _, span := range spans {
		tag := ""
		for _, attr := range span.Attributes() {
			if attr.Key == ParentAttrKey {
				tag = attr.Value.AsString()
				break
			}
		}
		if _, seen := groups[tag]; !seen {
			order = append(order, tag)
		}
		groups[tag] = append(groups[tag], span)
	}
	return order, groups
}

func (e *SpanExporter) exportPartition(ctx context.Context, tag string, spans []sdktrace.ReadOnlySpan) error {
	transport, err := e.transports.getOrCreate(tag)
	if err != nil {
		return err
	}
	diag.Debug("exporting spans", "parent", tag, "count", len(spans))
	return transport.ExportSpans(ctx, spans)
}

// Shutdown flushes nothing (span export is synchronous), shuts down every
// cached transport, and moves the exporter to its terminal state.
//
// Description:
//
//	Idempotent: the first call wins, later calls return nil immediately.
//	Exports attempted after Shutdown fail with ErrExporterShutdown.
//
// Outputs:
//   - error: The join of per-transport shutdown errors, or ctx's error.
func (e *SpanExporter) Shutdown(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateRunning, stateFlushing) {
		return nil
	}
	defer e.state.Store(stateShutdown)

	entries := e.transports.drain()
	errs := make([]error, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, tag string, t sdktrace.SpanExporter) {
			defer wg.Done()
			errs[i] = t.Shutdown(ctx)
		}(i, entry.tag, entry.transport)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// TransportStats reports how many per-parent transports were constructed
// and evicted. Useful for monitoring cache pressure.
func (e *SpanExporter) TransportStats() (builds, evictions int64) {
	return e.transports.stats()
}

var _ sdktrace.SpanExporter = (*SpanExporter)(nil)
