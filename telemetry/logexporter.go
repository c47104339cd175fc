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

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/AleutianAI/beacon/config"
	"github.com/AleutianAI/beacon/internal/diag"
)

// LogTransportFactory builds the underlying transport for one parent tag.
type LogTransportFactory func(tag string) (sdklog.Exporter, error)

// LogExporterOption configures a LogExporter.
type LogExporterOption func(*logExporterOptions)

type logExporterOptions struct {
	factory  LogTransportFactory
	capacity int
}

// WithLogTransportFactory overrides how per-parent log transports are
// built. Intended for tests.
func WithLogTransportFactory(f LogTransportFactory) LogExporterOption {
	return func(o *logExporterOptions) { o.factory = f }
}

// WithLogTransportCapacity overrides the transport cache capacity.
func WithLogTransportCapacity(n int) LogExporterOption {
	return func(o *logExporterOptions) { o.capacity = n }
}

// LogExporter routes emitted log records to the backend, grouped by
// parent. The log-record counterpart of SpanExporter; see that type for
// the grouping, isolation, and lifecycle contract.
//
// Thread Safety: Safe for concurrent use.
type LogExporter struct {
	state      atomic.Int32
	transports *transportCache[sdklog.Exporter]
}

// NewLogExporter creates a grouping log exporter for cfg.
func NewLogExporter(cfg *config.Config, opts ...LogExporterOption) (*LogExporter, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	o := logExporterOptions{
		factory:  newLogTransportFactory(cfg),
		capacity: cfg.MaxParentTransports,
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &LogExporter{}
	e.transports = newTransportCache(o.capacity, o.factory, func(tag string, t sdklog.Exporter) {
		diag.Debug("evicting parent log transport", "parent", tag)
		if err := t.Shutdown(context.Background()); err != nil {
			diag.Warn("failed to shut down evicted log transport", "parent", tag, "error", err)
		}
	})
	return e, nil
}

func newLogTransportFactory(cfg *config.Config) LogTransportFactory {
	endpoint := cfg.APIURL + cfg.LogsPath
	apiKey := cfg.APIKey
	timeout := cfg.RequestTimeout

	return func(tag string) (sdklog.Exporter, error) {
		headers := map[string]string{
			"Authorization": "Bearer " + apiKey,
		}
		if tag != "" {
			headers[ParentHeader] = tag
			diag.Debug("creating log transport", "parent", tag)
		}
		return otlploghttp.New(context.Background(),
			otlploghttp.WithEndpointURL(endpoint),
			otlploghttp.WithHeaders(headers),
			otlploghttp.WithTimeout(timeout),
		)
	}
}

// Export groups records by parent tag and dispatches each group through
// its transport. Same semantics as SpanExporter.ExportSpans: record order
// is preserved within a group, partitions dispatch concurrently, and
// per-partition failures are isolated and joined.
func (e *LogExporter) Export(ctx context.Context, records []sdklog.Record) error {
	if e.state.Load() != stateRunning {
		return ErrExporterShutdown
	}
	if len(records) == 0 {
		return nil
	}

	order, groups := partitionRecords(records)

	errs := make([]error, len(order))
	var wg sync.WaitGroup
	for i, tag := range order {
		wg.Add(1)
		go func(i int, tag string, group []sdklog.Record) {
			defer wg.Done()
			if err := e.exportPartition(ctx, tag, group); err != nil {
				errs[i] = &PartitionError{Parent: tag, Err: err}
			}
		}(i, tag, groups[tag])
	}
	wg.Wait()

	return errors.Join(errs...)
}

func partitionRecords(records []sdklog.Record) (order []string, groups map[string][]sdklog.Record) {
	groups = make(map[string][]sdklog.Record)
	for _, record := range records {
		tag := ""
		record.WalkAttributes(func(kv otellog.KeyValue) bool {
			if kv.Key == ParentAttrKeyName {
				tag = kv.Value.AsString()
				return false
			}
			return true
		})
		if _, seen := groups[tag]; !seen {
			order = append(order, tag)
		}
		groups[tag] = append(groups[tag], record)
	}
	return order, groups
}

func (e *LogExporter) exportPartition(ctx context.Context, tag string, records []sdklog.Record) error {
	transport, err := e.transports.getOrCreate(tag)
	if err != nil {
		return err
	}
	diag.Debug("exporting log records", "parent", tag, "count", len(records))
	return transport.Export(ctx, records)
}

// ForceFlush flushes every cached transport. After Shutdown it is a
// no-op returning nil, per the sdklog.Exporter contract.
func (e *LogExporter) ForceFlush(ctx context.Context) error {
	if e.state.Load() != stateRunning {
		return nil
	}
	var errs []error
	e.transports.forEach(func(tag string, t sdklog.Exporter) {
		if err := t.ForceFlush(ctx); err != nil {
			errs = append(errs, &PartitionError{Parent: tag, Err: err})
		}
	})
	return errors.Join(errs...)
}

// Shutdown shuts down every cached transport and moves the exporter to
// its terminal state. Idempotent; later Export calls fail with
// ErrExporterShutdown.
func (e *LogExporter) Shutdown(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateRunning, stateFlushing) {
		return nil
	}
	defer e.state.Store(stateShutdown)

	entries := e.transports.drain()
	errs := make([]error, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, t sdklog.Exporter) {
			defer wg.Done()
			errs[i] = t.Shutdown(ctx)
		}(i, entry.transport)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// TransportStats reports per-parent transport constructions and evictions.
func (e *LogExporter) TransportStats() (builds, evictions int64) {
	return e.transports.stats()
}

var _ sdklog.Exporter = (*LogExporter)(nil)
