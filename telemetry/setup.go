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
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/beacon/config"
	"github.com/AleutianAI/beacon/internal/diag"
)

const (
	instrumentationName = "github.com/AleutianAI/beacon"

	// Version is the SDK version reported in instrumentation scopes.
	Version = "0.1.0"
)

// settings holds everything New accepts beyond the Config.
type settings struct {
	serviceName        string
	serviceVersion     string
	resourceAttrs      []attribute.KeyValue
	exportInterval     time.Duration
	maxQueueSize       int
	maxExportBatchSize int
	flushTimeout       time.Duration
	registerGlobal     bool
	metricExporter     string
	spanProcessor      sdktrace.SpanProcessor
	logProcessor       sdklog.Processor
	spanExporterOpts   []SpanExporterOption
	logExporterOpts    []LogExporterOption
}

func defaultSettings() settings {
	return settings{
		serviceName:        "beacon-app",
		serviceVersion:     Version,
		exportInterval:     5 * time.Second,
		maxQueueSize:       2048,
		maxExportBatchSize: 512,
		flushTimeout:       10 * time.Second,
		metricExporter:     "otlp",
	}
}

// Option customizes New and Quickstart.
type Option func(*settings)

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(s *settings) { s.serviceName = name }
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) Option {
	return func(s *settings) { s.serviceVersion = version }
}

// WithResourceAttributes adds resource attributes to every pipeline.
func WithResourceAttributes(attrs ...attribute.KeyValue) Option {
	return func(s *settings) { s.resourceAttrs = append(s.resourceAttrs, attrs...) }
}

// WithExportInterval sets how often buffered records export.
func WithExportInterval(d time.Duration) Option {
	return func(s *settings) { s.exportInterval = d }
}

// WithMaxQueueSize sets the batching layer's queue capacity.
func WithMaxQueueSize(n int) Option {
	return func(s *settings) { s.maxQueueSize = n }
}

// WithMaxExportBatchSize sets the largest batch handed to an exporter.
func WithMaxExportBatchSize(n int) Option {
	return func(s *settings) { s.maxExportBatchSize = n }
}

// WithFlushTimeout bounds the coordinated force-flush at shutdown.
func WithFlushTimeout(d time.Duration) Option {
	return func(s *settings) { s.flushTimeout = d }
}

// WithRegisterGlobal also installs the SDK's providers as OTel globals.
// Quickstart turns this on; New leaves it off so the core stays free of
// hidden global state.
func WithRegisterGlobal(register bool) Option {
	return func(s *settings) { s.registerGlobal = register }
}

// WithMetricExporter selects the metric exporter: "otlp" (default),
// "prometheus", "stdout", or "none".
func WithMetricExporter(kind string) Option {
	return func(s *settings) { s.metricExporter = kind }
}

// WithSpanProcessor replaces the batching span pipeline entirely. Intended
// for tests that need synchronous, in-memory export.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(s *settings) { s.spanProcessor = p }
}

// WithLogProcessor replaces the batching log pipeline entirely. Intended
// for tests.
func WithLogProcessor(p sdklog.Processor) Option {
	return func(s *settings) { s.logProcessor = p }
}

// WithSpanExporterOptions forwards options to the grouping span exporter.
func WithSpanExporterOptions(opts ...SpanExporterOption) Option {
	return func(s *settings) { s.spanExporterOpts = append(s.spanExporterOpts, opts...) }
}

// WithLogExporterOptions forwards options to the grouping log exporter.
func WithLogExporterOptions(opts ...LogExporterOption) Option {
	return func(s *settings) { s.logExporterOpts = append(s.logExporterOpts, opts...) }
}

// SDK owns the trace, log, and metric pipelines routed to the backend.
//
// Description:
//
//	Build one per process via New or Quickstart, and call Shutdown before
//	exit — Shutdown performs the final coordinated flush, and the batch
//	pipelines lose buffered data without it.
//
// Thread Safety: Safe for concurrent use.
type SDK struct {
	cfg *config.Config

	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	meterProvider  *sdkmetric.MeterProvider

	metricsHandler http.Handler
	flushTimeout   time.Duration

	shutdownOnce sync.Once
	shutdownErr  error
}

// Quickstart configures the SDK from ALEUTIAN_* environment variables and
// registers its providers as OTel globals.
//
// Example:
//
//	sdk, err := telemetry.Quickstart(ctx)
//	if err != nil {
//	    return fmt.Errorf("init beacon: %w", err)
//	}
//	defer sdk.Shutdown(context.Background())
//
// Thread Safety: Call once at application startup.
func Quickstart(ctx context.Context, opts ...Option) (*SDK, error) {
	cfg, err := config.FromEnvironment()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, append([]Option{WithRegisterGlobal(true)}, opts...)...)
}

// New builds an SDK from an explicit config.
//
// Description:
//
//	Wires the parent enrichers, batching layers, grouping exporters, and
//	the selected metric exporter into fresh providers. Nothing global is
//	touched unless WithRegisterGlobal(true) is passed.
//
// Inputs:
//   - ctx: Context for exporter construction.
//   - cfg: SDK configuration. Must not be nil; it is validated.
//   - opts: Optional overrides.
//
// Outputs:
//   - *SDK: The initialized SDK. Never nil on success.
//   - error: Config or exporter construction failure.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*SDK, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	diag.SetDebug(cfg.Debug)

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	defaultParent, _ := ParseParentTag(cfg.DefaultParentTag())

	res := resource.NewWithAttributes(
		"",
		append([]attribute.KeyValue{
			attribute.String("service.name", s.serviceName),
			attribute.String("service.version", s.serviceVersion),
		}, s.resourceAttrs...)...,
	)

	sdk := &SDK{cfg: cfg, flushTimeout: s.flushTimeout}

	tp, err := sdk.initTracerProvider(cfg, s, res, defaultParent)
	if err != nil {
		return nil, fmt.Errorf("init tracer provider: %w", err)
	}
	sdk.tracerProvider = tp

	lp, err := sdk.initLoggerProvider(cfg, s, res, defaultParent)
	if err != nil {
		return nil, fmt.Errorf("init logger provider: %w", err)
	}
	sdk.loggerProvider = lp

	mp, err := sdk.initMeterProvider(ctx, cfg, s, res)
	if err != nil {
		return nil, fmt.Errorf("init meter provider: %w", err)
	}
	sdk.meterProvider = mp

	if s.registerGlobal {
		otel.SetTracerProvider(tp)
		global.SetLoggerProvider(lp)
		if mp != nil {
			otel.SetMeterProvider(mp)
		}
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		diag.Debug("registered OpenTelemetry providers globally")
	}

	return sdk, nil
}

func (sdk *SDK) initTracerProvider(cfg *config.Config, s settings, res *resource.Resource, defaultParent Parent) (*sdktrace.TracerProvider, error) {
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(NewParentProcessor(defaultParent)),
	}

	if s.spanProcessor != nil {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(s.spanProcessor))
	} else {
		exporter, err := NewSpanExporter(cfg, s.spanExporterOpts...)
		if err != nil {
			return nil, err
		}
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithBatchTimeout(s.exportInterval),
			sdktrace.WithMaxQueueSize(s.maxQueueSize),
			sdktrace.WithMaxExportBatchSize(s.maxExportBatchSize),
		)))
	}

	if cfg.EnableTraceConsoleLog {
		console, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create console span exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(console))
	}

	return sdktrace.NewTracerProvider(tpOpts...), nil
}

func (sdk *SDK) initLoggerProvider(cfg *config.Config, s settings, res *resource.Resource, defaultParent Parent) (*sdklog.LoggerProvider, error) {
	lpOpts := []sdklog.LoggerProviderOption{
		sdklog.WithResource(res),
		sdklog.WithProcessor(NewParentLogProcessor(defaultParent)),
	}

	if s.logProcessor != nil {
		lpOpts = append(lpOpts, sdklog.WithProcessor(s.logProcessor))
	} else {
		exporter, err := NewLogExporter(cfg, s.logExporterOpts...)
		if err != nil {
			return nil, err
		}
		lpOpts = append(lpOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportInterval(s.exportInterval),
			sdklog.WithMaxQueueSize(s.maxQueueSize),
			sdklog.WithExportMaxBatchSize(s.maxExportBatchSize),
		)))
	}

	return sdklog.NewLoggerProvider(lpOpts...), nil
}

func (sdk *SDK) initMeterProvider(ctx context.Context, cfg *config.Config, s settings, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	switch s.metricExporter {
	case "otlp":
		headers := map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}
		// Metrics have no per-record enrichment hook, so the whole
		// pipeline routes to the static default parent.
		if tag := cfg.DefaultParentTag(); tag != "" {
			headers[ParentHeader] = tag
		}
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(cfg.APIURL+cfg.MetricsPath),
			otlpmetrichttp.WithHeaders(headers),
			otlpmetrichttp.WithTimeout(cfg.RequestTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(s.exportInterval),
			)),
		), nil

	case "prometheus":
		exporter, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		// The exporter registers with the default prometheus registry,
		// so promhttp.Handler() serves our metrics.
		sdk.metricsHandler = promhttp.Handler()
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil

	case "none":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown metric exporter %q", s.metricExporter)
	}
}

// Tracer returns a tracer with the SDK's instrumentation scope.
func (sdk *SDK) Tracer() trace.Tracer {
	return sdk.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(Version))
}

// TracerProvider returns the SDK's tracer provider.
func (sdk *SDK) TracerProvider() *sdktrace.TracerProvider { return sdk.tracerProvider }

// LoggerProvider returns the SDK's logger provider.
func (sdk *SDK) LoggerProvider() *sdklog.LoggerProvider { return sdk.loggerProvider }

// MeterProvider returns the SDK's meter provider, nil when metrics are
// disabled.
func (sdk *SDK) MeterProvider() *sdkmetric.MeterProvider { return sdk.meterProvider }

// MetricsHandler returns the /metrics handler when the prometheus metric
// exporter is selected, nil otherwise.
func (sdk *SDK) MetricsHandler() http.Handler { return sdk.metricsHandler }

// ForceFlush flushes the trace, log, and metric pipelines in parallel,
// waiting for the slowest.
func (sdk *SDK) ForceFlush(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sdk.tracerProvider.ForceFlush(ctx); err != nil {
			diag.Warn("trace flush failed", "error", err)
			return fmt.Errorf("flush traces: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sdk.loggerProvider.ForceFlush(ctx); err != nil {
			diag.Warn("log flush failed", "error", err)
			return fmt.Errorf("flush logs: %w", err)
		}
		return nil
	})
	if sdk.meterProvider != nil {
		g.Go(func() error {
			if err := sdk.meterProvider.ForceFlush(ctx); err != nil {
				diag.Warn("metric flush failed", "error", err)
				return fmt.Errorf("flush metrics: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown flushes and tears down every pipeline.
//
// Description:
//
//	The first call force-flushes all pipelines in parallel with a single
//	bounded wait (WithFlushTimeout, default 10s) — the wait is for the
//	slowest pipeline, not their sum — then shuts the providers down
//	regardless of flush outcome, which closes every cached per-parent
//	transport. A flush timeout is logged as a warning; losing data under
//	a hard deadline beats hanging process exit. Later calls are no-ops
//	returning the first call's error.
//
// Thread Safety: Safe for concurrent use; exactly-once.
func (sdk *SDK) Shutdown(ctx context.Context) error {
	ran := false
	sdk.shutdownOnce.Do(func() {
		ran = true
		sdk.shutdownErr = sdk.doShutdown(ctx)
	})
	if !ran {
		diag.Warn("telemetry shutdown invoked more than once")
	}
	// Once.Do establishes happens-before, so reading shutdownErr here is
	// race-free for every caller.
	return sdk.shutdownErr
}

func (sdk *SDK) doShutdown(ctx context.Context) error {
	diag.Debug("shutting down telemetry; force-flushing all pipelines")

	flushCtx, cancel := context.WithTimeout(ctx, sdk.flushTimeout)
	if err := sdk.ForceFlush(flushCtx); err != nil {
		diag.Warn("final flush incomplete; proceeding with shutdown", "error", err)
	}
	cancel()

	var g errgroup.Group
	g.Go(func() error { return sdk.tracerProvider.Shutdown(ctx) })
	g.Go(func() error { return sdk.loggerProvider.Shutdown(ctx) })
	if sdk.meterProvider != nil {
		g.Go(func() error { return sdk.meterProvider.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown telemetry: %w", err)
	}
	return nil
}
