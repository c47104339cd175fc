// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry routes OpenTelemetry spans and log records to the
// Aleutian backend, tagged with the project or experiment that owns them.
//
// # Parent routing
//
// Every record carries at most one parent tag ("project_id:<id>",
// "experiment_id:<id>", or "project_name:<name>"). The tag is resolved
// once, when the record starts, with a fixed precedence:
//
//  1. A parent attribute already set on the record by the caller.
//  2. The Parent carried by the record's context (ContextWithProject /
//     ContextWithExperiment).
//  3. The configured default project.
//  4. Nothing — the record still exports, grouped under the empty tag.
//
// At export time SpanExporter and LogExporter partition each batch by
// resolved tag and dispatch every partition through a per-tag OTLP/HTTP
// transport that carries the tag in the x-aleutian-parent header.
// Transports are cached in a bounded LRU so high-cardinality tags cannot
// grow the cache without bound.
//
// # Setup
//
//	sdk, err := telemetry.Quickstart(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sdk.Shutdown(context.Background())
//
//	tracer := sdk.Tracer()
//	ctx, span := tracer.Start(telemetry.ContextWithProject(ctx, projectID), "handle")
//	defer span.End()
//
// Quickstart reads configuration from ALEUTIAN_* environment variables;
// New accepts an explicit config and options for everything else.
package telemetry
