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

	"go.opentelemetry.io/otel/trace"
)

// parentCtxKey is the private context key for the ambient Parent.
type parentCtxKey struct{}

// ContextWithParent returns a context carrying p as the ambient parent for
// every span and log record created under it.
//
// Description:
//
//	The parent rides the context tree, so nesting shadows naturally: an
//	inner ContextWithParent wins for records created within it, and the
//	outer value is untouched when the inner scope's context goes out of
//	use. Concurrent scopes with different contexts never observe each
//	other's parent. A zero Parent returns ctx unchanged.
//
// Thread Safety: Safe for concurrent use; the stored value is immutable.
func ContextWithParent(ctx context.Context, p Parent) context.Context {
	if p.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, parentCtxKey{}, p)
}

// ContextWithProject returns a context parenting records to a project ID.
func ContextWithProject(ctx context.Context, projectID string) context.Context {
	return ContextWithParent(ctx, ProjectParent(projectID))
}

// ContextWithExperiment returns a context parenting records to an
// experiment ID.
func ContextWithExperiment(ctx context.Context, experimentID string) context.Context {
	return ContextWithParent(ctx, ExperimentParent(experimentID))
}

// ParentFromContext returns the ambient Parent carried by ctx.
//
// Outputs:
//   - Parent: The ambient parent (zero when absent).
//   - bool: True when a parent is set on ctx.
func ParentFromContext(ctx context.Context) (Parent, bool) {
	if ctx == nil {
		return Parent{}, false
	}
	p, ok := ctx.Value(parentCtxKey{}).(Parent)
	return p, ok
}

// SetSpanParent sets the parent attribute directly on span. An explicit
// attribute takes precedence over the ambient context and the configured
// default for that span.
func SetSpanParent(span trace.Span, p Parent) {
	if span == nil || p.IsZero() {
		return
	}
	span.SetAttributes(ParentAttrKey.String(p.Tag()))
}

// SetSpanParentProject parents span to a project ID, overriding the
// ambient context for this span only.
func SetSpanParentProject(span trace.Span, projectID string) {
	SetSpanParent(span, ProjectParent(projectID))
}

// SetSpanParentExperiment parents span to an experiment ID, overriding the
// ambient context for this span only.
func SetSpanParentExperiment(span trace.Span, experimentID string) {
	SetSpanParent(span, ExperimentParent(experimentID))
}
