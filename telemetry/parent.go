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
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// ParentAttrKeyName is the span/log attribute holding a record's
	// resolved parent tag. The backend routes by this attribute first.
	ParentAttrKeyName = "aleutian.parent"

	// ParentHeader is the HTTP header carrying a request-wide parent tag.
	// It applies to every record in the request that has no parent
	// attribute of its own.
	ParentHeader = "x-aleutian-parent"
)

// ParentAttrKey is ParentAttrKeyName as an OTel attribute key.
var ParentAttrKey = attribute.Key(ParentAttrKeyName)

// ParentKind identifies what a Parent refers to.
type ParentKind string

const (
	// ParentKindProjectID parents records to a project by ID.
	ParentKindProjectID ParentKind = "project_id"

	// ParentKindExperimentID parents records to an experiment by ID.
	ParentKindExperimentID ParentKind = "experiment_id"

	// ParentKindProjectName parents records to a project by name. The
	// backend creates the project on first use.
	ParentKindProjectName ParentKind = "project_name"
)

// Parent identifies the project or experiment that owns a telemetry record.
//
// Description:
//
//	Parent is an immutable value type. Its Tag form ("project_id:<id>",
//	"experiment_id:<id>", "project_name:<name>") is the grouping key at
//	export time and the literal value of the x-aleutian-parent header.
//
// Thread Safety: Immutable; safe to copy and share.
type Parent struct {
	Kind ParentKind
	ID   string
}

// ProjectParent returns a Parent for a project ID.
func ProjectParent(projectID string) Parent {
	return Parent{Kind: ParentKindProjectID, ID: projectID}
}

// ProjectNameParent returns a Parent for a project name.
func ProjectNameParent(name string) Parent {
	return Parent{Kind: ParentKindProjectName, ID: name}
}

// ExperimentParent returns a Parent for an experiment ID.
func ExperimentParent(experimentID string) Parent {
	return Parent{Kind: ParentKindExperimentID, ID: experimentID}
}

// IsZero reports whether p identifies nothing.
func (p Parent) IsZero() bool {
	return p.Kind == "" || p.ID == ""
}

// Tag returns the string encoding of p, or "" for the zero Parent.
func (p Parent) Tag() string {
	if p.IsZero() {
		return ""
	}
	return string(p.Kind) + ":" + p.ID
}

// String implements fmt.Stringer.
func (p Parent) String() string { return p.Tag() }

// ParseParentTag parses "kind:value" into a Parent.
//
// Outputs:
//   - Parent: The parsed parent.
//   - error: ErrInvalidParentTag (wrapped with the offending tag) when the
//     tag has no separator, an unknown kind, or an empty value.
func ParseParentTag(tag string) (Parent, error) {
	kind, id, ok := strings.Cut(tag, ":")
	if !ok || id == "" {
		return Parent{}, fmt.Errorf("%w: %q", ErrInvalidParentTag, tag)
	}
	switch ParentKind(kind) {
	case ParentKindProjectID, ParentKindExperimentID, ParentKindProjectName:
		return Parent{Kind: ParentKind(kind), ID: id}, nil
	default:
		return Parent{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidParentTag, kind)
	}
}
