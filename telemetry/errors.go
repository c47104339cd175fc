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
	"errors"
	"fmt"
)

// Sentinel errors for the telemetry package.
var (
	// ErrExporterShutdown is returned when export is attempted after
	// shutdown. Data handed to a shut-down exporter is not silently
	// dropped; the batching layer sees this error.
	ErrExporterShutdown = errors.New("exporter already shut down")

	// ErrNilConfig is returned when a nil config is passed.
	ErrNilConfig = errors.New("config must not be nil")

	// ErrInvalidParentTag is returned when a parent tag string cannot be
	// parsed.
	ErrInvalidParentTag = errors.New("invalid parent tag")
)

// PartitionError reports a failed dispatch for one parent partition of an
// export batch. Failures are isolated per partition: other partitions in
// the same batch still complete, and the exporter surfaces every
// PartitionError joined into the aggregate export error.
type PartitionError struct {
	// Parent is the partition's parent tag. Empty for the default
	// (untagged) partition.
	Parent string

	// Err is the underlying transport or construction error.
	Err error
}

func (e *PartitionError) Error() string {
	if e.Parent == "" {
		return fmt.Sprintf("export default partition: %v", e.Err)
	}
	return fmt.Sprintf("export partition %q: %v", e.Parent, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }
