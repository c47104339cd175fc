// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diag

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		SetLogger(nil)
		SetDebug(false)
	})
	return &buf
}

func TestDebugGating(t *testing.T) {
	buf := captureOutput(t)

	Debug("hidden")
	assert.Empty(t, buf.String(), "debug output must be suppressed by default")

	SetDebug(true)
	assert.True(t, Enabled())
	Debug("visible", "parent", "project_id:p-1")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "project_id:p-1")

	SetDebug(false)
	buf.Reset()
	Debug("hidden again")
	assert.Empty(t, buf.String())
}

func TestWarnAlwaysEmits(t *testing.T) {
	buf := captureOutput(t)

	Warn("something off", "error", "boom")
	assert.Contains(t, buf.String(), "something off")
	assert.Contains(t, buf.String(), "boom")
}
