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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParentTag(t *testing.T) {
	assert.Equal(t, "project_id:p-1", ProjectParent("p-1").Tag())
	assert.Equal(t, "experiment_id:e-1", ExperimentParent("e-1").Tag())
	assert.Equal(t, "project_name:my project", ProjectNameParent("my project").Tag())
	assert.Equal(t, "", Parent{}.Tag())
	assert.Equal(t, "", Parent{Kind: ParentKindProjectID}.Tag())
}

func TestParentIsZero(t *testing.T) {
	assert.True(t, Parent{}.IsZero())
	assert.True(t, Parent{Kind: ParentKindProjectID}.IsZero())
	assert.True(t, Parent{ID: "p-1"}.IsZero())
	assert.False(t, ProjectParent("p-1").IsZero())
}

func TestParseParentTag(t *testing.T) {
	t.Run("round trips every kind", func(t *testing.T) {
		for _, p := range []Parent{
			ProjectParent("p-1"),
			ExperimentParent("e-1"),
			ProjectNameParent("my-project"),
		} {
			got, err := ParseParentTag(p.Tag())
			require.NoError(t, err)
			assert.Equal(t, p, got)
		}
	})

	t.Run("value may contain colons", func(t *testing.T) {
		got, err := ParseParentTag("project_name:team:alpha")
		require.NoError(t, err)
		assert.Equal(t, ProjectNameParent("team:alpha"), got)
	})

	t.Run("rejects malformed tags", func(t *testing.T) {
		for _, tag := range []string{"", "project_id", "project_id:", "bogus:x", ":x"} {
			_, err := ParseParentTag(tag)
			assert.ErrorIs(t, err, ErrInvalidParentTag, "tag %q", tag)
		}
	})
}
