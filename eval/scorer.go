// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import "context"

// Scorer grades a task's output for one case. Scores are in [0, 1].
type Scorer[I, E, R any] interface {
	// Name identifies the scorer in results and telemetry.
	Name() string

	// Score grades output against the case's expectation.
	Score(ctx context.Context, c Case[I, E], output R) float64
}

// ScorerFunc adapts a function to the Scorer interface.
func ScorerFunc[I, E, R any](name string, fn func(ctx context.Context, c Case[I, E], output R) float64) Scorer[I, E, R] {
	return scorerFunc[I, E, R]{name: name, fn: fn}
}

type scorerFunc[I, E, R any] struct {
	name string
	fn   func(ctx context.Context, c Case[I, E], output R) float64
}

func (s scorerFunc[I, E, R]) Name() string { return s.name }

func (s scorerFunc[I, E, R]) Score(ctx context.Context, c Case[I, E], output R) float64 {
	return s.fn(ctx, c, output)
}

// ExactMatch scores 1 when output equals the expected value.
func ExactMatch[I any, V comparable]() Scorer[I, V, V] {
	return ScorerFunc[I, V, V]("exact_match", func(_ context.Context, c Case[I, V], output V) float64 {
		if output == c.Expected {
			return 1
		}
		return 0
	})
}
