// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eval runs scored evaluations of AI tasks, reporting every case
// as its own trace parented to a platform experiment.
//
// Each case produces a root "eval" span with child "task" and "score"
// spans. The experiment parent rides the ambient telemetry context, so
// spans created inside the task under test inherit it automatically.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/beacon/api"
	"github.com/AleutianAI/beacon/config"
	"github.com/AleutianAI/beacon/telemetry"
)

var (
	// ErrNoTask is returned when an Eval has no task to run.
	ErrNoTask = errors.New("eval requires a task")

	// ErrNoCases is returned when an Eval has no cases.
	ErrNoCases = errors.New("eval requires at least one case")

	// ErrNoExperiment is returned when neither an ExperimentID nor the
	// config needed to register one is available.
	ErrNoExperiment = errors.New("eval requires an experiment id or a config to register one")
)

// Case is one input/expectation pair.
type Case[I, E any] struct {
	Input    I
	Expected E
	Tags     []string
	Metadata map[string]any
}

// NewCase builds a Case from an input and its expected output.
func NewCase[I, E any](input I, expected E) Case[I, E] {
	return Case[I, E]{Input: input, Expected: expected}
}

// Task produces an output for one case. It receives a context carrying
// the experiment parent and the active eval span.
type Task[I, E, R any] func(ctx context.Context, c Case[I, E]) (R, error)

// Eval is a configured evaluation run.
//
// Description:
//
//	Fill the exported fields and call Run. ProjectName, ExperimentName,
//	and Config register an experiment through the platform API; setting
//	ExperimentID directly skips registration (useful offline and in
//	tests). Cases run concurrently up to Concurrency (default 1).
//
// Thread Safety: Run may be called once; the results it returns are
// immutable.
type Eval[I, E, R any] struct {
	ProjectName    string
	ExperimentName string

	// ExperimentID, when set, is used as the parent directly and no API
	// call is made.
	ExperimentID string

	Config *config.Config
	Client *api.Client

	// Tracer defaults to the global tracer provider's tracer.
	Tracer trace.Tracer

	Task    Task[I, E, R]
	Scorers []Scorer[I, E, R]
	Cases   []Case[I, E]

	Concurrency int
}

// CaseResult is the outcome of one case.
type CaseResult[I, E, R any] struct {
	Case   Case[I, E]
	Output R
	Scores map[string]float64
	Err    error
}

// Result is the outcome of a full evaluation run.
type Result[I, E, R any] struct {
	ExperimentID   string
	ExperimentName string
	Cases          []CaseResult[I, E, R]
	Duration       time.Duration

	// ReportURL links to the experiment in the web app; empty when the
	// run was offline.
	ReportURL string
}

// ScorerAverages returns the mean score per scorer across cases that ran
// without error.
func (r *Result[I, E, R]) ScorerAverages() map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, cr := range r.Cases {
		if cr.Err != nil {
			continue
		}
		for name, score := range cr.Scores {
			sums[name] += score
			counts[name]++
		}
	}
	averages := make(map[string]float64, len(sums))
	for name, sum := range sums {
		averages[name] = sum / float64(counts[name])
	}
	return averages
}

// Report renders a short human-readable summary of the run.
func (r *Result[I, E, R]) Report() string {
	var b strings.Builder
	failed := 0
	for _, cr := range r.Cases {
		if cr.Err != nil {
			failed++
		}
	}
	fmt.Fprintf(&b, "experiment %s: %d cases (%d failed) in %s\n",
		r.ExperimentName, len(r.Cases), failed, r.Duration.Round(time.Millisecond))
	for name, avg := range r.ScorerAverages() {
		fmt.Fprintf(&b, "  %s: %.3f\n", name, avg)
	}
	if r.ReportURL != "" {
		fmt.Fprintf(&b, "  view: %s\n", r.ReportURL)
	}
	return b.String()
}

// Run executes every case and returns the collected results.
//
// Description:
//
//	Registers the experiment when needed, then runs cases concurrently.
//	A failing case records its error on its result and does not stop the
//	run; Run itself only errors on setup failures or context
//	cancellation.
//
// Outputs:
//   - *Result: Per-case outcomes plus summary data. Nil on setup error.
//   - error: Setup failure or ctx error.
func (e *Eval[I, E, R]) Run(ctx context.Context) (*Result[I, E, R], error) {
	if e.Task == nil {
		return nil, ErrNoTask
	}
	if len(e.Cases) == 0 {
		return nil, ErrNoCases
	}

	experimentName := e.ExperimentName
	if experimentName == "" {
		experimentName = "exp-" + uuid.NewString()[:8]
	}

	result := &Result[I, E, R]{ExperimentName: experimentName}
	if err := e.resolveExperiment(ctx, experimentName, result); err != nil {
		return nil, err
	}

	tracer := e.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/AleutianAI/beacon/eval")
	}

	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	start := time.Now()
	result.Cases = make([]CaseResult[I, E, R], len(e.Cases))

	var mu sync.Mutex
	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, c := range e.Cases {
		g.Go(func() error {
			cr := e.runCase(runCtx, tracer, result.ExperimentID, c)
			mu.Lock()
			result.Cases[i] = cr
			mu.Unlock()
			return runCtx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

// resolveExperiment fills result.ExperimentID and ReportURL, registering
// the experiment through the API unless an ID was supplied.
func (e *Eval[I, E, R]) resolveExperiment(ctx context.Context, experimentName string, result *Result[I, E, R]) error {
	if e.ExperimentID != "" {
		result.ExperimentID = e.ExperimentID
		return nil
	}
	if e.Config == nil && e.Client == nil {
		return ErrNoExperiment
	}

	client := e.Client
	if client == nil {
		client = api.NewClient(e.Config)
	}

	projectName := e.ProjectName
	if projectName == "" && e.Config != nil {
		projectName = e.Config.DefaultProjectName
	}
	project, err := client.GetOrCreateProject(ctx, projectName)
	if err != nil {
		return fmt.Errorf("register project: %w", err)
	}
	experiment, err := client.GetOrCreateExperiment(ctx, api.CreateExperimentRequest{
		ProjectID: project.ID,
		Name:      experimentName,
	})
	if err != nil {
		return fmt.Errorf("register experiment: %w", err)
	}
	result.ExperimentID = experiment.ID

	if org, err := client.OrgForProject(ctx, project); err == nil {
		result.ReportURL = client.ExperimentURL(org, project, experiment)
	}
	return nil
}

// runCase executes one case as its own trace.
func (e *Eval[I, E, R]) runCase(ctx context.Context, tracer trace.Tracer, experimentID string, c Case[I, E]) CaseResult[I, E, R] {
	// Each case is its own trace; the experiment parent flows to every
	// span started under caseCtx, including those inside the task.
	caseCtx := telemetry.ContextWithExperiment(ctx, experimentID)

	caseCtx, rootSpan := tracer.Start(caseCtx, "eval",
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("aleutian.span_attributes", `{"type":"eval"}`),
			attribute.String("aleutian.input_json", toJSON(c.Input)),
			attribute.String("aleutian.expected", toJSON(c.Expected)),
		),
	)
	defer rootSpan.End()

	cr := CaseResult[I, E, R]{Case: c}

	taskCtx, taskSpan := tracer.Start(caseCtx, "task",
		trace.WithAttributes(attribute.String("aleutian.span_attributes", `{"type":"task"}`)),
	)
	output, err := e.Task(taskCtx, c)
	if err != nil {
		taskSpan.SetStatus(codes.Error, err.Error())
		taskSpan.End()
		rootSpan.SetStatus(codes.Error, err.Error())
		cr.Err = err
		return cr
	}
	taskSpan.End()
	cr.Output = output
	rootSpan.SetAttributes(attribute.String("aleutian.output_json", toJSON(output)))

	if len(e.Scorers) > 0 {
		scoreCtx, scoreSpan := tracer.Start(caseCtx, "score",
			trace.WithAttributes(attribute.String("aleutian.span_attributes", `{"type":"score"}`)),
		)
		cr.Scores = make(map[string]float64, len(e.Scorers))
		for _, scorer := range e.Scorers {
			cr.Scores[scorer.Name()] = scorer.Score(scoreCtx, c, output)
		}
		scoreSpan.SetAttributes(attribute.String("aleutian.scores", toJSON(cr.Scores)))
		scoreSpan.End()
	}

	return cr
}

// toJSON renders v for span attributes; marshal failures degrade to a
// fmt fallback rather than dropping the value.
func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
