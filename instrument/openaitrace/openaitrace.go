// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package openaitrace wraps a go-openai client so every chat completion
// is recorded as a span carrying gen_ai attributes and token usage.
package openaitrace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client traces calls made through an underlying openai client.
//
// Description:
//
//	Wraps the subset of the go-openai surface used for LLM calls. Spans
//	inherit the ambient parent tag from ctx, so completions made inside
//	an eval task land under the right experiment.
//
// Example:
//
//	client := openaitrace.Wrap(openai.NewClient(key))
//	resp, err := client.CreateChatCompletion(ctx, req)
type Client struct {
	inner  *openai.Client
	tracer trace.Tracer
}

// Wrap returns a traced view of client.
func Wrap(client *openai.Client) *Client {
	return &Client{
		inner:  client,
		tracer: otel.Tracer("github.com/AleutianAI/beacon/instrument/openaitrace"),
	}
}

// Inner returns the wrapped client for calls that do not need tracing.
func (c *Client) Inner() *openai.Client { return c.inner }

// CreateChatCompletion forwards to the wrapped client inside a
// "chat.completions" span recording model, token usage, and the final
// message payloads.
func (c *Client) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, span := c.tracer.Start(ctx, "chat.completions",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.system", "openai"),
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.request.model", req.Model),
			attribute.String("aleutian.span_attributes", `{"type":"llm"}`),
			attribute.String("aleutian.input_json", toJSON(req.Messages)),
		),
	)
	defer span.End()

	if req.MaxTokens > 0 {
		span.SetAttributes(attribute.Int("gen_ai.request.max_tokens", req.MaxTokens))
	}
	if req.Temperature != 0 {
		span.SetAttributes(attribute.Float64("gen_ai.request.temperature", float64(req.Temperature)))
	}

	resp, err := c.inner.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("aleutian.output_json", toJSON(resp.Choices)),
		attribute.Int("aleutian.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("aleutian.usage.completion_tokens", resp.Usage.CompletionTokens),
		attribute.Int("aleutian.usage.total_tokens", resp.Usage.TotalTokens),
	)
	if len(resp.Choices) > 0 {
		span.SetAttributes(attribute.String("gen_ai.response.finish_reason", string(resp.Choices[0].FinishReason)))
	}
	return resp, nil
}

// CreateEmbeddings forwards to the wrapped client inside an "embeddings"
// span recording model and token usage.
func (c *Client) CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	ctx, span := c.tracer.Start(ctx, "embeddings",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.system", "openai"),
			attribute.String("gen_ai.operation.name", "embeddings"),
			attribute.String("aleutian.span_attributes", `{"type":"llm"}`),
		),
	)
	defer span.End()

	resp, err := c.inner.CreateEmbeddings(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.request.model", string(resp.Model)),
		attribute.Int("aleutian.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("aleutian.usage.total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
