// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is a minimal client for the Aleutian platform REST API:
// project and experiment registration plus the login call used to resolve
// organization info for report links. Telemetry export does not go through
// this client; it rides the OTLP pipelines in the telemetry package.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/AleutianAI/beacon/config"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAPIRequest is returned for any other non-2xx API response.
	ErrAPIRequest = errors.New("api request failed")
)

// Project is a platform project.
type Project struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

// Experiment is a platform experiment within a project.
type Experiment struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// CreateExperimentRequest registers an experiment.
type CreateExperimentRequest struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Organization describes an org the API key belongs to.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LoginResponse is the result of an API-key login.
type LoginResponse struct {
	OrgInfo []Organization `json:"org_info"`
}

// Client talks to the platform API.
//
// Description:
//
//	Requests carry the configured bearer token and are retried with
//	backoff on transient failures (5xx, connection errors). 4xx responses
//	are not retried.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	cfg  *config.Config
	http *retryablehttp.Client
}

// NewClient creates a platform API client from cfg.
func NewClient(cfg *config.Config) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil // diagnostics stay on the SDK's own logger
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	return &Client{cfg: cfg, http: rc}
}

// GetOrCreateProject returns the project with the given name, creating it
// if it does not exist.
func (c *Client) GetOrCreateProject(ctx context.Context, name string) (Project, error) {
	var project Project
	err := c.post(ctx, "/v1/project", map[string]string{"name": name}, &project)
	return project, err
}

// GetProject fetches a project by ID. Returns ErrNotFound when absent.
func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := c.get(ctx, "/v1/project/"+url.PathEscape(projectID), &project)
	return project, err
}

// GetOrCreateExperiment registers an experiment, returning the existing
// one when the name is already taken within the project.
func (c *Client) GetOrCreateExperiment(ctx context.Context, req CreateExperimentRequest) (Experiment, error) {
	var experiment Experiment
	err := c.post(ctx, "/v1/experiment", req, &experiment)
	return experiment, err
}

// Login resolves the organizations visible to the configured API key.
func (c *Client) Login(ctx context.Context) (LoginResponse, error) {
	var resp LoginResponse
	err := c.post(ctx, "/api/apikey/login", map[string]string{"token": c.cfg.APIKey}, &resp)
	return resp, err
}

// ExperimentURL returns the web-app URL of an experiment, for report
// output.
func (c *Client) ExperimentURL(org Organization, project Project, experiment Experiment) string {
	return fmt.Sprintf("%s/app/%s/p/%s/experiments/%s",
		c.cfg.AppURL, url.PathEscape(org.Name), url.PathEscape(project.Name), url.PathEscape(experiment.Name))
}

// OrgForProject finds the organization owning project among the API key's
// orgs.
func (c *Client) OrgForProject(ctx context.Context, project Project) (Organization, error) {
	login, err := c.Login(ctx)
	if err != nil {
		return Organization{}, err
	}
	for _, org := range login.OrgInfo {
		if org.ID == project.OrgID {
			return org, nil
		}
	}
	return Organization{}, fmt.Errorf("%w: organization %q for project %q", ErrNotFound, project.OrgID, project.Name)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *retryablehttp.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrAPIRequest, req.URL.Path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
