// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/beacon/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{APIKey: "sk-test", APIURL: srv.URL, AppURL: "https://app.aleutian.ai"}
	cfg.ApplyDefaults()
	return NewClient(cfg)
}

func TestGetOrCreateProject(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/project", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "my-project", body["name"])

		json.NewEncoder(w).Encode(Project{ID: "p-1", OrgID: "o-1", Name: "my-project"})
	}))

	project, err := client.GetOrCreateProject(context.Background(), "my-project")
	require.NoError(t, err)
	assert.Equal(t, Project{ID: "p-1", OrgID: "o-1", Name: "my-project"}, project)
}

func TestGetProject(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/project/p-1", r.URL.Path)
			json.NewEncoder(w).Encode(Project{ID: "p-1", Name: "my-project"})
		}))

		project, err := client.GetProject(context.Background(), "p-1")
		require.NoError(t, err)
		assert.Equal(t, "my-project", project.Name)
	})

	t.Run("not found", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))

		_, err := client.GetProject(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetOrCreateExperiment(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/experiment", r.URL.Path)

		var req CreateExperimentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "p-1", req.ProjectID)

		json.NewEncoder(w).Encode(Experiment{ID: "e-1", ProjectID: req.ProjectID, Name: req.Name})
	}))

	experiment, err := client.GetOrCreateExperiment(context.Background(), CreateExperimentRequest{
		ProjectID: "p-1",
		Name:      "run-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "e-1", experiment.ID)
}

func TestServerErrorSurfacesSnippet(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))

	_, err := client.GetOrCreateProject(context.Background(), "my-project")
	require.ErrorIs(t, err, ErrAPIRequest)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Contains(t, err.Error(), "402")
}

func TestOrgForProject(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/apikey/login", r.URL.Path)
		json.NewEncoder(w).Encode(LoginResponse{OrgInfo: []Organization{
			{ID: "o-1", Name: "acme"},
			{ID: "o-2", Name: "globex"},
		}})
	}))

	t.Run("match", func(t *testing.T) {
		org, err := client.OrgForProject(context.Background(), Project{OrgID: "o-2"})
		require.NoError(t, err)
		assert.Equal(t, "globex", org.Name)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := client.OrgForProject(context.Background(), Project{OrgID: "o-9"})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestExperimentURL(t *testing.T) {
	cfg := &config.Config{APIKey: "sk-test", AppURL: "https://app.aleutian.ai"}
	cfg.ApplyDefaults()
	client := NewClient(cfg)

	url := client.ExperimentURL(
		Organization{Name: "acme"},
		Project{Name: "my project"},
		Experiment{Name: "run-1"},
	)
	assert.Equal(t, "https://app.aleutian.ai/app/acme/p/my%20project/experiments/run-1", url)
}
