// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates Beacon SDK configuration.
//
// Configuration comes from ALEUTIAN_* environment variables with sensible
// defaults; every field can also be set directly on the struct for
// programmatic setup. A missing API key is the only hard failure — the
// rest of the SDK is designed to degrade, not crash.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the prefix for all SDK environment variables
// (ALEUTIAN_API_KEY, ALEUTIAN_DEBUG, ...).
const envPrefix = "ALEUTIAN"

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("ALEUTIAN_API_KEY is required")

	// ErrInvalidConfig is returned when configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

var validate = validator.New()

// Config holds all Beacon SDK settings.
//
// Description:
//
//	Config controls authentication, backend endpoints, the default parent
//	for telemetry records, export batching, and diagnostics. Zero values
//	are replaced by defaults in FromEnvironment; hand-built configs should
//	call ApplyDefaults before use.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type Config struct {
	// APIKey authenticates against the Aleutian backend. Required.
	APIKey string `envconfig:"API_KEY" validate:"required"`

	// APIURL is the base URL of the Aleutian API.
	APIURL string `envconfig:"API_URL" default:"https://api.aleutian.ai" validate:"url"`

	// AppURL is the base URL of the Aleutian web app, used for report links.
	AppURL string `envconfig:"APP_URL" default:"https://app.aleutian.ai" validate:"url"`

	// TracesPath is the OTLP span ingestion path under APIURL.
	TracesPath string `envconfig:"TRACES_PATH" default:"/otel/v1/traces"`

	// LogsPath is the OTLP log ingestion path under APIURL.
	LogsPath string `envconfig:"LOGS_PATH" default:"/otel/v1/logs"`

	// MetricsPath is the OTLP metric ingestion path under APIURL.
	MetricsPath string `envconfig:"METRICS_PATH" default:"/otel/v1/metrics"`

	// DefaultProjectID is the project that untagged telemetry is routed to.
	// Takes precedence over DefaultProjectName when both are set.
	DefaultProjectID string `envconfig:"DEFAULT_PROJECT_ID"`

	// DefaultProjectName is the fallback project for untagged telemetry
	// when no DefaultProjectID is configured.
	DefaultProjectName string `envconfig:"DEFAULT_PROJECT_NAME" default:"default-go-project"`

	// Debug enables SDK diagnostic logging to stderr.
	Debug bool `envconfig:"DEBUG"`

	// EnableTraceConsoleLog mirrors finished spans to stdout in addition
	// to exporting them.
	EnableTraceConsoleLog bool `envconfig:"ENABLE_TRACE_CONSOLE_LOG"`

	// RequestTimeout bounds each export or API request.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	// MaxParentTransports caps the number of per-parent export transports
	// kept alive at once. Least recently used transports are evicted and
	// shut down when the cap is reached.
	MaxParentTransports int `envconfig:"MAX_PARENT_TRANSPORTS" default:"64" validate:"min=1"`
}

// FromEnvironment builds a Config from ALEUTIAN_* environment variables.
//
// Description:
//
//	Reads every Config field from the environment, applies defaults for
//	unset values, and validates the result.
//
// Outputs:
//   - *Config: The validated configuration. Never nil on success.
//   - error: ErrMissingAPIKey if ALEUTIAN_API_KEY is unset; ErrInvalidConfig
//     wrapped with detail for any other validation failure.
//
// Example:
//
//	cfg, err := config.FromEnvironment()
//	if err != nil {
//	    return fmt.Errorf("load config: %w", err)
//	}
//
// Thread Safety: Safe for concurrent use.
func FromEnvironment() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFile loads variables from .env-style files into the process
// environment before FromEnvironment runs. Missing files are not an error
// when no explicit paths are given.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		// godotenv defaults to ".env"; a missing default file is fine.
		if err := godotenv.Load(); err != nil {
			return nil
		}
		return nil
	}
	return godotenv.Load(paths...)
}

// ApplyDefaults fills zero-valued optional fields with their defaults.
// FromEnvironment does this automatically; hand-built configs should call
// it before use.
func (c *Config) ApplyDefaults() {
	if c.APIURL == "" {
		c.APIURL = "https://api.aleutian.ai"
	}
	if c.AppURL == "" {
		c.AppURL = "https://app.aleutian.ai"
	}
	if c.TracesPath == "" {
		c.TracesPath = "/otel/v1/traces"
	}
	if c.LogsPath == "" {
		c.LogsPath = "/otel/v1/logs"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/otel/v1/metrics"
	}
	if c.DefaultProjectID == "" && c.DefaultProjectName == "" {
		c.DefaultProjectName = "default-go-project"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxParentTransports <= 0 {
		c.MaxParentTransports = 64
	}
}

// Validate checks that the configuration is usable.
//
// Outputs:
//   - error: ErrMissingAPIKey or ErrInvalidConfig (wrapped with detail).
//
// Thread Safety: Safe for concurrent use.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultParentTag returns the parent tag untagged telemetry is routed to:
// "project_id:<id>" when DefaultProjectID is set, otherwise
// "project_name:<name>", or "" when neither is configured.
//
// The backend routes each record by (a) its parent attribute or (b) the
// request's parent header; records matching neither are dropped, so an
// empty tag is a degraded state rather than an error.
func (c *Config) DefaultParentTag() string {
	if c.DefaultProjectID != "" {
		return "project_id:" + c.DefaultProjectID
	}
	if c.DefaultProjectName != "" {
		return "project_name:" + c.DefaultProjectName
	}
	return ""
}
