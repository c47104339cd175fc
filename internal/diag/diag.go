// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diag is the Beacon SDK's internal diagnostic logger.
//
// The SDK never logs at info level or above during normal operation; it
// stays silent unless something is wrong (warnings) or debug output has
// been requested via ALEUTIAN_DEBUG / config.Debug. All output goes to
// stderr so instrumented CLI programs keep a clean stdout.
package diag

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	level   = new(slog.LevelVar) // defaults to Info; debug output is gated below it
	logger  = newDefault()
	debugOn bool
)

func newDefault() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetDebug enables or disables debug-level diagnostics.
//
// Thread Safety: Safe for concurrent use.
func SetDebug(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	debugOn = enabled
	if enabled {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// Enabled reports whether debug diagnostics are on.
//
// Thread Safety: Safe for concurrent use.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugOn
}

// SetLogger replaces the diagnostic logger. Pass nil to restore the default
// stderr logger.
//
// Thread Safety: Safe for concurrent use.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = newDefault()
	}
	logger = l
}

// Logger returns the current diagnostic logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug message when debug diagnostics are enabled.
func Debug(msg string, args ...any) {
	mu.RLock()
	l, on := logger, debugOn
	mu.RUnlock()
	if on {
		l.Debug(msg, args...)
	}
}

// Warn logs a warning. Warnings are always emitted.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs an error. Errors are always emitted.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}
