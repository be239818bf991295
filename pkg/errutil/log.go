// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package errutil logs and asserts on oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Attrs returns structured log attributes for err. For oops errors this
// includes the code, domain and context; other errors log their string.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

// Log logs err at level with its structured attributes.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error) {
	logger.Log(ctx, level, msg, Attrs(err)...)
}

// LogError logs an error with structured context if it's an oops error.
func LogError(logger *slog.Logger, msg string, err error) {
	Log(context.Background(), logger, slog.LevelError, msg, err)
}

// LogWarn is LogError at warning level, for failures the caller caused.
func LogWarn(logger *slog.Logger, msg string, err error) {
	Log(context.Background(), logger, slog.LevelWarn, msg, err)
}
