// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a slog.Logger for the given level and format.
// Formats: "json" (default) or "text". Levels: "debug", "info" (default),
// "warn"/"warning", "error". When filePath is non-empty, logs go to stdout
// and the file; the returned io.Closer closes the file on shutdown and is a
// no-op when filePath is empty.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	w, closer := openOutput(filePath)
	return slog.New(newHandler(format, w, opts)), closer
}

func openOutput(filePath string) (io.Writer, io.Closer) {
	if filePath == "" {
		return os.Stdout, io.NopCloser(nil)
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: could not open log file %q: %v (falling back to stdout only)\n", filePath, err)
		return os.Stdout, io.NopCloser(nil)
	}
	return io.MultiWriter(os.Stdout, f), f
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(format) {
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
