// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// LogRecord is one captured log call.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// LogRecorder is a slog.Handler that keeps every record at Debug and
// above. Attributes added with With are folded into each record.
type LogRecorder struct {
	mu      *sync.Mutex
	records *[]LogRecord
	attrs   []slog.Attr
}

// NewLogRecorder returns a logger and the recorder behind it.
func NewLogRecorder() (*slog.Logger, *LogRecorder) {
	recorder := &LogRecorder{mu: &sync.Mutex{}, records: &[]LogRecord{}}
	return slog.New(recorder), recorder
}

// Enabled reports true for every level.
func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

// Handle stores the record.
func (r *LogRecorder) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(r.attrs)+record.NumAttrs())
	for _, attr := range r.attrs {
		attrs[attr.Key] = attr.Value.String()
	}
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.String()
		return true
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	*r.records = append(*r.records, LogRecord{Level: record.Level, Message: record.Message, Attrs: attrs})
	return nil
}

// WithAttrs returns a handler sharing this recorder's storage.
func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogRecorder{mu: r.mu, records: r.records, attrs: append(slices.Clip(r.attrs), attrs...)}
}

// WithGroup is not needed by crash-triage's loggers; groups are ignored.
func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Records returns a copy of everything captured so far.
func (r *LogRecorder) Records() []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(*r.records)
}

// Find returns the first record with the given message.
func (r *LogRecorder) Find(message string) (LogRecord, bool) {
	for _, record := range r.Records() {
		if record.Message == message {
			return record, true
		}
	}
	return LogRecord{}, false
}
