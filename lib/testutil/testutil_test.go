// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func TestLogRecorder(t *testing.T) {
	logger, recorder := NewLogRecorder()
	logger.With("collector", "kernel").Info("ignoring - no consent", "signature", "kernel-x")
	logger.Warn("second")

	records := recorder.Records()
	if len(records) != 2 {
		t.Fatalf("captured %d records, want 2", len(records))
	}
	record, ok := recorder.Find("ignoring - no consent")
	if !ok {
		t.Fatal("Find did not locate the first record")
	}
	if record.Level != slog.LevelInfo {
		t.Errorf("Level = %v, want Info", record.Level)
	}
	if record.Attrs["collector"] != "kernel" || record.Attrs["signature"] != "kernel-x" {
		t.Errorf("Attrs = %v", record.Attrs)
	}
	if _, ok := recorder.Find("absent"); ok {
		t.Error("Find returned a record for an absent message")
	}
}

func TestFiles(t *testing.T) {
	directory := t.TempDir()
	WriteFile(t, filepath.Join(directory, "nested", "b"), "two")
	WriteFile(t, filepath.Join(directory, "a"), "one")

	if got := ReadFile(t, filepath.Join(directory, "nested", "b")); got != "two" {
		t.Errorf("ReadFile = %q, want %q", got, "two")
	}
	names := ListDir(t, directory)
	if len(names) != 2 || names[0] != "a" || names[1] != "nested" {
		t.Errorf("ListDir = %v, want [a nested]", names)
	}
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "buffered value"); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}
	close(ch)
	RequireClosed(t, ch, time.Second, "closed channel")
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		args []any
		want string
	}{
		{nil, "(no message)"},
		{[]any{"plain"}, "plain"},
		{[]any{"count %d", 3}, "count 3"},
		{[]any{42}, "42"},
	}
	for _, test := range tests {
		if got := formatMessage(test.args); got != test.want {
			t.Errorf("formatMessage(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
