// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger writes human-readable records when stderr is a terminal, as
// when a developer runs a mode by hand, and JSON otherwise. Under init
// or the kernel's core_pattern pipe stderr is never a terminal.
func newLogger(stderr io.Writer) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if file, ok := stderr.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		handler = slog.NewTextHandler(stderr, options)
	} else {
		handler = slog.NewJSONHandler(stderr, options)
	}
	return slog.New(handler).With("program", programName)
}
