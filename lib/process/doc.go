// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint helpers: turning the
// error from run() into an exit status and a single stderr line. This
// is the one raw stderr write outside the structured logger, for
// failures that happen before the logger is configured.
package process
