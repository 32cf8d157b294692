// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for crash-triage.
//
// The variables are injected with -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/crashtriage/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" and "0.1.0-dev" in development builds and
// tests. This is the build version of the binary, not the OS version
// stamped into crash reports, which comes from the release file.
package version
