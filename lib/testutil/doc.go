// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for crash-triage
// packages.
//
// [NewLogRecorder] returns a logger whose records can be inspected, for
// tests that assert a collector logged a decision ("ignoring - no
// consent") rather than only that it wrote nothing. [DiscardLogger] is
// for tests that do not care.
//
// [WriteFile], [ReadFile], and [ListDir] set up and inspect spool and
// pstore fixtures under t.TempDir().
//
// [RequireReceive] and [RequireClosed] bound channel waits with a real
// timeout so a broken goroutine fails the test instead of hanging it.
// They are the only place tests use wall-clock time; everything else
// runs on lib/clock's fake.
//
// Helpers call t.Fatalf on failure since setup failures are not
// recoverable.
package testutil
