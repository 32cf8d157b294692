// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile manages the small files crash-triage keeps in its
// state directories between runs.
//
// [WriteAtomic] writes to a temporary file in the destination directory,
// fsyncs it, renames it into place, and fsyncs the directory, so a reader
// sees either the old content or the new content and never a torn file.
// [SaveCopy] uses it to snapshot the OS release file at boot: a crash
// collected after an update is still stamped with the version that was
// running when it happened.
//
// Markers are empty files whose presence is the state. [Touch] creates
// one, [Exists] tests for it, and [Clear] removes it idempotently. The
// crash test harness drops a marker in the run state directory while it
// runs so that developer images still honor consent.
package statefile
