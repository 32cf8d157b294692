// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spool admits crash artifacts into a bounded spool directory
// that an uploader drains later.
//
// The collector runs with privilege and writes into directories that
// unprivileged processes may be able to influence, so every step is a
// single no-follow syscall rather than a check followed by an action:
//
//   - [Provision] walks the spool path from "/" one component at a time
//     with O_NOFOLLOW|O_DIRECTORY, creates or repairs only the final
//     component, and returns a [Directory] that refers to the result
//     through its descriptor (/proc/self/fd/N), not its path.
//   - [Directory.WriteNewFile] and [WriteNewFile] create artifacts with
//     O_CREAT|O_EXCL|O_NOFOLLOW, so a pre-planted file or symlink (live or
//     dangling) makes the write fail and its target is never touched.
//
// Capacity is counted in crash reports, not files: "x.core", "x.meta",
// and "x.log" are one report with basename "x". A directory holding
// [MaxCrashDirectorySize] reports is full and further reports are
// dropped by the caller.
//
// Provisioning and artifact creation are Linux-only. Capacity counting
// and basename formatting are portable.
package spool
