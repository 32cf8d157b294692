// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package anomaly recognizes reportable events in a continuous stream of
// system log lines.
//
// Each [Parser] is a small state machine fed one line at a time. It
// returns a [CrashReport] at most once per logical event: the report
// carries a body (the text that becomes the crash payload) and an
// invocation selector naming what kind of report it is. Three parsers
// exist:
//
//   - [ServiceFailureParser]: an init system reporting that a service's
//     main process exited with a non-zero status.
//   - [SELinuxParser]: a policy-engine (AVC) denial or grant.
//   - [KernelWarningParser]: a multi-line kernel WARNING trace between the
//     "cut here" and "end trace" markers.
//
// Every parser consults a shared [dedup.Filter] so that an anomaly that
// repeats (a service in a crash loop, a denial firing on every access) is
// reported once per process lifetime.
//
// [Dispatcher] routes (tag, message) pairs to the parser registered for
// the tag. [ParseMessagesLine] splits a syslog-formatted line into that
// pair. The journal or syslog transport itself lives outside this package:
// callers feed lines from wherever they read them.
package anomaly
