// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector admits crash reports into the spool directory.
//
// A [Collector] owns the admission path shared by every crash source.
// [Collector.Decide] consults the consent oracle, which a developer
// image overrides unless a crash test is running. [Collector.Admit]
// provisions the spool directory, refuses the report if the directory
// already holds [spool.MaxCrashDirectorySize] reports, writes the
// payload and attachments create-only, and finishes with the meta file.
// A report is complete once its meta file exists; the uploader ignores
// payloads without one.
//
// Three sources feed it:
//
//   - [Collector.HandleAnomaly] files reports from the log parsers in
//     lib/anomaly. A [Follower] drives the parsers from a syslog stream.
//   - [KernelCollector] files kernel crashes preserved in pstore across
//     a reboot: EFI records first, then ramoops, then firmware crashes
//     and watchdog resets inferred from the firmware logs.
//   - [Collector.CollectUserCrash] files user-space crashes delivered
//     through core_pattern. When the core cannot be converted, the
//     failure itself is filed as a collection-error report.
//
// Collection never retries. A report that cannot be admitted is logged
// and dropped.
package collector
