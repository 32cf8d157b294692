// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// crash-triage collects crash reports into the crash spool directory.
//
// It runs in one mode per invocation:
//
//	crash-triage --init            provision spool and state directories at boot
//	crash-triage --kernel          file kernel crashes preserved across the last reboot
//	crash-triage --anomaly         follow syslog lines on stdin and file anomalies
//	crash-triage --user=P:S:U:G:E  file a user crash whose core arrives on stdin
//	crash-triage --core-pattern=PATH
//	                               print the core_pattern that routes crashes to PATH
//
// Configuration is read from the file named by --config or by the
// CRASH_TRIAGE_CONFIG environment variable. Logs are JSON on stderr.
package main
