// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package redact strips personal data from kernel and firmware logs
// before they are written to the spool. MAC addresses become stable
// synthetic addresses so that lines about the same device still
// correlate within one report; email addresses are replaced outright.
package redact
