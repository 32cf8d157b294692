// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for crash-triage.
//
// Configuration is loaded from a single file named by the
// CRASH_TRIAGE_CONFIG environment variable (via [Load]) or the --config
// flag (via [LoadFile]). There is no search path and no discovery. A
// binary run without either uses [Default], the production layout.
//
// The file may carry development and production sections that override
// path and spool settings when [Config].Environment matches. Path fields
// support ${HOME}, ${STATE} (the expanded state directory), and
// ${VAR:-default}. No environment variable overrides a value directly.
//
// The spool mode is written in octal ("1755"), matching how it appears
// in ls and chmod.
package config
