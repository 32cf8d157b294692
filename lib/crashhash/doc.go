// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package crashhash implements the fixed, non-cryptographic string hash
// used to identify crashes and anomalies.
//
// The hash is a multiplicative rolling hash (h = h*16127 + byte) over the
// input bytes. It is deliberately defined here rather than borrowed from
// hash/fnv or a library so that signatures stay stable across toolchain
// and dependency upgrades: a crash signature computed today must match the
// one computed for the same crash a year from now, because the crash
// server groups reports by it.
//
// Two formatting helpers exist because the two consumers historically
// differ: anomaly report bodies use lowercase hex ([Format]), kernel crash
// signatures use uppercase hex ([FormatUpper]).
//
// This package has no dependencies on other packages in this module.
package crashhash
