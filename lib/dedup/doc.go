// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedup suppresses repeated reports of the same anomaly.
//
// A [Filter] is a fixed-size bitmap indexed by hash modulo its bit count.
// [Filter.WasAlreadySeen] both tests and sets the bit, so the first caller
// for a given hash gets false and every later caller gets true. There is no
// eviction and no persistence: the intended scope is one process lifetime,
// which for the log-watching daemon is one boot. Collisions are accepted;
// anomalies are rare enough that a false suppression is unlikely and costs
// only one missed duplicate report.
//
// The filter is passed explicitly to every parser that needs it rather
// than living in a package-level variable, so tests start from a fresh
// filter and production shares one instance across all parsers.
package dedup
