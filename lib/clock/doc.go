// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Collectors take a [Clock] instead of calling time.Now so tests can pin
// the timestamp embedded in report basenames. The anomaly follower takes
// one for its flush ticker. Production code passes [Real]; tests pass
// [Fake]:
//
//	c := clock.Fake(time.Date(2026, 10, 17, 9, 41, 7, 0, time.UTC))
//	go follower.Run(ctx, reader)
//	c.WaitForTickers(1)
//	c.Advance(time.Minute)
package clock
