// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pstore reads kernel crash records that survived a reboot in
// persistent storage.
//
// The kernel exposes each record as a file named
// "<record-type>-<driver>-<id>" (dmesg-ramoops-0, console-ramoops-0,
// dmesg-efi-150989600314002). [Namespace] abstracts that directory as a
// flat key/value store with write-once values so the record logic can be
// tested against a temporary directory.
//
// Two drivers are understood:
//
//   - efi: one crash is split across numbered parts, each stored in its
//     own variable whose id packs (timestamp, part, sequence). [EfiCrash]
//     groups the parts back together and reassembles the log.
//   - ramoops: whole records, optionally prefixed with a "====<time>"
//     header, plus a console log used for watchdog resets. See [Ramoops].
//
// Records are removed once consumed so the next boot does not report them
// again.
package pstore
