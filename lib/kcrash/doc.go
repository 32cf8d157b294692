// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package kcrash computes signatures for kernel crashes recovered after a
// reboot, and classifies why the previous boot ended.
//
// A kernel signature has the form
//
//	kernel-[(HANG)-]<human>-<HASH>
//
// where <human> is the crashing function (from the architecture's program
// counter line) or, failing that, the panic message, truncated to 40
// bytes, and <HASH> is the uppercase rolling hash of the last certain call
// trace. Frames the unwinder marks with "?" never contribute to the hash.
//
// Reboots that leave no kernel dump are classified from firmware
// evidence: a BIOS crash banner in the previous boot's firmware log
// ([BiosCrashSignature]), or a hardware watchdog event in the firmware
// event log ([LastRebootWasWatchdog]) paired with the tail of the console
// log ([WatchdogSignature]).
//
// Everything here is a pure function over strings. Reading the dumps from
// pstore and the firmware logs from sysfs is the caller's job.
package kcrash
