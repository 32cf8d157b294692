// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
)

// maxRamoopsRecords bounds the dmesg-ramoops-N scan.
const maxRamoopsRecords = 100

// sanityCheckWindow is how much of a headerless record must contain a
// kernel log line for it to be trusted.
const sanityCheckWindow = 1024

var (
	// ramoopsHeaderPattern matches the "====<sec>.<usec>" line older
	// ramoops drivers prepend, capturing the log after it.
	ramoopsHeaderPattern = regexp.MustCompile(`(?s)\A====\d+\.\d+\n(.*)\z`)

	// kernelLogPattern finds a timestamped kernel log line. Records
	// without one are uninitialized memory rather than a crash.
	kernelLogPattern = regexp.MustCompile(`\n(<\d+>)?\[\s*(\d+\.\d+)\]`)
)

// Ramoops reads records left by the ramoops pstore driver.
type Ramoops struct {
	namespace Namespace
	logger    *slog.Logger
}

// NewRamoops returns a reader over namespace.
func NewRamoops(namespace Namespace, logger *slog.Logger) *Ramoops {
	return &Ramoops{namespace: namespace, logger: logger}
}

// RecordCount returns how many consecutive dmesg-ramoops-N records exist
// starting from 0, up to 100.
func (r *Ramoops) RecordCount() int {
	keys, err := r.namespace.List()
	if err != nil {
		r.logger.Warn("listing ramoops records failed", "error", err)
		return 0
	}
	present := make(map[string]bool, len(keys))
	for _, key := range keys {
		present[key] = true
	}
	count := 0
	for count < maxRamoopsRecords && present[RecordKey(RecordDmesg, DriverRamoops, uint64(count))] {
		count++
	}
	return count
}

// LoadPreservedDump concatenates the valid dmesg records, stripping any
// ramoops header, and removes each valid record from the namespace.
// Invalid records are logged and left in place. Returns false when no
// valid record was found.
func (r *Ramoops) LoadPreservedDump() ([]byte, bool) {
	count := r.RecordCount()
	var dump bytes.Buffer
	found := false
	for index := 0; index < count; index++ {
		key := RecordKey(RecordDmesg, DriverRamoops, uint64(index))
		record, err := r.namespace.Read(key)
		if err != nil {
			r.logger.Error("reading ramoops record failed", "key", key, "error", err)
			break
		}

		if match := ramoopsHeaderPattern.FindSubmatch(record); match != nil {
			dump.Write(match[1])
		} else if looksLikeKernelLog(record) {
			// Kernels since 3.12 strip the header themselves so the
			// record can be decompressed.
			dump.Write(record)
		} else {
			r.logger.Warn("found invalid ramoops record", "key", key)
			continue
		}

		found = true
		if err := r.namespace.Remove(key); err != nil {
			r.logger.Warn("removing ramoops record failed", "key", key, "error", err)
		}
	}
	if !found {
		return nil, false
	}
	return dump.Bytes(), true
}

// LoadConsole returns the console log of the previous boot, used to sign
// watchdog resets. It reads console-ramoops-0, falling back to the
// console-ramoops name kernels before 3.19 used.
func (r *Ramoops) LoadConsole() ([]byte, error) {
	key := RecordKey(RecordConsole, DriverRamoops, 0)
	record, err := r.namespace.Read(key)
	if errors.Is(err, fs.ErrNotExist) {
		key = legacyRecordKey(RecordConsole, DriverRamoops)
		record, err = r.namespace.Read(key)
	}
	if err != nil {
		return nil, fmt.Errorf("loading console ramoops: %w", err)
	}
	if !looksLikeKernelLog(record) {
		return nil, fmt.Errorf("console ramoops record %s does not contain a kernel log", key)
	}
	return record, nil
}

func looksLikeKernelLog(record []byte) bool {
	window := record
	if len(window) > sanityCheckWindow {
		window = window[:sanityCheckWindow]
	}
	return kernelLogPattern.Match(window)
}
