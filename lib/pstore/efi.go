// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pstore

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EFI record id packing. An id is ((timestamp*100)+part)*1000+sequence.
const (
	efiMaxParts     = 100
	efiMaxSequences = 1000
)

// EfiPanicType is the header type of records written by a kernel panic.
// Oops and warning records carry other types and are not reported.
const EfiPanicType = "Panic"

// ErrPartMissing is returned by [EfiCrash.Load] when a part between 1 and
// the highest seen part cannot be read.
var ErrPartMissing = errors.New("efi crash part missing")

// GenerateID packs a record id. part must be below 100 and sequence below
// 1000.
func GenerateID(timestamp uint64, part, sequence uint32) uint64 {
	return (timestamp*efiMaxParts+uint64(part))*efiMaxSequences + uint64(sequence)
}

// DecodeID unpacks an id built by [GenerateID].
func DecodeID(id uint64) (timestamp uint64, part, sequence uint32) {
	sequence = uint32(id % efiMaxSequences)
	part = uint32((id / efiMaxSequences) % efiMaxParts)
	timestamp = id / (efiMaxSequences * efiMaxParts)
	return timestamp, part, sequence
}

// EfiCrash is one logical crash split over efi-pstore parts. Part 1 holds
// the last chunk of the kernel log, part 2 the chunk before it, and so on.
// The EFI driver never writes part 0.
type EfiCrash struct {
	namespace Namespace

	// ID is the record id with part set to 1. It identifies the crash.
	ID uint64

	// MaxPart is the highest part number seen for this crash.
	MaxPart uint32
}

// Timestamp returns the crash time encoded in the id, in seconds.
func (c *EfiCrash) Timestamp() uint64 {
	timestamp, _, _ := DecodeID(c.ID)
	return timestamp
}

// Sequence returns the crash counter encoded in the id.
func (c *EfiCrash) Sequence() uint32 {
	_, _, sequence := DecodeID(c.ID)
	return sequence
}

// PartID returns the id of the given part of this crash.
func (c *EfiCrash) PartID(part uint32) uint64 {
	timestamp, _, sequence := DecodeID(c.ID)
	return GenerateID(timestamp, part, sequence)
}

// PartKey returns the namespace key holding the given part.
func (c *EfiCrash) PartKey(part uint32) string {
	return RecordKey(RecordDmesg, DriverEFI, c.PartID(part))
}

// observe records that a part with the given raw id exists.
func (c *EfiCrash) observe(id uint64) {
	_, part, _ := DecodeID(id)
	if part > c.MaxPart {
		c.MaxPart = part
	}
}

// Type returns the crash type from part 1's header line,
// "<Type>#<count> Part#<n>": the text before the first '#'.
func (c *EfiCrash) Type() (string, error) {
	data, err := c.namespace.Read(c.PartKey(1))
	if err != nil {
		return "", fmt.Errorf("reading efi crash %d header: %w", c.ID, err)
	}
	crashType, _, found := bytes.Cut(data, []byte("#"))
	if !found {
		return "", fmt.Errorf("efi crash %d header has no type", c.ID)
	}
	return string(crashType), nil
}

// Load reassembles the kernel log from parts MaxPart down to 1, with each
// part's header line removed. A part with no newline is all header and
// contributes nothing. If any part cannot be read the partial log is
// discarded and the error wraps [ErrPartMissing].
func (c *EfiCrash) Load() ([]byte, error) {
	var log bytes.Buffer
	for part := c.MaxPart; part > 0; part-- {
		data, err := c.namespace.Read(c.PartKey(part))
		if err != nil {
			return nil, fmt.Errorf("efi crash %d part %d: %w: %w", c.ID, part, ErrPartMissing, err)
		}
		// A part without a newline is all header and adds nothing.
		if _, body, found := bytes.Cut(data, []byte("\n")); found {
			log.Write(body)
		}
	}
	return log.Bytes(), nil
}

// Remove deletes every part from 1 to MaxPart. It attempts all parts
// even when some fail and returns the joined failures; missing parts are
// not failures.
func (c *EfiCrash) Remove() error {
	var errs []error
	for part := uint32(1); part <= c.MaxPart; part++ {
		if err := c.namespace.Remove(c.PartKey(part)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FindEfiCrashes groups the namespace's dmesg-efi records into crashes,
// ordered by id. Keys whose suffix is not a decimal id are skipped.
func FindEfiCrashes(namespace Namespace) ([]*EfiCrash, error) {
	keys, err := namespace.List()
	if err != nil {
		return nil, fmt.Errorf("listing efi crashes: %w", err)
	}

	prefix := RecordDmesg + "-" + DriverEFI + "-"
	crashes := make(map[uint64]*EfiCrash)
	for _, key := range keys {
		suffix, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(suffix, 10, 64)
		if err != nil {
			continue
		}
		timestamp, _, sequence := DecodeID(id)
		crashID := GenerateID(timestamp, 1, sequence)
		crash, ok := crashes[crashID]
		if !ok {
			crash = &EfiCrash{namespace: namespace, ID: crashID}
			crashes[crashID] = crash
		}
		crash.observe(id)
	}

	result := make([]*EfiCrash, 0, len(crashes))
	for _, crash := range crashes {
		result = append(result, crash)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
