// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crashhash

import (
	"fmt"
	"strconv"
)

// multiplier is the prime used by the rolling hash.
const multiplier = 16127

// Sum returns the rolling hash of s.
func Sum(s string) uint32 {
	var hash uint32
	for i := 0; i < len(s); i++ {
		hash = hash*multiplier + uint32(s[i])
	}
	return hash
}

// SumBytes returns the rolling hash of data. SumBytes(b) == Sum(string(b)).
func SumBytes(data []byte) uint32 {
	var hash uint32
	for _, b := range data {
		hash = hash*multiplier + uint32(b)
	}
	return hash
}

// Format returns hash as exactly eight lowercase hex digits.
func Format(hash uint32) string {
	return fmt.Sprintf("%08x", hash)
}

// FormatUpper returns hash as exactly eight uppercase hex digits.
func FormatUpper(hash uint32) string {
	return fmt.Sprintf("%08X", hash)
}

// Parse parses an eight-digit hex string (either case) back into a hash.
func Parse(hexString string) (uint32, error) {
	if len(hexString) != 8 {
		return 0, fmt.Errorf("crash hash %q is %d characters, want 8", hexString, len(hexString))
	}
	value, err := strconv.ParseUint(hexString, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing crash hash: %w", err)
	}
	return uint32(value), nil
}
