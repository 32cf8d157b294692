// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crashhash

import "testing"

func TestSumKnownValues(t *testing.T) {
	tests := []struct {
		input string
		want  uint32
	}{
		{"", 0},
		{"a", 0x61},
		{"sshd", 0xdf4fe4fc},
		{"__do_softirq", 0x83615f0a},
	}
	for _, test := range tests {
		if got := Sum(test.input); got != test.want {
			t.Errorf("Sum(%q) = %08x, want %08x", test.input, got, test.want)
		}
	}
}

func TestSumBytesMatchesSum(t *testing.T) {
	for _, input := range []string{"", "x", "kernel BUG at mm/slub.c:3", "\x00\xff\x80"} {
		if Sum(input) != SumBytes([]byte(input)) {
			t.Errorf("Sum and SumBytes disagree for %q", input)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(0xdf4fe4fc); got != "df4fe4fc" {
		t.Errorf("Format = %q, want df4fe4fc", got)
	}
	if got := Format(0x1); got != "00000001" {
		t.Errorf("Format(1) = %q, want zero-padded", got)
	}
	if got := FormatUpper(0x83615f0a); got != "83615F0A" {
		t.Errorf("FormatUpper = %q, want 83615F0A", got)
	}
}

func TestParse(t *testing.T) {
	got, err := Parse("83615F0A")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != 0x83615f0a {
		t.Errorf("Parse = %08x, want 83615f0a", got)
	}
	if _, err := Parse("abc"); err == nil {
		t.Error("Parse should reject short input")
	}
	if _, err := Parse("zzzzzzzz"); err == nil {
		t.Error("Parse should reject non-hex input")
	}
}
