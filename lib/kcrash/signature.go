// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kcrash

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bureau-foundation/crashtriage/lib/crashhash"
)

const (
	// ExecName is the program name kernel crashes are filed under.
	ExecName = "kernel"

	// DefaultSignature is returned when a dump yields neither a stack
	// hash nor a human readable string.
	DefaultSignature = "kernel-UnspecifiedStackSignature"

	// maxHumanStringLength bounds the readable part of a signature.
	maxHumanStringLength = 40

	// signatureTimestampWindow is how far, in seconds, the program
	// counter line may be from the last stack trace and still name the
	// crashing function.
	signatureTimestampWindow = 2
)

// timestampPattern matches the "<level>[ seconds]" prefix of a kernel log
// line and captures the seconds.
const timestampPattern = `^<.*>\[\s*(\d+\.\d+)\]`

var (
	stackTraceStartPattern = regexp.MustCompile(timestampPattern + ` (Call Trace|Backtrace):$`)

	// stackEntryPattern matches one frame and captures the separator
	// (which carries the "?" uncertainty marker) and the function name:
	//
	//	<4>[ 3498.731164] [<c0057220>] ? (function_name+0x20/0x2c) from ...   ARM
	//	<5>[ 3378.656000] [<804010f0>] lkdtm_do_action+0x68/0x3f8           MIPS
	//	<4>[ 6066.849504]  [<7937bcee>] ? function_name+0x66/0x6c          x86
	stackEntryPattern = regexp.MustCompile(timestampPattern + `\s+\[<[[:xdigit:]]+>\]([\s?(]+)([^+ )]+)`)

	panicMessagePattern = regexp.MustCompile(`(?m)` + timestampPattern + ` Kernel panic[^:]*:\s*(.*)`)
)

// programCounterPatterns find the crashing function per architecture:
//
//	<5>[   39.458982] PC is at write_breakme+0xd0/0x1b4                  ARM
//	<5>[ 3378.552000] epc   : 804010f0 lkdtm_do_action+0x68/0x3f8        MIPS
//	<0>[   37.474699] EIP: [<790ed488>] write_breakme+0x80/0x108 ...     x86
//	<1>[ 1505.853861] RIP [<ffffffff94fb0c27>] list_del_init+0x8/0x1b    x86_64
var programCounterPatterns = map[Arch]*regexp.Regexp{
	ArchARM:    regexp.MustCompile(`(?m)` + timestampPattern + ` PC is at ([^+ ]+).*`),
	ArchMIPS:   regexp.MustCompile(`(?m)` + timestampPattern + ` epc\s+:\s+\S+\s+([^+ ]+).*`),
	ArchX86:    regexp.MustCompile(`(?m)` + timestampPattern + ` EIP: \[<.*>\] ([^+ ]+).*`),
	ArchX86_64: regexp.MustCompile(`(?m)` + timestampPattern + ` RIP \[<.*>\] ([^+ ]+).*`),
}

// watchdogFunctions are frames that identify a block as the watchdog's
// own stack rather than the hung task's.
var watchdogFunctions = map[string]bool{
	"watchdog_timer_fn": true,
	"watchdog":          true,
}

// StackTrace is the result of scanning a dump for call traces.
type StackTrace struct {
	// Hash is the rolling hash of the chosen block's certain frames,
	// joined with "|". Zero when no block had certain frames.
	Hash uint32

	// Timestamp is the kernel timestamp of the last trace line seen
	// (block start or frame), zero if none. A trailing block with no
	// certain frames does not count.
	Timestamp float64

	// Watchdog is set when the last block contains a watchdog frame, in
	// which case Hash covers the block before it.
	Watchdog bool
}

// ProcessStackTrace scans every non-empty line of dump, tracking the last
// and second-to-last call trace blocks. The last block is hashed unless
// it belongs to the watchdog or has no certain frames, in which case the
// block before it is hashed instead. A block with no certain frames is
// treated as absent, so Timestamp is the one seen before it began.
func ProcessStackTrace(dump string) StackTrace {
	var (
		result            StackTrace
		frames            []string
		previousFrames    []string
		previousTimestamp float64
		watchdogInBlock   bool
	)

	for _, line := range strings.Split(dump, "\n") {
		if line == "" {
			continue
		}
		if match := stackTraceStartPattern.FindStringSubmatch(line); match != nil {
			previousTimestamp = result.Timestamp
			result.Timestamp = parseTimestamp(match[1])
			previousFrames = frames
			frames = nil
			watchdogInBlock = false
			continue
		}
		match := stackEntryPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		// Uncertain frames still advance the trace timestamp.
		result.Timestamp = parseTimestamp(match[1])
		if strings.Contains(match[2], "?") {
			continue
		}
		function := match[3]
		if watchdogFunctions[function] {
			watchdogInBlock = true
		}
		frames = append(frames, function)
	}

	switch {
	case watchdogInBlock:
		frames = previousFrames
	case len(frames) == 0:
		// A block of only uncertain frames is ignored entirely, its
		// timestamp included.
		frames = previousFrames
		result.Timestamp = previousTimestamp
	}
	result.Hash = crashhash.Sum(strings.Join(frames, "|"))
	result.Watchdog = watchdogInBlock
	return result
}

// CrashingFunction returns the function named by the last program counter
// line for arch. It fails when there is no such line, or when the line is
// more than two seconds from stackTimestamp (a zero stackTimestamp means
// no trace was found and disables the window check).
func CrashingFunction(dump string, arch Arch, stackTimestamp float64) (string, bool) {
	pattern, ok := programCounterPatterns[arch]
	if !ok {
		return "", false
	}
	timestamp, function, ok := lastTimestampedMatch(pattern, dump)
	if !ok || timestamp == 0 {
		return "", false
	}
	if stackTimestamp != 0 {
		delta := int(stackTimestamp - timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta > signatureTimestampWindow {
			return "", false
		}
	}
	return function, true
}

// PanicMessage returns the message of the last "Kernel panic - not
// syncing:" line in dump.
func PanicMessage(dump string) (string, bool) {
	timestamp, message, ok := lastTimestampedMatch(panicMessagePattern, dump)
	if !ok || timestamp == 0 {
		return "", false
	}
	return message, true
}

// ComputeStackSignature returns the signature for a kernel dump produced
// on arch. It never returns an empty string.
func ComputeStackSignature(dump string, arch Arch) string {
	trace := ProcessStackTrace(dump)

	human, ok := CrashingFunction(dump, arch, trace.Timestamp)
	if !ok {
		human, ok = PanicMessage(dump)
		if !ok {
			human = ""
		}
	}

	if human == "" && trace.Hash == 0 {
		return DefaultSignature
	}

	var signature strings.Builder
	signature.WriteString(ExecName)
	signature.WriteString("-")
	if trace.Watchdog {
		signature.WriteString("(HANG)-")
	}
	signature.WriteString(truncate(human, maxHumanStringLength))
	signature.WriteString("-")
	signature.WriteString(crashhash.FormatUpper(trace.Hash))
	return signature.String()
}

// lastTimestampedMatch returns the timestamp and first capture after it
// from the last match of pattern in s.
func lastTimestampedMatch(pattern *regexp.Regexp, s string) (float64, string, bool) {
	matches := pattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, "", false
	}
	last := matches[len(matches)-1]
	return parseTimestamp(last[1]), last[2], true
}

// parseTimestamp parses a "\d+\.\d+" capture. The pattern guarantees the
// syntax, so failure only occurs on overflow and yields zero.
func parseTimestamp(s string) float64 {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return value
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
