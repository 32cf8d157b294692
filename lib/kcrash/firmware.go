// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kcrash

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bureau-foundation/crashtriage/lib/crashhash"
)

// Firmware event log entry names.
const (
	eventSystemBoot    = "System boot"
	eventWatchdogReset = "Hardware watchdog reset"
)

var (
	biosCrashPattern    = regexp.MustCompile(`(PANIC|Unhandled( Interrupt)? Exception) in EL3`)
	biosRegisterPattern = regexp.MustCompile(`x30 =\s+(0x[0-9a-fA-F]+)`)
)

// biosStages are the firmware stages a BIOS log can begin at, earliest
// first. Boards that cannot log before romstage start at romstage.
var biosStages = []string{"bootblock", "romstage", "ramstage"}

// biosBannerPatterns match the line that begins each boot in the firmware
// log for the corresponding stage, including its leading newline.
var biosBannerPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(biosStages))
	for i, stage := range biosStages {
		patterns[i] = regexp.MustCompile(
			`\n\*\*\* Pre-CBMEM ` + stage + ` console overflow` +
				`|` +
				`\n\ncoreboot-[^\n]* ` + stage + ` starting\.\.\.\n`)
	}
	return patterns
}()

// LastBootBiosLog extracts the previous boot's portion of the firmware
// log. The log accumulates across warm reboots, one banner per boot, so
// the previous boot is the text between the last two banners of the
// earliest stage the board logs. The result excludes the newline that
// begins the closing banner and the first newline of the opening one.
//
// Returns false when no stage's banner appears, or when the earliest
// logged stage appears only once (the previous boot's log was lost, as
// after a cold boot).
func LastBootBiosLog(fullLog string) (string, bool) {
	for _, banner := range biosBannerPatterns {
		var starts []int
		for position := 0; position <= len(fullLog); {
			location := banner.FindStringIndex(fullLog[position:])
			if location == nil {
				break
			}
			start := position + location[0]
			starts = append(starts, start)
			position = start + 1
		}

		var previousBoot string
		switch len(starts) {
		case 0:
			continue
		case 1:
			previousBoot = fullLog[:starts[0]]
		default:
			previousBoot = fullLog[starts[len(starts)-2]+1 : starts[len(starts)-1]]
		}
		if previousBoot == "" {
			return "", false
		}
		return previousBoot, true
	}
	return "", false
}

// LastRebootWasBiosCrash reports whether the previous boot's firmware log
// records an exception in the secure monitor. Only ARM firmware reports
// these.
func LastRebootWasBiosCrash(arch Arch, biosLog string) bool {
	if arch != ArchARM || biosLog == "" {
		return false
	}
	return biosCrashPattern.MatchString(biosLog)
}

// BiosCrashSignature returns "bios-(<TYPE>)-<x30>" for a firmware log
// that [LastRebootWasBiosCrash] accepted. TYPE is PANIC, EXCPT, or INTR.
// The x30 register (the link register at the fault) is empty when the
// log does not print it.
func BiosCrashSignature(biosLog string) string {
	var crashType string
	switch {
	case strings.Contains(biosLog, "PANIC in EL3"):
		crashType = "PANIC"
	case strings.Contains(biosLog, "Unhandled Exception in EL3"):
		crashType = "EXCPT"
	case strings.Contains(biosLog, "Unhandled Interrupt Exception in"):
		crashType = "INTR"
	}

	var register string
	if match := biosRegisterPattern.FindStringSubmatch(biosLog); match != nil {
		register = match[1]
	}
	return fmt.Sprintf("bios-(%s)-%s", crashType, register)
}

// LastRebootWasWatchdog reports whether the firmware event log records a
// hardware watchdog reset after the most recent boot event. Firmware
// event logs look like:
//
//	113 | 2016-03-24 15:11:20 | System boot | 0
//	114 | 2016-03-24 15:11:20 | Hardware watchdog reset
func LastRebootWasWatchdog(eventLog string) bool {
	lastBoot := strings.LastIndex(eventLog, eventSystemBoot)
	if lastBoot < 0 {
		return false
	}
	return strings.Contains(eventLog[lastBoot:], eventWatchdogReset)
}

// WatchdogSignature builds a signature for a watchdog reset, which leaves
// no stack trace, from the last message in the console log:
// "kernel-(WATCHDOG)-<text>-<HASH>". The text is the message after its
// final "] " timestamp terminator, cut at the first newline and truncated
// to 40 bytes; the hash covers the whole remainder.
func WatchdogSignature(consoleLog string) string {
	remainder := consoleLog
	if index := strings.LastIndex(remainder, "] "); index >= 0 {
		remainder = remainder[index+2:]
	}
	text, _, _ := strings.Cut(remainder, "\n")
	text = truncate(text, maxHumanStringLength)
	return fmt.Sprintf("%s-(WATCHDOG)-%s-%s", ExecName, text, crashhash.FormatUpper(crashhash.Sum(remainder)))
}
