// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package anomaly

import (
	"regexp"
	"strings"

	"github.com/bureau-foundation/crashtriage/lib/crashhash"
	"github.com/bureau-foundation/crashtriage/lib/dedup"
)

const (
	kernelCutHereMarker  = "------------[ cut here"
	kernelEndTraceMarker = "---[ end trace"
)

// kernelWarningHeaderPattern matches the line after "cut here". The CPU
// and PID clause is absent on older kernels.
var kernelWarningHeaderPattern = regexp.MustCompile(`^WARNING:(?: CPU: \d+ PID: \d+)? at (.+)`)

// kernelWarningFunctionPattern pulls the function out of the header's
// "file:line func+offset/size [module]" location.
var kernelWarningFunctionPattern = regexp.MustCompile(`^\S+ ([^+\s(]+)`)

// kernelWarningState is the position of the parser within a trace.
type kernelWarningState int

const (
	// kernelWarningNone: outside any trace.
	kernelWarningNone kernelWarningState = iota
	// kernelWarningStart: saw "cut here", expecting the WARNING header.
	kernelWarningStart
	// kernelWarningBody: collecting lines until "end trace".
	kernelWarningBody
)

// KernelWarningParser collects kernel WARNING traces:
//
//	------------[ cut here ]------------
//	WARNING: CPU: 0 PID: 1 at net/wireless/nl80211.c:4822 nl80211_get_reg+0x5c/0x1eb [cfg80211]
//	Modules linked in: ...
//	Call Trace:
//	...
//	---[ end trace 8bd8e1d3e4d0e5e4 ]---
//
// A header line that does not parse drops the trace silently. A warning
// whose location was already reported drops the trace without buffering.
type KernelWarningParser struct {
	seen     *dedup.Filter
	state    kernelWarningState
	text     strings.Builder
	selector string
}

// NewKernelWarningParser returns a parser sharing the given filter.
func NewKernelWarningParser(seen *dedup.Filter) *KernelWarningParser {
	return &KernelWarningParser{seen: seen}
}

// ParseLogEntry implements [Parser].
func (p *KernelWarningParser) ParseLogEntry(line string) (CrashReport, bool) {
	switch p.state {
	case kernelWarningNone:
		if strings.Contains(line, kernelCutHereMarker) {
			p.text.Reset()
			p.state = kernelWarningStart
		}

	case kernelWarningStart:
		match := kernelWarningHeaderPattern.FindStringSubmatch(line)
		if match == nil {
			p.state = kernelWarningNone
			return CrashReport{}, false
		}
		info := match[1]

		hash := crashhash.Sum(info)
		if p.seen.WasAlreadySeen(hash) {
			p.state = kernelWarningNone
			return CrashReport{}, false
		}

		p.text.WriteString(crashhash.Format(hash))
		p.text.WriteString("-")
		p.text.WriteString(kernelWarningFunction(info))
		p.text.WriteString("\n")
		p.text.WriteString(info)
		p.text.WriteString("\n")
		p.selector = kernelWarningSelector(info)
		p.state = kernelWarningBody

	case kernelWarningBody:
		if strings.Contains(line, kernelEndTraceMarker) {
			report := CrashReport{
				Body:     []byte(p.text.String()),
				Selector: p.selector,
			}
			p.text.Reset()
			p.state = kernelWarningNone
			return report, true
		}
		p.text.WriteString(line)
		p.text.WriteString("\n")
	}
	return CrashReport{}, false
}

func kernelWarningFunction(info string) string {
	match := kernelWarningFunctionPattern.FindStringSubmatch(info)
	if match == nil {
		return "unknown-function"
	}
	return match[1]
}

func kernelWarningSelector(info string) string {
	switch {
	case strings.Contains(info, "drivers/net/wireless"):
		return SelectorKernelWifiWarning
	case strings.Contains(info, "drivers/idle"):
		return SelectorKernelSuspendWarning
	default:
		return SelectorKernelWarning
	}
}
