// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package anomaly

import (
	"regexp"

	"github.com/bureau-foundation/crashtriage/lib/dedup"
)

// Entry is one log line attributed to its source.
type Entry struct {
	// Tag identifies the source: "kernel", "audit", "init", ...
	Tag string

	// Message is the line with syslog framing removed.
	Message string
}

// Dispatcher routes entries to the parser registered for their tag. Each
// parser owns its own scan state; the only state shared between them is
// the dedup filter they were constructed with. A Dispatcher is not safe
// for concurrent use.
type Dispatcher struct {
	parsers map[string]Parser
}

// NewDispatcher returns a dispatcher with the standard parser table:
// kernel lines go to the kernel warning parser, audit lines to the
// SELinux parser, and init lines to the service failure parser.
func NewDispatcher(seen *dedup.Filter) *Dispatcher {
	dispatcher := &Dispatcher{parsers: make(map[string]Parser)}
	dispatcher.Register("kernel", NewKernelWarningParser(seen))
	dispatcher.Register("audit", NewSELinuxParser(seen))
	dispatcher.Register("init", NewServiceFailureParser(seen))
	return dispatcher
}

// Register installs parser for tag, replacing any previous registration.
func (d *Dispatcher) Register(tag string, parser Parser) {
	d.parsers[tag] = parser
}

// Dispatch feeds entry to its parser. Entries with unregistered tags are
// ignored.
func (d *Dispatcher) Dispatch(entry Entry) (CrashReport, bool) {
	parser, ok := d.parsers[entry.Tag]
	if !ok {
		return CrashReport{}, false
	}
	return parser.ParseLogEntry(entry.Message)
}

// PeriodicUpdate calls PeriodicUpdate on every parser that implements
// [PeriodicUpdater].
func (d *Dispatcher) PeriodicUpdate() {
	for _, parser := range d.parsers {
		if updater, ok := parser.(PeriodicUpdater); ok {
			updater.PeriodicUpdate()
		}
	}
}

// messagesLinePattern matches the /var/log/messages format:
//
//	2026-10-17T09:41:07.123456+00:00 WARNING kernel: [  12.345678] message
//	2026-10-17T09:41:07.123456+00:00 NOTICE init[1]: sshd main process ...
var messagesLinePattern = regexp.MustCompile(`^\S+ \S+ ([^\s\[:]+)(?:\[\d+\])?: ?(.*)$`)

// kernelTimestampPattern matches the printk timestamp that kernel
// messages carry when forwarded through syslog.
var kernelTimestampPattern = regexp.MustCompile(`^\[\s*\d+\.\d+\] ?`)

// ParseMessagesLine splits a syslog-formatted line into an [Entry].
// Kernel messages have their printk timestamp removed so the parsers see
// the same text the kernel logged. Returns false for lines that do not
// match the format.
func ParseMessagesLine(line string) (Entry, bool) {
	match := messagesLinePattern.FindStringSubmatch(line)
	if match == nil {
		return Entry{}, false
	}
	entry := Entry{Tag: match[1], Message: match[2]}
	if entry.Tag == "kernel" {
		entry.Message = kernelTimestampPattern.ReplaceAllString(entry.Message, "")
	}
	return entry, true
}
