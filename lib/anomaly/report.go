// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package anomaly

import (
	"fmt"
	"strings"
)

// CrashReport is a report produced by a parser. It is consumed once by
// the spool admission step and has no identity beyond that.
type CrashReport struct {
	// Body is the report payload. Its first line is the signature.
	Body []byte

	// Selector is the invocation selector, for example
	// "--service_failure=sshd" or "--selinux_violation". Downstream
	// components use it to decide how to file the report.
	Selector string
}

// Signature returns the first line of the body.
func (r CrashReport) Signature() string {
	signature, _, _ := strings.Cut(string(r.Body), "\n")
	return signature
}

// Parser is the capability shared by all log stream parsers. ParseLogEntry
// is fed consecutive lines from one source and returns a report, and true,
// when a line completes a reportable event that has not been seen before.
type Parser interface {
	ParseLogEntry(line string) (CrashReport, bool)
}

// PeriodicUpdater is implemented by parsers that need wall-clock
// bookkeeping. The dispatcher calls PeriodicUpdate on a timer.
type PeriodicUpdater interface {
	PeriodicUpdate()
}

// Invocation selectors.
const (
	SelectorKernelWarning        = "--kernel_warning"
	SelectorKernelWifiWarning    = "--kernel_wifi_warning"
	SelectorKernelSuspendWarning = "--kernel_suspend_warning"
	SelectorSELinuxViolation     = "--selinux_violation"

	selectorServiceFailurePrefix    = "--service_failure="
	selectorArcServiceFailurePrefix = "--arc_service_failure="
)

// Kind classifies a report by its invocation selector.
type Kind int

const (
	KindUnknown Kind = iota
	KindServiceFailure
	KindArcServiceFailure
	KindSELinuxViolation
	KindKernelWarning
	KindKernelWifiWarning
	KindKernelSuspendWarning
)

// ExecName returns the program name reports of this kind are filed under.
func (k Kind) ExecName() string {
	switch k {
	case KindServiceFailure:
		return "service-failure"
	case KindArcServiceFailure:
		return "arc-service-failure"
	case KindSELinuxViolation:
		return "selinux-violation"
	case KindKernelWarning:
		return "kernel-warning"
	case KindKernelWifiWarning:
		return "kernel-wifi-warning"
	case KindKernelSuspendWarning:
		return "kernel-suspend-warning"
	default:
		return "unknown-anomaly"
	}
}

// ParseSelector returns the kind named by selector and its argument (the
// service name for service failures, empty otherwise).
func ParseSelector(selector string) (Kind, string, error) {
	switch selector {
	case SelectorKernelWarning:
		return KindKernelWarning, "", nil
	case SelectorKernelWifiWarning:
		return KindKernelWifiWarning, "", nil
	case SelectorKernelSuspendWarning:
		return KindKernelSuspendWarning, "", nil
	case SelectorSELinuxViolation:
		return KindSELinuxViolation, "", nil
	}
	if name, ok := strings.CutPrefix(selector, selectorArcServiceFailurePrefix); ok && name != "" {
		return KindArcServiceFailure, name, nil
	}
	if name, ok := strings.CutPrefix(selector, selectorServiceFailurePrefix); ok && name != "" {
		return KindServiceFailure, name, nil
	}
	return KindUnknown, "", fmt.Errorf("unrecognized invocation selector %q", selector)
}
