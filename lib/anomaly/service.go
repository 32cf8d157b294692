// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package anomaly

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bureau-foundation/crashtriage/lib/crashhash"
	"github.com/bureau-foundation/crashtriage/lib/dedup"
)

// serviceFailurePattern matches init's report of a failed main process:
//
//	sshd main process (2563) terminated with status 2
var serviceFailurePattern = regexp.MustCompile(`(\S+) \S+ process \(\d+\) terminated with status (\d+)`)

// ServiceFailureParser reports services whose processes exit with a
// non-zero status. Each service is reported once per filter lifetime.
type ServiceFailureParser struct {
	seen *dedup.Filter
}

// NewServiceFailureParser returns a parser sharing the given filter.
func NewServiceFailureParser(seen *dedup.Filter) *ServiceFailureParser {
	return &ServiceFailureParser{seen: seen}
}

// ParseLogEntry implements [Parser].
func (p *ServiceFailureParser) ParseLogEntry(line string) (CrashReport, bool) {
	match := serviceFailurePattern.FindStringSubmatch(line)
	if match == nil {
		return CrashReport{}, false
	}
	serviceName, exitStatus := match[1], match[2]

	hash := crashhash.Sum(serviceName)
	if p.seen.WasAlreadySeen(hash) {
		return CrashReport{}, false
	}

	selector := selectorServiceFailurePrefix + serviceName
	if strings.HasPrefix(serviceName, "arc-") {
		selector = selectorArcServiceFailurePrefix + serviceName
	}

	return CrashReport{
		Body:     []byte(fmt.Sprintf("%s-exit%s-%s\n", crashhash.Format(hash), exitStatus, serviceName)),
		Selector: selector,
	}, true
}
