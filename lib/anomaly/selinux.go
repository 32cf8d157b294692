// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package anomaly

import (
	"path"
	"regexp"
	"strings"

	"github.com/bureau-foundation/crashtriage/lib/crashhash"
	"github.com/bureau-foundation/crashtriage/lib/dedup"
)

var (
	selinuxSourceContextPattern = regexp.MustCompile(`scontext=(\S*)`)
	selinuxTargetContextPattern = regexp.MustCompile(`tcontext=(\S*)`)
	selinuxPermissionPattern    = regexp.MustCompile(`\{ (\S*) \}`)
	selinuxCommandPattern       = regexp.MustCompile(`comm="([^"]*)"`)
	selinuxNamePattern          = regexp.MustCompile(`name="([^"]*)"`)
)

// Field separators in the structured SELinux report body.
const (
	selinuxKeySeparator   = "\x01"
	selinuxFieldSeparator = "\x02"
)

// SELinuxParser reports AVC denials (and grants with auditallow). A line
// is deduplicated on its alphabetic characters alone, so denials that
// differ only in pids, inode numbers, or timestamps are reported once.
type SELinuxParser struct {
	seen *dedup.Filter
}

// NewSELinuxParser returns a parser sharing the given filter.
func NewSELinuxParser(seen *dedup.Filter) *SELinuxParser {
	return &SELinuxParser{seen: seen}
}

// ParseLogEntry implements [Parser]. Every line is treated as a candidate:
// the caller routes only audit-tagged lines here.
func (p *SELinuxParser) ParseLogEntry(line string) (CrashReport, bool) {
	hash := crashhash.Sum(alphabeticOnly(line))
	if p.seen.WasAlreadySeen(hash) {
		return CrashReport{}, false
	}

	sourceContext := firstSubmatch(selinuxSourceContextPattern, line)
	targetContext := firstSubmatch(selinuxTargetContextPattern, line)
	permission := firstSubmatch(selinuxPermissionPattern, line)
	command := firstSubmatch(selinuxCommandPattern, line)
	name := firstSubmatch(selinuxNamePattern, line)

	// The prefix keys off the raw line, not off any extracted field.
	var signature strings.Builder
	if strings.Contains(line, "avc: granted") {
		signature.WriteString("granted-")
	}
	signature.WriteString(strings.Join([]string{
		sourceContext,
		targetContext,
		permission,
		baseName(command),
		baseName(name),
	}, "-"))

	var body strings.Builder
	body.WriteString(crashhash.Format(hash))
	body.WriteString("-selinux-")
	body.WriteString(signature.String())
	body.WriteString("\n")
	for _, field := range []struct{ key, value string }{
		{"comm", command},
		{"name", name},
		{"scontext", sourceContext},
		{"tcontext", targetContext},
	} {
		if field.value == "" {
			continue
		}
		body.WriteString(field.key)
		body.WriteString(selinuxKeySeparator)
		body.WriteString(field.value)
		body.WriteString(selinuxFieldSeparator)
	}
	body.WriteString("\n")
	body.WriteString(line)

	return CrashReport{
		Body:     []byte(body.String()),
		Selector: SelectorSELinuxViolation,
	}, true
}

// alphabeticOnly returns the ASCII letters of s in order.
func alphabeticOnly(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			builder.WriteByte(c)
		}
	}
	return builder.String()
}

func firstSubmatch(pattern *regexp.Regexp, s string) string {
	match := pattern.FindStringSubmatch(s)
	if match == nil {
		return ""
	}
	return match[1]
}

// baseName is path.Base without the "." substitution for empty input.
func baseName(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}
