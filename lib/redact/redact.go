// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// EmailReplacement is substituted for every email address.
const EmailReplacement = "<redacted email address>"

// acpiCommandPrefix precedes ATA "SET FEATURES" commands, which print
// like MAC addresses ("ACPI cmd ef/10:03:00:00:00:a0") but are not.
const acpiCommandPrefix = "ACPI cmd ef/"

var macAddressPattern = regexp.MustCompile(
	`[[:xdigit:]]{2}:[[:xdigit:]]{2}:[[:xdigit:]]{2}:[[:xdigit:]]{2}:[[:xdigit:]]{2}:[[:xdigit:]]{2}`)

// emailPattern follows the RFC 5322 addr-spec grammar: a dot-atom or
// quoted local part, then a domain name or bracketed address literal.
var emailPattern = func() *regexp.Regexp {
	const (
		atom           = "[a-z0-9!#$%&'*+/=?^_`{|}~-]+"
		quotedLocal    = `"(?:[\x01-\x08\x0b\x0c\x0e-\x1f\x21\x23-\x5b\x5d-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])*"`
		label          = `[a-z0-9](?:[a-z0-9-]*[a-z0-9])?`
		octet          = `(?:25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])`
		generalLiteral = `[a-z0-9-]*[a-z0-9]:(?:[\x01-\x08\x0b\x0c\x0e-\x1f\x21-\x5a\x53-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])+`
	)
	local := `(?:` + atom + `(?:\.` + atom + `)*|` + quotedLocal + `)`
	domain := `(?:(?:` + label + `\.)+` + label +
		`|\[(?:` + octet + `\.){3}(?:` + octet + `|` + generalLiteral + `)\])`
	return regexp.MustCompile(`(?i)\b` + local + `@` + domain + `\b`)
}()

// MACAddresses replaces every MAC address in text with a synthetic one.
// The first distinct address becomes 00:00:00:00:00:01, the second
// 00:00:00:00:00:02, and so on, so repeated sightings of one device stay
// correlated within the log. Addresses are compared case-insensitively.
// Text following "ACPI cmd ef/" is left alone.
func MACAddresses(text string) string {
	matches := macAddressPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	replacements := make(map[string]string)
	var builder strings.Builder
	builder.Grow(len(text))
	previous := 0
	for _, match := range matches {
		start, end := match[0], match[1]
		builder.WriteString(text[previous:start])
		previous = end

		address := text[start:end]
		if strings.HasSuffix(text[:start], acpiCommandPrefix) {
			builder.WriteString(address)
			continue
		}

		key := strings.ToLower(address)
		replacement, ok := replacements[key]
		if !ok {
			replacement = syntheticMAC(uint32(len(replacements) + 1))
			replacements[key] = replacement
		}
		builder.WriteString(replacement)
	}
	builder.WriteString(text[previous:])
	return builder.String()
}

func syntheticMAC(id uint32) string {
	return fmt.Sprintf("00:00:%02x:%02x:%02x:%02x",
		byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
}

// EmailAddresses replaces every email address in text with
// [EmailReplacement].
func EmailAddresses(text string) string {
	return emailPattern.ReplaceAllLiteralString(text, EmailReplacement)
}

// SensitiveData applies every redaction.
func SensitiveData(text string) string {
	return EmailAddresses(MACAddresses(text))
}

// Bytes is [SensitiveData] for byte slices.
func Bytes(data []byte) []byte {
	return []byte(SensitiveData(string(data)))
}
