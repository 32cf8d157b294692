// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"fmt"
	"time"
)

// Sanitize replaces every byte that is not an ASCII letter, digit, or
// underscore with '_'. The result never contains a dot, which the
// uploader relies on when splitting artifact names.
func Sanitize(name string) string {
	sanitized := []byte(name)
	for i, c := range sanitized {
		if !isNameByte(c) {
			sanitized[i] = '_'
		}
	}
	return string(sanitized)
}

func isNameByte(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_'
}

// FormatDumpBasename returns "<exec>.YYYYMMDD.HHMMSS.<pid>" with the exec
// name sanitized and the time in t's location.
func FormatDumpBasename(execName string, t time.Time, pid int) string {
	return fmt.Sprintf("%s.%s.%d", Sanitize(execName), t.Format("20060102.150405"), pid)
}

// ArtifactName returns "<basename>.<extension>".
func ArtifactName(basename, extension string) string {
	return basename + "." + extension
}
