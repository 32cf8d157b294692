// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// MaxCrashDirectorySize is the number of distinct reports a spool
// directory holds before it is full.
const MaxCrashDirectorySize = 32

// ErrDirectoryFull is returned when a spool directory is at capacity.
var ErrDirectoryFull = errors.New("crash directory full")

// Artifact extensions. Only files carrying one of these count towards
// capacity.
const (
	ExtensionCore     = "core"
	ExtensionMinidump = "dmp"
	ExtensionMeta     = "meta"
	ExtensionLog      = "log"
	ExtensionKcrash   = "kcrash"
	ExtensionBiosLog  = "bios_log"
)

var recognizedExtensions = map[string]bool{
	ExtensionCore:     true,
	ExtensionMinidump: true,
	ExtensionMeta:     true,
	ExtensionLog:      true,
	ExtensionKcrash:   true,
	ExtensionBiosLog:  true,
}

// SplitArtifactName splits "basename.ext" at its last dot. It returns
// false when the name has no extension (including dot files like
// ".hidden") or the extension is not a crash artifact extension.
func SplitArtifactName(name string) (basename, extension string, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return "", "", false
	}
	basename, extension = name[:dot], name[dot+1:]
	if !recognizedExtensions[extension] {
		return "", "", false
	}
	return basename, extension, true
}

// CountReports returns the number of distinct basenames among names that
// carry a recognized extension.
func CountReports(names []string) int {
	basenames := make(map[string]struct{})
	for _, name := range names {
		if basename, _, ok := SplitArtifactName(name); ok {
			basenames[basename] = struct{}{}
		}
	}
	return len(basenames)
}

// HasCapacity reports whether the directory at path can accept another
// report. A directory that cannot be read has no capacity.
func HasCapacity(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, fmt.Errorf("reading crash directory: %w", err)
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return CountReports(names) < MaxCrashDirectorySize, nil
}
