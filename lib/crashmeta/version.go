// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crashmeta

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// UnknownVersion is recorded when no version can be found.
const UnknownVersion = "unknown"

// VersionSource locates the OS version recorded in every report. The
// release file is a KEY=VALUE file such as /etc/os-release. A copy saved
// in the state directory at initialization, under the release file's base
// name, is consulted too and wins when both define the key: it reflects
// the version that was running when the crash happened, which matters
// when the system updated before collection.
type VersionSource struct {
	ReleaseFile    string
	StateDirectory string
	Key            string
}

// SavedReleaseFile returns the path of the saved copy, or "" when no state
// directory is configured.
func (s VersionSource) SavedReleaseFile() string {
	if s.StateDirectory == "" || s.ReleaseFile == "" {
		return ""
	}
	return filepath.Join(s.StateDirectory, filepath.Base(s.ReleaseFile))
}

// Lookup returns the version, or [UnknownVersion]. Unreadable files are
// logged and skipped.
func (s VersionSource) Lookup(logger *slog.Logger) string {
	values := make(map[string]string)
	for _, path := range []string{s.ReleaseFile, s.SavedReleaseFile()} {
		if path == "" {
			continue
		}
		if err := loadKeyValueFile(path, values); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || path == s.ReleaseFile {
				logger.Warn("problem reading release file", "path", path, "error", err)
			}
		}
	}
	if version, ok := values[s.Key]; ok && version != "" {
		return version
	}
	logger.Warn("no version in release files", "key", s.Key, "release_file", s.ReleaseFile)
	return UnknownVersion
}

// loadKeyValueFile merges KEY=VALUE lines from path into values. Comments
// and blank lines are skipped; surrounding quotes are removed from
// values. Lines read before an error are kept.
func loadKeyValueFile(path string, values map[string]string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return fmt.Errorf("malformed line %q", line)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	return scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return value
}
