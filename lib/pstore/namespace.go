// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPath is where the kernel mounts pstore.
const DefaultPath = "/sys/fs/pstore"

// Record types and driver names used in keys.
const (
	RecordDmesg   = "dmesg"
	RecordConsole = "console"

	DriverEFI     = "efi"
	DriverRamoops = "ramoops"
)

// ErrExists is returned by [Namespace.Write] when the key already holds a
// value.
var ErrExists = errors.New("pstore key already exists")

// Namespace is a flat key/value store of crash records. Read of a missing
// key returns an error satisfying errors.Is(err, fs.ErrNotExist).
type Namespace interface {
	// List returns every key, sorted.
	List() ([]string, error)

	Read(key string) ([]byte, error)

	// Write stores a new value. It fails with ErrExists rather than
	// replace an existing one.
	Write(key string, data []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// RecordKey formats "<recordType>-<driver>-<id>".
func RecordKey(recordType, driver string, id uint64) string {
	return fmt.Sprintf("%s-%s-%d", recordType, driver, id)
}

// legacyRecordKey formats the "<recordType>-<driver>" name kernels before
// 3.19 used for their single record.
func legacyRecordKey(recordType, driver string) string {
	return recordType + "-" + driver
}

// Dir is a [Namespace] backed by a directory, one file per key.
type Dir struct {
	path string
}

// NewDir returns a namespace over the directory at path. The directory is
// not opened until first use.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// List implements [Namespace]. A missing directory holds no keys.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", d.path, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Read implements [Namespace].
func (d *Dir) Read(key string) ([]byte, error) {
	path, err := d.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pstore record: %w", err)
	}
	return data, nil
}

// Write implements [Namespace].
func (d *Dir) Write(key string, data []byte) error {
	path, err := d.keyPath(key)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("writing %s: %w", key, ErrExists)
		}
		return fmt.Errorf("writing pstore record: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing pstore record %s: %w", key, err)
	}
	return file.Close()
}

// Remove implements [Namespace].
func (d *Dir) Remove(key string) error {
	path, err := d.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing pstore record: %w", err)
	}
	return nil
}

func (d *Dir) keyPath(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsRune(key, '/') {
		return "", fmt.Errorf("invalid pstore key %q", key)
	}
	return filepath.Join(d.path, key), nil
}
