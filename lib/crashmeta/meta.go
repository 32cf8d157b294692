// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crashmeta

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/crashtriage/lib/spool"
)

// Key prefixes the uploader interprets.
const (
	// UploadFilePrefix marks a file attached to the report as a binary
	// upload.
	UploadFilePrefix = "upload_file_"

	// UploadVarPrefix marks a value sent as a form variable.
	UploadVarPrefix = "upload_var_"

	// UploadTextPrefix marks a file whose contents are sent as text.
	UploadTextPrefix = "upload_text_"
)

// Trailer keys.
const (
	KeyExecName    = "exec_name"
	KeyVersion     = "ver"
	KeyPayload     = "payload"
	KeyPayloadSize = "payload_size"
	KeyDone        = "done"
)

// ErrIncomplete is returned by [ReadFile] when the file lacks done=1.
var ErrIncomplete = errors.New("crash metadata incomplete")

// Field is one key=value line.
type Field struct {
	Key   string
	Value string
}

// Writer accumulates extra fields for one crash and writes its meta file.
// A Writer is used for a single report.
type Writer struct {
	version VersionSource
	logger  *slog.Logger
	extras  []Field
}

// NewWriter returns a writer that stamps reports with the version found
// by source.
func NewWriter(source VersionSource, logger *slog.Logger) *Writer {
	return &Writer{version: source, logger: logger}
}

// AddKey appends an extra field.
func (w *Writer) AddKey(key, value string) {
	w.extras = append(w.extras, Field{Key: key, Value: value})
}

// AddUploadFile attaches the file at path under upload_file_<key>. The
// path is recorded in canonical form when it can be resolved. An empty
// path is ignored.
func (w *Writer) AddUploadFile(key, path string) {
	if path == "" {
		return
	}
	w.AddKey(UploadFilePrefix+key, w.normalize(path))
}

// AddUploadVar records value under upload_var_<key>. An empty value is
// ignored.
func (w *Writer) AddUploadVar(key, value string) {
	if value == "" {
		return
	}
	w.AddKey(UploadVarPrefix+key, value)
}

// AddUploadText attaches the file at path under upload_text_<key>. An
// empty path is ignored.
func (w *Writer) AddUploadText(key, path string) {
	if path == "" {
		return
	}
	w.AddKey(UploadTextPrefix+key, w.normalize(path))
}

// Extras returns the extra fields added so far.
func (w *Writer) Extras() []Field {
	return append([]Field(nil), w.extras...)
}

// Render formats the meta block for the given trailer values.
func (w *Writer) Render(execName, version, payloadPath string, payloadSize int64) []byte {
	var buffer bytes.Buffer
	for _, field := range w.extras {
		fmt.Fprintf(&buffer, "%s=%s\n", field.Key, field.Value)
	}
	fmt.Fprintf(&buffer, "%s=%s\n", KeyExecName, execName)
	fmt.Fprintf(&buffer, "%s=%s\n", KeyVersion, version)
	fmt.Fprintf(&buffer, "%s=%s\n", KeyPayload, payloadPath)
	fmt.Fprintf(&buffer, "%s=%d\n", KeyPayloadSize, payloadSize)
	fmt.Fprintf(&buffer, "%s=1\n", KeyDone)
	return buffer.Bytes()
}

// Write creates the meta file at metaPath describing payloadPath. The
// payload is taken to live beside the meta file: only its base name is
// kept, joined to the meta file's directory and resolved to a symlink
// free absolute path. Its size is -1 when it cannot be read.
//
// Write fails, logs, and leaves any existing file untouched if metaPath
// is already occupied.
func (w *Writer) Write(metaPath, execName, payloadPath string) error {
	payload := w.normalize(filepath.Join(filepath.Dir(metaPath), filepath.Base(payloadPath)))

	payloadSize := int64(-1)
	if info, err := os.Stat(payload); err == nil {
		payloadSize = info.Size()
	}

	content := w.Render(execName, w.version.Lookup(w.logger), payload, payloadSize)
	if _, err := spool.WriteNewFile(metaPath, content); err != nil {
		w.logger.Error("unable to write crash metadata", "path", metaPath, "error", err)
		return fmt.Errorf("writing crash metadata: %w", err)
	}
	return nil
}

// normalize returns the absolute, symlink-free form of path, or path
// unchanged when it cannot be resolved.
func (w *Writer) normalize(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		resolved, err = filepath.Abs(resolved)
	}
	if err != nil {
		w.logger.Warn("could not normalize path", "path", path, "error", err)
		return path
	}
	return resolved
}

// Metadata is a parsed meta file.
type Metadata struct {
	Fields []Field
}

// Get returns the value of the last field with the given key.
func (m Metadata) Get(key string) (string, bool) {
	for i := len(m.Fields) - 1; i >= 0; i-- {
		if m.Fields[i].Key == key {
			return m.Fields[i].Value, true
		}
	}
	return "", false
}

// IsComplete reports whether the writer finished the file.
func (m Metadata) IsComplete() bool {
	done, ok := m.Get(KeyDone)
	return ok && done == "1"
}

// PayloadSize returns the payload_size field, -1 if absent or invalid.
func (m Metadata) PayloadSize() int64 {
	value, ok := m.Get(KeyPayloadSize)
	if !ok {
		return -1
	}
	size, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return -1
	}
	return size
}

// Parse parses a meta block. Blank lines are skipped; any other line
// without '=' is an error.
func Parse(data []byte) (Metadata, error) {
	var metadata Metadata
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			return Metadata{}, fmt.Errorf("line %d: expected key=value, got %q", lineNumber, line)
		}
		metadata.Fields = append(metadata.Fields, Field{Key: key, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return Metadata{}, fmt.Errorf("scanning metadata: %w", err)
	}
	return metadata, nil
}

// ReadFile parses the meta file at path. A file that parses but lacks
// done=1 is returned along with [ErrIncomplete].
func ReadFile(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("reading crash metadata: %w", err)
	}
	metadata, err := Parse(data)
	if err != nil {
		return Metadata{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if !metadata.IsComplete() {
		return metadata, fmt.Errorf("%s: %w", path, ErrIncomplete)
	}
	return metadata, nil
}
