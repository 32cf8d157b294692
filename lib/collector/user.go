// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bureau-foundation/crashtriage/lib/crashmeta"
	"github.com/bureau-foundation/crashtriage/lib/spool"
)

// ErrorType classifies a failure to collect a user crash. Its string is
// the suffix of the collection-error report's signature.
type ErrorType string

const (
	ErrorSystemIssue              ErrorType = "system-issue"
	ErrorReadCoreData             ErrorType = "read-core-data"
	ErrorUnusableProcFiles        ErrorType = "unusable-proc-files"
	ErrorInvalidCoreFile          ErrorType = "invalid-core-file"
	ErrorUnsupported32BitCoreFile ErrorType = "unsupported-32bit-core-file"
	ErrorCore2MinidumpConversion  ErrorType = "core2md-failure"
)

// collectionErrorExecName is the exec name of reports describing a
// failed collection.
const collectionErrorExecName = "crash_reporter-user-collection"

// ConversionError is a user crash collection failure of a known type.
type ConversionError struct {
	Type ErrorType
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Signature returns the signature of the collection-error report.
func (e *ConversionError) Signature() string {
	return collectionErrorExecName + "-" + string(e.Type)
}

// UserCrash identifies a crashed user process, as passed by the kernel
// through core_pattern.
type UserCrash struct {
	PID      int
	Signal   int
	UID      int
	GID      int
	ExecName string
}

// ParseUserArgument parses the pid:signal:uid:gid:exec argument that
// [CorePattern] asks the kernel to pass. The executable name may itself
// contain colons.
func ParseUserArgument(argument string) (UserCrash, error) {
	fields := strings.SplitN(argument, ":", 5)
	if len(fields) != 5 || fields[4] == "" {
		return UserCrash{}, fmt.Errorf("user crash %q: want pid:signal:uid:gid:exec", argument)
	}
	var numbers [4]int
	for i, field := range fields[:4] {
		value, err := strconv.Atoi(field)
		if err != nil || value < 0 {
			return UserCrash{}, fmt.Errorf("user crash %q: field %d is not a non-negative integer", argument, i+1)
		}
		numbers[i] = value
	}
	return UserCrash{
		PID:      numbers[0],
		Signal:   numbers[1],
		UID:      numbers[2],
		GID:      numbers[3],
		ExecName: fields[4],
	}, nil
}

// CoreConverter turns a core file into a minidump.
type CoreConverter interface {
	Convert(ctx context.Context, crash UserCrash, core []byte) ([]byte, error)
}

// CommandConverter runs an external converter with the core on stdin
// and reads the minidump from stdout. The crashed pid is appended as the
// last argument so the converter can read its /proc files.
type CommandConverter struct {
	Command []string
}

// Convert implements [CoreConverter].
func (c CommandConverter) Convert(ctx context.Context, crash UserCrash, core []byte) ([]byte, error) {
	if len(c.Command) == 0 {
		return nil, &ConversionError{Type: ErrorSystemIssue, Err: errors.New("no core converter configured")}
	}
	arguments := append(append([]string(nil), c.Command[1:]...), strconv.Itoa(crash.PID))
	command := exec.CommandContext(ctx, c.Command[0], arguments...)
	command.Stdin = bytes.NewReader(core)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ConversionError{Type: ErrorSystemIssue, Err: fmt.Errorf("running %s: %w", c.Command[0], err)}
		}
		return nil, &ConversionError{Type: ErrorCore2MinidumpConversion,
			Err: fmt.Errorf("%s: %w: %s", c.Command[0], err, strings.TrimSpace(stderr.String()))}
	}
	return stdout.Bytes(), nil
}

// elfHeaderSize covers e_ident and e_type.
const elfHeaderSize = elf.EI_NIDENT + 2

// CheckCoreHeader performs a coarse check of an ELF core header: the
// magic, a word size matching this binary's, and type ET_CORE. A 32-bit
// core on a 64-bit host is reported as [ErrorUnsupported32BitCoreFile];
// any other problem as [ErrorInvalidCoreFile].
func CheckCoreHeader(header []byte) error {
	if len(header) < elfHeaderSize {
		return &ConversionError{Type: ErrorInvalidCoreFile, Err: fmt.Errorf("core file is %d bytes, shorter than an ELF header", len(header))}
	}
	if string(header[:4]) != elf.ELFMAG {
		return &ConversionError{Type: ErrorInvalidCoreFile, Err: errors.New("core file does not start with ELF magic")}
	}

	class := elf.Class(header[elf.EI_CLASS])
	hostClass := elf.ELFCLASS32
	if strconv.IntSize == 64 {
		hostClass = elf.ELFCLASS64
	}
	if class != hostClass {
		if class == elf.ELFCLASS32 && hostClass == elf.ELFCLASS64 {
			return &ConversionError{Type: ErrorUnsupported32BitCoreFile, Err: errors.New("32-bit core file on a 64-bit host")}
		}
		return &ConversionError{Type: ErrorInvalidCoreFile, Err: fmt.Errorf("core file class %v does not match host %v", class, hostClass)}
	}

	var order binary.ByteOrder
	switch elf.Data(header[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return &ConversionError{Type: ErrorInvalidCoreFile, Err: fmt.Errorf("core file has unknown byte order %d", header[elf.EI_DATA])}
	}
	if fileType := elf.Type(order.Uint16(header[elf.EI_NIDENT:])); fileType != elf.ET_CORE {
		return &ConversionError{Type: ErrorInvalidCoreFile, Err: fmt.Errorf("ELF type is %v, not ET_CORE", fileType)}
	}
	return nil
}

// CollectUserCrash reads the core from coreReader, checks it, converts
// it, and admits the minidump. Any collection failure is admitted
// instead as a collection-error report signed
// crash_reporter-user-collection-<type>, and the failure is returned as
// a *ConversionError. The error report is written directly and never
// goes back through conversion.
func (c *Collector) CollectUserCrash(ctx context.Context, crash UserCrash, coreReader io.Reader, converter CoreConverter) (Admitted, error) {
	collect, reason := c.Decide()
	c.logger.Info("received crash notification",
		"exec_name", crash.ExecName, "pid", crash.PID, "signal", crash.Signal, "uid", crash.UID, "reason", reason)
	if !collect {
		return Admitted{}, ErrNoConsent
	}

	minidump, err := c.convertUserCrash(ctx, crash, coreReader, converter)
	if err != nil {
		var conversionErr *ConversionError
		if !errors.As(err, &conversionErr) {
			conversionErr = &ConversionError{Type: ErrorCore2MinidumpConversion, Err: err}
		}
		return c.admitCollectionError(crash, conversionErr)
	}

	return c.Admit(Report{
		ExecName:         crash.ExecName,
		PID:              crash.PID,
		Payload:          minidump,
		PayloadExtension: spool.ExtensionMinidump,
	})
}

func (c *Collector) convertUserCrash(ctx context.Context, crash UserCrash, coreReader io.Reader, converter CoreConverter) ([]byte, error) {
	core, err := io.ReadAll(coreReader)
	if err != nil {
		return nil, &ConversionError{Type: ErrorReadCoreData, Err: err}
	}
	if err := CheckCoreHeader(core); err != nil {
		return nil, err
	}
	return converter.Convert(ctx, crash, core)
}

func (c *Collector) admitCollectionError(crash UserCrash, conversionErr *ConversionError) (Admitted, error) {
	c.logger.Warn("user crash collection failed",
		"exec_name", crash.ExecName, "pid", crash.PID, "error_type", string(conversionErr.Type), "error", conversionErr.Err)

	body := fmt.Sprintf("Collecting %s (pid %d, signal %d) failed: %v\n",
		crash.ExecName, crash.PID, crash.Signal, conversionErr)
	admitted, err := c.Admit(Report{
		ExecName:         collectionErrorExecName,
		PID:              crash.PID,
		Payload:          []byte(body),
		PayloadExtension: spool.ExtensionLog,
		Fields:           []crashmeta.Field{{Key: signatureKey, Value: conversionErr.Signature()}},
	})
	if err != nil {
		return Admitted{}, errors.Join(conversionErr, err)
	}
	return admitted, conversionErr
}
