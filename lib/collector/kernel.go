// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/crashtriage/lib/crashmeta"
	"github.com/bureau-foundation/crashtriage/lib/kcrash"
	"github.com/bureau-foundation/crashtriage/lib/pstore"
	"github.com/bureau-foundation/crashtriage/lib/redact"
	"github.com/bureau-foundation/crashtriage/lib/spool"
)

// biosLogKey is the attachment key of the previous boot's firmware log.
const biosLogKey = "bios_log"

// KernelOptions configures a [KernelCollector].
type KernelOptions struct {
	// Pstore holds the records the kernel saved before the reboot.
	Pstore pstore.Namespace

	// PstorePath is where Pstore is mounted, checked by Enable. Empty
	// skips the mount check.
	PstorePath string

	// EventLogPath is the firmware event log; BiosLogPath the firmware
	// console log. Either may be absent.
	EventLogPath string
	BiosLogPath  string

	Arch kcrash.Arch
}

// KernelCollector turns kernel crashes preserved across a reboot into
// .kcrash reports.
type KernelCollector struct {
	collector *Collector
	options   KernelOptions
	ramoops   *pstore.Ramoops
	logger    *slog.Logger
}

// NewKernelCollector returns a kernel collector admitting through c.
func NewKernelCollector(c *Collector, options KernelOptions) *KernelCollector {
	logger := c.logger.With("collector", kcrash.ExecName)
	return &KernelCollector{
		collector: c,
		options:   options,
		ramoops:   pstore.NewRamoops(options.Pstore, logger),
		logger:    logger,
	}
}

// Enable checks that kernel crashes can be collected here: the dump
// architecture must be known and pstore must be mounted.
func (k *KernelCollector) Enable() error {
	if k.options.Arch == kcrash.ArchUnknown {
		return errors.New("kernel collector does not understand this architecture")
	}
	if k.options.PstorePath == "" {
		return nil
	}
	mounted, err := isMountPoint(k.options.PstorePath)
	if err != nil {
		return fmt.Errorf("kernel does not support crash dumping: %w", err)
	}
	if !mounted {
		return fmt.Errorf("kernel does not support crash dumping: %s is not mounted", k.options.PstorePath)
	}
	k.logger.Info("enabling kernel crash handling")
	return nil
}

// isMountPoint reports whether path is on a different device than its
// parent.
func isMountPoint(path string) (bool, error) {
	var parent, target unix.Stat_t
	if err := unix.Stat(filepath.Dir(filepath.Clean(path)), &parent); err != nil {
		return false, fmt.Errorf("stat %s: %w", filepath.Dir(path), err)
	}
	if err := unix.Stat(path, &target); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return parent.Dev != target.Dev, nil
}

// Collect processes EFI records, then ramoops records. EFI records are
// always processed and removed even when ramoops also holds a crash.
// Returns whether any crash was found.
func (k *KernelCollector) Collect() bool {
	foundEfi := k.CollectEfiCrash()
	foundRamoops := k.CollectRamoopsCrash()
	return foundEfi || foundRamoops
}

// CollectEfiCrash reports every EFI record of type Panic and removes
// every EFI record. Returns whether any EFI record existed.
func (k *KernelCollector) CollectEfiCrash() bool {
	crashes, err := pstore.FindEfiCrashes(k.options.Pstore)
	if err != nil {
		k.logger.Error("listing efi crashes failed", "error", err)
		return false
	}
	k.logger.Info("found kernel crashes in efi pstore", "count", len(crashes))

	for _, crash := range crashes {
		k.collectEfiCrash(crash)
		if err := crash.Remove(); err != nil {
			k.logger.Warn("removing efi crash failed", "crash_id", crash.ID, "error", err)
		}
	}
	return len(crashes) > 0
}

func (k *KernelCollector) collectEfiCrash(crash *pstore.EfiCrash) {
	crashType, err := crash.Type()
	if err != nil {
		k.logger.Warn("reading efi crash type failed", "crash_id", crash.ID, "error", err)
		return
	}
	if crashType != pstore.EfiPanicType {
		k.logger.Warn("ignoring kernel efi crash", "crash_id", crash.ID, "type", crashType)
		return
	}
	dump, err := crash.Load()
	if err != nil {
		k.logger.Warn("ignoring kernel efi crash", "crash_id", crash.ID, "type", crashType, "error", err)
		return
	}

	k.logger.Info("reporting kernel efi crash", "crash_id", crash.ID, "type", crashType)
	dump = redact.Bytes(dump)
	if len(dump) == 0 {
		return
	}
	signature := kcrash.ComputeStackSignature(string(dump), k.options.Arch)
	if err := k.handleCrash(dump, nil, signature); err != nil {
		k.logger.Error("failed to handle kernel efi crash", "crash_id", crash.ID, "error", err)
	}
}

// CollectRamoopsCrash reports the crash preserved in ramoops, if any. A
// preserved dmesg dump is signed from its stack. Without one, the
// console log is attached and the reboot is signed as a firmware crash
// or a watchdog reset; any other reboot is not a crash.
func (k *KernelCollector) CollectRamoopsCrash() bool {
	biosLog := k.lastBootBiosLog()

	var kernelDump []byte
	var signature string
	if dump, ok := k.ramoops.LoadPreservedDump(); ok {
		kernelDump = dump
		signature = kcrash.ComputeStackSignature(string(dump), k.options.Arch)
	} else {
		console, err := k.ramoops.LoadConsole()
		if err != nil {
			k.logger.Info("no console ramoops", "error", err)
		}
		kernelDump = console

		switch {
		case kcrash.LastRebootWasBiosCrash(k.options.Arch, biosLog):
			signature = kcrash.BiosCrashSignature(biosLog)
		case kcrash.LastRebootWasWatchdog(k.readOptional(k.options.EventLogPath)):
			signature = kcrash.WatchdogSignature(string(console))
		default:
			return false
		}
	}

	biosDump := redact.Bytes([]byte(biosLog))
	kernelDump = redact.Bytes(kernelDump)
	if len(kernelDump) == 0 && len(biosDump) == 0 {
		return false
	}
	if err := k.handleCrash(kernelDump, biosDump, signature); err != nil {
		k.logger.Error("failed to handle ramoops crash", "signature", signature, "error", err)
	}
	return true
}

// handleCrash admits one kernel crash. A crash declined for lack of
// consent is still handled.
func (k *KernelCollector) handleCrash(kernelDump, biosDump []byte, signature string) error {
	collect, reason := k.collector.Decide()
	k.logger.Info("received prior crash notification from kernel", "signature", signature, "reason", reason)
	if !collect {
		return nil
	}

	report := Report{
		ExecName:         kcrash.ExecName,
		PID:              0,
		Payload:          kernelDump,
		PayloadExtension: spool.ExtensionKcrash,
		Fields:           []crashmeta.Field{{Key: signatureKey, Value: signature}},
	}
	if len(biosDump) > 0 {
		report.Attachments = []Attachment{{Key: biosLogKey, Extension: spool.ExtensionBiosLog, Data: biosDump}}
	}
	_, err := k.collector.Admit(report)
	return err
}

// lastBootBiosLog returns the previous boot's part of the firmware log,
// or "" when it is unavailable.
func (k *KernelCollector) lastBootBiosLog() string {
	fullLog := k.readOptional(k.options.BiosLogPath)
	if fullLog == "" {
		return ""
	}
	biosLog, ok := kcrash.LastBootBiosLog(fullLog)
	if !ok {
		k.logger.Info("no bios log for the previous boot", "path", k.options.BiosLogPath)
		return ""
	}
	return biosLog
}

// readOptional returns the contents of path, or "" when path is unset or
// unreadable. Only errors other than absence are logged.
func (k *KernelCollector) readOptional(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			k.logger.Warn("reading firmware log failed", "path", path, "error", err)
		}
		return ""
	}
	return string(data)
}
