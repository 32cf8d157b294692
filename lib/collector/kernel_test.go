// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/crashtriage/lib/kcrash"
	"github.com/bureau-foundation/crashtriage/lib/pstore"
	"github.com/bureau-foundation/crashtriage/lib/testutil"
)

const (
	panicLog = "<0>[  123.412684] Kernel panic - not syncing: Fatal exception\n" +
		"<4>[  123.412692] Call Trace:\n" +
		"<4>[  123.412699]  [<ffffffff8137c55c>] sysrq_handle_crash+0x14/0x1e\n"

	consoleLog = "<6>[    0.000000] Linux version 6.6.0\n" +
		"<6>[  714.125118] wlan0: associated\n" +
		"<3>[  720.461106] I can haz boot!\n"

	watchdogEventLog = "112 | 2026-10-16 22:05:01 | System boot | 0\n" +
		"113 | 2026-10-17 09:40:58 | System boot | 1\n" +
		"114 | 2026-10-17 09:40:58 | Hardware watchdog reset\n"

	previousBootBios = "\n\ncoreboot-e8dd2d8 Tue Mar 14 23:29:43 UTC 2017 romstage starting...\n" +
		"PANIC in EL3\n" +
		"x30 =           0x00003698\n"
	currentBootBios = "\n\ncoreboot-e8dd2d8 Tue Mar 14 23:29:43 UTC 2017 romstage starting...\n" +
		"This is the current boot\n"
)

type kernelFixture struct {
	*fixture
	pstorePath string
	eventLog   string
	biosLog    string
	kernel     *KernelCollector
}

func newKernelFixture(t *testing.T, arch kcrash.Arch) *kernelFixture {
	t.Helper()
	f := &kernelFixture{fixture: newFixture(t)}
	f.pstorePath = filepath.Join(f.root, "pstore")
	f.eventLog = filepath.Join(f.root, "eventlog.txt")
	f.biosLog = filepath.Join(f.root, "firmware_log")
	if err := os.Mkdir(f.pstorePath, 0o755); err != nil {
		t.Fatal(err)
	}
	f.kernel = NewKernelCollector(f.collector, KernelOptions{
		Pstore:       pstore.NewDir(f.pstorePath),
		EventLogPath: f.eventLog,
		BiosLogPath:  f.biosLog,
		Arch:         arch,
	})
	return f
}

func (f *kernelFixture) writeRecord(t *testing.T, key, content string) {
	t.Helper()
	testutil.WriteFile(t, filepath.Join(f.pstorePath, key), content)
}

func (f *kernelFixture) requireNoReport(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(f.spool); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("spool directory exists after collecting no crash: %v", err)
	}
}

const kernelBasename = "kernel.20261017.094107.0"

func TestKernelCollectEfiPanic(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	id := pstore.GenerateID(1760694000, 1, 2)
	f.writeRecord(t, pstore.RecordKey(pstore.RecordDmesg, pstore.DriverEFI, id), "Panic#1 Part#1\n"+panicLog)

	if !f.kernel.Collect() {
		t.Fatal("Collect found no crash")
	}

	if got := testutil.ReadFile(t, filepath.Join(f.spool, kernelBasename+".kcrash")); got != panicLog {
		t.Errorf("kcrash payload = %q, want %q", got, panicLog)
	}
	metadata := f.readMeta(t, kernelBasename)
	requireField(t, metadata, "sig", kcrash.ComputeStackSignature(panicLog, kcrash.ArchX86_64))
	requireField(t, metadata, "exec_name", "kernel")

	if names := testutil.ListDir(t, f.pstorePath); len(names) != 0 {
		t.Errorf("pstore still holds %v", names)
	}
	record, ok := f.recorder.Find("received prior crash notification from kernel")
	if !ok {
		t.Fatal("no crash notification logged")
	}
	if record.Attrs["reason"] != "handling" {
		t.Errorf("reason = %q, want handling", record.Attrs["reason"])
	}
}

func TestKernelCollectEfiPanicsInSameSecond(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	otherPanicLog := "<0>[   88.100000] Kernel panic - not syncing: Attempted to kill init!\n"
	f.writeRecord(t, pstore.RecordKey(pstore.RecordDmesg, pstore.DriverEFI, pstore.GenerateID(1760694000, 1, 5)),
		"Panic#1 Part#1\n"+panicLog)
	f.writeRecord(t, pstore.RecordKey(pstore.RecordDmesg, pstore.DriverEFI, pstore.GenerateID(1760694100, 1, 6)),
		"Panic#2 Part#1\n"+otherPanicLog)

	if !f.kernel.Collect() {
		t.Fatal("Collect found no crash")
	}

	payloads := map[string]bool{}
	for _, basename := range []string{"kernel.20261017.094107.0", "kernel.20261017.094107.1"} {
		payloads[testutil.ReadFile(t, filepath.Join(f.spool, basename+".kcrash"))] = true
		requireField(t, f.readMeta(t, basename), "exec_name", "kernel")
	}
	if !payloads[panicLog] || !payloads[otherPanicLog] {
		t.Errorf("kcrash payloads = %v, want both panics", payloads)
	}
}

func TestKernelCollectEfiOopsIsRemovedUnreported(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	crash := &pstore.EfiCrash{ID: pstore.GenerateID(1760694000, 1, 3)}
	for part := uint32(1); part <= 2; part++ {
		f.writeRecord(t, pstore.RecordKey(pstore.RecordDmesg, pstore.DriverEFI, pstore.GenerateID(crash.Timestamp(), part, 3)),
			"Oops#1 Part#1\n"+panicLog)
	}

	if !f.kernel.CollectEfiCrash() {
		t.Error("CollectEfiCrash = false with records present")
	}
	if names := testutil.ListDir(t, f.pstorePath); len(names) != 0 {
		t.Errorf("pstore still holds %v", names)
	}
	f.requireNoReport(t)
}

func TestKernelCollectEfiWithoutConsent(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	f.consent = false
	id := pstore.GenerateID(1760694000, 1, 4)
	f.writeRecord(t, pstore.RecordKey(pstore.RecordDmesg, pstore.DriverEFI, id), "Panic#1 Part#1\n"+panicLog)

	if !f.kernel.Collect() {
		t.Error("Collect = false for a crash declined by consent")
	}
	f.requireNoReport(t)
	if names := testutil.ListDir(t, f.pstorePath); len(names) != 0 {
		t.Errorf("pstore still holds %v", names)
	}
	record, ok := f.recorder.Find("received prior crash notification from kernel")
	if !ok || record.Attrs["reason"] != "ignoring - no consent" {
		t.Errorf("notification record = %+v, %v", record, ok)
	}
}

func TestKernelCollectRamoopsPreservedDump(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	f.writeRecord(t, pstore.RecordKey(pstore.RecordDmesg, pstore.DriverRamoops, 0), "====1760694000.123456\n"+panicLog)

	if !f.kernel.CollectRamoopsCrash() {
		t.Fatal("CollectRamoopsCrash found no crash")
	}
	if got := testutil.ReadFile(t, filepath.Join(f.spool, kernelBasename+".kcrash")); got != panicLog {
		t.Errorf("kcrash payload = %q, want %q", got, panicLog)
	}
	requireField(t, f.readMeta(t, kernelBasename), "sig", kcrash.ComputeStackSignature(panicLog, kcrash.ArchX86_64))
	if names := testutil.ListDir(t, f.pstorePath); len(names) != 0 {
		t.Errorf("preserved dump not removed: %v", names)
	}
}

func TestKernelCollectRedactsDump(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	dump := panicLog + "<6>[  123.5] wlan0: deauth from 00:14:22:01:23:45\n"
	f.writeRecord(t, pstore.RecordKey(pstore.RecordDmesg, pstore.DriverRamoops, 0), "====1.1\n"+dump)

	if !f.kernel.CollectRamoopsCrash() {
		t.Fatal("CollectRamoopsCrash found no crash")
	}
	want := panicLog + "<6>[  123.5] wlan0: deauth from 00:00:00:00:00:01\n"
	if got := testutil.ReadFile(t, filepath.Join(f.spool, kernelBasename+".kcrash")); got != want {
		t.Errorf("kcrash payload = %q, want %q", got, want)
	}
}

func TestKernelCollectWatchdogReset(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	f.writeRecord(t, pstore.RecordKey(pstore.RecordConsole, pstore.DriverRamoops, 0), consoleLog)
	testutil.WriteFile(t, f.eventLog, watchdogEventLog)

	if !f.kernel.Collect() {
		t.Fatal("Collect found no crash")
	}
	if got := testutil.ReadFile(t, filepath.Join(f.spool, kernelBasename+".kcrash")); got != consoleLog {
		t.Errorf("kcrash payload = %q, want console log", got)
	}
	requireField(t, f.readMeta(t, kernelBasename), "sig", kcrash.WatchdogSignature(consoleLog))
}

func TestKernelCollectWatchdogBeforeLastBootIgnored(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	f.writeRecord(t, pstore.RecordKey(pstore.RecordConsole, pstore.DriverRamoops, 0), consoleLog)
	testutil.WriteFile(t, f.eventLog,
		"112 | 2026-10-16 22:05:01 | Hardware watchdog reset\n"+
			"113 | 2026-10-17 09:40:58 | System boot | 1\n")

	if f.kernel.Collect() {
		t.Error("Collect reported a crash for a clean reboot")
	}
	f.requireNoReport(t)
}

func TestKernelCollectBiosCrash(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchARM)
	testutil.WriteFile(t, f.biosLog, previousBootBios+currentBootBios)

	if !f.kernel.CollectRamoopsCrash() {
		t.Fatal("CollectRamoopsCrash found no crash")
	}

	metadata := f.readMeta(t, kernelBasename)
	requireField(t, metadata, "sig", "bios-(PANIC)-0x00003698")
	requireField(t, metadata, "upload_file_bios_log", filepath.Join(f.spool, kernelBasename+".bios_log"))
	requireField(t, metadata, "payload_size", "0")

	if got := testutil.ReadFile(t, filepath.Join(f.spool, kernelBasename+".bios_log")); got != previousBootBios[1:] {
		t.Errorf("bios_log = %q, want %q", got, previousBootBios[1:])
	}
}

func TestKernelCollectBiosCrashIgnoredOffARM(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	testutil.WriteFile(t, f.biosLog, previousBootBios+currentBootBios)

	if f.kernel.CollectRamoopsCrash() {
		t.Error("firmware crash reported on a non-ARM board")
	}
	f.requireNoReport(t)
}

func TestKernelCollectNothing(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchX86_64)
	f.writeRecord(t, pstore.RecordKey(pstore.RecordConsole, pstore.DriverRamoops, 0), consoleLog)

	if f.kernel.Collect() {
		t.Error("Collect reported a crash with only a console log")
	}
	f.requireNoReport(t)
}

func TestKernelEnable(t *testing.T) {
	f := newKernelFixture(t, kcrash.ArchUnknown)
	if err := f.kernel.Enable(); err == nil {
		t.Error("Enable succeeded for an unknown architecture")
	}

	f = newKernelFixture(t, kcrash.ArchX86_64)
	if err := f.kernel.Enable(); err != nil {
		t.Errorf("Enable without a mount check: %v", err)
	}

	f.kernel.options.PstorePath = f.pstorePath
	if err := f.kernel.Enable(); err == nil {
		t.Error("Enable accepted a pstore path that is not a mount point")
	}
}
