// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/crashtriage/lib/anomaly"
	"github.com/bureau-foundation/crashtriage/lib/clock"
	"github.com/bureau-foundation/crashtriage/lib/crashmeta"
	"github.com/bureau-foundation/crashtriage/lib/dedup"
	"github.com/bureau-foundation/crashtriage/lib/spool"
	"github.com/bureau-foundation/crashtriage/lib/testutil"
)

var crashTime = time.Date(2026, 10, 17, 9, 41, 7, 0, time.UTC)

// fixture is a collector over temporary directories.
type fixture struct {
	root      string
	spool     string
	state     string
	runState  string
	developer string
	consent   bool
	recorder  *testutil.LogRecorder
	clock     *clock.FakeClock
	collector *Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		root:      root,
		spool:     filepath.Join(root, "spool"),
		state:     filepath.Join(root, "state"),
		runState:  filepath.Join(root, "run"),
		developer: filepath.Join(root, "leave_core"),
		consent:   true,
		clock:     clock.Fake(crashTime),
	}
	release := filepath.Join(root, "os-release")
	testutil.WriteFile(t, release, "VERSION_ID=15474.0.0\n")

	logger, recorder := testutil.NewLogRecorder()
	f.recorder = recorder
	f.collector = New(Options{
		SpoolPath:         f.spool,
		Spool:             spool.Settings{Mode: 0o1755, UID: os.Geteuid(), GID: os.Getegid()},
		StateDirectory:    f.state,
		RunStateDirectory: f.runState,
		Version:           crashmeta.VersionSource{ReleaseFile: release, StateDirectory: f.state, Key: "VERSION_ID"},
		DeveloperMarker:   f.developer,
		Consent:           func() bool { return f.consent },
		Clock:             f.clock,
		Logger:            logger,
	})
	return f
}

func (f *fixture) readMeta(t *testing.T, basename string) crashmeta.Metadata {
	t.Helper()
	metadata, err := crashmeta.ReadFile(filepath.Join(f.spool, basename+".meta"))
	if err != nil {
		t.Fatalf("reading meta for %s: %v", basename, err)
	}
	return metadata
}

func requireField(t *testing.T, metadata crashmeta.Metadata, key, want string) {
	t.Helper()
	got, ok := metadata.Get(key)
	if !ok {
		t.Errorf("meta has no %s field; fields: %v", key, metadata.Fields)
		return
	}
	if got != want {
		t.Errorf("meta %s = %q, want %q", key, got, want)
	}
}

func TestHandleAnomalyServiceFailure(t *testing.T) {
	f := newFixture(t)
	parser := anomaly.NewServiceFailureParser(dedup.New())
	report, ok := parser.ParseLogEntry("sshd main process (2563) terminated with status 2")
	if !ok {
		t.Fatal("parser produced no report")
	}

	admitted, err := f.collector.HandleAnomaly(report)
	if err != nil {
		t.Fatalf("HandleAnomaly: %v", err)
	}

	basename := "service_failure.20261017.094107.0"
	if admitted.MetaPath != filepath.Join(f.spool, basename+".meta") {
		t.Errorf("MetaPath = %s", admitted.MetaPath)
	}
	if admitted.PayloadPath != filepath.Join(f.spool, basename+".log") {
		t.Errorf("PayloadPath = %s", admitted.PayloadPath)
	}
	if got := testutil.ReadFile(t, admitted.PayloadPath); got != string(report.Body) {
		t.Errorf("payload = %q, want body %q", got, report.Body)
	}

	metadata := f.readMeta(t, basename)
	requireField(t, metadata, "sig", "df4fe4fc-exit2-sshd")
	requireField(t, metadata, "upload_var_service", "sshd")
	requireField(t, metadata, "exec_name", "service-failure")
	requireField(t, metadata, "ver", "15474.0.0")
	requireField(t, metadata, "payload", admitted.PayloadPath)
	requireField(t, metadata, "payload_size", fmt.Sprint(len(report.Body)))
}

func TestHandleAnomalySameSecondReportsBothLand(t *testing.T) {
	f := newFixture(t)
	parser := anomaly.NewServiceFailureParser(dedup.New())
	lines := []string{
		"sshd main process (2563) terminated with status 2",
		"powerd main process (811) terminated with status 1",
	}

	for i, line := range lines {
		report, ok := parser.ParseLogEntry(line)
		if !ok {
			t.Fatalf("parser produced no report for %q", line)
		}
		admitted, err := f.collector.HandleAnomaly(report)
		if err != nil {
			t.Fatalf("HandleAnomaly(%q): %v", line, err)
		}
		basename := fmt.Sprintf("service_failure.20261017.094107.%d", i)
		if admitted.PayloadPath != filepath.Join(f.spool, basename+".log") {
			t.Errorf("PayloadPath = %s, want %s.log", admitted.PayloadPath, basename)
		}
		requireField(t, f.readMeta(t, basename), "sig", report.Signature())
	}
}

func TestAdmitSkipsTakenSequenceNumbers(t *testing.T) {
	f := newFixture(t)
	if err := os.MkdirAll(f.spool, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(f.spool, "kernel.20261017.094107.0.kcrash"), "earlier")

	admitted, err := f.collector.Admit(Report{ExecName: "kernel", Payload: []byte("later"), PayloadExtension: spool.ExtensionKcrash})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if want := filepath.Join(f.spool, "kernel.20261017.094107.1.kcrash"); admitted.PayloadPath != want {
		t.Errorf("PayloadPath = %s, want %s", admitted.PayloadPath, want)
	}
	if got := testutil.ReadFile(t, filepath.Join(f.spool, "kernel.20261017.094107.0.kcrash")); got != "earlier" {
		t.Errorf("existing payload overwritten: %q", got)
	}
}

func TestHandleAnomalyKernelWarningHasNoServiceVar(t *testing.T) {
	f := newFixture(t)
	report := anomaly.CrashReport{Body: []byte("764e421b-ath9k_flush\nbody\n"), Selector: anomaly.SelectorKernelWifiWarning}

	if _, err := f.collector.HandleAnomaly(report); err != nil {
		t.Fatalf("HandleAnomaly: %v", err)
	}
	metadata := f.readMeta(t, "kernel_wifi_warning.20261017.094107.0")
	requireField(t, metadata, "exec_name", "kernel-wifi-warning")
	if _, ok := metadata.Get("upload_var_service"); ok {
		t.Error("kernel warning report carries upload_var_service")
	}
}

func TestHandleAnomalyRejectsUnknownSelector(t *testing.T) {
	f := newFixture(t)
	_, err := f.collector.HandleAnomaly(anomaly.CrashReport{Body: []byte("x\n"), Selector: "--bogus"})
	if err == nil {
		t.Fatal("HandleAnomaly accepted an unknown selector")
	}
	if _, statErr := os.Stat(f.spool); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("spool directory created for a rejected report: %v", statErr)
	}
}

func TestHandleAnomalyWithoutConsent(t *testing.T) {
	f := newFixture(t)
	f.consent = false

	_, err := f.collector.HandleAnomaly(anomaly.CrashReport{Body: []byte("sig\n"), Selector: anomaly.SelectorSELinuxViolation})
	if !errors.Is(err, ErrNoConsent) {
		t.Fatalf("HandleAnomaly error = %v, want ErrNoConsent", err)
	}
	record, ok := f.recorder.Find("anomaly detected")
	if !ok {
		t.Fatal("no log record announcing the anomaly")
	}
	if record.Attrs["reason"] != "ignoring - no consent" {
		t.Errorf("reason = %q, want %q", record.Attrs["reason"], "ignoring - no consent")
	}
	if _, statErr := os.Stat(f.spool); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("spool directory created without consent: %v", statErr)
	}
}

func TestDecide(t *testing.T) {
	f := newFixture(t)

	f.consent = false
	if collect, reason := f.collector.Decide(); collect || reason != "ignoring - no consent" {
		t.Errorf("no consent: Decide = %v, %q", collect, reason)
	}

	testutil.WriteFile(t, f.developer, "")
	if collect, reason := f.collector.Decide(); !collect || reason != "developer build - always dumping" {
		t.Errorf("developer image: Decide = %v, %q", collect, reason)
	}

	// A running crash test makes a developer image behave normally.
	testutil.WriteFile(t, filepath.Join(f.runState, crashTestMarker), "")
	if !f.collector.IsCrashTestInProgress() {
		t.Error("IsCrashTestInProgress = false with marker present")
	}
	if f.collector.IsDeveloperImage() {
		t.Error("IsDeveloperImage = true during a crash test")
	}
	if collect, _ := f.collector.Decide(); collect {
		t.Error("crash test without consent still collects")
	}

	f.consent = true
	if collect, reason := f.collector.Decide(); !collect || reason != "handling" {
		t.Errorf("consent: Decide = %v, %q", collect, reason)
	}
}

func TestAdmitFullDirectory(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < spool.MaxCrashDirectorySize; i++ {
		testutil.WriteFile(t, filepath.Join(f.spool, fmt.Sprintf("prog.20261017.000000.%d.core", i)), "")
	}

	_, err := f.collector.Admit(Report{ExecName: "prog", PID: 99, Payload: []byte("x"), PayloadExtension: spool.ExtensionLog})
	if !errors.Is(err, spool.ErrDirectoryFull) {
		t.Fatalf("Admit error = %v, want ErrDirectoryFull", err)
	}
	if names := testutil.ListDir(t, f.spool); len(names) != spool.MaxCrashDirectorySize {
		t.Errorf("spool holds %d files after refused admission, want %d", len(names), spool.MaxCrashDirectorySize)
	}
}

func TestAdmitRefusesExistingPayload(t *testing.T) {
	f := newFixture(t)
	victim := filepath.Join(f.root, "victim")
	testutil.WriteFile(t, victim, "precious")
	if err := os.MkdirAll(f.spool, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(victim, filepath.Join(f.spool, "prog.20261017.094107.7.log")); err != nil {
		t.Fatal(err)
	}

	_, err := f.collector.Admit(Report{ExecName: "prog", PID: 7, Payload: []byte("attack"), PayloadExtension: spool.ExtensionLog})
	if err == nil {
		t.Fatal("Admit wrote through a planted symlink")
	}
	if got := testutil.ReadFile(t, victim); got != "precious" {
		t.Errorf("symlink target overwritten: %q", got)
	}
	if _, statErr := os.Lstat(filepath.Join(f.spool, "prog.20261017.094107.7.meta")); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("meta written for a report whose payload failed")
	}
}

func TestAdmitAttachments(t *testing.T) {
	f := newFixture(t)
	_, err := f.collector.Admit(Report{
		ExecName:         "kernel",
		Payload:          []byte("dump"),
		PayloadExtension: spool.ExtensionKcrash,
		Attachments:      []Attachment{{Key: "bios_log", Extension: spool.ExtensionBiosLog, Data: []byte("firmware")}},
		Fields:           []crashmeta.Field{{Key: "sig", Value: "kernel-x"}},
		UploadVars:       []crashmeta.Field{{Key: "empty", Value: ""}},
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	basename := "kernel.20261017.094107.0"
	want := []string{basename + ".bios_log", basename + ".kcrash", basename + ".meta"}
	if got := testutil.ListDir(t, f.spool); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("spool = %v, want %v", got, want)
	}

	content := testutil.ReadFile(t, filepath.Join(f.spool, basename+".meta"))
	wantMeta := "sig=kernel-x\n" +
		"upload_file_bios_log=" + filepath.Join(f.spool, basename+".bios_log") + "\n" +
		"exec_name=kernel\n" +
		"ver=15474.0.0\n" +
		"payload=" + filepath.Join(f.spool, basename+".kcrash") + "\n" +
		"payload_size=4\n" +
		"done=1\n"
	if content != wantMeta {
		t.Errorf("meta:\n%s\nwant:\n%s", content, wantMeta)
	}
}

func TestInitializeSystemDirectories(t *testing.T) {
	f := newFixture(t)
	if err := f.collector.InitializeSystemDirectories(); err != nil {
		t.Fatalf("InitializeSystemDirectories: %v", err)
	}

	for _, check := range []struct {
		path string
		mode os.FileMode
	}{
		{f.spool, os.ModeDir | os.ModeSticky | 0o755},
		{f.runState, os.ModeDir | 0o755},
		{f.state, os.ModeDir | 0o700},
	} {
		info, err := os.Stat(check.path)
		if err != nil {
			t.Errorf("stat %s: %v", check.path, err)
			continue
		}
		if info.Mode() != check.mode {
			t.Errorf("%s mode = %v, want %v", check.path, info.Mode(), check.mode)
		}
	}

	if got := testutil.ReadFile(t, filepath.Join(f.state, "os-release")); got != "VERSION_ID=15474.0.0\n" {
		t.Errorf("saved release file = %q", got)
	}

	// The saved copy keeps stamping the crashed version after an update.
	testutil.WriteFile(t, filepath.Join(f.root, "os-release"), "VERSION_ID=15475.0.0\n")
	if _, err := f.collector.Admit(Report{ExecName: "prog", Payload: []byte("x"), PayloadExtension: spool.ExtensionLog}); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	requireField(t, f.readMeta(t, "prog.20261017.094107.0"), "ver", "15474.0.0")
}

func TestInitializeSystemDirectoriesRejectsRelativePath(t *testing.T) {
	f := newFixture(t)
	f.collector.options.SpoolPath = "relative/spool"
	if err := f.collector.InitializeSystemDirectories(); err == nil {
		t.Fatal("InitializeSystemDirectories accepted a relative spool path")
	}
}

func TestConsentFromMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consent")
	consent := ConsentFromMarker(path, testutil.DiscardLogger())
	if consent() {
		t.Error("consent granted without marker")
	}
	testutil.WriteFile(t, path, "")
	if !consent() {
		t.Error("consent denied with marker present")
	}
}

func TestCorePattern(t *testing.T) {
	want := "|/usr/bin/crash-triage --user=%P:%s:%u:%g:%e"
	if got := CorePattern("/usr/bin/crash-triage"); got != want {
		t.Errorf("CorePattern = %q, want %q", got, want)
	}
}
