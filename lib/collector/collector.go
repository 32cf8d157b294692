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

	"github.com/bureau-foundation/crashtriage/lib/clock"
	"github.com/bureau-foundation/crashtriage/lib/crashmeta"
	"github.com/bureau-foundation/crashtriage/lib/spool"
	"github.com/bureau-foundation/crashtriage/lib/statefile"
)

// ErrNoConsent is returned when a report was dropped because the user
// has not consented to crash reporting.
var ErrNoConsent = errors.New("no consent to crash reporting")

// crashTestMarker is created in the run state directory by the crash
// reporter's own tests. While it exists a developer image is treated
// like any other.
const crashTestMarker = "crash-test-in-progress"

// Options configures a [Collector].
type Options struct {
	// SpoolPath is the crash spool directory.
	SpoolPath string

	// Spool is the ownership the spool directory is provisioned with.
	Spool spool.Settings

	// StateDirectory survives reboots. RunStateDirectory does not.
	StateDirectory    string
	RunStateDirectory string

	// Version locates the OS version stamped into every report.
	Version crashmeta.VersionSource

	// DeveloperMarker is a file whose presence marks a developer image.
	// Developer images collect regardless of consent.
	DeveloperMarker string

	// Consent reports whether the user allows crash reporting.
	Consent func() bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Collector admits crash reports into the spool: it makes the consent
// decision, provisions the spool directory, writes the payload and any
// attachments, and finishes with the meta file.
type Collector struct {
	options Options
	logger  *slog.Logger
}

// New returns a collector. A nil Consent denies everything; a nil Clock
// uses the real clock.
func New(options Options) *Collector {
	if options.Consent == nil {
		options.Consent = func() bool { return false }
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	return &Collector{options: options, logger: options.Logger}
}

// Attachment is an extra file written beside the payload and listed in
// the meta file as upload_file_<Key>.
type Attachment struct {
	Key       string
	Extension string
	Data      []byte
}

// Report is one crash to admit.
type Report struct {
	// ExecName names the crashed program; it becomes the basename
	// prefix and the exec_name field.
	ExecName string

	// PID ends the basename. Reports without a process leave it zero and
	// take the lowest sequence number free in the spool instead.
	PID int

	Payload          []byte
	PayloadExtension string

	Attachments []Attachment

	// Fields are extra meta lines written before the trailer.
	Fields []crashmeta.Field

	// UploadVars are written as upload_var_<key>; empty values are
	// skipped.
	UploadVars []crashmeta.Field
}

// Admitted names the files of an admitted report. The paths are under
// the spool directory's configured name, for the uploader and logs.
type Admitted struct {
	MetaPath    string
	PayloadPath string
}

// IsCrashTestInProgress reports whether the crash test marker exists.
func (c *Collector) IsCrashTestInProgress() bool {
	if c.options.RunStateDirectory == "" {
		return false
	}
	exists, err := statefile.Exists(filepath.Join(c.options.RunStateDirectory, crashTestMarker))
	if err != nil {
		c.logger.Warn("checking crash test marker", "error", err)
	}
	return exists
}

// IsDeveloperImage reports whether this is a developer image. It is
// always false while a crash test is running.
func (c *Collector) IsDeveloperImage() bool {
	if c.options.DeveloperMarker == "" || c.IsCrashTestInProgress() {
		return false
	}
	exists, err := statefile.Exists(c.options.DeveloperMarker)
	if err != nil {
		c.logger.Warn("checking developer marker", "error", err)
	}
	return exists
}

// Decide returns whether a crash should be collected and the reason,
// worded for the log line that announces the crash.
func (c *Collector) Decide() (bool, string) {
	if c.IsDeveloperImage() {
		return true, "developer build - always dumping"
	}
	if !c.options.Consent() {
		return false, "ignoring - no consent"
	}
	return true, "handling"
}

// Admit writes report into the spool directory. The directory is
// provisioned and its capacity checked first; a full directory drops the
// report with [spool.ErrDirectoryFull]. Attachments that fail to write
// are logged and left out of the meta file. Admit does not check consent.
func (c *Collector) Admit(report Report) (Admitted, error) {
	directory, err := spool.Admit(c.options.SpoolPath, c.options.Spool)
	if err != nil {
		c.logger.Warn("not admitting crash report", "exec_name", report.ExecName, "error", err)
		return Admitted{}, err
	}
	defer directory.Close()

	basename, payloadName, err := c.writePayload(directory, report)
	if err != nil {
		return Admitted{}, err
	}

	writer := crashmeta.NewWriter(c.options.Version, c.logger)
	for _, field := range report.Fields {
		writer.AddKey(field.Key, field.Value)
	}
	for _, field := range report.UploadVars {
		writer.AddUploadVar(field.Key, field.Value)
	}
	for _, attachment := range report.Attachments {
		name := spool.ArtifactName(basename, attachment.Extension)
		if _, err := directory.WriteNewFile(name, attachment.Data); err != nil {
			c.logger.Warn("failed to write attachment, ignoring", "key", attachment.Key, "error", err)
			continue
		}
		writer.AddUploadFile(attachment.Key, filepath.Join(directory.Path(), name))
		c.logger.Info("stored crash attachment", "path", filepath.Join(directory.Name(), name))
	}

	metaName := spool.ArtifactName(basename, spool.ExtensionMeta)
	if err := writer.Write(filepath.Join(directory.Path(), metaName), report.ExecName, payloadName); err != nil {
		return Admitted{}, err
	}

	admitted := Admitted{
		MetaPath:    filepath.Join(directory.Name(), metaName),
		PayloadPath: filepath.Join(directory.Name(), payloadName),
	}
	c.logger.Info("stored crash report", "exec_name", report.ExecName, "payload", admitted.PayloadPath)
	return admitted, nil
}

// writePayload creates the payload file and returns its basename and
// name. A report with a real PID gets exactly one attempt. A report
// without one moves to the next sequence number while the name is
// taken, so distinct reports in the same second all land.
func (c *Collector) writePayload(directory *spool.Directory, report Report) (string, string, error) {
	now := c.options.Clock.Now()
	attempts := 1
	if report.PID == 0 {
		attempts = spool.MaxCrashDirectorySize
	}
	for sequence := 0; ; sequence++ {
		suffix := report.PID
		if report.PID == 0 {
			suffix = sequence
		}
		basename := spool.FormatDumpBasename(report.ExecName, now, suffix)
		payloadName := spool.ArtifactName(basename, report.PayloadExtension)
		written, err := directory.WriteNewFile(payloadName, report.Payload)
		if errors.Is(err, fs.ErrExist) && sequence+1 < attempts {
			c.logger.Debug("crash payload name taken, trying next", "path", filepath.Join(directory.Name(), payloadName))
			continue
		}
		if err != nil {
			c.logger.Error("failed to write crash payload", "path", filepath.Join(directory.Name(), payloadName), "error", err)
			return "", "", fmt.Errorf("writing payload: %w", err)
		}
		if written != len(report.Payload) {
			c.logger.Error("short write of crash payload", "path", filepath.Join(directory.Name(), payloadName),
				"written", written, "size", len(report.Payload))
			return "", "", fmt.Errorf("writing payload: wrote %d of %d bytes", written, len(report.Payload))
		}
		return basename, payloadName, nil
	}
}

// InitializeSystemDirectories provisions the spool, run state, and state
// directories and saves a copy of the release file in the state
// directory, so reports collected after an update carry the version
// that crashed. A missing release file is logged, not fatal.
func (c *Collector) InitializeSystemDirectories() error {
	uid, gid := os.Geteuid(), os.Getegid()
	targets := []struct {
		path     string
		settings spool.Settings
	}{
		{c.options.SpoolPath, c.options.Spool},
		{c.options.RunStateDirectory, spool.Settings{Mode: 0o755, UID: uid, GID: gid}},
		{c.options.StateDirectory, spool.Settings{Mode: 0o700, UID: uid, GID: gid}},
	}

	var errs []error
	for _, target := range targets {
		if target.path == "" {
			continue
		}
		directory, err := spool.Provision(target.path, target.settings)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		directory.Close()
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("initializing system directories: %w", err)
	}

	if saved := c.options.Version.SavedReleaseFile(); saved != "" {
		if err := statefile.SaveCopy(c.options.Version.ReleaseFile, saved); err != nil {
			c.logger.Warn("could not save release file", "error", err)
		}
	}
	return nil
}

// ConsentFromMarker returns a consent oracle that grants consent while
// the file at path exists.
func ConsentFromMarker(path string, logger *slog.Logger) func() bool {
	return func() bool {
		exists, err := statefile.Exists(path)
		if err != nil {
			logger.Warn("checking consent marker", "path", path, "error", err)
		}
		return exists
	}
}

// CorePattern returns the string to write to
// /proc/sys/kernel/core_pattern so the kernel pipes user crashes to the
// handler binary. The kernel expands %P (pid), %s (signal), %u and %g
// (uid and gid), and %e (executable name).
func CorePattern(handlerPath string) string {
	return "|" + handlerPath + " --user=%P:%s:%u:%g:%e"
}
