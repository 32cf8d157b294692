// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/crashtriage/lib/kcrash"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for developer images and local testing.
	Development Environment = "development"
	// Production is for shipped images.
	Production Environment = "production"
)

// Config is the crash-triage configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	Paths    PathsConfig    `yaml:"paths"`
	Spool    SpoolConfig    `yaml:"spool"`
	Kernel   KernelConfig   `yaml:"kernel"`
	Metadata MetadataConfig `yaml:"metadata"`
	Anomaly  AnomalyConfig  `yaml:"anomaly"`
	User     UserConfig     `yaml:"user"`

	// Per-environment overrides, applied after the base values.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the fields an environment section may replace.
type Overrides struct {
	Paths *PathsConfig `yaml:"paths,omitempty"`
	Spool *SpoolConfig `yaml:"spool,omitempty"`
}

// PathsConfig locates the files and directories crash-triage reads and
// writes.
type PathsConfig struct {
	// Spool is the crash spool directory reports are written to.
	Spool string `yaml:"spool"`

	// Pstore is the persistent-store mount holding crash records from
	// the previous boot.
	Pstore string `yaml:"pstore"`

	// Eventlog is the firmware event log consulted for watchdog resets.
	Eventlog string `yaml:"eventlog"`

	// BiosLog is the firmware console log.
	BiosLog string `yaml:"bios_log"`

	// VersionFile is the KEY=VALUE release file the report version is
	// read from.
	VersionFile string `yaml:"version_file"`

	// State persists across reboots and holds the saved release file.
	State string `yaml:"state"`

	// RunState is cleared on reboot and holds the crash test marker.
	RunState string `yaml:"run_state"`

	// DeveloperMarker marks a developer image when present.
	DeveloperMarker string `yaml:"developer_marker"`

	// ConsentMarker records the user's consent to crash reporting when
	// present.
	ConsentMarker string `yaml:"consent_marker"`
}

// SpoolConfig sets the ownership the spool directory is provisioned
// with.
type SpoolConfig struct {
	Mode     FileMode `yaml:"mode"`
	OwnerUID int      `yaml:"owner_uid"`
	OwnerGID int      `yaml:"owner_gid"`
}

// KernelConfig configures kernel crash collection.
type KernelConfig struct {
	// Arch is the architecture whose dump format is parsed: auto, arm,
	// mips, x86, or x86_64.
	Arch string `yaml:"arch"`
}

// MetadataConfig configures crash metadata.
type MetadataConfig struct {
	// VersionKey is the release file key holding the OS version.
	VersionKey string `yaml:"version_key"`
}

// AnomalyConfig configures the log anomaly follower.
type AnomalyConfig struct {
	// FlushInterval is how often parsers holding partial state are
	// given a chance to flush it, as a Go duration string.
	FlushInterval string `yaml:"flush_interval"`
}

// UserConfig configures user crash collection.
type UserConfig struct {
	// Converter is the command that turns a core on stdin into a
	// minidump on stdout. The crashed pid is appended as its last
	// argument.
	Converter []string `yaml:"converter"`
}

// FileMode is a permission mode written in octal, e.g. "1755".
type FileMode uint32

// UnmarshalYAML parses the mode as an octal string. A YAML integer is
// also read as octal digits so that an unquoted 1755 means 01755.
func (m *FileMode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: mode must be a scalar", value.Line)
	}
	parsed, err := strconv.ParseUint(value.Value, 8, 32)
	if err != nil {
		return fmt.Errorf("line %d: mode %q is not octal: %w", value.Line, value.Value, err)
	}
	*m = FileMode(parsed)
	return nil
}

// MarshalYAML writes the mode back as an octal string.
func (m FileMode) MarshalYAML() (any, error) {
	return fmt.Sprintf("%04o", uint32(m)), nil
}

// Default returns the configuration for a production image. Loading a
// file starts from these values.
func Default() *Config {
	return &Config{
		Environment: Production,
		Paths: PathsConfig{
			Spool:           "/var/spool/crash",
			Pstore:          "/sys/fs/pstore",
			Eventlog:        "/var/log/eventlog.txt",
			BiosLog:         "/sys/firmware/log",
			VersionFile:     "/etc/os-release",
			State:           "/var/lib/crash_reporter",
			RunState:        "/run/crash_reporter",
			DeveloperMarker: "/root/.leave_core",
			ConsentMarker:   "/var/lib/crash_reporter/consent",
		},
		Spool: SpoolConfig{
			Mode:     0o1755,
			OwnerUID: 0,
			OwnerGID: 0,
		},
		Kernel: KernelConfig{
			Arch: "auto",
		},
		Metadata: MetadataConfig{
			VersionKey: "VERSION_ID",
		},
		Anomaly: AnomalyConfig{
			FlushInterval: "1m",
		},
		User: UserConfig{
			Converter: []string{"/usr/bin/core2md"},
		},
	}
}

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "CRASH_TRIAGE_CONFIG"

// Load loads the file named by CRASH_TRIAGE_CONFIG. There is no search
// path: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your crash-triage.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of [Default], applies
// the section for the selected environment, and expands ${VAR} and
// ${VAR:-default} references in paths. Environment variables never
// override values directly.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		overrideString(&c.Paths.Spool, paths.Spool)
		overrideString(&c.Paths.Pstore, paths.Pstore)
		overrideString(&c.Paths.Eventlog, paths.Eventlog)
		overrideString(&c.Paths.BiosLog, paths.BiosLog)
		overrideString(&c.Paths.VersionFile, paths.VersionFile)
		overrideString(&c.Paths.State, paths.State)
		overrideString(&c.Paths.RunState, paths.RunState)
		overrideString(&c.Paths.DeveloperMarker, paths.DeveloperMarker)
		overrideString(&c.Paths.ConsentMarker, paths.ConsentMarker)
	}

	if spool := overrides.Spool; spool != nil {
		if spool.Mode != 0 {
			c.Spool.Mode = spool.Mode
		}
		// Ownership is always taken from the override: root is 0.
		c.Spool.OwnerUID = spool.OwnerUID
		c.Spool.OwnerGID = spool.OwnerGID
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	home := os.Getenv("HOME")
	c.Paths.State = expandVars(c.Paths.State, map[string]string{"HOME": home})

	// Other paths may be written relative to the state directory.
	vars := map[string]string{"HOME": home, "STATE": c.Paths.State}
	for _, field := range []*string{
		&c.Paths.Spool,
		&c.Paths.Pstore,
		&c.Paths.Eventlog,
		&c.Paths.BiosLog,
		&c.Paths.VersionFile,
		&c.Paths.RunState,
		&c.Paths.DeveloperMarker,
		&c.Paths.ConsentMarker,
	} {
		*field = expandVars(*field, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Names in vars take
// precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	for _, path := range []struct {
		name  string
		value string
	}{
		{"paths.spool", c.Paths.Spool},
		{"paths.pstore", c.Paths.Pstore},
		{"paths.state", c.Paths.State},
		{"paths.run_state", c.Paths.RunState},
	} {
		if !filepath.IsAbs(path.value) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", path.name, path.value))
		}
	}

	if c.Spool.Mode > 0o7777 {
		errs = append(errs, fmt.Errorf("spool.mode %o has bits outside 07777", uint32(c.Spool.Mode)))
	}
	if c.Spool.OwnerUID < 0 || c.Spool.OwnerGID < 0 {
		errs = append(errs, fmt.Errorf("spool owner must be non-negative, got %d:%d", c.Spool.OwnerUID, c.Spool.OwnerGID))
	}

	if _, err := kcrash.ParseArch(c.Kernel.Arch); err != nil {
		errs = append(errs, fmt.Errorf("kernel.arch: %w", err))
	}

	if c.Metadata.VersionKey == "" {
		errs = append(errs, errors.New("metadata.version_key is required"))
	}

	if interval, err := time.ParseDuration(c.Anomaly.FlushInterval); err != nil {
		errs = append(errs, fmt.Errorf("anomaly.flush_interval: %w", err))
	} else if interval <= 0 {
		errs = append(errs, fmt.Errorf("anomaly.flush_interval must be positive, got %s", interval))
	}

	if len(c.User.Converter) == 0 || c.User.Converter[0] == "" {
		errs = append(errs, errors.New("user.converter must name a command"))
	}

	return errors.Join(errs...)
}

// Arch returns the configured dump architecture. Call Validate first.
func (c *Config) Arch() kcrash.Arch {
	arch, err := kcrash.ParseArch(c.Kernel.Arch)
	if err != nil {
		return kcrash.ArchUnknown
	}
	return arch
}

// FlushInterval returns the anomaly flush interval, or one minute when
// it does not parse.
func (c *Config) FlushInterval() time.Duration {
	interval, err := time.ParseDuration(c.Anomaly.FlushInterval)
	if err != nil || interval <= 0 {
		return time.Minute
	}
	return interval
}
