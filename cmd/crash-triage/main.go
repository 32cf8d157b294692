// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/crashtriage/lib/collector"
	"github.com/bureau-foundation/crashtriage/lib/config"
	"github.com/bureau-foundation/crashtriage/lib/kcrash"
	"github.com/bureau-foundation/crashtriage/lib/process"
	"github.com/bureau-foundation/crashtriage/lib/version"
)

const programName = "crash-triage"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		process.Exit(programName, err)
	}
}

// invocation holds the parsed command line.
type invocation struct {
	configPath  string
	initialize  bool
	kernel      bool
	anomaly     bool
	user        string
	corePattern string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (invocation, error) {
	var inv invocation
	flagSet := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&inv.configPath, "config", "", "path to crash-triage.yaml (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVar(&inv.initialize, "init", false, "provision the spool and state directories")
	flagSet.BoolVar(&inv.kernel, "kernel", false, "collect kernel crashes from the previous boot")
	flagSet.BoolVar(&inv.anomaly, "anomaly", false, "follow syslog lines on stdin and collect anomalies")
	flagSet.StringVar(&inv.user, "user", "", "collect a user crash: pid:signal:uid:gid:exec, core on stdin")
	flagSet.StringVar(&inv.corePattern, "core-pattern", "", "print the core_pattern routing user crashes to this handler path")
	flagSet.BoolVar(&inv.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return inv, err
		}
		return inv, fmt.Errorf("%w: %v", process.ErrUsage, err)
	}
	if flagSet.NArg() > 0 {
		return inv, fmt.Errorf("%w: unexpected argument %q", process.ErrUsage, flagSet.Arg(0))
	}
	return inv, nil
}

// modes counts the collection modes selected.
func (inv invocation) modes() int {
	count := 0
	for _, selected := range []bool{inv.initialize, inv.kernel, inv.anomaly, inv.user != ""} {
		if selected {
			count++
		}
	}
	return count
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	inv, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if inv.showVersion {
		fmt.Fprintf(stdout, "%s %s\n", programName, version.Full(kcrash.HostArch()))
		return nil
	}
	if inv.corePattern != "" {
		fmt.Fprintln(stdout, collector.CorePattern(inv.corePattern))
		return nil
	}
	if inv.modes() != 1 {
		return fmt.Errorf("%w: exactly one of --init, --kernel, --anomaly, or --user is required", process.ErrUsage)
	}

	cfg, err := loadConfig(inv.configPath)
	if err != nil {
		return err
	}

	logger := newLogger(stderr)
	c := newCollector(cfg, logger)

	switch {
	case inv.initialize:
		return c.InitializeSystemDirectories()

	case inv.kernel:
		return collectKernel(cfg, c, logger)

	case inv.anomaly:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return followAnomalies(ctx, cfg, c, stdin, logger)

	default:
		crash, err := collector.ParseUserArgument(inv.user)
		if err != nil {
			return fmt.Errorf("%w: %v", process.ErrUsage, err)
		}
		return collectUser(context.Background(), cfg, c, crash, stdin)
	}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
