// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/crashtriage/lib/anomaly"
	"github.com/bureau-foundation/crashtriage/lib/clock"
	"github.com/bureau-foundation/crashtriage/lib/collector"
	"github.com/bureau-foundation/crashtriage/lib/config"
	"github.com/bureau-foundation/crashtriage/lib/crashmeta"
	"github.com/bureau-foundation/crashtriage/lib/dedup"
	"github.com/bureau-foundation/crashtriage/lib/pstore"
	"github.com/bureau-foundation/crashtriage/lib/spool"
)

func newCollector(cfg *config.Config, logger *slog.Logger) *collector.Collector {
	return collector.New(collector.Options{
		SpoolPath: cfg.Paths.Spool,
		Spool: spool.Settings{
			Mode: uint32(cfg.Spool.Mode),
			UID:  cfg.Spool.OwnerUID,
			GID:  cfg.Spool.OwnerGID,
		},
		StateDirectory:    cfg.Paths.State,
		RunStateDirectory: cfg.Paths.RunState,
		Version: crashmeta.VersionSource{
			ReleaseFile:    cfg.Paths.VersionFile,
			StateDirectory: cfg.Paths.State,
			Key:            cfg.Metadata.VersionKey,
		},
		DeveloperMarker: cfg.Paths.DeveloperMarker,
		Consent:         collector.ConsentFromMarker(cfg.Paths.ConsentMarker, logger),
		Clock:           clock.Real(),
		Logger:          logger,
	})
}

func collectKernel(cfg *config.Config, c *collector.Collector, logger *slog.Logger) error {
	kernel := collector.NewKernelCollector(c, collector.KernelOptions{
		Pstore:       pstore.NewDir(cfg.Paths.Pstore),
		PstorePath:   cfg.Paths.Pstore,
		EventLogPath: cfg.Paths.Eventlog,
		BiosLogPath:  cfg.Paths.BiosLog,
		Arch:         cfg.Arch(),
	})
	if err := kernel.Enable(); err != nil {
		return err
	}
	found := kernel.Collect()
	logger.Info("kernel crash collection finished", "found", found)
	return nil
}

func followAnomalies(ctx context.Context, cfg *config.Config, c *collector.Collector, stdin io.Reader, logger *slog.Logger) error {
	follower := collector.NewFollower(anomaly.NewDispatcher(dedup.New()), c, clock.Real(), cfg.FlushInterval(), logger)
	result, err := follower.Run(ctx, stdin)
	logger.Info("anomaly follower stopped",
		"lines", result.Lines, "reports", result.Reports, "admitted", result.Admitted)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func collectUser(ctx context.Context, cfg *config.Config, c *collector.Collector, crash collector.UserCrash, core io.Reader) error {
	converter := collector.CommandConverter{Command: cfg.User.Converter}
	_, err := c.CollectUserCrash(ctx, crash, core, converter)
	if errors.Is(err, collector.ErrNoConsent) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("collecting crash of %s (pid %d): %w", crash.ExecName, crash.PID, err)
	}
	return nil
}
