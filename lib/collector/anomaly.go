// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bureau-foundation/crashtriage/lib/anomaly"
	"github.com/bureau-foundation/crashtriage/lib/clock"
	"github.com/bureau-foundation/crashtriage/lib/crashmeta"
	"github.com/bureau-foundation/crashtriage/lib/spool"
)

// HandleAnomaly admits a report produced by a log parser. The selector
// picks the exec name, the body is written as the .log payload, and its
// first line becomes the sig field.
func (c *Collector) HandleAnomaly(report anomaly.CrashReport) (Admitted, error) {
	kind, service, err := anomaly.ParseSelector(report.Selector)
	if err != nil {
		return Admitted{}, err
	}

	collect, reason := c.Decide()
	c.logger.Info("anomaly detected",
		"exec_name", kind.ExecName(), "signature", report.Signature(), "reason", reason)
	if !collect {
		return Admitted{}, ErrNoConsent
	}

	admission := Report{
		ExecName:         kind.ExecName(),
		Payload:          report.Body,
		PayloadExtension: spool.ExtensionLog,
		Fields:           []crashmeta.Field{{Key: signatureKey, Value: report.Signature()}},
	}
	if kind == anomaly.KindServiceFailure || kind == anomaly.KindArcServiceFailure {
		admission.UploadVars = []crashmeta.Field{{Key: "service", Value: service}}
	}
	return c.Admit(admission)
}

// signatureKey is the meta field carrying a report's signature.
const signatureKey = "sig"

// Follower feeds syslog-formatted lines through a [anomaly.Dispatcher]
// and admits every report it produces. Parsers are flushed on a ticker.
type Follower struct {
	dispatcher    *anomaly.Dispatcher
	collector     *Collector
	clock         clock.Clock
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewFollower returns a follower. The dispatcher is owned by the
// follower from here on; it is not safe for concurrent use.
func NewFollower(dispatcher *anomaly.Dispatcher, collector *Collector, clk clock.Clock, flushInterval time.Duration, logger *slog.Logger) *Follower {
	return &Follower{
		dispatcher:    dispatcher,
		collector:     collector,
		clock:         clk,
		flushInterval: flushInterval,
		logger:        logger,
	}
}

// FollowResult summarizes a Run.
type FollowResult struct {
	Lines    int
	Reports  int
	Admitted int
}

// Run reads lines from reader until it is exhausted or ctx is
// cancelled. Lines are parsed and dispatched on the calling goroutine,
// interleaved with periodic flushes, so the dispatcher is never touched
// concurrently. A read error other than EOF is returned.
func (f *Follower) Run(ctx context.Context, reader io.Reader) (FollowResult, error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	ticker := f.clock.NewTicker(f.flushInterval)
	defer ticker.Stop()

	var result FollowResult
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()

		case <-ticker.C:
			f.dispatcher.PeriodicUpdate()

		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-readErr:
				default:
				}
				if err != nil {
					return result, fmt.Errorf("reading log: %w", err)
				}
				return result, nil
			}
			result.Lines++
			f.handleLine(line, &result)
		}
	}
}

func (f *Follower) handleLine(line string, result *FollowResult) {
	entry, ok := anomaly.ParseMessagesLine(line)
	if !ok {
		return
	}
	report, ok := f.dispatcher.Dispatch(entry)
	if !ok {
		return
	}
	result.Reports++

	_, err := f.collector.HandleAnomaly(report)
	switch {
	case err == nil:
		result.Admitted++
	case errors.Is(err, ErrNoConsent):
	default:
		f.logger.Warn("anomaly report not admitted", "selector", report.Selector, "error", err)
	}
}
