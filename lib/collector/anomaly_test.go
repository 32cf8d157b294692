// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bureau-foundation/crashtriage/lib/anomaly"
	"github.com/bureau-foundation/crashtriage/lib/clock"
	"github.com/bureau-foundation/crashtriage/lib/dedup"
	"github.com/bureau-foundation/crashtriage/lib/testutil"
)

// flushRecorder is a parser that only records periodic updates.
type flushRecorder struct {
	updates chan struct{}
}

func (p *flushRecorder) ParseLogEntry(string) (anomaly.CrashReport, bool) {
	return anomaly.CrashReport{}, false
}

func (p *flushRecorder) PeriodicUpdate() {
	p.updates <- struct{}{}
}

type followOutcome struct {
	result FollowResult
	err    error
}

const serviceFailureLine = "2026-10-17T09:41:07.123456+00:00 NOTICE init[1]: sshd main process (2563) terminated with status 2\n"

func TestFollowerAdmitsReportsAndFlushes(t *testing.T) {
	f := newFixture(t)
	dispatcher := anomaly.NewDispatcher(dedup.New())
	flushes := &flushRecorder{updates: make(chan struct{}, 4)}
	dispatcher.Register("flush", flushes)
	// Ticks come from their own clock so reports keep a fixed timestamp.
	ticks := clock.Fake(crashTime)
	follower := NewFollower(dispatcher, f.collector, ticks, time.Minute, testutil.DiscardLogger())

	reader, writer := io.Pipe()
	done := make(chan followOutcome, 1)
	go func() {
		result, err := follower.Run(context.Background(), reader)
		done <- followOutcome{result, err}
	}()

	if _, err := io.WriteString(writer, serviceFailureLine); err != nil {
		t.Fatal(err)
	}

	ticks.WaitForTickers(1)
	ticks.Advance(time.Minute)
	testutil.RequireReceive(t, flushes.updates, 5*time.Second, "waiting for periodic flush")

	// A repeat of the same failure is suppressed by the shared filter.
	if _, err := io.WriteString(writer, serviceFailureLine+"not a syslog line\n"); err != nil {
		t.Fatal(err)
	}
	writer.Close()

	outcome := testutil.RequireReceive(t, done, 5*time.Second, "waiting for follower to finish")
	if outcome.err != nil {
		t.Fatalf("Run: %v", outcome.err)
	}
	want := FollowResult{Lines: 3, Reports: 1, Admitted: 1}
	if outcome.result != want {
		t.Errorf("Run = %+v, want %+v", outcome.result, want)
	}

	requireField(t, f.readMeta(t, "service_failure.20261017.094107.0"), "sig", "df4fe4fc-exit2-sshd")
	if names := testutil.ListDir(t, f.spool); len(names) != 2 {
		t.Errorf("spool = %v, want one report", names)
	}
}

func TestFollowerWithoutConsentCountsReports(t *testing.T) {
	f := newFixture(t)
	f.consent = false
	follower := NewFollower(anomaly.NewDispatcher(dedup.New()), f.collector, f.clock, time.Minute, testutil.DiscardLogger())

	reader, writer := io.Pipe()
	go func() {
		io.WriteString(writer, serviceFailureLine)
		writer.Close()
	}()

	result, err := follower.Run(context.Background(), reader)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := (FollowResult{Lines: 1, Reports: 1}); result != want {
		t.Errorf("Run = %+v, want %+v", result, want)
	}
}

func TestFollowerStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	follower := NewFollower(anomaly.NewDispatcher(dedup.New()), f.collector, f.clock, time.Minute, testutil.DiscardLogger())

	reader, writer := io.Pipe()
	t.Cleanup(func() { writer.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan followOutcome, 1)
	go func() {
		result, err := follower.Run(ctx, reader)
		done <- followOutcome{result, err}
	}()

	f.clock.WaitForTickers(1)
	cancel()
	outcome := testutil.RequireReceive(t, done, 5*time.Second, "waiting for follower to stop")
	if !errors.Is(outcome.err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", outcome.err)
	}
}

func TestFollowerReturnsReadError(t *testing.T) {
	f := newFixture(t)
	follower := NewFollower(anomaly.NewDispatcher(dedup.New()), f.collector, f.clock, time.Minute, testutil.DiscardLogger())

	reader, writer := io.Pipe()
	broken := errors.New("journal rotated away")
	go writer.CloseWithError(broken)

	_, err := follower.Run(context.Background(), reader)
	if !errors.Is(err, broken) {
		t.Errorf("Run error = %v, want %v", err, broken)
	}
}
