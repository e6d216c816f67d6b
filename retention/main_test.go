package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/topic-radar/internal/config"
)

type stubPruner struct {
	maxAge    time.Duration
	batchSize int
	err       error
}

func (s *stubPruner) DeleteOlderThan(_ context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	s.maxAge, s.batchSize = maxAge, batchSize
	return 4, s.err
}

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOncePassesRetentionSettings(t *testing.T) {
	pruner := &stubPruner{}
	cfg := &config.Retention{MaxAge: 36 * time.Hour, BatchSize: 50}

	runOnce(context.Background(), discard(), pruner, cfg)
	require.Equal(t, 36*time.Hour, pruner.maxAge)
	require.Equal(t, 50, pruner.batchSize)

	// Failures are logged and left for the next tick.
	pruner.err = errors.New("es down")
	runOnce(context.Background(), discard(), pruner, cfg)
}

func TestWaitForElasticsearchRetries(t *testing.T) {
	p := &flakyPinger{failures: 2}
	require.NoError(t, waitForElasticsearch(context.Background(), discard(), p, time.Millisecond))
	require.Equal(t, 3, p.calls)
}

func TestWaitForElasticsearchGivesUp(t *testing.T) {
	p := &flakyPinger{failures: connectAttempts + 1}
	err := waitForElasticsearch(context.Background(), discard(), p, time.Millisecond)
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, connectAttempts, p.calls)
}

func TestWaitForElasticsearchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyPinger{failures: 100}

	err := waitForElasticsearch(ctx, discard(), p, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, p.calls)
}
