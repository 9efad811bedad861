package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	oteladapter "github.com/arbiterhq/arbiter/internal/adapter/otel"
	"github.com/arbiterhq/arbiter/internal/domain/intervention"
)

// TimeoutScheduler periodically resolves expired requests with a
// system-synthesized TIMEOUT response. It goes through the broker's atomic
// resolve path, so a timeout that loses the race to a just-arrived human
// response is dropped silently — that outcome is expected, not exceptional.
type TimeoutScheduler struct {
	broker   *Broker
	interval time.Duration
	metrics  *oteladapter.Metrics
	now      func() time.Time

	committed atomic.Int64
}

// NewTimeoutScheduler creates a scheduler ticking at the given interval.
func NewTimeoutScheduler(broker *Broker, interval time.Duration, metrics *oteladapter.Metrics) *TimeoutScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TimeoutScheduler{
		broker:   broker,
		interval: interval,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until ctx is cancelled. The stop signal is observed every tick.
func (s *TimeoutScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("timeout scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("timeout scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick expires one snapshot of overdue requests. A failure on one item
// never prevents processing the rest; a panic is contained to the tick.
func (s *TimeoutScheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("timeout scheduler tick panicked", "panic", r)
		}
	}()

	ids, err := s.broker.ExpiredPending(ctx, s.now())
	if err != nil {
		slog.Warn("expired snapshot failed", "error", err)
		return
	}

	for _, id := range ids {
		err := s.broker.SubmitResponse(ctx, id, intervention.SubmitResponse{
			ResponderID: intervention.SystemResponder,
			Status:      intervention.StatusTimeout,
			Reasoning:   "expired",
			Confidence:  1,
		})
		switch {
		case err == nil:
			s.committed.Add(1)
			s.metrics.AddTimeout(ctx)
			slog.Info("request timed out", "request_id", id)
		case IsExpectedResolveRace(err):
			// A human response landed between the snapshot and the
			// test-and-set. Not an error.
			slog.Debug("timeout lost resolve race", "request_id", id)
		default:
			slog.Warn("timeout resolve failed", "request_id", id, "error", err)
		}
	}
}

// Committed returns the number of TIMEOUT resolutions that actually won
// the test-and-set.
func (s *TimeoutScheduler) Committed() int64 {
	return s.committed.Load()
}
