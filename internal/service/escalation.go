package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	oteladapter "github.com/arbiterhq/arbiter/internal/adapter/otel"
	"github.com/arbiterhq/arbiter/internal/domain/event"
)

// EscalationScheduler periodically flags stalled high-priority requests.
// Escalation is a pure side notification: it never writes a response and
// never resolves the request. Each request is escalated at most once per
// window, tracked by an in-memory last-escalated marker, so a scheduler
// ticking every few minutes does not produce alert storms.
type EscalationScheduler struct {
	broker      *Broker
	dispatch    *Dispatcher
	interval    time.Duration
	minPriority int
	after       time.Duration
	window      time.Duration
	metrics     *oteladapter.Metrics
	now         func() time.Time

	mu            sync.Mutex
	lastEscalated map[string]time.Time
}

// NewEscalationScheduler creates a scheduler that, every interval, flags
// unresolved requests at or above minPriority pending longer than after,
// re-escalating the same request no more than once per window.
func NewEscalationScheduler(broker *Broker, dispatch *Dispatcher, interval time.Duration, minPriority int, after, window time.Duration, metrics *oteladapter.Metrics) *EscalationScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if minPriority <= 0 {
		minPriority = 8
	}
	if after <= 0 {
		after = 30 * time.Minute
	}
	if window <= 0 {
		window = after
	}
	return &EscalationScheduler{
		broker:        broker,
		dispatch:      dispatch,
		interval:      interval,
		minPriority:   minPriority,
		after:         after,
		window:        window,
		metrics:       metrics,
		now:           func() time.Time { return time.Now().UTC() },
		lastEscalated: make(map[string]time.Time),
	}
}

// Run ticks until ctx is cancelled. The stop signal is observed every tick.
func (s *EscalationScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("escalation scheduler started",
		"interval", s.interval,
		"min_priority", s.minPriority,
		"after", s.after,
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("escalation scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *EscalationScheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("escalation scheduler tick panicked", "panic", r)
		}
	}()

	now := s.now()
	stalled, err := s.broker.StalledPending(ctx, s.minPriority, s.after, now)
	if err != nil {
		slog.Warn("stalled snapshot failed", "error", err)
		return
	}

	active := make(map[string]bool, len(stalled))
	for _, req := range stalled {
		active[req.ID] = true
		if !s.shouldEscalate(req.ID, now) {
			continue
		}

		pending := now.Sub(req.CreatedAt)
		s.dispatch.Enqueue(event.Event{
			Kind:       event.KindEscalation,
			RequestID:  req.ID,
			Service:    req.Service,
			Priority:   req.Priority,
			AssignedTo: req.AssignedTo,
			PendingFor: pending,
			At:         now,
		})
		s.metrics.AddEscalation(ctx)
		slog.Warn("request escalated",
			"request_id", req.ID,
			"service", req.Service,
			"priority", req.Priority,
			"pending_for", pending,
		)
	}

	s.prune(active, now)
}

// shouldEscalate checks and updates the per-request marker.
func (s *EscalationScheduler) shouldEscalate(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastEscalated[id]; ok && now.Sub(last) < s.window {
		return false
	}
	s.lastEscalated[id] = now
	return true
}

// prune drops markers for requests that are no longer stalled (resolved or
// otherwise gone) once their window has elapsed, keeping the map bounded.
func (s *EscalationScheduler) prune(active map[string]bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, last := range s.lastEscalated {
		if !active[id] && now.Sub(last) >= s.window {
			delete(s.lastEscalated, id)
		}
	}
}
