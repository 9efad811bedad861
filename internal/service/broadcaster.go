package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	oteladapter "github.com/arbiterhq/arbiter/internal/adapter/otel"
	"github.com/arbiterhq/arbiter/internal/domain/event"
	"github.com/arbiterhq/arbiter/internal/port/broadcast"
)

// Registry implements broadcast.Broadcaster over a user id → sink map.
// Delivery to each sink is bounded by its own timeout; a sink that fails
// or times out is unregistered and the remaining sinks are unaffected.
type Registry struct {
	mu          sync.RWMutex
	sinks       map[string]broadcast.Sink
	sinkTimeout time.Duration
	metrics     *oteladapter.Metrics
}

// NewRegistry creates an empty sink registry with the given per-sink
// delivery timeout.
func NewRegistry(sinkTimeout time.Duration, metrics *oteladapter.Metrics) *Registry {
	if sinkTimeout <= 0 {
		sinkTimeout = 5 * time.Second
	}
	return &Registry{
		sinks:       make(map[string]broadcast.Sink),
		sinkTimeout: sinkTimeout,
		metrics:     metrics,
	}
}

// Register attaches a sink for the given reviewer, closing and replacing
// any previous registration.
func (r *Registry) Register(userID string, sink broadcast.Sink) {
	r.mu.Lock()
	prev := r.sinks[userID]
	r.sinks[userID] = sink
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	slog.Info("push channel registered", "user_id", userID)
}

// Unregister detaches and closes the sink if it is still the one mapped
// to userID. A stale sink (already replaced by a re-registration) is left
// alone, so a reconnecting reviewer keeps the new channel.
func (r *Registry) Unregister(userID string, sink broadcast.Sink) {
	r.mu.Lock()
	current, ok := r.sinks[userID]
	if ok && current == sink {
		delete(r.sinks, userID)
	} else {
		sink = nil
	}
	r.mu.Unlock()

	if sink != nil {
		_ = sink.Close()
		slog.Info("push channel unregistered", "user_id", userID)
	}
}

// Broadcast delivers the event to a snapshot of currently registered
// sinks. The registry lock is released before any delivery I/O.
func (r *Registry) Broadcast(ctx context.Context, ev event.Event) {
	r.mu.RLock()
	snapshot := make(map[string]broadcast.Sink, len(r.sinks))
	for id, sink := range r.sinks {
		snapshot[id] = sink
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for userID, sink := range snapshot {
		wg.Add(1)
		go func(userID string, sink broadcast.Sink) {
			defer wg.Done()
			r.deliver(ctx, userID, sink, ev)
		}(userID, sink)
	}
	wg.Wait()
}

func (r *Registry) deliver(ctx context.Context, userID string, sink broadcast.Sink, ev event.Event) {
	deliverCtx, cancel := context.WithTimeout(ctx, r.sinkTimeout)
	defer cancel()

	if err := sink.Deliver(deliverCtx, ev); err != nil {
		slog.Warn("push delivery failed, dropping channel",
			"user_id", userID,
			"kind", ev.Kind,
			"error", err,
		)
		r.Unregister(userID, sink)
		r.metrics.AddSinkDropped(ctx)
	}
}

// Count returns the number of registered sinks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
