package service

import (
	"context"
	"encoding/json"
	"log/slog"

	oteladapter "github.com/arbiterhq/arbiter/internal/adapter/otel"
	"github.com/arbiterhq/arbiter/internal/domain/event"
	"github.com/arbiterhq/arbiter/internal/port/audit"
	"github.com/arbiterhq/arbiter/internal/port/broadcast"
)

// auditSubjectPrefix prefixes the NATS subject for every published event.
const auditSubjectPrefix = "oversight."

// Dispatcher decouples the foreground submission path from event fan-out.
// Enqueue never blocks: when the queue is full the event is dropped with a
// warning rather than stalling a submitter on notification I/O.
type Dispatcher struct {
	queue       chan event.Event
	broadcaster broadcast.Broadcaster
	publisher   audit.Publisher
	metrics     *oteladapter.Metrics
}

// NewDispatcher creates a Dispatcher with the given queue size. broadcaster
// and publisher may be nil; the corresponding fan-out leg is skipped.
func NewDispatcher(queueSize int, broadcaster broadcast.Broadcaster, publisher audit.Publisher, metrics *oteladapter.Metrics) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:       make(chan event.Event, queueSize),
		broadcaster: broadcaster,
		publisher:   publisher,
		metrics:     metrics,
	}
}

// Enqueue hands an event to the fan-out worker without blocking.
func (d *Dispatcher) Enqueue(ev event.Event) {
	select {
	case d.queue <- ev:
	default:
		slog.Warn("event queue full, dropping event",
			"kind", ev.Kind,
			"request_id", ev.RequestID,
		)
		d.metrics.AddEventDropped(context.Background())
	}
}

// Run fans queued events out to the broadcaster and the audit feed until
// ctx is cancelled. It always returns nil so an errgroup shutdown is clean.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			d.fanOut(ctx, ev)
		}
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, ev event.Event) {
	if d.broadcaster != nil {
		d.broadcaster.Broadcast(ctx, ev)
	}

	if d.publisher == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal audit event", "kind", ev.Kind, "error", err)
		return
	}
	subject := auditSubjectPrefix + string(ev.Kind)
	if err := d.publisher.Publish(ctx, subject, data); err != nil {
		slog.Warn("audit publish failed", "subject", subject, "request_id", ev.RequestID, "error", err)
	}
}

// QueueDepth returns the number of events waiting for fan-out.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}
