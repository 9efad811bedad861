package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "arbiter"

// Metrics holds all arbiter metric instruments. A nil *Metrics is valid
// and records nothing, so telemetry stays optional in tests and dev mode.
type Metrics struct {
	RequestsSubmitted metric.Int64Counter
	ResponsesAccepted metric.Int64Counter
	Timeouts          metric.Int64Counter
	Escalations       metric.Int64Counter
	EventsDropped     metric.Int64Counter
	SinksDropped      metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RequestsSubmitted, err = meter.Int64Counter("arbiter.requests.submitted",
		metric.WithDescription("Number of intervention requests submitted"))
	if err != nil {
		return nil, err
	}

	m.ResponsesAccepted, err = meter.Int64Counter("arbiter.responses.accepted",
		metric.WithDescription("Number of accepted resolutions"))
	if err != nil {
		return nil, err
	}

	m.Timeouts, err = meter.Int64Counter("arbiter.timeouts",
		metric.WithDescription("Number of committed timeout resolutions"))
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("arbiter.escalations",
		metric.WithDescription("Number of escalation events raised"))
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter("arbiter.events.dropped",
		metric.WithDescription("Number of events dropped by a full dispatch queue"))
	if err != nil {
		return nil, err
	}

	m.SinksDropped, err = meter.Int64Counter("arbiter.sinks.dropped",
		metric.WithDescription("Number of push channels unregistered after delivery failure"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// AddRequestSubmitted records one submitted request.
func (m *Metrics) AddRequestSubmitted(ctx context.Context) {
	if m != nil {
		m.RequestsSubmitted.Add(ctx, 1)
	}
}

// AddResponseAccepted records one accepted resolution.
func (m *Metrics) AddResponseAccepted(ctx context.Context) {
	if m != nil {
		m.ResponsesAccepted.Add(ctx, 1)
	}
}

// AddTimeout records one committed timeout.
func (m *Metrics) AddTimeout(ctx context.Context) {
	if m != nil {
		m.Timeouts.Add(ctx, 1)
	}
}

// AddEscalation records one escalation event.
func (m *Metrics) AddEscalation(ctx context.Context) {
	if m != nil {
		m.Escalations.Add(ctx, 1)
	}
}

// AddEventDropped records one dropped dispatch event.
func (m *Metrics) AddEventDropped(ctx context.Context) {
	if m != nil {
		m.EventsDropped.Add(ctx, 1)
	}
}

// AddSinkDropped records one unregistered sink.
func (m *Metrics) AddSinkDropped(ctx context.Context) {
	if m != nil {
		m.SinksDropped.Add(ctx, 1)
	}
}
