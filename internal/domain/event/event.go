// Package event defines the oversight events fanned out to connected
// reviewers and to the audit feed.
package event

import "time"

// Kind identifies the event type.
type Kind string

const (
	// KindNewRequest fires when a request is created (and possibly assigned).
	KindNewRequest Kind = "new_request"
	// KindResponseReceived fires when a human response is accepted.
	KindResponseReceived Kind = "response_received"
	// KindTimeout fires when the timeout scheduler commits a TIMEOUT resolution.
	KindTimeout Kind = "timeout"
	// KindEscalation fires when a stalled high-priority request is flagged.
	// Escalation never resolves the request.
	KindEscalation Kind = "escalation"
)

// Event is the envelope delivered to reviewer push channels and published
// to the audit feed.
type Event struct {
	Kind       Kind          `json:"kind"`
	RequestID  string        `json:"request_id"`
	Service    string        `json:"requesting_service,omitempty"`
	Priority   int           `json:"priority,omitempty"`
	Status     string        `json:"status,omitempty"`
	AssignedTo string        `json:"assigned_to,omitempty"`
	Responder  string        `json:"responder_id,omitempty"`
	PendingFor time.Duration `json:"pending_duration,omitempty"`
	At         time.Time     `json:"at"`
}
