// Package broadcast defines the port for pushing live status events to
// connected reviewers.
package broadcast

import (
	"context"

	"github.com/arbiterhq/arbiter/internal/domain/event"
)

// Sink is one reviewer's live push channel. Deliver must respect ctx; a
// delivery error means the sink is dead and will be unregistered.
type Sink interface {
	// Deliver pushes a single event to the connected reviewer.
	Deliver(ctx context.Context, ev event.Event) error

	// Close releases the underlying channel.
	Close() error
}

// Broadcaster maintains the user id → sink registry and fans events out.
type Broadcaster interface {
	// Register attaches a sink for the given reviewer, replacing any
	// previous registration.
	Register(userID string, sink Sink)

	// Unregister detaches and closes the given sink, but only while it is
	// still the one registered for the reviewer. A stale caller (a dead
	// connection cleaning up after a reconnect already replaced it) must
	// not remove the replacement.
	Unregister(userID string, sink Sink)

	// Broadcast delivers the event to a snapshot of registered sinks.
	// Failed sinks are unregistered; delivery to the rest continues.
	Broadcast(ctx context.Context, ev event.Event)
}
