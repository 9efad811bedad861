// Package audit defines the port for the external oversight audit feed.
package audit

import "context"

// Publisher appends oversight events to a durable audit subject. Publish
// failures are logged by callers and never abort the foreground path.
type Publisher interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error
}
