// Package storage defines the storage backend port for intervention state.
package storage

import (
	"context"

	"github.com/arbiterhq/arbiter/internal/domain/intervention"
)

// Record is the unit of storage, keyed by request id. Status is explicit
// rather than inferred from the presence of a response, so status checks
// never require a join.
type Record struct {
	Request  *intervention.Request
	Response *intervention.Response
	Status   intervention.Status
}

// Clone returns a copy of the record safe to hand out of a scan snapshot.
func (r *Record) Clone() *Record {
	out := &Record{Status: r.Status}
	if r.Request != nil {
		req := *r.Request
		out.Request = &req
	}
	if r.Response != nil {
		resp := *r.Response
		out.Response = &resp
	}
	return out
}

// Predicate selects records during a scan.
type Predicate func(*Record) bool

// Backend is the port for the persistent request/response store. Callers
// (the broker) serialize writes per request id; backends only need to make
// each call individually atomic. Scan must copy matching records under a
// short-held lock and release before returning.
type Backend interface {
	// Put inserts or replaces the record for rec.Request.ID.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for the given request id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Scan returns copies of all records matching the predicate.
	Scan(ctx context.Context, pred Predicate) ([]*Record, error)
}
