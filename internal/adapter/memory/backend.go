// Package memory implements the storage backend port with an in-process map.
// Used for development and tests; production deployments use the postgres
// backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/port/storage"
)

// Backend is a concurrency-safe in-memory record store keyed by request id.
type Backend struct {
	mu      sync.RWMutex
	records map[string]*storage.Record
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{records: make(map[string]*storage.Record)}
}

// Put inserts or replaces the record for rec.Request.ID.
func (b *Backend) Put(_ context.Context, rec *storage.Record) error {
	if rec == nil || rec.Request == nil || rec.Request.ID == "" {
		return fmt.Errorf("record without request id: %w", domain.ErrInvalidArgument)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.Request.ID] = rec.Clone()
	return nil
}

// Get returns a copy of the record for the given request id.
func (b *Backend) Get(_ context.Context, id string) (*storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Scan returns copies of all records matching the predicate. The lock is
// held only while copying; callers are free to do slow work on the result.
func (b *Backend) Scan(_ context.Context, pred storage.Predicate) ([]*storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*storage.Record
	for _, rec := range b.records {
		if pred == nil || pred(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}
