package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/intervention"
	"github.com/arbiterhq/arbiter/internal/port/storage"
)

func record(id string, status intervention.Status, priority int) *storage.Record {
	return &storage.Record{
		Request: &intervention.Request{
			ID:        id,
			Priority:  priority,
			CreatedAt: time.Now().UTC(),
		},
		Status: status,
	}
}

func TestPutGet(t *testing.T) {
	b := New()
	ctx := context.Background()

	if err := b.Put(ctx, record("req-1", intervention.StatusPending, 5)); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec, err := b.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != intervention.StatusPending {
		t.Fatalf("status = %s", rec.Status)
	}

	if _, err := b.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRejectsEmptyID(t *testing.T) {
	b := New()
	err := b.Put(context.Background(), &storage.Record{Request: &intervention.Request{}})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	b := New()
	ctx := context.Background()

	if err := b.Put(ctx, record("req-1", intervention.StatusPending, 5)); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec, _ := b.Get(ctx, "req-1")
	rec.Status = intervention.StatusApproved
	rec.Request.Priority = 1

	again, _ := b.Get(ctx, "req-1")
	if again.Status != intervention.StatusPending || again.Request.Priority != 5 {
		t.Fatal("mutating a returned record leaked into the store")
	}
}

func TestScanPredicate(t *testing.T) {
	b := New()
	ctx := context.Background()

	_ = b.Put(ctx, record("req-1", intervention.StatusPending, 5))
	_ = b.Put(ctx, record("req-2", intervention.StatusApproved, 7))
	_ = b.Put(ctx, record("req-3", intervention.StatusPending, 9))

	recs, err := b.Scan(ctx, func(rec *storage.Record) bool {
		return !rec.Status.Terminal()
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(recs))
	}

	all, _ := b.Scan(ctx, nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 records with nil predicate, got %d", len(all))
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d", b.Len())
	}
}
