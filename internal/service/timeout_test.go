package service

import (
	"context"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/adapter/memory"
	"github.com/arbiterhq/arbiter/internal/domain/intervention"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
)

func TestTimeoutTickResolvesExpired(t *testing.T) {
	b, _ := newTestBroker(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }
	id := submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Timeout = 5 * time.Minute })
	fresh := submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Timeout = time.Hour })

	// Past the first deadline, before the second.
	s := NewTimeoutScheduler(b, time.Second, nil)
	s.now = func() time.Time { return base.Add(6 * time.Minute) }
	s.tick(context.Background())

	detail, err := b.GetDetail(context.Background(), id)
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if detail.Status != intervention.StatusTimeout {
		t.Fatalf("status = %s, want timeout", detail.Status)
	}
	if detail.Response == nil || detail.Response.ResponderID != intervention.SystemResponder {
		t.Fatalf("response = %+v", detail.Response)
	}

	freshDetail, _ := b.GetDetail(context.Background(), fresh)
	if freshDetail.Status != intervention.StatusPending {
		t.Fatalf("unexpired request resolved: %s", freshDetail.Status)
	}
	if s.Committed() != 1 {
		t.Fatalf("committed = %d, want 1", s.Committed())
	}
}

func TestTimeoutTickIsIdempotent(t *testing.T) {
	b, _ := newTestBroker(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }
	_ = submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Timeout = 5 * time.Minute })

	s := NewTimeoutScheduler(b, time.Second, nil)
	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	s.tick(context.Background())
	s.tick(context.Background())

	if s.Committed() != 1 {
		t.Fatalf("committed = %d, want 1 across repeated ticks", s.Committed())
	}
}

func TestTimeoutLosesRaceSilently(t *testing.T) {
	directory := NewDirectory()
	_ = directory.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleOperator, Active: true})
	b := NewBroker(memory.New(), directory, nil, nil)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }
	id := submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Timeout = 5 * time.Minute })

	// Human response lands first.
	if err := b.SubmitResponse(context.Background(), id, intervention.SubmitResponse{
		ResponderID: "rev-1", ResponderRole: reviewer.RoleOperator,
		Status: intervention.StatusApproved, Confidence: 1,
	}); err != nil {
		t.Fatalf("human response: %v", err)
	}

	s := NewTimeoutScheduler(b, time.Second, nil)
	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	s.tick(context.Background())

	// The human resolution survives and the scheduler committed nothing.
	detail, _ := b.GetDetail(context.Background(), id)
	if detail.Status != intervention.StatusApproved {
		t.Fatalf("status = %s, timeout clobbered the human response", detail.Status)
	}
	if s.Committed() != 0 {
		t.Fatalf("committed = %d, want 0", s.Committed())
	}
}

func TestTimeoutRunStopsOnCancel(t *testing.T) {
	b, _ := newTestBroker(t)
	s := NewTimeoutScheduler(b, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
