package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/adapter/memory"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/intervention"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
)

func newTestBroker(t *testing.T) (*Broker, *Directory) {
	t.Helper()
	directory := NewDirectory()
	return NewBroker(memory.New(), directory, nil, nil), directory
}

func submitTestRequest(t *testing.T, b *Broker, mutate func(*intervention.CreateRequest)) string {
	t.Helper()
	c := intervention.CreateRequest{
		Service:  "deploy-agent",
		Type:     intervention.TypeApprovalRequired,
		Priority: 5,
		Title:    "Deploy to production",
		Timeout:  10 * time.Minute,
	}
	if mutate != nil {
		mutate(&c)
	}
	id, err := b.SubmitRequest(context.Background(), c)
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	return id
}

func TestSubmitRequestAssignsReviewer(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleOperator, Active: true})

	id := submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.RequiredRoles = []reviewer.Role{reviewer.RoleOperator}
	})

	detail, err := b.GetDetail(context.Background(), id)
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if detail.Request.AssignedTo != "rev-1" {
		t.Fatalf("assigned to %q, want rev-1", detail.Request.AssignedTo)
	}
	if detail.Status != intervention.StatusPending {
		t.Fatalf("status = %s", detail.Status)
	}
}

func TestSubmitRequestNoEligibleStaysUnassigned(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleObserver, Active: true})

	id := submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.RequiredRoles = []reviewer.Role{reviewer.RoleAuditor}
	})

	detail, _ := b.GetDetail(context.Background(), id)
	if detail.Request.AssignedTo != "" {
		t.Fatalf("expected unassigned, got %q", detail.Request.AssignedTo)
	}
}

func TestSubmitRequestValidationErrors(t *testing.T) {
	b, _ := newTestBroker(t)

	_, err := b.SubmitRequest(context.Background(), intervention.CreateRequest{
		Type:     intervention.TypeApprovalRequired,
		Priority: 0,
		Timeout:  10 * time.Minute,
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSubmitResponseResolves(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleOperator, Active: true})
	id := submitTestRequest(t, b, nil)

	err := b.SubmitResponse(context.Background(), id, intervention.SubmitResponse{
		ResponderID:   "rev-1",
		ResponderRole: reviewer.RoleOperator,
		Status:        intervention.StatusApproved,
		Reasoning:     "looks safe",
		Confidence:    0.9,
	})
	if err != nil {
		t.Fatalf("submit response: %v", err)
	}

	detail, _ := b.GetDetail(context.Background(), id)
	if detail.Status != intervention.StatusApproved {
		t.Fatalf("status = %s", detail.Status)
	}
	if detail.Response == nil || detail.Response.ResponderID != "rev-1" {
		t.Fatalf("response = %+v", detail.Response)
	}

	// Responder stats were folded in.
	rev, _ := d.Get("rev-1")
	if rev.InterventionCount != 1 || rev.ApprovalRate != 1 {
		t.Fatalf("stats = %d / %v", rev.InterventionCount, rev.ApprovalRate)
	}
}

func TestSubmitResponseSecondWriterLoses(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleOperator, Active: true})
	id := submitTestRequest(t, b, nil)

	first := intervention.SubmitResponse{
		ResponderID: "rev-1", ResponderRole: reviewer.RoleOperator,
		Status: intervention.StatusApproved, Confidence: 1,
	}
	if err := b.SubmitResponse(context.Background(), id, first); err != nil {
		t.Fatalf("first response: %v", err)
	}

	second := first
	second.Status = intervention.StatusRejected
	err := b.SubmitResponse(context.Background(), id, second)
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if !IsExpectedResolveRace(err) {
		t.Fatal("loser error not classified as expected race")
	}

	// The first resolution is untouched.
	detail, _ := b.GetDetail(context.Background(), id)
	if detail.Status != intervention.StatusApproved {
		t.Fatalf("status = %s, first resolution was overwritten", detail.Status)
	}
}

func TestSubmitResponseConcurrentExactlyOneWins(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleOperator, Active: true})

	const workers = 16
	id := submitTestRequest(t, b, nil)

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := intervention.StatusApproved
			if i%2 == 1 {
				status = intervention.StatusRejected
			}
			errs[i] = b.SubmitResponse(context.Background(), id, intervention.SubmitResponse{
				ResponderID: "rev-1", ResponderRole: reviewer.RoleOperator,
				Status: status, Confidence: 1,
			})
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrAlreadyResolved):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d responses committed, want exactly 1", won)
	}
}

func TestSubmitResponseRoleForbidden(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleObserver, Active: true})
	id := submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.RequiredRoles = []reviewer.Role{reviewer.RoleAuditor}
	})

	err := b.SubmitResponse(context.Background(), id, intervention.SubmitResponse{
		ResponderID: "rev-1", ResponderRole: reviewer.RoleObserver,
		Status: intervention.StatusApproved, Confidence: 1,
	})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// The request stays pending for an authorized reviewer.
	detail, _ := b.GetDetail(context.Background(), id)
	if detail.Status != intervention.StatusPending {
		t.Fatalf("status = %s", detail.Status)
	}
}

func TestSubmitResponseConstitutionalNeedsBasis(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleConstitutionalExpert, Active: true})
	id := submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.ConstitutionalImpact = true
	})

	resp := intervention.SubmitResponse{
		ResponderID: "rev-1", ResponderRole: reviewer.RoleConstitutionalExpert,
		Status: intervention.StatusApproved, Confidence: 1,
	}
	err := b.SubmitResponse(context.Background(), id, resp)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden without basis, got %v", err)
	}

	// Rejection needs no basis.
	reject := resp
	reject.Status = intervention.StatusRejected
	if err := b.SubmitResponse(context.Background(), id, reject); err != nil {
		t.Fatalf("rejection without basis: %v", err)
	}
}

func TestSubmitResponseConstitutionalApprovalWithBasis(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleConstitutionalExpert, Active: true})
	id := submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.ConstitutionalImpact = true
	})

	err := b.SubmitResponse(context.Background(), id, intervention.SubmitResponse{
		ResponderID: "rev-1", ResponderRole: reviewer.RoleConstitutionalExpert,
		Status: intervention.StatusApproved, ConstitutionalBasis: "article 4",
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("approval with basis: %v", err)
	}
}

func TestSubmitResponseUnknownResponder(t *testing.T) {
	b, _ := newTestBroker(t)
	id := submitTestRequest(t, b, nil)

	err := b.SubmitResponse(context.Background(), id, intervention.SubmitResponse{
		ResponderID: "ghost", ResponderRole: reviewer.RoleOperator,
		Status: intervention.StatusApproved, Confidence: 1,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitResponseSystemBypassesRoleCheck(t *testing.T) {
	b, _ := newTestBroker(t)
	// Auditor-gated request; the system responder is not in the directory
	// and carries no role, yet its timeout resolution must land.
	id := submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.RequiredRoles = []reviewer.Role{reviewer.RoleAuditor}
	})

	err := b.SubmitResponse(context.Background(), id, intervention.SubmitResponse{
		ResponderID: intervention.SystemResponder,
		Status:      intervention.StatusTimeout,
		Reasoning:   "expired",
		Confidence:  1,
	})
	if err != nil {
		t.Fatalf("system response: %v", err)
	}

	detail, _ := b.GetDetail(context.Background(), id)
	if detail.Status != intervention.StatusTimeout {
		t.Fatalf("status = %s", detail.Status)
	}
}

func TestGetPendingOrdering(t *testing.T) {
	b, _ := newTestBroker(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	b.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	low := submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Priority = 3 })
	highOld := submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Priority = 8 })
	highNew := submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Priority = 8 })

	pending, err := b.GetPending(context.Background(), intervention.PendingFilters{})
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	want := []string{highOld, highNew, low}
	for i, req := range pending {
		if req.ID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, req.ID, want[i])
		}
	}
}

func TestGetPendingExcludesResolved(t *testing.T) {
	b, d := newTestBroker(t)
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleOperator, Active: true})

	resolved := submitTestRequest(t, b, nil)
	open := submitTestRequest(t, b, nil)

	_ = b.SubmitResponse(context.Background(), resolved, intervention.SubmitResponse{
		ResponderID: "rev-1", ResponderRole: reviewer.RoleOperator,
		Status: intervention.StatusRejected, Confidence: 1,
	})

	pending, _ := b.GetPending(context.Background(), intervention.PendingFilters{})
	if len(pending) != 1 || pending[0].ID != open {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestGetPendingFilters(t *testing.T) {
	b, _ := newTestBroker(t)

	safety := submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.Type = intervention.TypeSafetyCheck
		c.Priority = 9
	})
	_ = submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Priority = 2 })

	pending, _ := b.GetPending(context.Background(), intervention.PendingFilters{
		Type:        intervention.TypeSafetyCheck,
		MinPriority: 5,
	})
	if len(pending) != 1 || pending[0].ID != safety {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestGetDetailDurations(t *testing.T) {
	b, _ := newTestBroker(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }
	id := submitTestRequest(t, b, nil) // 10m timeout

	b.now = func() time.Time { return base.Add(4 * time.Minute) }
	detail, err := b.GetDetail(context.Background(), id)
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if detail.PendingFor != 4*time.Minute {
		t.Fatalf("pending_for = %v, want 4m", detail.PendingFor)
	}
	if detail.Remaining != 6*time.Minute {
		t.Fatalf("remaining = %v, want 6m", detail.Remaining)
	}

	if _, err := b.GetDetail(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpiredPending(t *testing.T) {
	b, _ := newTestBroker(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }

	short := submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Timeout = 5 * time.Minute })
	_ = submitTestRequest(t, b, func(c *intervention.CreateRequest) { c.Timeout = time.Hour })

	ids, err := b.ExpiredPending(context.Background(), base.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("expired pending: %v", err)
	}
	if len(ids) != 1 || ids[0] != short {
		t.Fatalf("expired = %v, want [%s]", ids, short)
	}
}

func TestStalledPending(t *testing.T) {
	b, _ := newTestBroker(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }

	stalled := submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.Priority = 9
		c.Timeout = 2 * time.Hour
	})
	_ = submitTestRequest(t, b, func(c *intervention.CreateRequest) {
		c.Priority = 3 // below threshold
		c.Timeout = 2 * time.Hour
	})

	reqs, err := b.StalledPending(context.Background(), 8, 30*time.Minute, base.Add(45*time.Minute))
	if err != nil {
		t.Fatalf("stalled pending: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ID != stalled {
		t.Fatalf("stalled = %+v", reqs)
	}

	// Not stalled yet inside the age window.
	reqs, _ = b.StalledPending(context.Background(), 8, 30*time.Minute, base.Add(10*time.Minute))
	if len(reqs) != 0 {
		t.Fatalf("expected none stalled, got %d", len(reqs))
	}
}
