package service

import (
	"errors"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
)

func TestDirectoryUpsertGet(t *testing.T) {
	d := NewDirectory()

	err := d.Upsert(reviewer.Reviewer{ID: "rev-1", Username: "alice", Role: reviewer.RoleOperator, Active: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rev, err := d.Get("rev-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rev.Username != "alice" {
		t.Fatalf("username = %q", rev.Username)
	}

	if _, err := d.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectoryUpsertValidation(t *testing.T) {
	d := NewDirectory()

	if err := d.Upsert(reviewer.Reviewer{Role: reviewer.RoleOperator}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty id, got %v", err)
	}
	if err := d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: "wizard"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bad role, got %v", err)
	}
}

func TestDirectorySetActive(t *testing.T) {
	d := NewDirectory()
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleOperator, Active: true})

	if err := d.SetActive("rev-1", false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	rev, _ := d.Get("rev-1")
	if rev.Active {
		t.Fatal("reviewer still active")
	}

	if err := d.SetActive("nope", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectoryEligible(t *testing.T) {
	d := NewDirectory()
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-c", Role: reviewer.RoleOperator, Active: true})
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-a", Role: reviewer.RoleOperator, Active: true})
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-b", Role: reviewer.RoleAuditor, Active: true})
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-d", Role: reviewer.RoleOperator, Active: false})

	ops := d.Eligible([]reviewer.Role{reviewer.RoleOperator})
	if len(ops) != 2 {
		t.Fatalf("expected 2 active operators, got %d", len(ops))
	}
	// Sorted by id for deterministic selection.
	if ops[0].ID != "rev-a" || ops[1].ID != "rev-c" {
		t.Fatalf("unexpected order: %s, %s", ops[0].ID, ops[1].ID)
	}

	all := d.Eligible(nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 active reviewers with no role filter, got %d", len(all))
	}
}

func TestDirectoryRecordResponse(t *testing.T) {
	d := NewDirectory()
	_ = d.Upsert(reviewer.Reviewer{ID: "rev-1", Role: reviewer.RoleOperator, Active: true})

	now := time.Now().UTC()
	if err := d.RecordResponse("rev-1", true, now); err != nil {
		t.Fatalf("record response: %v", err)
	}
	rev, _ := d.Get("rev-1")
	if rev.InterventionCount != 1 || rev.ApprovalRate != 1 {
		t.Fatalf("stats = %d / %v", rev.InterventionCount, rev.ApprovalRate)
	}

	if err := d.RecordResponse("nope", true, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
