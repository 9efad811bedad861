package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
)

// Directory is the concurrency-safe roster of reviewers. Records and the
// active flag are fed by an external identity service through Upsert and
// SetActive; the response path updates the accounting fields.
type Directory struct {
	mu   sync.RWMutex
	byID map[string]*reviewer.Reviewer
}

// NewDirectory creates an empty reviewer roster.
func NewDirectory() *Directory {
	return &Directory{byID: make(map[string]*reviewer.Reviewer)}
}

// Upsert inserts or replaces a reviewer record.
func (d *Directory) Upsert(rev reviewer.Reviewer) error {
	if rev.ID == "" {
		return fmt.Errorf("reviewer id is required: %w", domain.ErrInvalidArgument)
	}
	if !reviewer.ValidRoles[rev.Role] {
		return fmt.Errorf("unknown role %q: %w", rev.Role, domain.ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	copied := rev
	d.byID[rev.ID] = &copied
	return nil
}

// SetActive flips the availability flag for a reviewer.
func (d *Directory) SetActive(id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rev, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("reviewer %s: %w", id, domain.ErrNotFound)
	}
	rev.Active = active
	return nil
}

// Get returns a copy of the reviewer record.
func (d *Directory) Get(id string) (*reviewer.Reviewer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rev, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("reviewer %s: %w", id, domain.ErrNotFound)
	}
	copied := *rev
	return &copied, nil
}

// Eligible returns copies of active reviewers whose role is in roles.
// An empty role set means every active reviewer is eligible. The result
// is sorted by id so selection stays deterministic.
func (d *Directory) Eligible(roles []reviewer.Role) []reviewer.Reviewer {
	allowed := make(map[reviewer.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	d.mu.RLock()
	var out []reviewer.Reviewer
	for _, rev := range d.byID {
		if !rev.Active {
			continue
		}
		if len(allowed) > 0 && !allowed[rev.Role] {
			continue
		}
		out = append(out, *rev)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordResponse folds one accepted response into a reviewer's stats.
func (d *Directory) RecordResponse(id string, approved bool, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rev, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("reviewer %s: %w", id, domain.ErrNotFound)
	}
	rev.RecordResponse(approved, at)
	return nil
}

// Count returns the roster size.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
