// Package service contains the intervention workflow orchestration services.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	oteladapter "github.com/arbiterhq/arbiter/internal/adapter/otel"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/event"
	"github.com/arbiterhq/arbiter/internal/domain/intervention"
	"github.com/arbiterhq/arbiter/internal/port/storage"
)

// lockStripes is the number of per-request-id mutex stripes. Requests map
// to a stripe by fnv64 hash; the stripe is held across the read-check-write
// of a resolution so "first accepted response wins" is a true test-and-set.
const lockStripes = 64

// Broker is the authoritative request/response store. All mutation of a
// request goes through its stripe lock; cross-request scans snapshot under
// the backend's short-held lock and do slow work after release.
type Broker struct {
	backend   storage.Backend
	directory *Directory
	engine    AssignmentEngine
	dispatch  *Dispatcher
	metrics   *oteladapter.Metrics
	now       func() time.Time

	locks [lockStripes]sync.Mutex
}

// NewBroker creates a Broker on top of a storage backend and a reviewer
// directory. dispatch and metrics may be nil in tests that do not observe
// events or telemetry.
func NewBroker(backend storage.Backend, directory *Directory, dispatch *Dispatcher, metrics *oteladapter.Metrics) *Broker {
	return &Broker{
		backend:   backend,
		directory: directory,
		dispatch:  dispatch,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (b *Broker) lockFor(id string) *sync.Mutex {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return &b.locks[h.Sum64()%lockStripes]
}

// SubmitRequest validates, normalizes and persists a new intervention
// request, runs auto-assignment once, and returns the request id.
func (b *Broker) SubmitRequest(ctx context.Context, c intervention.CreateRequest) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	now := b.now()
	req := intervention.NewRequest(c, uuid.NewString(), now)

	candidates := b.directory.Eligible(req.RequiredRoles)
	if len(candidates) > 0 {
		open, err := b.openAssignments(ctx)
		if err != nil {
			return "", fmt.Errorf("submit request: %w", err)
		}
		if id, ok := b.engine.Select(req, candidates, open); ok {
			req.AssignedTo = id
		}
	}

	rec := &storage.Record{Request: req, Status: intervention.StatusPending}

	mu := b.lockFor(req.ID)
	mu.Lock()
	err := b.backend.Put(ctx, rec)
	mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("submit request: %w", err)
	}

	slog.Info("intervention request submitted",
		"request_id", req.ID,
		"service", req.Service,
		"type", req.Type,
		"priority", req.Priority,
		"assigned_to", req.AssignedTo,
		"expires_at", req.ExpiresAt,
	)
	b.metrics.AddRequestSubmitted(ctx)

	b.emit(event.Event{
		Kind:       event.KindNewRequest,
		RequestID:  req.ID,
		Service:    req.Service,
		Priority:   req.Priority,
		Status:     string(intervention.StatusPending),
		AssignedTo: req.AssignedTo,
		At:         now,
	})

	return req.ID, nil
}

// SubmitResponse attempts to resolve a request with the given response.
// Exactly one response ever commits per request: if the request already
// carries a terminal status the call fails with ErrAlreadyResolved, which
// is the expected outcome for the loser of a human-vs-timeout race.
func (b *Broker) SubmitResponse(ctx context.Context, requestID string, s intervention.SubmitResponse) error {
	if err := s.Validate(); err != nil {
		return err
	}

	system := s.ResponderID == intervention.SystemResponder
	if !system {
		if _, err := b.directory.Get(s.ResponderID); err != nil {
			return fmt.Errorf("submit response: %w", err)
		}
	}

	now := b.now()

	mu := b.lockFor(requestID)
	mu.Lock()
	resolved, err := b.resolveLocked(ctx, requestID, s, system, now)
	mu.Unlock()
	if err != nil {
		return err
	}

	if !system {
		approved := s.Status == intervention.StatusApproved
		if err := b.directory.RecordResponse(s.ResponderID, approved, now); err != nil {
			slog.Warn("reviewer stats update failed", "responder_id", s.ResponderID, "error", err)
		}
	}

	kind := event.KindResponseReceived
	if system && s.Status == intervention.StatusTimeout {
		kind = event.KindTimeout
	} else {
		b.metrics.AddResponseAccepted(ctx)
	}
	b.emit(event.Event{
		Kind:      kind,
		RequestID: requestID,
		Service:   resolved.Request.Service,
		Priority:  resolved.Request.Priority,
		Status:    string(s.Status),
		Responder: s.ResponderID,
		At:        now,
	})

	return nil
}

// resolveLocked performs the atomic test-and-set of the terminal status.
// Caller holds the stripe lock for requestID.
func (b *Broker) resolveLocked(ctx context.Context, requestID string, s intervention.SubmitResponse, system bool, now time.Time) (*storage.Record, error) {
	rec, err := b.backend.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("submit response: %w", err)
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("request %s: %w", requestID, domain.ErrAlreadyResolved)
	}

	req := rec.Request
	if !system {
		if !req.RoleAllowed(s.ResponderRole) {
			return nil, fmt.Errorf("role %q not authorized for request %s: %w", s.ResponderRole, requestID, domain.ErrForbidden)
		}
		if req.ConstitutionalImpact && s.Status == intervention.StatusApproved && s.ConstitutionalBasis == "" {
			return nil, fmt.Errorf("constitutional approval without basis for request %s: %w", requestID, domain.ErrForbidden)
		}
	}

	rec.Response = &intervention.Response{
		ID:                  uuid.NewString(),
		RequestID:           requestID,
		ResponderID:         s.ResponderID,
		ResponderRole:       s.ResponderRole,
		Status:              s.Status,
		Decision:            s.Decision,
		Reasoning:           s.Reasoning,
		ConstitutionalBasis: s.ConstitutionalBasis,
		Confidence:          s.Confidence,
		RespondedAt:         now,
	}
	rec.Status = s.Status

	if err := b.backend.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("submit response: %w", err)
	}
	return rec, nil
}

// GetPending returns a snapshot of unresolved requests matching the
// filters, sorted by priority descending then created_at ascending.
func (b *Broker) GetPending(ctx context.Context, filters intervention.PendingFilters) ([]*intervention.Request, error) {
	recs, err := b.backend.Scan(ctx, func(rec *storage.Record) bool {
		return !rec.Status.Terminal() && filters.Match(rec.Request)
	})
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}

	out := make([]*intervention.Request, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Request)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetDetail returns the request, its response (if any), and the derived
// pending duration and remaining time.
func (b *Broker) GetDetail(ctx context.Context, id string) (*intervention.Detail, error) {
	rec, err := b.backend.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get detail: %w", err)
	}

	now := b.now()
	d := &intervention.Detail{
		Request:  rec.Request,
		Response: rec.Response,
		Status:   rec.Status,
	}
	if rec.Response != nil {
		d.PendingFor = rec.Response.RespondedAt.Sub(rec.Request.CreatedAt)
	} else {
		d.PendingFor = now.Sub(rec.Request.CreatedAt)
		if remaining := rec.Request.ExpiresAt.Sub(now); remaining > 0 {
			d.Remaining = remaining
		}
	}
	return d, nil
}

// ExpiredPending returns ids of unresolved requests whose deadline has
// passed at the given time.
func (b *Broker) ExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	recs, err := b.backend.Scan(ctx, func(rec *storage.Record) bool {
		return !rec.Status.Terminal() && rec.Request.Expired(now)
	})
	if err != nil {
		return nil, fmt.Errorf("expired pending: %w", err)
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.Request.ID)
	}
	return ids, nil
}

// StalledPending returns unresolved requests at or above minPriority that
// have been pending longer than age.
func (b *Broker) StalledPending(ctx context.Context, minPriority int, age time.Duration, now time.Time) ([]*intervention.Request, error) {
	cutoff := now.Add(-age)
	recs, err := b.backend.Scan(ctx, func(rec *storage.Record) bool {
		return !rec.Status.Terminal() &&
			rec.Request.Priority >= minPriority &&
			rec.Request.CreatedAt.Before(cutoff)
	})
	if err != nil {
		return nil, fmt.Errorf("stalled pending: %w", err)
	}

	out := make([]*intervention.Request, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Request)
	}
	return out, nil
}

// openAssignments counts unresolved assigned requests per reviewer id.
func (b *Broker) openAssignments(ctx context.Context) (map[string]int, error) {
	recs, err := b.backend.Scan(ctx, func(rec *storage.Record) bool {
		return !rec.Status.Terminal() && rec.Request.AssignedTo != ""
	})
	if err != nil {
		return nil, err
	}

	open := make(map[string]int, len(recs))
	for _, rec := range recs {
		open[rec.Request.AssignedTo]++
	}
	return open, nil
}

// emit hands an event to the dispatcher without blocking the caller.
func (b *Broker) emit(ev event.Event) {
	if b.dispatch == nil {
		return
	}
	b.dispatch.Enqueue(ev)
}

// IsExpectedResolveRace reports whether err is the benign loser-side error
// of a concurrent resolution.
func IsExpectedResolveRace(err error) bool {
	return errors.Is(err, domain.ErrAlreadyResolved)
}
