package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/intervention"
	"github.com/arbiterhq/arbiter/internal/port/storage"
)

// Store implements the storage backend port over PostgreSQL. The status
// column carries the explicit lifecycle state; a terminal row is never
// overwritten — the upsert guards on status = 'pending' as a second line
// of defense behind the broker's per-key locks.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store on top of an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Put inserts or replaces the record for rec.Request.ID.
func (s *Store) Put(ctx context.Context, rec *storage.Record) error {
	if rec == nil || rec.Request == nil || rec.Request.ID == "" {
		return fmt.Errorf("record without request id: %w", domain.ErrInvalidArgument)
	}

	reqJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	var respJSON []byte
	if rec.Response != nil {
		respJSON, err = json.Marshal(rec.Response)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO interventions (id, status, request, response, priority, assigned_to, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, request = EXCLUDED.request, response = EXCLUDED.response,
		    priority = EXCLUDED.priority, assigned_to = EXCLUDED.assigned_to
		WHERE interventions.status = 'pending'`,
		rec.Request.ID, rec.Status, reqJSON, respJSON,
		rec.Request.Priority, rec.Request.AssignedTo,
		rec.Request.CreatedAt, rec.Request.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("put intervention: %v: %w", err, domain.ErrUnavailable)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("intervention %s: %w", rec.Request.ID, domain.ErrAlreadyResolved)
	}
	return nil
}

// Get returns the record for the given request id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT status, request, response FROM interventions WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("intervention %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get intervention: %v: %w", err, domain.ErrUnavailable)
	}
	return rec, nil
}

// Scan returns all records matching the predicate. Rows are decoded and
// filtered in process; the predicate is an arbitrary Go function and
// cannot be pushed down.
func (s *Store) Scan(ctx context.Context, pred storage.Predicate) ([]*storage.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, request, response FROM interventions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("scan interventions: %v: %w", err, domain.ErrUnavailable)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intervention row: %w", err)
		}
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*storage.Record, error) {
	var (
		status   string
		reqJSON  []byte
		respJSON []byte
	)
	if err := row.Scan(&status, &reqJSON, &respJSON); err != nil {
		return nil, err
	}

	var req intervention.Request
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}

	rec := &storage.Record{
		Request: &req,
		Status:  intervention.Status(status),
	}
	if len(respJSON) > 0 {
		var resp intervention.Response
		if err := json.Unmarshal(respJSON, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		rec.Response = &resp
	}
	return rec, nil
}
