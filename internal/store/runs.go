package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// RunRecord is one answered (or failed) query.
type RunRecord struct {
	ID        string
	Query     string
	State     string
	Domains   []string
	Report    json.RawMessage
	Narrative string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveRun inserts or updates a run.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run id is required")
	}
	report := rec.Report
	if len(report) == 0 {
		report = json.RawMessage(`{}`)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (id, query, state, domains, report, narrative, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
ON CONFLICT (id) DO UPDATE SET
  state      = EXCLUDED.state,
  domains    = EXCLUDED.domains,
  report     = EXCLUDED.report,
  narrative  = EXCLUDED.narrative,
  error      = EXCLUDED.error,
  updated_at = NOW();
`, rec.ID, rec.Query, rec.State, pq.Array(rec.Domains), []byte(report), rec.Narrative, rec.Error)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	countRun(ctx, rec.State)
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var (
		rec    RunRecord
		report []byte
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, query, state, domains, report, narrative, error, created_at, updated_at
FROM runs
WHERE id = $1`, id)
	err := row.Scan(&rec.ID, &rec.Query, &rec.State, pq.Array(&rec.Domains), &report, &rec.Narrative, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, err
	}
	rec.Report = json.RawMessage(report)
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id::text, query, state, domains, narrative, error, created_at, updated_at
FROM runs
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.State, pq.Array(&rec.Domains), &rec.Narrative, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
