package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Step checkpoint statuses.
const (
	CheckpointStatusStarted   = "started"
	CheckpointStatusSucceeded = "succeeded"
	CheckpointStatusFailed    = "failed"
	CheckpointStatusSkipped   = "skipped"
)

// Checkpoint captures durable progress for one step of a run.
type Checkpoint struct {
	RunID     string
	Stage     string
	Status    string
	Payload   map[string]interface{}
	Attempt   int
	UpdatedAt time.Time
}

// UpsertCheckpoint persists checkpoint progress for a run stage.
func (s *Store) UpsertCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.RunID == "" || cp.Stage == "" {
		return fmt.Errorf("run_id and stage are required")
	}
	payloadBytes, err := json.Marshal(cp.Payload)
	if err != nil {
		return fmt.Errorf("marshal checkpoint payload: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO step_checkpoints (run_id, stage, status, payload, attempt, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (run_id, stage) DO UPDATE SET
  status     = EXCLUDED.status,
  payload    = EXCLUDED.payload,
  attempt    = EXCLUDED.attempt,
  updated_at = NOW();
`, cp.RunID, cp.Stage, cp.Status, payloadBytes, cp.Attempt)
	if err != nil {
		return err
	}
	countCheckpoint(ctx, cp.Status)
	return nil
}

// ListCheckpoints returns every checkpoint of a run ordered by update time.
func (s *Store) ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id::text, stage, status, payload, attempt, updated_at
FROM step_checkpoints
WHERE run_id = $1
ORDER BY updated_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Checkpoint
	for rows.Next() {
		var (
			cp           Checkpoint
			payloadBytes []byte
		)
		if err := rows.Scan(&cp.RunID, &cp.Stage, &cp.Status, &payloadBytes, &cp.Attempt, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		if len(payloadBytes) > 0 {
			var m map[string]interface{}
			_ = json.Unmarshal(payloadBytes, &m)
			cp.Payload = m
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// DeleteCheckpoints removes every checkpoint of a run.
func (s *Store) DeleteCheckpoints(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM step_checkpoints WHERE run_id = $1`, runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		countCheckpoint(ctx, "deleted")
	}
	return nil
}
