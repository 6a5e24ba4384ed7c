package executor

import (
	"context"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/planner"
	"github.com/mohammad-safakhou/scholar/internal/store"
)

type checkpointStore interface {
	UpsertCheckpoint(ctx context.Context, cp store.Checkpoint) error
}

// StoreCheckpointManager persists step checkpoints through the store. Stages
// are namespaced by domain so domains of one run do not collide.
type StoreCheckpointManager struct {
	store  checkpointStore
	domain string
}

// NewStoreCheckpointManager constructs a CheckpointManager backed by store.Store.
func NewStoreCheckpointManager(st checkpointStore, domain string) *StoreCheckpointManager {
	return &StoreCheckpointManager{store: st, domain: domain}
}

func (m *StoreCheckpointManager) StartRun(ctx context.Context, runID string) error {
	// no-op: progress is tracked per step
	return nil
}

func (m *StoreCheckpointManager) SaveStepStart(ctx context.Context, runID string, step planner.Step, attempt int) error {
	return m.save(ctx, runID, step, store.CheckpointStatusStarted, attempt, map[string]interface{}{
		"description": step.Description,
		"tier":        step.Tier,
	})
}

func (m *StoreCheckpointManager) SaveStepSuccess(ctx context.Context, runID string, step planner.Step, attempt int, written []blackboard.Slot) error {
	return m.save(ctx, runID, step, store.CheckpointStatusSucceeded, attempt, map[string]interface{}{
		"written": slotNames(written),
	})
}

func (m *StoreCheckpointManager) SaveStepFailure(ctx context.Context, runID string, step planner.Step, attempt int, err error) error {
	payload := map[string]interface{}{}
	if err != nil {
		payload["error"] = err.Error()
	}
	return m.save(ctx, runID, step, store.CheckpointStatusFailed, attempt, payload)
}

func (m *StoreCheckpointManager) SaveStepSkipped(ctx context.Context, runID string, step planner.Step, missing []blackboard.Slot) error {
	return m.save(ctx, runID, step, store.CheckpointStatusSkipped, 0, map[string]interface{}{
		"missing": slotNames(missing),
	})
}

func (m *StoreCheckpointManager) save(ctx context.Context, runID string, step planner.Step, status string, attempt int, payload map[string]interface{}) error {
	if m.store == nil {
		return nil
	}
	stage := step.Capability
	if m.domain != "" {
		stage = m.domain + "/" + stage
	}
	return m.store.UpsertCheckpoint(ctx, store.Checkpoint{
		RunID:   runID,
		Stage:   stage,
		Status:  status,
		Payload: payload,
		Attempt: attempt,
	})
}

var _ CheckpointManager = (*StoreCheckpointManager)(nil)
