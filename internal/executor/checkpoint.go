package executor

import (
	"context"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/planner"
)

// CheckpointManager records step progress so a run can be inspected later.
// Attempts are numbered from 1; skipped steps carry attempt 0.
type CheckpointManager interface {
	StartRun(ctx context.Context, runID string) error
	SaveStepStart(ctx context.Context, runID string, step planner.Step, attempt int) error
	SaveStepSuccess(ctx context.Context, runID string, step planner.Step, attempt int, written []blackboard.Slot) error
	SaveStepFailure(ctx context.Context, runID string, step planner.Step, attempt int, err error) error
	SaveStepSkipped(ctx context.Context, runID string, step planner.Step, missing []blackboard.Slot) error
}

// NoopCheckpointManager is a default implementation that records nothing.
type NoopCheckpointManager struct{}

// NewNoopCheckpointManager returns a checkpoint manager that does nothing.
func NewNoopCheckpointManager() *NoopCheckpointManager { return &NoopCheckpointManager{} }

func (NoopCheckpointManager) StartRun(ctx context.Context, runID string) error { return nil }
func (NoopCheckpointManager) SaveStepStart(ctx context.Context, runID string, step planner.Step, attempt int) error {
	return nil
}
func (NoopCheckpointManager) SaveStepSuccess(ctx context.Context, runID string, step planner.Step, attempt int, written []blackboard.Slot) error {
	return nil
}
func (NoopCheckpointManager) SaveStepFailure(ctx context.Context, runID string, step planner.Step, attempt int, err error) error {
	return nil
}
func (NoopCheckpointManager) SaveStepSkipped(ctx context.Context, runID string, step planner.Step, missing []blackboard.Slot) error {
	return nil
}
