package orchestrator

import (
	"errors"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/capability"
	"github.com/mohammad-safakhou/scholar/internal/consolidate"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/planner"
)

// ErrInputUnavailable is wrapped by Domain.Seed when the query lacks the
// inputs a domain needs, for example a records directory that does not exist.
var ErrInputUnavailable = errors.New("domain input unavailable")

// Domain is one independent analysis area with its own capabilities.
type Domain interface {
	Name() string
	Description() string
	Registry() *capability.Registry
	// DefaultPlan is used when the planning oracle fails.
	DefaultPlan() planner.RawPlan
	Rules() consolidate.Rules
	FocusRules() []blackboard.FocusRule
	// Seed writes the query's inputs into a fresh blackboard.
	Seed(q core.Query, bb *blackboard.Blackboard) error
	// Collect turns the final blackboard into per-source records.
	Collect(q core.Query, bb *blackboard.Blackboard) []core.AnalysisRecord
}
