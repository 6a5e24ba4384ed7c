package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/consolidate"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/executor"
	"github.com/mohammad-safakhou/scholar/internal/planner"
)

var orchestratorTracer = otel.Tracer("scholar/orchestrator")

// Phase is a per-domain progress marker.
type Phase string

const (
	PhasePlanning      Phase = "PLANNING"
	PhaseExecuting     Phase = "EXECUTING"
	PhaseConsolidating Phase = "CONSOLIDATING"
)

// PhaseFunc is notified when a domain run enters a phase.
type PhaseFunc func(Phase)

// SnapshotSaver persists a finished blackboard.
type SnapshotSaver interface {
	Save(ctx context.Context, runID, domain string, b *blackboard.Blackboard) error
}

// Orchestrator runs one domain: plan, execute, consolidate. It holds no
// per-query state and may serve concurrent queries.
type Orchestrator struct {
	domain       Domain
	planner      *planner.Planner
	executor     *executor.Executor
	consolidator *consolidate.Consolidator
	snapshots    SnapshotSaver
	logger       *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

type orchestratorConfig struct {
	execOpts  []executor.Option
	snapshots SnapshotSaver
	logger    *zap.Logger
}

// WithExecutorOptions passes options through to the domain's executor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(c *orchestratorConfig) { c.execOpts = append(c.execOpts, opts...) }
}

// WithSnapshots persists every finished blackboard.
func WithSnapshots(s SnapshotSaver) Option {
	return func(c *orchestratorConfig) { c.snapshots = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *orchestratorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds the orchestrator for domain.
func New(domain Domain, pl *planner.Planner, opts ...Option) *Orchestrator {
	cfg := orchestratorConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With(zap.String("domain", domain.Name()))
	execOpts := append([]executor.Option{
		executor.WithLogger(logger),
		executor.WithFocusDefaults(domain.FocusRules()...),
	}, cfg.execOpts...)
	return &Orchestrator{
		domain:       domain,
		planner:      pl,
		executor:     executor.New(execOpts...),
		consolidator: consolidate.New(domain.Rules(), logger),
		snapshots:    cfg.snapshots,
		logger:       logger.Named("orchestrator"),
	}
}

// Name returns the domain name.
func (o *Orchestrator) Name() string { return o.domain.Name() }

// Description returns the human description of the domain.
func (o *Orchestrator) Description() string { return o.domain.Description() }

// Run answers q within this domain on a private blackboard. A non-nil error
// means the domain could not run at all (ErrInputUnavailable) or ctx was
// cancelled; the returned report is still well-formed in the first case.
func (o *Orchestrator) Run(ctx context.Context, runID string, q core.Query, phase PhaseFunc) (core.DomainReport, error) {
	name := o.domain.Name()
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.domain", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("domain", name),
	))
	defer span.End()
	if phase == nil {
		phase = func(Phase) {}
	}
	report := core.NewDomainReport(name)

	bb := blackboard.New()
	if err := o.domain.Seed(q, bb); err != nil {
		o.logger.Warn("domain unavailable", zap.Error(err))
		if !errors.Is(err, ErrInputUnavailable) {
			err = fmt.Errorf("%w: %v", ErrInputUnavailable, err)
		}
		return report, err
	}

	phase(PhasePlanning)
	available := make([]string, 0)
	for _, s := range bb.Slots() {
		available = append(available, string(s))
	}
	res, err := o.planner.Plan(ctx, planner.Request{
		Domain:      name,
		Description: o.domain.Description(),
		Query:       q,
		Cards:       o.domain.Registry().Cards(),
		Available:   available,
	}, o.domain.Registry(), o.domain.DefaultPlan())
	if err != nil {
		return report, err
	}
	report.Errors = append(report.Errors, res.Errors...)
	report.Plan = core.PlanSummary{
		Outcome:     res.Outcome.Kind.String(),
		Steps:       res.Outcome.Plan.Names(),
		Rationale:   res.Outcome.Plan.Rationale,
		UsedDefault: res.UsedDefault,
	}
	q = adoptPlanHints(q, res.Raw, bb)
	plan, ok := res.Outcome.Valid()
	if !ok {
		o.logger.Info("nothing to execute", zap.String("outcome", report.Plan.Outcome))
		return report, nil
	}

	phase(PhaseExecuting)
	execRes, err := o.executor.Execute(ctx, runID, plan, o.domain.Registry(), bb)
	if err != nil {
		return core.NewDomainReport(name), err
	}

	phase(PhaseConsolidating)
	records := o.domain.Collect(q, execRes.Blackboard)
	consolidated := o.consolidator.Consolidate(name, records)
	for _, e := range execRes.Errors {
		e.Domain = name
		report.Errors = append(report.Errors, e)
	}
	report.Errors = append(report.Errors, consolidated.Errors...)
	report.Records = consolidated.Records
	report.Order = consolidated.Order
	report.Diagnostics = execRes.Diagnostics

	if o.snapshots != nil {
		if err := o.snapshots.Save(ctx, runID, name, execRes.Blackboard); err != nil {
			o.logger.Warn("snapshot failed", zap.Error(err))
		}
	}
	o.logger.Info("domain finished",
		zap.Strings("ran", execRes.Ran()),
		zap.Int("entities", len(report.Order)),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// adoptPlanHints fills the hints the query left empty with the ones the
// planner extracted, both on the query and on the blackboard. Hints the
// caller or the classifier supplied are never replaced.
func adoptPlanHints(q core.Query, raw planner.RawPlan, bb *blackboard.Blackboard) core.Query {
	entity := strings.TrimSpace(raw.EntityHint)
	topic := strings.TrimSpace(raw.TopicHint)
	if q.EntityHint == "" && entity != "" && !bb.Has(blackboard.EntityHint) {
		_ = blackboard.Seed(bb, blackboard.EntityHintKey, entity)
	}
	if q.TopicHint == "" && topic != "" && !bb.Has(blackboard.TopicHint) {
		_ = blackboard.Seed(bb, blackboard.TopicHintKey, topic)
	}
	return q.WithHints(entity, topic)
}
