package planner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/capability"
	"github.com/mohammad-safakhou/scholar/internal/core"
)

// Request is what the planning oracle sees.
type Request struct {
	Domain      string
	Description string
	Query       core.Query
	Cards       []capability.Card
	Available   []string
}

// Oracle designs a raw plan. Implementations are untrusted.
type Oracle interface {
	DesignPlan(ctx context.Context, req Request) (RawPlan, error)
}

// Result is the outcome of planning for one domain.
type Result struct {
	Outcome     Outcome
	Raw         RawPlan
	UsedDefault bool
	Errors      []core.ErrorRecord
}

// Planner asks the oracle for a plan, falls back to a conservative default
// when the oracle fails, and compiles the result.
type Planner struct {
	oracle  Oracle
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithTimeout bounds each oracle call.
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) { p.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a Planner. A nil oracle always uses the fallback plan.
func New(oracle Oracle, opts ...Option) *Planner {
	p := &Planner{oracle: oracle, timeout: 30 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("planner")
	return p
}

// Plan produces a compiled outcome for req. The returned error is non-nil
// only when ctx itself was cancelled; oracle failures degrade to fallback.
func (p *Planner) Plan(ctx context.Context, req Request, reg Resolver, fallback RawPlan) (Result, error) {
	raw, err := p.design(ctx, req)
	res := Result{}
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		p.logger.Warn("planning oracle failed, using default plan",
			zap.String("domain", req.Domain), zap.Error(err))
		res.Errors = append(res.Errors, core.ErrorRecord{
			Domain:  req.Domain,
			Step:    "design_plan",
			Kind:    core.PlanningFailure,
			Message: fmt.Sprintf("%v; default plan used", err),
		})
		raw = fallback
		res.UsedDefault = true
	}
	res.Raw = raw
	res.Outcome = Compile(raw, reg)
	for _, w := range res.Outcome.Warnings {
		p.logger.Warn("plan step dropped",
			zap.String("domain", req.Domain),
			zap.String("capability", w.Capability),
			zap.String("reason", w.Reason))
		rec := w.ErrorRecord()
		rec.Domain = req.Domain
		res.Errors = append(res.Errors, rec)
	}
	p.logger.Info("plan compiled",
		zap.String("domain", req.Domain),
		zap.String("outcome", res.Outcome.Kind.String()),
		zap.Strings("steps", res.Outcome.Plan.Names()),
		zap.Bool("default", res.UsedDefault))
	return res, nil
}

func (p *Planner) design(ctx context.Context, req Request) (RawPlan, error) {
	if p.oracle == nil {
		return RawPlan{}, fmt.Errorf("no planning oracle configured")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.oracle.DesignPlan(ctx, req)
}
