package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/capability"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/planner"
)

var executorTracer = otel.Tracer("scholar/executor")

// Status is the final state of one step.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StepResult records what happened to one plan step.
type StepResult struct {
	Step     string
	Status   Status
	Attempts int
	Duration time.Duration
	Written  []blackboard.Slot
	Missing  []blackboard.Slot
}

// Result is the outcome of running a plan. The blackboard is the one passed
// in, mutated by committed steps.
type Result struct {
	Blackboard  *blackboard.Blackboard
	Steps       []StepResult
	Errors      []core.ErrorRecord
	Diagnostics []core.Diagnostic
}

// Ran returns the names of steps whose capability was invoked.
func (r Result) Ran() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Status != StatusSkipped {
			out = append(out, s.Step)
		}
	}
	return out
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	RetryCounter func(ctx context.Context, step string, attempt int)
	Duration     func(ctx context.Context, step string, status Status, d time.Duration)
}

// Executor runs compiled plans one step at a time.
type Executor struct {
	checkpoints CheckpointManager
	metrics     Metrics
	stepTimeout time.Duration
	retryDelay  time.Duration
	focus       []blackboard.FocusRule
	logger      *zap.Logger
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithCheckpointManager sets the checkpoint manager implementation.
func WithCheckpointManager(mgr CheckpointManager) Option {
	return func(ex *Executor) {
		ex.checkpoints = mgr
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

// WithStepTimeout bounds steps whose card declares no timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(ex *Executor) {
		ex.stepTimeout = d
	}
}

// WithRetryDelay sets the pause between attempts of a retried step.
func WithRetryDelay(d time.Duration) Option {
	return func(ex *Executor) {
		ex.retryDelay = d
	}
}

// WithFocusDefaults registers current-item defaults. After a step commits
// a rule's collection slot, the first item becomes the current item unless
// the plan contains a step that produces the current slot itself.
func WithFocusDefaults(rules ...blackboard.FocusRule) Option {
	return func(ex *Executor) {
		ex.focus = append(ex.focus, rules...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ex *Executor) {
		if l != nil {
			ex.logger = l
		}
	}
}

// New creates a new Executor instance.
func New(opts ...Option) *Executor {
	ex := &Executor{stepTimeout: 60 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ex)
	}
	if ex.checkpoints == nil {
		ex.checkpoints = NewNoopCheckpointManager()
	}
	ex.logger = ex.logger.Named("executor")
	return ex
}

// Resolver looks up the capability behind a plan step.
type Resolver interface {
	Resolve(name string) (capability.Capability, error)
}

// Execute runs plan against bb in compiled order. A failing step becomes an
// ErrorRecord and the run continues; a step whose required slots are absent
// is skipped with a diagnostic. The returned error is non-nil only when ctx
// is cancelled, in which case the partial result must be discarded.
func (e *Executor) Execute(ctx context.Context, runID string, plan planner.Plan, reg Resolver, bb *blackboard.Blackboard) (Result, error) {
	if bb == nil {
		bb = blackboard.New()
	}
	res := Result{Blackboard: bb}
	if err := e.checkpoints.StartRun(ctx, runID); err != nil {
		e.logger.Warn("checkpoint start failed", zap.String("run", runID), zap.Error(err))
	}
	explicitFocus := e.explicitFocus(plan, reg)

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c, err := reg.Resolve(step.Capability)
		if err != nil {
			res.Errors = append(res.Errors, core.StepError(step.Capability, core.UnknownCapability, err))
			continue
		}
		card := c.Card()

		if missing := bb.Missing(card.Requires); len(missing) > 0 {
			res.Steps = append(res.Steps, StepResult{Step: step.Capability, Status: StatusSkipped, Missing: missing})
			res.Diagnostics = append(res.Diagnostics, core.Diagnostic{
				Step:    step.Capability,
				Kind:    string(core.MissingPrerequisite),
				Missing: slotNames(missing),
				Message: fmt.Sprintf("skipped: missing prerequisite %v", missing),
			})
			e.logger.Debug("step skipped", zap.String("step", step.Capability), zap.Strings("missing", slotNames(missing)))
			e.checkpoint(ctx, func() error { return e.checkpoints.SaveStepSkipped(ctx, runID, step, missing) })
			continue
		}

		sr, recErr := e.runWithRetries(ctx, runID, step, c, bb)
		if ctx.Err() != nil {
			res.Steps = append(res.Steps, sr)
			return res, ctx.Err()
		}
		if recErr != nil {
			res.Errors = append(res.Errors, *recErr)
		} else {
			e.applyFocus(bb, sr.Written, explicitFocus)
		}
		res.Steps = append(res.Steps, sr)
	}
	return res, nil
}

func (e *Executor) runWithRetries(ctx context.Context, runID string, step planner.Step, c capability.Capability, bb *blackboard.Blackboard) (StepResult, *core.ErrorRecord) {
	card := c.Card()
	ctx, span := executorTracer.Start(ctx, "executor.step", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("capability", card.Name),
		attribute.Int("tier", card.Tier),
	))
	defer span.End()

	sr := StepResult{Step: step.Capability}
	maxRetries := card.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		sr.Attempts = attempt + 1
		e.checkpoint(ctx, func() error { return e.checkpoints.SaveStepStart(ctx, runID, step, attempt+1) })

		out, err := e.invoke(ctx, c, bb)
		if err == nil {
			err = bb.Commit(out)
		}
		if err == nil {
			sr.Status = StatusSucceeded
			sr.Written = out.Staged()
			sr.Duration = time.Since(start)
			e.checkpoint(ctx, func() error { return e.checkpoints.SaveStepSuccess(ctx, runID, step, attempt+1, sr.Written) })
			e.observe(ctx, card.Name, sr.Status, sr.Duration)
			e.logger.Debug("step succeeded", zap.String("step", card.Name), zap.Duration("took", sr.Duration))
			return sr, nil
		}
		lastErr = err
		e.checkpoint(ctx, func() error { return e.checkpoints.SaveStepFailure(ctx, runID, step, attempt+1, err) })
		if ctx.Err() != nil {
			break
		}
		if attempt < maxRetries {
			if e.metrics.RetryCounter != nil {
				e.metrics.RetryCounter(ctx, card.Name, attempt+1)
			}
			if e.retryDelay > 0 {
				select {
				case <-time.After(e.retryDelay):
				case <-ctx.Done():
				}
			}
		}
	}

	sr.Status = StatusFailed
	sr.Duration = time.Since(start)
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	e.observe(ctx, card.Name, sr.Status, sr.Duration)
	e.logger.Warn("step failed", zap.String("step", card.Name), zap.Int("attempts", sr.Attempts), zap.Error(lastErr))
	rec := core.StepError(card.Name, core.CapabilityExecutionFailure, lastErr)
	return sr, &rec
}

type invocation struct {
	out *blackboard.Output
	err error
}

// invoke runs one attempt with containment: panics are recovered and the
// attempt is abandoned when it exceeds its timeout.
func (e *Executor) invoke(ctx context.Context, c capability.Capability, bb *blackboard.Blackboard) (*blackboard.Output, error) {
	card := c.Card()
	timeout := card.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	view := blackboard.NewView(bb, card.Name, card.Readable()...)
	done := make(chan invocation, 1)
	go func() {
		out := blackboard.NewOutput(card.Name, card.Produces, card.Owns)
		var err error
		defer func() {
			if r := recover(); r != nil {
				if ae, ok := r.(*blackboard.AccessError); ok {
					err = ae
				} else {
					err = fmt.Errorf("panic: %v", r)
					e.logger.Error("capability panicked", zap.String("step", card.Name), zap.ByteString("stack", debug.Stack()))
				}
			}
			done <- invocation{out: out, err: err}
		}()
		err = c.Run(stepCtx, view, out)
	}()

	select {
	case inv := <-done:
		return inv.out, inv.err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("timed out after %s", timeout)
	}
}

func (e *Executor) explicitFocus(plan planner.Plan, reg Resolver) map[blackboard.Slot]bool {
	out := make(map[blackboard.Slot]bool)
	for _, step := range plan.Steps {
		c, err := reg.Resolve(step.Capability)
		if err != nil {
			continue
		}
		for _, s := range c.Card().Produces {
			out[s] = true
		}
	}
	return out
}

func (e *Executor) applyFocus(bb *blackboard.Blackboard, written []blackboard.Slot, planned map[blackboard.Slot]bool) {
	for _, rule := range e.focus {
		if planned[rule.Current] || !containsSlot(written, rule.Collection) {
			continue
		}
		if rule.Apply(bb) {
			e.logger.Info("default focus selected first item",
				zap.String("collection", string(rule.Collection)),
				zap.String("current", string(rule.Current)))
		}
	}
}

func (e *Executor) checkpoint(ctx context.Context, fn func() error) {
	if err := fn(); err != nil {
		e.logger.Warn("checkpoint failed", zap.Error(err))
	}
}

func (e *Executor) observe(ctx context.Context, step string, status Status, d time.Duration) {
	if e.metrics.Duration != nil {
		e.metrics.Duration(ctx, step, status, d)
	}
}

func containsSlot(slots []blackboard.Slot, want blackboard.Slot) bool {
	for _, s := range slots {
		if s == want {
			return true
		}
	}
	return false
}

func slotNames(slots []blackboard.Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = string(s)
	}
	return out
}
