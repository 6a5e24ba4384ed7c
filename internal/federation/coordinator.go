package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/scholar/internal/budget"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/orchestrator"
	"github.com/mohammad-safakhou/scholar/internal/store"
)

var federationTracer = otel.Tracer("scholar/federation")

const (
	defaultClassifyTimeout  = 30 * time.Second
	defaultDomainTimeout    = 5 * time.Minute
	defaultSynthesisTimeout = 60 * time.Second
)

// DomainInfo is what the classifier sees of a domain.
type DomainInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Classification is the classifier's routing decision.
type Classification struct {
	Domains    []string `json:"domains"`
	EntityHint string   `json:"entity_hint,omitempty"`
	TopicHint  string   `json:"topic_hint,omitempty"`
}

// Classifier decides which domains a query needs.
type Classifier interface {
	Classify(ctx context.Context, q core.Query, domains []DomainInfo) (Classification, error)
}

// Synthesizer turns a merged report into a narrative answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, q core.Query, report core.FederatedReport) (string, error)
}

// DomainRunner is a domain orchestrator as seen by the coordinator.
type DomainRunner interface {
	Name() string
	Description() string
	Run(ctx context.Context, runID string, q core.Query, phase orchestrator.PhaseFunc) (core.DomainReport, error)
}

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, r store.RunRecord) error
}

// CheckpointPurger is implemented by run stores that also hold step
// checkpoints. A cancelled run's checkpoints are discarded with it.
type CheckpointPurger interface {
	DeleteCheckpoints(ctx context.Context, runID string) error
}

// Answer is the outcome of one query.
type Answer struct {
	RunID       string               `json:"run_id"`
	State       State                `json:"state"`
	Report      core.FederatedReport `json:"report"`
	Narrative   string               `json:"narrative"`
	Limitations []string             `json:"limitations"`
	Transitions []Transition         `json:"transitions"`
}

// Coordinator classifies a query, fans it out to the selected domains in
// parallel, merges their reports and asks for a narrative. It keeps no
// per-query state between calls.
type Coordinator struct {
	domains     []DomainRunner
	byName      map[string]DomainRunner
	classifier  Classifier
	synthesizer Synthesizer
	observer    Observer
	runs        RunStore
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
	budget      budget.Config

	classifyTimeout  time.Duration
	domainTimeout    time.Duration
	synthesisTimeout time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClassifyTimeout bounds the classification call.
func WithClassifyTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.classifyTimeout = d }
}

// WithDomainTimeout bounds each domain run. Zero disables the bound.
func WithDomainTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.domainTimeout = d }
}

// WithSynthesisTimeout bounds the synthesis call.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.synthesisTimeout = d }
}

// WithObserver receives every state transition.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithRunStore persists every finished run that was not cancelled.
func WithRunStore(s RunStore) Option {
	return func(c *Coordinator) { c.runs = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBudget caps oracle usage per query. Calls beyond the budget fail
// through the metered client and degrade like any other oracle failure.
func WithBudget(cfg budget.Config) Option {
	return func(c *Coordinator) { c.budget = cfg }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides how run IDs are minted for queries without one.
func WithIDGenerator(f func() string) Option {
	return func(c *Coordinator) { c.newID = f }
}

// New builds a coordinator over domains. Domain names must be unique.
func New(domains []DomainRunner, classifier Classifier, synthesizer Synthesizer, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		byName:           make(map[string]DomainRunner, len(domains)),
		classifier:       classifier,
		synthesizer:      synthesizer,
		logger:           zap.NewNop(),
		now:              time.Now,
		newID:            func() string { return uuid.NewString() },
		classifyTimeout:  defaultClassifyTimeout,
		domainTimeout:    defaultDomainTimeout,
		synthesisTimeout: defaultSynthesisTimeout,
	}
	for _, d := range domains {
		if d == nil {
			continue
		}
		name := d.Name()
		if name == "" {
			return nil, errors.New("domain with empty name")
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("duplicate domain %q", name)
		}
		c.byName[name] = d
		c.domains = append(c.domains, d)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("federation")
	return c, nil
}

// Domains describes every registered domain in registration order.
func (c *Coordinator) Domains() []DomainInfo {
	out := make([]DomainInfo, 0, len(c.domains))
	for _, d := range c.domains {
		out = append(out, DomainInfo{Name: d.Name(), Description: d.Description()})
	}
	return out
}

func (c *Coordinator) allNames() []string {
	out := make([]string, 0, len(c.domains))
	for _, d := range c.domains {
		out = append(out, d.Name())
	}
	return out
}

// Classify selects the domains q needs. On any classifier failure every
// registered domain is selected and a ClassificationFailure is returned
// alongside. Unknown names are dropped and the result follows registration
// order.
func (c *Coordinator) Classify(ctx context.Context, q core.Query) (Classification, *core.ErrorRecord) {
	fallback := func(err error) (Classification, *core.ErrorRecord) {
		c.logger.Warn("classification failed, consulting all domains", zap.Error(err))
		rec := core.ErrorRecord{Kind: core.ClassificationFailure, Message: err.Error()}
		return Classification{Domains: c.allNames()}, &rec
	}
	if c.classifier == nil {
		return fallback(errors.New("no classifier configured"))
	}
	cctx := ctx
	if c.classifyTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.classifyTimeout)
		defer cancel()
	}
	cls, err := c.classifier.Classify(cctx, q, c.Domains())
	if err != nil {
		return fallback(err)
	}
	wanted := make(map[string]bool, len(cls.Domains))
	for _, name := range cls.Domains {
		name = strings.TrimSpace(name)
		if _, ok := c.byName[name]; !ok {
			c.logger.Debug("classifier named unknown domain", zap.String("domain", name))
			continue
		}
		wanted[name] = true
	}
	selected := make([]string, 0, len(wanted))
	for _, name := range c.allNames() {
		if wanted[name] {
			selected = append(selected, name)
		}
	}
	cls.Domains = selected
	return cls, nil
}

// Route runs the named domains concurrently, each on its own blackboard
// and under its own deadline, and waits for all of them. A domain that
// times out or has no inputs yields an empty report plus a domain-level
// error; the others are unaffected. Only cancellation of ctx is returned.
func (c *Coordinator) Route(ctx context.Context, runID string, q core.Query, domains []string) (map[string]core.DomainReport, []core.ErrorRecord, error) {
	return c.route(ctx, runID, q, domains, nil)
}

type domainOutcome struct {
	report core.DomainReport
	err    *core.ErrorRecord
}

func (c *Coordinator) route(ctx context.Context, runID string, q core.Query, domains []string, tr *tracker) (map[string]core.DomainReport, []core.ErrorRecord, error) {
	outcomes := make([]domainOutcome, len(domains))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range domains {
		runner, ok := c.byName[name]
		if !ok {
			outcomes[i] = domainOutcome{report: core.NewDomainReport(name), err: &core.ErrorRecord{
				Domain: name, Kind: core.DomainUnavailable, Message: "domain is not registered",
			}}
			continue
		}
		g.Go(func() error {
			outcomes[i] = c.runDomain(gctx, runID, q, runner, tr)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	reports := make(map[string]core.DomainReport, len(domains))
	var errs []core.ErrorRecord
	for i, name := range domains {
		reports[name] = outcomes[i].report
		if outcomes[i].err != nil {
			errs = append(errs, *outcomes[i].err)
		}
	}
	return reports, errs, nil
}

func (c *Coordinator) runDomain(ctx context.Context, runID string, q core.Query, runner DomainRunner, tr *tracker) domainOutcome {
	name := runner.Name()
	logger := c.logger.With(zap.String("run_id", runID), zap.String("domain", name))
	dctx := ctx
	cancel := context.CancelFunc(func() {})
	if c.domainTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, c.domainTimeout)
	}
	defer cancel()

	phase := func(p orchestrator.Phase) {
		if tr != nil {
			tr.move(ctx, State(p), name, "")
		}
	}

	type result struct {
		report core.DomainReport
		err    error
	}
	done := make(chan result, 1)
	start := c.now()
	go func() {
		report, err := runner.Run(dctx, runID, q, phase)
		done <- result{report: report, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-dctx.Done():
		res = result{report: core.NewDomainReport(name), err: dctx.Err()}
	}
	elapsed := c.now().Sub(start)

	switch {
	case res.err == nil:
		logger.Info("domain completed", zap.Duration("elapsed", elapsed), zap.Int("entities", len(res.report.Order)))
		return domainOutcome{report: res.report}
	case ctx.Err() != nil:
		return domainOutcome{report: core.NewDomainReport(name)}
	case errors.Is(res.err, context.DeadlineExceeded):
		logger.Warn("domain timed out", zap.Duration("elapsed", elapsed))
		return domainOutcome{report: core.NewDomainReport(name), err: &core.ErrorRecord{
			Domain:  name,
			Kind:    core.FederationTimeout,
			Message: fmt.Sprintf("domain did not finish within %s", c.domainTimeout),
		}}
	default:
		logger.Warn("domain unavailable", zap.Error(res.err))
		report := res.report
		if report.Domain == "" {
			report = core.NewDomainReport(name)
		}
		return domainOutcome{report: report, err: &core.ErrorRecord{
			Domain:  name,
			Kind:    core.DomainUnavailable,
			Message: res.err.Error(),
		}}
	}
}

// Merge collects domain reports into one federated report. Domains keep
// separate namespaces; nothing is merged across them.
func (c *Coordinator) Merge(q core.Query, requested []string, reports map[string]core.DomainReport, errs []core.ErrorRecord) core.FederatedReport {
	out := core.NewFederatedReport(q)
	asked := make(map[string]bool, len(requested))
	for _, name := range requested {
		asked[name] = true
		out.Requested = append(out.Requested, name)
	}
	for _, d := range c.domains {
		out.Descriptions[d.Name()] = d.Description()
		if !asked[d.Name()] {
			out.NotConsulted = append(out.NotConsulted, d.Name())
		}
	}
	for name, r := range reports {
		out.Domains[name] = r
	}
	out.Errors = append(out.Errors, errs...)
	return out
}

// Answer runs the full state machine for q. A returned error is always a
// *FailureError; on ErrNoPlan and ErrSynthesisUnavailable the partial
// answer is returned with it, on cancellation nothing is kept.
func (c *Coordinator) Answer(ctx context.Context, q core.Query) (*Answer, error) {
	runID := q.ID
	if runID == "" {
		runID = c.newID()
		q.ID = runID
	}
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = c.now()
	}
	ctx, span := federationTracer.Start(ctx, "federation.answer", trace.WithAttributes(
		attribute.String("run_id", runID),
	))
	defer span.End()
	logger := c.logger.With(zap.String("run_id", runID))
	if !c.budget.IsZero() {
		mon := budget.NewMonitor(c.budget)
		ctx = budget.WithMonitor(ctx, mon)
		defer func() {
			tokens, calls := mon.Usage()
			logger.Debug("oracle usage", zap.Int64("tokens", tokens), zap.Int("calls", calls))
		}()
	}

	tr := newTracker(runID, c.observer, c.now)
	tr.move(ctx, StateReceived, "", "")

	cls, clsErr := c.Classify(ctx, q)
	if err := ctx.Err(); err != nil {
		return nil, c.cancelled(ctx, span, tr, err)
	}
	q = q.WithHints(cls.EntityHint, cls.TopicHint)
	tr.move(ctx, StateClassified, "", strings.Join(cls.Domains, ","))
	logger.Info("query classified", zap.Strings("domains", cls.Domains), zap.Bool("fallback", clsErr != nil))

	reports, domainErrs, err := c.route(ctx, runID, q, cls.Domains, tr)
	if err != nil {
		return nil, c.cancelled(ctx, span, tr, err)
	}

	tr.move(ctx, StateMerging, "", "")
	var errs []core.ErrorRecord
	if clsErr != nil {
		errs = append(errs, *clsErr)
	}
	errs = append(errs, domainErrs...)
	report := c.Merge(q, cls.Domains, reports, errs)
	ans := &Answer{RunID: runID, Report: report, Limitations: report.Limitations()}

	if noPlanFormed(report) {
		return ans, c.fail(ctx, span, tr, ans, ErrNoPlan)
	}

	narrative, err := c.synthesize(ctx, q, report)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.cancelled(ctx, span, tr, ctxErr)
		}
		logger.Warn("synthesis failed", zap.Error(err))
		return ans, c.fail(ctx, span, tr, ans, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err))
	}
	ans.Narrative = withLimitations(narrative, ans.Limitations)

	tr.move(ctx, StateSynthesized, "", "")
	ans.State = tr.state()
	ans.Transitions = tr.transitions()
	c.persist(ctx, ans, nil)
	logger.Info("query answered", zap.Int("domains", len(report.Domains)), zap.Int("errors", len(report.Errors)))
	return ans, nil
}

func (c *Coordinator) synthesize(ctx context.Context, q core.Query, report core.FederatedReport) (string, error) {
	if c.synthesizer == nil {
		return "", errors.New("no synthesizer configured")
	}
	sctx := ctx
	if c.synthesisTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, c.synthesisTimeout)
		defer cancel()
	}
	return c.synthesizer.Synthesize(sctx, q, report)
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, tr *tracker, ans *Answer, err error) error {
	last := tr.state()
	tr.move(ctx, StateFailed, "", err.Error())
	ans.State = tr.state()
	ans.Transitions = tr.transitions()
	span.SetStatus(codes.Error, err.Error())
	c.persist(ctx, ans, err)
	return &FailureError{RunID: ans.RunID, State: last, Err: err}
}

// cancelled ends the run without persisting any partial state.
func (c *Coordinator) cancelled(ctx context.Context, span trace.Span, tr *tracker, err error) error {
	last := tr.state()
	tr.move(context.WithoutCancel(ctx), StateFailed, "", err.Error())
	span.SetStatus(codes.Error, err.Error())
	c.logger.Info("query cancelled", zap.String("run_id", tr.runID), zap.String("state", string(last)))
	if p, ok := c.runs.(CheckpointPurger); ok {
		if perr := p.DeleteCheckpoints(context.WithoutCancel(ctx), tr.runID); perr != nil {
			c.logger.Warn("discard checkpoints", zap.String("run_id", tr.runID), zap.Error(perr))
		}
	}
	return &FailureError{RunID: tr.runID, State: last, Err: err}
}

func (c *Coordinator) persist(ctx context.Context, ans *Answer, runErr error) {
	if c.runs == nil {
		return
	}
	raw, err := json.Marshal(ans.Report)
	if err != nil {
		c.logger.Warn("encode report", zap.String("run_id", ans.RunID), zap.Error(err))
		return
	}
	rec := store.RunRecord{
		ID:        ans.RunID,
		Query:     ans.Report.Query.Text,
		State:     string(ans.State),
		Domains:   ans.Report.Requested,
		Report:    raw,
		Narrative: ans.Narrative,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := c.runs.SaveRun(ctx, rec); err != nil {
		c.logger.Warn("persist run", zap.String("run_id", ans.RunID), zap.Error(err))
	}
}

// noPlanFormed reports whether every requested domain reached its planner
// and came back with an empty plan. Domains that timed out or were
// unavailable never planned and leave the run answerable with limitations.
func noPlanFormed(r core.FederatedReport) bool {
	if len(r.Requested) == 0 {
		return false
	}
	for _, name := range r.Requested {
		if len(r.DomainErrors(name)) > 0 || r.Domains[name].Plan.Outcome != "empty" {
			return false
		}
	}
	return true
}

func withLimitations(narrative string, limitations []string) string {
	if len(limitations) == 0 {
		return narrative
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(narrative, "\n"))
	b.WriteString("\n\nLimitations:\n")
	for _, l := range limitations {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}
