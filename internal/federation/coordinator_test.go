package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mohammad-safakhou/scholar/internal/budget"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/orchestrator"
	"github.com/mohammad-safakhou/scholar/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDomain struct {
	name string
	desc string
	run  func(ctx context.Context, q core.Query) (core.DomainReport, error)
}

func (d *fakeDomain) Name() string        { return d.name }
func (d *fakeDomain) Description() string { return d.desc }
func (d *fakeDomain) Run(ctx context.Context, runID string, q core.Query, phase orchestrator.PhaseFunc) (core.DomainReport, error) {
	phase(orchestrator.PhasePlanning)
	return d.run(ctx, q)
}

type fakeClassifier struct {
	out Classification
	err error
}

func (c fakeClassifier) Classify(ctx context.Context, q core.Query, domains []DomainInfo) (Classification, error) {
	return c.out, c.err
}

type fakeSynth struct {
	mu     sync.Mutex
	text   string
	err    error
	calls  int
	report core.FederatedReport
}

func (s *fakeSynth) Synthesize(ctx context.Context, q core.Query, report core.FederatedReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.report = report
	return s.text, s.err
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []store.RunRecord
}

func (r *fakeRuns) SaveRun(ctx context.Context, rec store.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, rec)
	return nil
}

type purgingRuns struct {
	fakeRuns
	purged []string
}

func (r *purgingRuns) DeleteCheckpoints(ctx context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.purged = append(r.purged, runID)
	return nil
}

type recordingObserver struct {
	mu  sync.Mutex
	all []Transition
}

func (o *recordingObserver) OnTransition(ctx context.Context, t Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, t)
}

func (o *recordingObserver) global() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []State
	for _, t := range o.all {
		if t.Domain == "" {
			out = append(out, t.State)
		}
	}
	return out
}

func planned(name string, entities ...string) core.DomainReport {
	r := core.NewDomainReport(name)
	r.Plan = core.PlanSummary{Outcome: "valid", Steps: []string{"step"}}
	for _, e := range entities {
		r.Order = append(r.Order, e)
		r.Records[e] = core.ConsolidatedRecord{Entity: e, Fields: map[string]any{"grade": 90}, Sources: []string{"a.csv"}}
	}
	return r
}

func imageDomain() *fakeDomain {
	return &fakeDomain{name: "image", desc: "classroom image", run: func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		return planned("image", "Ada"), nil
	}}
}

func recordsDomain(run func(ctx context.Context, q core.Query) (core.DomainReport, error)) *fakeDomain {
	if run == nil {
		run = func(ctx context.Context, q core.Query) (core.DomainReport, error) {
			return planned("records", "STU100"), nil
		}
	}
	return &fakeDomain{name: "records", desc: "academic records", run: run}
}

func newCoordinator(t *testing.T, domains []DomainRunner, cls Classifier, synth Synthesizer, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithIDGenerator(func() string { return "run-1" })}, opts...)
	c, err := New(domains, cls, synth, opts...)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func TestNewRejectsDuplicateDomains(t *testing.T) {
	if _, err := New([]DomainRunner{imageDomain(), imageDomain()}, nil, nil); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
}

func TestAnswerWithNoDomainsRequested(t *testing.T) {
	synth := &fakeSynth{text: "Nothing to analyse."}
	obs := &recordingObserver{}
	c := newCoordinator(t, []DomainRunner{imageDomain(), recordsDomain(nil)},
		fakeClassifier{out: Classification{Domains: []string{}}}, synth, WithObserver(obs))

	ans, err := c.Answer(context.Background(), core.Query{Text: "hello"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(ans.Report.Domains) != 0 || len(ans.Report.Requested) != 0 {
		t.Fatalf("expected empty report, got %+v", ans.Report)
	}
	if ans.State != StateSynthesized || synth.calls != 1 {
		t.Fatalf("state=%s calls=%d", ans.State, synth.calls)
	}
	want := []State{StateReceived, StateClassified, StateMerging, StateSynthesized}
	if got := obs.global(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	if !strings.Contains(ans.Narrative, "No academic records data was used") {
		t.Fatalf("narrative should state limitations: %q", ans.Narrative)
	}
}

func TestAnswerPartialWhenRecordsMissing(t *testing.T) {
	records := recordsDomain(func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		return core.NewDomainReport("records"), fmt.Errorf("%w: directory /nope does not exist", orchestrator.ErrInputUnavailable)
	})
	synth := &fakeSynth{text: "Ada looks engaged."}
	runs := &fakeRuns{}
	c := newCoordinator(t, []DomainRunner{imageDomain(), records},
		fakeClassifier{out: Classification{Domains: []string{"records", "image"}}}, synth, WithRunStore(runs))

	ans, err := c.Answer(context.Background(), core.Query{Text: "how is Ada doing?"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := ans.Report.Requested; len(got) != 2 || got[0] != "image" || got[1] != "records" {
		t.Fatalf("requested should follow registration order, got %v", got)
	}
	if _, ok := ans.Report.Domains["image"].Records["Ada"]; !ok {
		t.Fatalf("image domain result missing: %+v", ans.Report.Domains["image"])
	}
	errs := ans.Report.DomainErrors("records")
	if len(errs) != 1 || errs[0].Kind != core.DomainUnavailable {
		t.Fatalf("expected one domain_unavailable error, got %+v", errs)
	}
	if !strings.Contains(ans.Narrative, "Limitations:") || !strings.Contains(ans.Narrative, "/nope") {
		t.Fatalf("narrative missing limitation: %q", ans.Narrative)
	}
	if len(runs.runs) != 1 || runs.runs[0].State != string(StateSynthesized) || runs.runs[0].ID != "run-1" {
		t.Fatalf("unexpected persisted runs %+v", runs.runs)
	}
}

func TestAnswerPassesHintsToDomains(t *testing.T) {
	var seen core.Query
	records := recordsDomain(func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		seen = q
		return planned("records", "STU100"), nil
	})
	c := newCoordinator(t, []DomainRunner{records},
		fakeClassifier{out: Classification{Domains: []string{"records", "weather"}, EntityHint: "STU100", TopicHint: "grades"}},
		&fakeSynth{text: "ok"})

	ans, err := c.Answer(context.Background(), core.Query{Text: "grades of STU100"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if seen.EntityHint != "STU100" || seen.TopicHint != "grades" || seen.ID != "run-1" {
		t.Fatalf("domain saw %+v", seen)
	}
	if len(ans.Report.Requested) != 1 {
		t.Fatalf("unknown domain should be dropped: %v", ans.Report.Requested)
	}
}

func TestClassificationFailureConsultsAllDomains(t *testing.T) {
	c := newCoordinator(t, []DomainRunner{imageDomain(), recordsDomain(nil)},
		fakeClassifier{err: errors.New("oracle down")}, &fakeSynth{text: "ok"})

	ans, err := c.Answer(context.Background(), core.Query{Text: "anything"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(ans.Report.Domains) != 2 {
		t.Fatalf("expected both domains, got %v", ans.Report.DomainNames())
	}
	if len(ans.Report.Errors) != 1 || ans.Report.Errors[0].Kind != core.ClassificationFailure {
		t.Fatalf("expected classification failure, got %+v", ans.Report.Errors)
	}
}

func TestDomainTimeoutIsIsolated(t *testing.T) {
	slow := recordsDomain(func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		<-ctx.Done()
		return core.NewDomainReport("records"), ctx.Err()
	})
	c := newCoordinator(t, []DomainRunner{imageDomain(), slow},
		fakeClassifier{out: Classification{Domains: []string{"image", "records"}}}, &fakeSynth{text: "ok"},
		WithDomainTimeout(20*time.Millisecond))

	ans, err := c.Answer(context.Background(), core.Query{Text: "q"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	errs := ans.Report.DomainErrors("records")
	if len(errs) != 1 || errs[0].Kind != core.FederationTimeout {
		t.Fatalf("expected timeout record, got %+v", ans.Report.Errors)
	}
	if len(ans.Report.Domains["image"].Order) != 1 {
		t.Fatalf("image domain should be unaffected")
	}
	if !ans.Report.Domains["records"].Empty() {
		t.Fatalf("timed out domain should have an empty report")
	}
}

func TestAnswerFailsWhenNoPlanFormed(t *testing.T) {
	empty := recordsDomain(func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		r := core.NewDomainReport("records")
		r.Plan.Outcome = "empty"
		return r, nil
	})
	runs := &fakeRuns{}
	synth := &fakeSynth{text: "unused"}
	c := newCoordinator(t, []DomainRunner{empty},
		fakeClassifier{out: Classification{Domains: []string{"records"}}}, synth, WithRunStore(runs))

	ans, err := c.Answer(context.Background(), core.Query{Text: "q"})
	if !errors.Is(err, ErrNoPlan) {
		t.Fatalf("expected ErrNoPlan, got %v", err)
	}
	var fe *FailureError
	if !errors.As(err, &fe) || fe.State != StateMerging {
		t.Fatalf("expected failure after MERGING, got %#v", err)
	}
	if ans == nil || ans.State != StateFailed {
		t.Fatalf("expected failed answer, got %+v", ans)
	}
	if synth.calls != 0 {
		t.Fatalf("synthesis should not run")
	}
	if len(runs.runs) != 1 || runs.runs[0].State != string(StateFailed) || runs.runs[0].Error == "" {
		t.Fatalf("failed run should be persisted: %+v", runs.runs)
	}
}

func TestAnswerFailsWhenSynthesisUnavailable(t *testing.T) {
	c := newCoordinator(t, []DomainRunner{imageDomain()},
		fakeClassifier{out: Classification{Domains: []string{"image"}}},
		&fakeSynth{err: errors.New("503")})

	ans, err := c.Answer(context.Background(), core.Query{Text: "q"})
	if !errors.Is(err, ErrSynthesisUnavailable) {
		t.Fatalf("expected ErrSynthesisUnavailable, got %v", err)
	}
	if ans == nil || len(ans.Report.Domains["image"].Order) != 1 {
		t.Fatalf("report should survive synthesis failure: %+v", ans)
	}
}

func TestAnswerCancelledDiscardsState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocking := recordsDomain(func(dctx context.Context, q core.Query) (core.DomainReport, error) {
		cancel()
		<-dctx.Done()
		return core.NewDomainReport("records"), dctx.Err()
	})
	runs := &fakeRuns{}
	obs := &recordingObserver{}
	c := newCoordinator(t, []DomainRunner{imageDomain(), blocking},
		fakeClassifier{out: Classification{Domains: []string{"image", "records"}}}, &fakeSynth{text: "ok"},
		WithRunStore(runs), WithObserver(obs))

	ans, err := c.Answer(ctx, core.Query{Text: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if ans != nil {
		t.Fatalf("cancelled run should return no answer")
	}
	if len(runs.runs) != 0 {
		t.Fatalf("cancelled run must not be persisted")
	}
	states := obs.global()
	if states[len(states)-1] != StateFailed {
		t.Fatalf("last state should be FAILED, got %v", states)
	}
}

func TestDomainPhasesAreObserved(t *testing.T) {
	obs := &recordingObserver{}
	c := newCoordinator(t, []DomainRunner{imageDomain()},
		fakeClassifier{out: Classification{Domains: []string{"image"}}}, &fakeSynth{text: "ok"}, WithObserver(obs))
	ans, err := c.Answer(context.Background(), core.Query{Text: "q"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	var found bool
	for _, tr := range ans.Transitions {
		if tr.Domain == "image" && tr.State == StatePlanning {
			found = true
		}
		if tr.RunID != "run-1" {
			t.Fatalf("transition with wrong run id: %+v", tr)
		}
	}
	if !found {
		t.Fatalf("domain PLANNING transition missing: %+v", ans.Transitions)
	}
}

type budgetSynth struct{}

func (budgetSynth) Synthesize(ctx context.Context, q core.Query, report core.FederatedReport) (string, error) {
	mon, ok := budget.FromContext(ctx)
	if !ok {
		return "", errors.New("no budget monitor in context")
	}
	if err := mon.Reserve(); err != nil {
		return "", err
	}
	return "ok", nil
}

func TestBudgetIsSharedAcrossOneQuery(t *testing.T) {
	records := recordsDomain(func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		mon, ok := budget.FromContext(ctx)
		if !ok {
			return core.DomainReport{}, errors.New("no budget monitor in context")
		}
		if err := mon.Reserve(); err != nil {
			return core.DomainReport{}, err
		}
		return planned("records", "STU100"), nil
	})
	c := newCoordinator(t, []DomainRunner{records},
		fakeClassifier{out: Classification{Domains: []string{"records"}}},
		budgetSynth{}, WithBudget(budget.Config{MaxCalls: 1}))

	ans, err := c.Answer(context.Background(), core.Query{Text: "grades"})
	if !errors.Is(err, ErrSynthesisUnavailable) {
		t.Fatalf("expected synthesis to be refused by the budget, got %v", err)
	}
	if ans == nil || len(ans.Report.Domains) != 1 {
		t.Fatalf("domain work should survive a refused synthesis: %+v", ans)
	}

	c = newCoordinator(t, []DomainRunner{records},
		fakeClassifier{out: Classification{Domains: []string{"records"}}},
		budgetSynth{}, WithBudget(budget.Config{MaxCalls: 2}))
	if _, err := c.Answer(context.Background(), core.Query{Text: "grades"}); err != nil {
		t.Fatalf("budget of two calls should suffice: %v", err)
	}
}

func TestSingleDomainTimeoutIsAnsweredWithLimitation(t *testing.T) {
	slow := recordsDomain(func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		<-ctx.Done()
		return core.NewDomainReport("records"), ctx.Err()
	})
	synth := &fakeSynth{text: "No grades could be checked."}
	c := newCoordinator(t, []DomainRunner{slow},
		fakeClassifier{out: Classification{Domains: []string{"records"}}}, synth,
		WithDomainTimeout(20*time.Millisecond))

	ans, err := c.Answer(context.Background(), core.Query{Text: "grades of STU100"})
	if err != nil {
		t.Fatalf("a timed out domain should not fail the run: %v", err)
	}
	if ans.State != StateSynthesized || synth.calls != 1 {
		t.Fatalf("state=%s calls=%d", ans.State, synth.calls)
	}
	if !strings.Contains(ans.Narrative, "No academic records data was used: the records analysis timed out.") {
		t.Fatalf("narrative missing timeout limitation: %q", ans.Narrative)
	}
}

func TestSingleDomainUnavailableIsAnsweredWithLimitation(t *testing.T) {
	records := recordsDomain(func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		return core.NewDomainReport("records"), fmt.Errorf("%w: directory /nope does not exist", orchestrator.ErrInputUnavailable)
	})
	synth := &fakeSynth{text: "The records could not be read."}
	c := newCoordinator(t, []DomainRunner{records},
		fakeClassifier{out: Classification{Domains: []string{"records"}}}, synth)

	ans, err := c.Answer(context.Background(), core.Query{Text: "grades of STU100"})
	if err != nil {
		t.Fatalf("an unavailable domain should not fail the run: %v", err)
	}
	if ans.State != StateSynthesized || synth.calls != 1 {
		t.Fatalf("state=%s calls=%d", ans.State, synth.calls)
	}
	if !strings.Contains(ans.Narrative, "/nope does not exist") {
		t.Fatalf("narrative missing unavailability limitation: %q", ans.Narrative)
	}
}

func TestNoPlanNeedsEveryDomainToPlanEmpty(t *testing.T) {
	empty := recordsDomain(func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		r := core.NewDomainReport("records")
		r.Plan.Outcome = "empty"
		return r, nil
	})
	down := &fakeDomain{name: "image", desc: "classroom image", run: func(ctx context.Context, q core.Query) (core.DomainReport, error) {
		return core.NewDomainReport("image"), fmt.Errorf("%w: no classroom image", orchestrator.ErrInputUnavailable)
	}}
	c := newCoordinator(t, []DomainRunner{down, empty},
		fakeClassifier{out: Classification{Domains: []string{"image", "records"}}}, &fakeSynth{text: "ok"})

	ans, err := c.Answer(context.Background(), core.Query{Text: "q"})
	if err != nil {
		t.Fatalf("an unavailable domain never reached its planner: %v", err)
	}
	if !strings.Contains(ans.Narrative, "No academic records analysis could be planned") {
		t.Fatalf("narrative missing empty plan limitation: %q", ans.Narrative)
	}
}

func TestCancelledRunDiscardsCheckpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocking := recordsDomain(func(dctx context.Context, q core.Query) (core.DomainReport, error) {
		cancel()
		<-dctx.Done()
		return core.NewDomainReport("records"), dctx.Err()
	})
	runs := &purgingRuns{}
	c := newCoordinator(t, []DomainRunner{blocking},
		fakeClassifier{out: Classification{Domains: []string{"records"}}}, &fakeSynth{text: "ok"},
		WithRunStore(runs))

	if _, err := c.Answer(ctx, core.Query{Text: "q"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(runs.purged) != 1 || runs.purged[0] != "run-1" {
		t.Fatalf("checkpoints of the cancelled run should be discarded, got %v", runs.purged)
	}
	if len(runs.runs) != 0 {
		t.Fatalf("cancelled run must not be persisted")
	}
}
