package planner

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/capability"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/llm"
)

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	noop := func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error { return nil }
	mk := func(name string, tier int) capability.Capability {
		return capability.New(capability.Card{Name: name, Tier: tier}, noop)
	}
	reg, err := capability.NewRegistry([]capability.Capability{
		mk("detect_students", 0),
		mk("crop_students", 1),
		mk("analyze_emotion", 3),
		mk("analyze_body_language", 3),
		mk("classify_slide", 0),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func steps(names ...string) []RawStep {
	out := make([]RawStep, len(names))
	for i, n := range names {
		out[i] = RawStep{Capability: n, Description: "d-" + n}
	}
	return out
}

func TestCompileNotRequiredShortCircuits(t *testing.T) {
	out := Compile(RawPlan{RequiresAnalysis: false, Steps: steps("detect_students"), Explanation: "small talk"}, testRegistry(t))
	if out.Kind != OutcomeNotRequired {
		t.Fatalf("expected not_required, got %s", out.Kind)
	}
	if len(out.Plan.Steps) != 0 {
		t.Fatalf("not_required must carry no steps")
	}
	if _, ok := out.Valid(); ok {
		t.Fatalf("not_required must not be runnable")
	}
}

func TestCompileDropsExactlyUnknownSteps(t *testing.T) {
	raw := RawPlan{RequiresAnalysis: true, Steps: steps("detect_students", "read_minds", "crop_students", "analyze_emotion")}
	out := Compile(raw, testRegistry(t))
	if out.Kind != OutcomeValid {
		t.Fatalf("expected valid, got %s", out.Kind)
	}
	want := []string{"detect_students", "crop_students", "analyze_emotion"}
	if !reflect.DeepEqual(out.Plan.Names(), want) {
		t.Fatalf("got %v want %v", out.Plan.Names(), want)
	}
	if len(out.Warnings) != 1 || out.Warnings[0].Capability != "read_minds" || out.Warnings[0].Kind != core.UnknownCapability {
		t.Fatalf("unexpected warnings %+v", out.Warnings)
	}
	if out.Plan.Steps[1].Description != "d-crop_students" {
		t.Fatalf("description lost: %+v", out.Plan.Steps[1])
	}
}

func TestCompileReordersByTierStably(t *testing.T) {
	raw := RawPlan{RequiresAnalysis: true, Steps: steps("analyze_body_language", "crop_students", "analyze_emotion", "detect_students", "classify_slide")}
	out := Compile(raw, testRegistry(t))
	want := []string{"detect_students", "classify_slide", "crop_students", "analyze_body_language", "analyze_emotion"}
	if !reflect.DeepEqual(out.Plan.Names(), want) {
		t.Fatalf("got %v want %v", out.Plan.Names(), want)
	}
}

func TestCompileEmptyIsDistinctFromNotRequired(t *testing.T) {
	out := Compile(RawPlan{RequiresAnalysis: true, Steps: steps("nope", "also_nope")}, testRegistry(t))
	if out.Kind != OutcomeEmpty {
		t.Fatalf("expected empty, got %s", out.Kind)
	}
	if len(out.Warnings) != 2 {
		t.Fatalf("expected two warnings, got %d", len(out.Warnings))
	}
	if Compile(RawPlan{RequiresAnalysis: true}, testRegistry(t)).Kind != OutcomeEmpty {
		t.Fatalf("no steps with analysis required should be empty")
	}
}

func TestCompileDropsDuplicates(t *testing.T) {
	out := Compile(RawPlan{RequiresAnalysis: true, Steps: steps("detect_students", "detect_students")}, testRegistry(t))
	if len(out.Plan.Steps) != 1 || len(out.Warnings) != 1 {
		t.Fatalf("expected one step and one warning, got %v / %+v", out.Plan.Names(), out.Warnings)
	}
}

type stubOracle struct {
	raw   RawPlan
	err   error
	delay time.Duration
	req   Request
}

func (s *stubOracle) DesignPlan(ctx context.Context, req Request) (RawPlan, error) {
	s.req = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return RawPlan{}, ctx.Err()
		}
	}
	return s.raw, s.err
}

var fallback = RawPlan{RequiresAnalysis: true, Steps: steps("detect_students", "crop_students"), Explanation: "default"}

func TestPlannerFallsBackOnOracleFailure(t *testing.T) {
	p := New(&stubOracle{err: ErrMalformedPlan})
	res, err := p.Plan(context.Background(), Request{Domain: "image"}, testRegistry(t), fallback)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !res.UsedDefault || res.Outcome.Kind != OutcomeValid {
		t.Fatalf("expected default plan, got %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].Kind != core.PlanningFailure || res.Errors[0].Domain != "image" {
		t.Fatalf("expected a planning failure record, got %+v", res.Errors)
	}
}

func TestPlannerTimesOutSlowOracle(t *testing.T) {
	p := New(&stubOracle{delay: time.Second}, WithTimeout(10*time.Millisecond))
	res, err := p.Plan(context.Background(), Request{Domain: "image"}, testRegistry(t), fallback)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !res.UsedDefault {
		t.Fatalf("expected fallback after timeout")
	}
}

func TestPlannerPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&stubOracle{delay: time.Second}).Plan(ctx, Request{}, testRegistry(t), fallback)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPlannerRecordsDroppedSteps(t *testing.T) {
	oracle := &stubOracle{raw: RawPlan{RequiresAnalysis: true, Steps: steps("analyze_emotion", "telepathy")}}
	res, _ := New(oracle).Plan(context.Background(), Request{Domain: "image"}, testRegistry(t), fallback)
	if res.UsedDefault {
		t.Fatalf("oracle plan should be used")
	}
	if len(res.Errors) != 1 || res.Errors[0].Kind != core.UnknownCapability {
		t.Fatalf("expected unknown capability record, got %+v", res.Errors)
	}
}

type stubLLM struct {
	text string
	req  llm.Request
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.req = req
	return llm.Response{Text: s.text}, nil
}

func TestLLMOracleBuildsPromptAndParses(t *testing.T) {
	client := &stubLLM{text: `{"requires_analysis": true, "plan": [{"capability": "detect_students"}]}`}
	oracle := NewLLMOracle(client, "planner-model")
	req := Request{
		Domain: "image",
		Query:  core.Query{Text: "Is Ada paying attention today?", EntityHint: "Ada"},
		Cards:  testRegistry(t).Cards(),
	}
	raw, err := oracle.DesignPlan(context.Background(), req)
	if err != nil {
		t.Fatalf("DesignPlan: %v", err)
	}
	if len(raw.Steps) != 1 {
		t.Fatalf("unexpected plan %+v", raw)
	}
	if client.req.Model != "planner-model" || !client.req.JSON {
		t.Fatalf("unexpected request %+v", client.req)
	}
	for _, want := range []string{"Is Ada paying attention today?", "Student of interest: Ada", "detect_students (tier 0)"} {
		if !strings.Contains(client.req.Prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}
