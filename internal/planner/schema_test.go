package planner

import (
	"errors"
	"testing"
)

func TestPlanSchemaCompiles(t *testing.T) {
	if _, err := PlanSchema(); err != nil {
		t.Fatalf("PlanSchema: %v", err)
	}
}

func TestValidatePlanDocumentAcceptsBothStepSpellings(t *testing.T) {
	payload := []byte(`{"requires_analysis": true, "plan": [
		{"capability": "detect_students", "description": "find faces"},
		{"function": "crop_students"}
	]}`)
	if err := ValidatePlanDocument(payload); err != nil {
		t.Fatalf("expected valid plan: %v", err)
	}
}

func TestValidatePlanDocumentRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing flag":   `{"plan": []}`,
		"flag as string": `{"requires_analysis": "yes"}`,
		"nameless step":  `{"requires_analysis": true, "plan": [{"description": "x"}]}`,
		"not json":       `{"requires_analysis": tru`,
	}
	for name, payload := range cases {
		if err := ValidatePlanDocument([]byte(payload)); !errors.Is(err, ErrMalformedPlan) {
			t.Fatalf("%s: expected ErrMalformedPlan, got %v", name, err)
		}
	}
}

func TestParseRawPlanFromProse(t *testing.T) {
	text := "Here is the plan:\n```json\n" + `{"requires_analysis": true, "explanation": "check mood",
	"entity_hint": "Ada", "plan": [{"function": "analyze_emotion", "description": "mood"}]}` + "\n```"
	raw, err := ParseRawPlan(text)
	if err != nil {
		t.Fatalf("ParseRawPlan: %v", err)
	}
	if !raw.RequiresAnalysis || raw.EntityHint != "Ada" || len(raw.Steps) != 1 {
		t.Fatalf("unexpected raw plan %+v", raw)
	}
	if raw.Steps[0].Name() != "analyze_emotion" {
		t.Fatalf("function alias not honoured: %+v", raw.Steps[0])
	}
}

func TestParseRawPlanNoJSON(t *testing.T) {
	if _, err := ParseRawPlan("I cannot help with that."); !errors.Is(err, ErrMalformedPlan) {
		t.Fatalf("expected ErrMalformedPlan, got %v", err)
	}
}
