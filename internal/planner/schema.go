package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mohammad-safakhou/scholar/internal/llm"
)

//go:embed plan_schema.json
var planSchemaJSON string

// ErrMalformedPlan wraps every reason a planning response is unusable.
var ErrMalformedPlan = errors.New("malformed plan")

// RawStep is one untrusted step as returned by the planning oracle. Older
// prompts call the capability field "function"; both are accepted.
type RawStep struct {
	Capability  string `json:"capability,omitempty"`
	Function    string `json:"function,omitempty"`
	Description string `json:"description,omitempty"`
}

// Name returns the referenced capability name.
func (s RawStep) Name() string {
	if s.Capability != "" {
		return strings.TrimSpace(s.Capability)
	}
	return strings.TrimSpace(s.Function)
}

// RawPlan is the planning oracle's answer before validation.
type RawPlan struct {
	RequiresAnalysis bool      `json:"requires_analysis"`
	Steps            []RawStep `json:"plan,omitempty"`
	Explanation      string    `json:"explanation,omitempty"`
	EntityHint       string    `json:"entity_hint,omitempty"`
	TopicHint        string    `json:"topic_hint,omitempty"`
}

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	compileErr  error
)

// PlanSchema returns the compiled JSON Schema for planning responses.
func PlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("plan_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile plan schema: %w", err)
			return
		}
		planSchema = schema
	})
	return planSchema, compileErr
}

// ValidatePlanDocument validates the provided JSON bytes against the plan schema.
func ValidatePlanDocument(data []byte) error {
	schema, err := PlanSchema()
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrMalformedPlan, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: does not match schema: %v", ErrMalformedPlan, err)
	}
	return nil
}

// ParseRawPlan extracts, validates and decodes a plan from free text.
func ParseRawPlan(text string) (RawPlan, error) {
	body, err := llm.ExtractJSON(text)
	if err != nil {
		return RawPlan{}, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}
	if err := ValidatePlanDocument([]byte(body)); err != nil {
		return RawPlan{}, err
	}
	var raw RawPlan
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return RawPlan{}, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}
	return raw, nil
}
