package records

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/scholar/internal/llm"
)

// Assessment is a qualitative evaluation of one student's rows.
type Assessment struct {
	OverallAssessment   string   `json:"overall_assessment"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Recommendations     []string `json:"recommendations"`
}

// Fields renders the non-empty parts of a as record fields.
func (a Assessment) Fields() map[string]any {
	out := map[string]any{}
	if a.OverallAssessment != "" {
		out["overall_assessment"] = a.OverallAssessment
	}
	if len(a.Strengths) > 0 {
		out["strengths"] = a.Strengths
	}
	if len(a.AreasForImprovement) > 0 {
		out["areas_for_improvement"] = a.AreasForImprovement
	}
	if len(a.Recommendations) > 0 {
		out["recommendations"] = a.Recommendations
	}
	return out
}

// Assessor evaluates a student's performance from their rows.
type Assessor interface {
	Assess(ctx context.Context, entity string, rows []map[string]any) (Assessment, error)
}

// LLMAssessor asks a language model for an Assessment.
type LLMAssessor struct {
	client llm.Client
	model  string
}

// NewLLMAssessor returns an assessor backed by client.
func NewLLMAssessor(client llm.Client, model string) *LLMAssessor {
	return &LLMAssessor{client: client, model: model}
}

// Assess implements Assessor.
func (a *LLMAssessor) Assess(ctx context.Context, entity string, rows []map[string]any) (Assessment, error) {
	resp, err := a.client.Generate(ctx, llm.Request{
		Model:       a.model,
		System:      "You are an experienced educational analyst evaluating student performance data.",
		Prompt:      assessmentPrompt(entity, rows),
		Temperature: 0.5,
		MaxTokens:   600,
		JSON:        true,
	})
	if err != nil {
		return Assessment{}, err
	}
	raw, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		return Assessment{}, err
	}
	var out Assessment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Assessment{}, fmt.Errorf("decode assessment: %w", err)
	}
	return out, nil
}

func assessmentPrompt(entity string, rows []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Records for student %s:\n", entity)
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, row[k]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteByte('\n')
	}
	b.WriteString(`
Assess how well this student is performing based on scores, GPA, attendance and teacher feedback.
Reply with JSON only:
{"overall_assessment": "one paragraph", "strengths": ["..."], "areas_for_improvement": ["..."], "recommendations": ["..."]}`)
	return b.String()
}
