package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/scholar/internal/llm"
)

// LLMOracle designs plans with a language model.
type LLMOracle struct {
	client llm.Client
	model  string
}

// NewLLMOracle returns an oracle backed by client.
func NewLLMOracle(client llm.Client, model string) *LLMOracle {
	return &LLMOracle{client: client, model: model}
}

// DesignPlan implements Oracle.
func (o *LLMOracle) DesignPlan(ctx context.Context, req Request) (RawPlan, error) {
	resp, err := o.client.Generate(ctx, llm.Request{
		Model:       o.model,
		System:      "You plan analysis steps for questions about students. Reply with JSON only.",
		Prompt:      planningPrompt(req),
		Temperature: 0.2,
		MaxTokens:   1200,
		JSON:        true,
	})
	if err != nil {
		return RawPlan{}, err
	}
	return ParseRawPlan(resp.Text)
}

func planningPrompt(req Request) string {
	var caps strings.Builder
	for _, c := range req.Cards {
		fmt.Fprintf(&caps, "- %s (tier %d): %s\n", c.Name, c.Tier, c.Description)
		if len(c.Requires) > 0 {
			fmt.Fprintf(&caps, "    requires: %v\n", c.Requires)
		}
		if len(c.Produces) > 0 {
			fmt.Fprintf(&caps, "    produces: %v\n", c.Produces)
		}
	}
	hints := ""
	if req.Query.EntityHint != "" {
		hints += fmt.Sprintf("Student of interest: %s\n", req.Query.EntityHint)
	}
	if req.Query.TopicHint != "" {
		hints += fmt.Sprintf("Subject/topic of interest: %s\n", req.Query.TopicHint)
	}
	available := "none"
	if len(req.Available) > 0 {
		available = strings.Join(req.Available, ", ")
	}

	return fmt.Sprintf(`DOMAIN: %s
%s

QUESTION: %s
%s
AVAILABLE INPUTS: %s

CAPABILITIES:
%s
RULES:
1. Decide whether answering the question needs any of these capabilities at all.
2. Only use capability names from the list above.
3. Lower tiers run first; a capability whose requirements are not produced earlier will be skipped.

OUTPUT FORMAT (JSON):
{
  "requires_analysis": true,
  "explanation": "why these steps answer the question",
  "entity_hint": "student name if mentioned, else empty",
  "topic_hint": "subject if mentioned, else empty",
  "plan": [
    {"capability": "capability_name", "description": "what this step contributes"}
  ]
}`, req.Domain, req.Description, req.Query.Text, hints, available, caps.String())
}
