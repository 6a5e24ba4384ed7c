package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/federation"
	"github.com/mohammad-safakhou/scholar/internal/llm"
)

//go:embed classification_schema.json
var classificationSchemaJSON string

// ErrMalformedClassification is returned when the model's routing answer
// does not match the classification schema.
var ErrMalformedClassification = errors.New("malformed classification")

var (
	classifyOnce   sync.Once
	classifySchema *jsonschema.Schema
	classifyErr    error
)

func classificationSchema() (*jsonschema.Schema, error) {
	classifyOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("classification_schema.json", strings.NewReader(classificationSchemaJSON)); err != nil {
			classifyErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		classifySchema, classifyErr = compiler.Compile("classification_schema.json")
	})
	return classifySchema, classifyErr
}

// ParseClassification validates and decodes a routing answer.
func ParseClassification(text string) (federation.Classification, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return federation.Classification{}, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	schema, err := classificationSchema()
	if err != nil {
		return federation.Classification{}, err
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return federation.Classification{}, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	if err := schema.Validate(doc); err != nil {
		return federation.Classification{}, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	var out federation.Classification
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return federation.Classification{}, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	out.EntityHint = strings.TrimSpace(out.EntityHint)
	out.TopicHint = strings.TrimSpace(out.TopicHint)
	return out, nil
}

// Classifier routes questions to domains with a language model.
type Classifier struct {
	client llm.Client
	model  string
	logger *zap.Logger
}

// NewClassifier returns a classifier backed by client.
func NewClassifier(client llm.Client, model string, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{client: client, model: model, logger: logger.Named("classifier")}
}

// Classify implements federation.Classifier.
func (c *Classifier) Classify(ctx context.Context, q core.Query, domains []federation.DomainInfo) (federation.Classification, error) {
	resp, err := c.client.Generate(ctx, llm.Request{
		Model:       c.model,
		System:      "You route questions about students to the analysis domains that can answer them. Reply with JSON only.",
		Prompt:      classificationPrompt(q, domains),
		Temperature: 0,
		MaxTokens:   300,
		JSON:        true,
	})
	if err != nil {
		return federation.Classification{}, err
	}
	out, err := ParseClassification(resp.Text)
	if err != nil {
		c.logger.Debug("unusable classification", zap.String("response", resp.Text), zap.Error(err))
		return federation.Classification{}, err
	}
	return out, nil
}

func classificationPrompt(q core.Query, domains []federation.DomainInfo) string {
	var b strings.Builder
	for _, d := range domains {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	inputs := "none"
	if len(q.Inputs) > 0 {
		names := make([]string, 0, len(q.Inputs))
		for k, v := range q.Inputs {
			if v != "" {
				names = append(names, k)
			}
		}
		if len(names) > 0 {
			inputs = strings.Join(sortedCopy(names), ", ")
		}
	}
	return fmt.Sprintf(`QUESTION: %s
PROVIDED INPUTS: %s

DOMAINS:
%s
Pick every domain whose data is needed to answer the question. Pick none if
the question needs no analysis. Extract the student name and the subject if
the question mentions them.

OUTPUT FORMAT (JSON):
{"domains": ["domain_name"], "entity_hint": "", "topic_hint": "", "reason": ""}`, q.Text, inputs, b.String())
}
