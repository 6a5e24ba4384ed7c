package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/helpers"
	"github.com/mohammad-safakhou/scholar/internal/llm"
)

const synthesisSystemPrompt = `You are an educational analyst writing feedback about students for parents and educators.
Use only the analysis data you are given. Be constructive and specific, balance classroom
engagement with academic performance, highlight strengths and areas for improvement, and
avoid technical language. If some data is missing, say so instead of guessing.`

// Synthesizer writes the final narrative with a language model.
type Synthesizer struct {
	client    llm.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewSynthesizer returns a synthesizer backed by client.
func NewSynthesizer(client llm.Client, model string, maxTokens int, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	return &Synthesizer{client: client, model: model, maxTokens: maxTokens, logger: logger.Named("synthesizer")}
}

// Synthesize implements federation.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, q core.Query, report core.FederatedReport) (string, error) {
	prompt, err := synthesisPrompt(q, report)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Generate(ctx, llm.Request{
		Model:       s.model,
		System:      synthesisSystemPrompt,
		Prompt:      prompt,
		Temperature: 0.4,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", err
	}
	text := helpers.CleanNarrative(resp.Text)
	if text == "" {
		return "", fmt.Errorf("empty synthesis from %s", resp.Model)
	}
	s.logger.Debug("narrative generated",
		zap.Int64("input_tokens", resp.InputTokens),
		zap.Int64("output_tokens", resp.OutputTokens))
	return text, nil
}

func synthesisPrompt(q core.Query, report core.FederatedReport) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "ORIGINAL QUESTION: %s\n", q.Text)
	if q.EntityHint != "" {
		fmt.Fprintf(&b, "STUDENT OF INTEREST: %s\n", q.EntityHint)
	}
	for _, name := range report.Requested {
		dr := report.Domains[name]
		fmt.Fprintf(&b, "\n== %s ==\n", strings.ToUpper(describe(report, name)))
		if len(dr.Order) == 0 {
			b.WriteString("No findings.\n")
		}
		for _, entity := range dr.Order {
			rec := dr.Records[entity]
			fields, err := json.Marshal(rec.Fields)
			if err != nil {
				return "", fmt.Errorf("encode %s/%s: %w", name, entity, err)
			}
			fmt.Fprintf(&b, "%s: %s\n", entity, fields)
			for _, k := range sortedKeys(rec.Accumulated) {
				vals, err := json.Marshal(rec.Accumulated[k])
				if err != nil {
					return "", fmt.Errorf("encode %s/%s.%s: %w", name, entity, k, err)
				}
				fmt.Fprintf(&b, "  %s (all sources): %s\n", k, vals)
			}
		}
	}
	if lim := report.Limitations(); len(lim) > 0 {
		b.WriteString("\nKNOWN GAPS:\n")
		for _, l := range lim {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	b.WriteString("\nWrite an integrated feedback report that answers the question.")
	return b.String(), nil
}

func describe(r core.FederatedReport, name string) string {
	if d := r.Descriptions[name]; d != "" {
		return d
	}
	return name
}

func sortedKeys(m map[string][]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
