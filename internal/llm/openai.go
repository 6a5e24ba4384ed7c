package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/httpclient"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
	MaxTokens   int
}

// OpenAI implements Client over the chat completions HTTP API.
type OpenAI struct {
	cfg    OpenAIConfig
	http   *httpclient.Client
	logger *zap.Logger
}

// NewOpenAI builds a client. A missing API key falls back to OPENAI_API_KEY.
func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		cfg:    cfg,
		http:   httpclient.New(cfg.Timeout, cfg.MaxRetries, 0),
		logger: logger.Named("llm"),
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatReq struct {
	Model          string          `json:"model"`
	Messages       []chatMsg       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResp struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends one chat completion request.
func (p *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	if p.cfg.APIKey == "" {
		return Response{}, errors.New("openai api key not configured")
	}
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	var msgs []chatMsg
	if req.System != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: req.System})
	}
	if len(req.Images) == 0 {
		msgs = append(msgs, chatMsg{Role: "user", Content: req.Prompt})
	} else {
		parts := []contentPart{{Type: "text", Text: req.Prompt}}
		for _, img := range req.Images {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.DataURL()}})
		}
		msgs = append(msgs, chatMsg{Role: "user", Content: parts})
	}
	body := chatReq{Model: model, Messages: msgs, Temperature: temperature, MaxTokens: maxTokens}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	start := time.Now()
	var out chatResp
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if err := p.http.DoJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", headers, body, &out); err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return Response{}, errors.New("chat completion: no choices")
	}
	p.logger.Debug("completion",
		zap.String("model", model),
		zap.Int64("input_tokens", out.Usage.PromptTokens),
		zap.Int64("output_tokens", out.Usage.CompletionTokens),
		zap.Duration("took", time.Since(start)),
	)
	return Response{
		Text:         out.Choices[0].Message.Content,
		Model:        out.Model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

var _ Client = (*OpenAI)(nil)
