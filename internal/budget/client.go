package budget

import (
	"context"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/llm"
)

// MeteredClient charges every Generate call to the Monitor found in the
// request context. Calls without a monitor pass straight through.
type MeteredClient struct {
	next   llm.Client
	logger *zap.Logger
}

// NewMeteredClient wraps next.
func NewMeteredClient(next llm.Client, logger *zap.Logger) *MeteredClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MeteredClient{next: next, logger: logger.Named("budget")}
}

// Generate implements llm.Client.
func (c *MeteredClient) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	mon, ok := FromContext(ctx)
	if !ok {
		return c.next.Generate(ctx, req)
	}
	if err := mon.Reserve(); err != nil {
		c.logger.Warn("oracle call refused", zap.String("model", req.Model), zap.Error(err))
		return llm.Response{}, err
	}
	resp, err := c.next.Generate(ctx, req)
	mon.Add(resp.InputTokens + resp.OutputTokens)
	return resp, err
}
