package budget

import (
	"context"
	"fmt"
	"sync"
)

// Monitor tracks oracle usage of one query against its limits.
type Monitor struct {
	config Config
	tokens int64
	calls  int
	mu     sync.Mutex
}

// NewMonitor starts tracking usage against cfg.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{config: cfg}
}

// Reserve accounts for one more oracle call, failing when the call or
// token limit is already spent.
func (m *Monitor) Reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.MaxTokens > 0 && m.tokens >= m.config.MaxTokens {
		return ErrExceeded{
			Kind:  "tokens",
			Usage: fmt.Sprintf("%d tokens", m.tokens),
			Limit: fmt.Sprintf("%d tokens", m.config.MaxTokens),
		}
	}
	if m.config.MaxCalls > 0 && m.calls >= m.config.MaxCalls {
		return ErrExceeded{
			Kind:  "calls",
			Usage: fmt.Sprintf("%d calls", m.calls),
			Limit: fmt.Sprintf("%d calls", m.config.MaxCalls),
		}
	}
	m.calls++
	return nil
}

// Add records tokens consumed by a finished call.
func (m *Monitor) Add(tokens int64) {
	m.mu.Lock()
	m.tokens += tokens
	m.mu.Unlock()
}

// Usage returns the accumulated tokens and calls.
func (m *Monitor) Usage() (tokens int64, calls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, m.calls
}

type monitorKey struct{}

// WithMonitor attaches m to ctx.
func WithMonitor(ctx context.Context, m *Monitor) context.Context {
	return context.WithValue(ctx, monitorKey{}, m)
}

// FromContext returns the monitor attached to ctx, if any.
func FromContext(ctx context.Context) (*Monitor, bool) {
	m, ok := ctx.Value(monitorKey{}).(*Monitor)
	return m, ok && m != nil
}
