package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/federation"
)

// DefaultStream is the stream run transitions are appended to.
const DefaultStream = "scholar:runs"

// Publisher appends run transitions to a Redis stream. It implements
// federation.Observer; publish failures are logged and never slow a run
// down beyond the Redis round trip.
type Publisher struct {
	client   redis.UniversalClient
	registry *SchemaRegistry
	stream   string
	maxLen   int64
	logger   *zap.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithStream overrides DefaultStream.
func WithStream(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.stream = name
		}
	}
}

// WithMaxLenApprox caps the stream length approximately.
func WithMaxLenApprox(n int64) Option {
	return func(p *Publisher) { p.maxLen = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher creates a Publisher.
func NewPublisher(client redis.UniversalClient, registry *SchemaRegistry, opts ...Option) *Publisher {
	p := &Publisher{client: client, registry: registry, stream: DefaultStream, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("events")
	return p
}

// Stream returns the stream name.
func (p *Publisher) Stream() string { return p.stream }

// Publish validates the envelope and appends it to the stream.
func (p *Publisher) Publish(ctx context.Context, env Envelope) (string, error) {
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return "", err
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"envelope": raw, "run_id": env.RunID},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// OnTransition implements federation.Observer.
func (p *Publisher) OnTransition(ctx context.Context, t federation.Transition) {
	logger := p.logger.With(zap.String("run_id", t.RunID), zap.String("state", string(t.State)))
	env, err := transitionEnvelope(t)
	if err != nil {
		logger.Warn("encode transition", zap.Error(err))
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	if _, err := p.Publish(context.WithoutCancel(ctx), env); err != nil {
		logger.Warn("publish transition", zap.Error(err))
	}
}

var _ federation.Observer = (*Publisher)(nil)
