package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/scholar/internal/executor"
	"github.com/mohammad-safakhou/scholar/internal/federation"
)

// ExecutorMetrics records step retries and durations on meter.
func ExecutorMetrics(meter otelmetric.Meter) (executor.Metrics, error) {
	retries, err := meter.Int64Counter("scholar_step_retries_total",
		otelmetric.WithDescription("Retry attempts per capability step"))
	if err != nil {
		return executor.Metrics{}, fmt.Errorf("retry counter: %w", err)
	}
	durations, err := meter.Float64Histogram("scholar_step_duration_seconds",
		otelmetric.WithDescription("Capability step duration"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return executor.Metrics{}, fmt.Errorf("duration histogram: %w", err)
	}
	return executor.Metrics{
		RetryCounter: func(ctx context.Context, step string, attempt int) {
			retries.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("step", step),
				attribute.Int("attempt", attempt),
			))
		},
		Duration: func(ctx context.Context, step string, status executor.Status, d time.Duration) {
			durations.Record(ctx, d.Seconds(), otelmetric.WithAttributes(
				attribute.String("step", step),
				attribute.String("status", string(status)),
			))
		},
	}, nil
}

// TransitionCounter counts federation state transitions.
type TransitionCounter struct {
	counter otelmetric.Int64Counter
}

// NewTransitionCounter registers scholar_run_transitions_total on meter.
func NewTransitionCounter(meter otelmetric.Meter) (*TransitionCounter, error) {
	c, err := meter.Int64Counter("scholar_run_transitions_total",
		otelmetric.WithDescription("Run state transitions by state and domain"))
	if err != nil {
		return nil, fmt.Errorf("transition counter: %w", err)
	}
	return &TransitionCounter{counter: c}, nil
}

// OnTransition implements federation.Observer.
func (c *TransitionCounter) OnTransition(ctx context.Context, t federation.Transition) {
	c.counter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("state", string(t.State)),
		attribute.String("domain", t.Domain),
	))
}
