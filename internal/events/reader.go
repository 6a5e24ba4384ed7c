package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/scholar/internal/federation"
)

// Message is a decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Reader reads run events back from the stream.
type Reader struct {
	client redis.UniversalClient
	stream string
}

// NewReader returns a reader over stream, or DefaultStream when empty.
func NewReader(client redis.UniversalClient, stream string) *Reader {
	if stream == "" {
		stream = DefaultStream
	}
	return &Reader{client: client, stream: stream}
}

// Range returns up to count entries starting at start ("-" for the oldest).
func (r *Reader) Range(ctx context.Context, start string, count int64) ([]Message, error) {
	if start == "" {
		start = "-"
	}
	msgs, err := r.client.XRangeN(ctx, r.stream, start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["envelope"].(string)
		if !ok {
			continue
		}
		env, err := decodeEnvelope([]byte(raw))
		if err != nil {
			continue
		}
		out = append(out, Message{ID: m.ID, Envelope: env})
	}
	return out, nil
}

// Transitions returns the recorded transitions of one run in stream order.
// It scans at most limit entries.
func (r *Reader) Transitions(ctx context.Context, runID string, limit int64) ([]federation.Transition, error) {
	msgs, err := r.Range(ctx, "-", limit)
	if err != nil {
		return nil, err
	}
	var out []federation.Transition
	for _, m := range msgs {
		if m.Envelope.RunID != runID || m.Envelope.EventType != TransitionEvent {
			continue
		}
		t, err := m.Envelope.Transition()
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
