package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/scholar/internal/federation"
)

// ErrInvalidEnvelope is returned for stream entries missing a required field.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope wraps one run event on the stream. The run id, state and domain
// are copied out of the payload so a reader can select the events of one
// run without decoding every payload.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	PayloadVersion string          `json:"payload_version"`
	RunID          string          `json:"run_id"`
	State          string          `json:"state,omitempty"`
	Domain         string          `json:"domain,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TraceID        string          `json:"trace_id,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// Validate checks the fields every entry must carry.
func (e Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidEnvelope)
	case e.EventType == "":
		return fmt.Errorf("%w: event_type is required", ErrInvalidEnvelope)
	case e.PayloadVersion == "":
		return fmt.Errorf("%w: payload_version is required", ErrInvalidEnvelope)
	case e.RunID == "":
		return fmt.Errorf("%w: run_id is required", ErrInvalidEnvelope)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidEnvelope)
	case len(e.Data) == 0:
		return fmt.Errorf("%w: data payload is required", ErrInvalidEnvelope)
	}
	return nil
}

// transitionEnvelope wraps t. The event id is assigned on publish.
func transitionEnvelope(t federation.Transition) (Envelope, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode transition: %w", err)
	}
	return Envelope{
		EventType:      TransitionEvent,
		PayloadVersion: TransitionVersion,
		RunID:          t.RunID,
		State:          string(t.State),
		Domain:         t.Domain,
		OccurredAt:     t.At.UTC(),
		Data:           data,
	}, nil
}

// Transition decodes a run.transition payload. The payload must belong to
// the run named on the envelope.
func (e Envelope) Transition() (federation.Transition, error) {
	var t federation.Transition
	if e.EventType != TransitionEvent {
		return t, fmt.Errorf("%w: %s is not a transition", ErrInvalidEnvelope, e.EventType)
	}
	if err := json.Unmarshal(e.Data, &t); err != nil {
		return t, fmt.Errorf("decode transition: %w", err)
	}
	if t.RunID != e.RunID {
		return t, fmt.Errorf("%w: payload run %q does not match envelope run %q", ErrInvalidEnvelope, t.RunID, e.RunID)
	}
	return t, nil
}

// decodeEnvelope parses one stream entry.
func decodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, env.Validate()
}
