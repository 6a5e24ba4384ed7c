package federation

import (
	"context"
	"sync"
	"time"
)

// State is a step of the per-query state machine.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateClassified    State = "CLASSIFIED"
	StatePlanning      State = "PLANNING"
	StateExecuting     State = "EXECUTING"
	StateConsolidating State = "CONSOLIDATING"
	StateMerging       State = "MERGING"
	StateSynthesized   State = "SYNTHESIZED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no further transition may follow.
func (s State) Terminal() bool { return s == StateSynthesized || s == StateFailed }

// Transition is one recorded state change. Domain is set for the
// per-domain PLANNING, EXECUTING and CONSOLIDATING states.
type Transition struct {
	RunID  string    `json:"run_id"`
	State  State     `json:"state"`
	Domain string    `json:"domain,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Observer is notified of every transition. Implementations must be safe
// for concurrent use because domains report from their own goroutines.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

// Observers fans a transition out to every non-nil observer in order.
type Observers []Observer

// OnTransition implements Observer.
func (obs Observers) OnTransition(ctx context.Context, t Transition) {
	for _, o := range obs {
		if o != nil {
			o.OnTransition(ctx, t)
		}
	}
}

// tracker records the transitions of one run.
type tracker struct {
	mu       sync.Mutex
	runID    string
	current  State
	history  []Transition
	observer Observer
	now      func() time.Time
}

func newTracker(runID string, observer Observer, now func() time.Time) *tracker {
	return &tracker{runID: runID, observer: observer, now: now}
}

func (t *tracker) move(ctx context.Context, s State, domain, detail string) {
	tr := Transition{RunID: t.runID, State: s, Domain: domain, Detail: detail, At: t.now()}
	t.mu.Lock()
	if domain == "" {
		t.current = s
	}
	t.history = append(t.history, tr)
	t.mu.Unlock()
	if t.observer != nil {
		t.observer.OnTransition(ctx, tr)
	}
}

func (t *tracker) state() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *tracker) transitions() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}
