package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
)

// Card is the registration metadata of a capability.
type Card struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tier        int               `json:"tier"`
	Requires    []blackboard.Slot `json:"requires"`
	Optional    []blackboard.Slot `json:"optional,omitempty"`
	Produces    []blackboard.Slot `json:"produces"`
	Owns        []blackboard.Slot `json:"owns,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	MaxRetries  int               `json:"max_retries,omitempty"`
}

// Readable returns every slot the capability may read.
func (c Card) Readable() []blackboard.Slot {
	out := make([]blackboard.Slot, 0, len(c.Requires)+len(c.Optional))
	out = append(out, c.Requires...)
	return append(out, c.Optional...)
}

// Capability is one unit of analysis work. Run reads through in and stages
// writes on out; the engine commits them only when Run returns nil.
type Capability interface {
	Card() Card
	Run(ctx context.Context, in *blackboard.View, out *blackboard.Output) error
}

// RunFunc adapts a function to the Run half of Capability.
type RunFunc func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error

type funcCapability struct {
	card Card
	run  RunFunc
}

// New builds a Capability from a card and a function.
func New(card Card, run RunFunc) Capability {
	return &funcCapability{card: card, run: run}
}

func (f *funcCapability) Card() Card { return f.card }

func (f *funcCapability) Run(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
	return f.run(ctx, in, out)
}

var (
	// ErrNotFound is returned by Resolve for unknown names.
	ErrNotFound = errors.New("capability not found")
	// ErrDuplicate rejects two registrations under the same name.
	ErrDuplicate = errors.New("capability already registered")
	// ErrCapabilityMissing indicates a required capability is not registered.
	ErrCapabilityMissing = errors.New("required capability missing")
	// ErrInvalidCard rejects malformed registration metadata.
	ErrInvalidCard = errors.New("invalid capability card")
)

// Registry maps capability names to implementations. It is built once and
// never modified, so it can be shared by concurrent runs.
type Registry struct {
	caps        map[string]Capability
	order       []string
	fingerprint string
}

// NewRegistry validates and registers caps and ensures every name in
// required is present.
func NewRegistry(caps []Capability, required ...string) (*Registry, error) {
	reg := &Registry{caps: make(map[string]Capability, len(caps))}
	cards := make([]Card, 0, len(caps))
	for _, c := range caps {
		card := c.Card()
		if err := validateCard(card); err != nil {
			return nil, err
		}
		if _, ok := reg.caps[card.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, card.Name)
		}
		reg.caps[card.Name] = c
		reg.order = append(reg.order, card.Name)
		cards = append(cards, card)
	}
	for _, r := range required {
		if _, ok := reg.caps[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityMissing, r)
		}
	}
	fp, err := ComputeChecksum(cards)
	if err != nil {
		return nil, err
	}
	reg.fingerprint = fp
	return reg, nil
}

// Resolve returns the capability registered under name.
func (r *Registry) Resolve(name string) (Capability, error) {
	if r != nil {
		if c, ok := r.caps[name]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Cards returns registration metadata in registration order.
func (r *Registry) Cards() []Card {
	if r == nil {
		return nil
	}
	out := make([]Card, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name].Card())
	}
	return out
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Producers returns the names of capabilities that produce slot.
func (r *Registry) Producers(slot blackboard.Slot) []string {
	var out []string
	for _, card := range r.Cards() {
		for _, s := range card.Produces {
			if s == slot {
				out = append(out, card.Name)
				break
			}
		}
	}
	return out
}

// Fingerprint identifies the registered card set.
func (r *Registry) Fingerprint() string {
	if r == nil {
		return ""
	}
	return r.fingerprint
}

// ComputeChecksum returns a deterministic hash over the cards.
func ComputeChecksum(cards []Card) (string, error) {
	normalized, err := json.Marshal(cards)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

func validateCard(c Card) error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCard)
	}
	if c.Tier < 0 {
		return fmt.Errorf("%w: %s has negative tier", ErrInvalidCard, c.Name)
	}
	for _, group := range [][]blackboard.Slot{c.Requires, c.Optional, c.Produces, c.Owns} {
		if err := blackboard.CheckSlots(group...); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidCard, c.Name, err)
		}
	}
	produced := make(map[blackboard.Slot]struct{}, len(c.Produces))
	for _, s := range c.Produces {
		produced[s] = struct{}{}
	}
	for _, s := range c.Owns {
		if _, ok := produced[s]; !ok {
			return fmt.Errorf("%w: %s owns %q without producing it", ErrInvalidCard, c.Name, s)
		}
	}
	return nil
}
