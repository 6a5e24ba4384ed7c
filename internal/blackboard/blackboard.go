package blackboard

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownSlot     = errors.New("unknown slot")
	ErrUndeclaredRead  = errors.New("read of undeclared slot")
	ErrUndeclaredWrite = errors.New("write to undeclared slot")
	ErrSlotWritten     = errors.New("slot already written")
	ErrTypeMismatch    = errors.New("slot holds a different type")
)

// SeedOwner is recorded as the writer of slots set before the first step.
const SeedOwner = "seed"

// AccessError is raised (as a panic value) when a capability reads a slot it
// did not declare. The engine recovers it into an ErrorRecord.
type AccessError struct {
	Owner string
	Slot  Slot
	Err   error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s: %v %q", e.Owner, e.Err, e.Slot)
}

func (e *AccessError) Unwrap() error { return e.Err }

type entry struct {
	value  any
	writer string
}

// Blackboard is the per-run slot store. A slot is written once unless the
// later writer owns it. It is not safe for concurrent use; one engine run
// owns it exclusively.
type Blackboard struct {
	entries map[Slot]entry
	order   []Slot
}

// New returns an empty blackboard.
func New() *Blackboard {
	return &Blackboard{entries: make(map[Slot]entry)}
}

// Seed stores an initial value. Zero-valued strings are ignored so optional
// inputs stay absent instead of present-but-empty.
func Seed[T any](b *Blackboard, k Key[T], v T) error {
	if err := CheckSlots(k.Slot); err != nil {
		return err
	}
	if s, ok := any(v).(string); ok && s == "" {
		return nil
	}
	if _, ok := b.entries[k.Slot]; ok {
		return fmt.Errorf("%w: %q", ErrSlotWritten, k.Slot)
	}
	b.set(k.Slot, v, SeedOwner)
	return nil
}

// Lookup reads a slot without access checks. It is meant for the engine and
// domain collectors, not for capabilities.
func Lookup[T any](b *Blackboard, k Key[T]) (T, bool) {
	var zero T
	e, ok := b.entries[k.Slot]
	if !ok {
		return zero, false
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Has reports whether s has been written.
func (b *Blackboard) Has(s Slot) bool {
	_, ok := b.entries[s]
	return ok
}

// Missing returns the slots from want that are not present, in order.
func (b *Blackboard) Missing(want []Slot) []Slot {
	var out []Slot
	for _, s := range want {
		if !b.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// WriterOf returns the owner that last wrote s.
func (b *Blackboard) WriterOf(s Slot) (string, bool) {
	e, ok := b.entries[s]
	return e.writer, ok
}

// Slots returns written slots in first-write order.
func (b *Blackboard) Slots() []Slot {
	out := make([]Slot, len(b.order))
	copy(out, b.order)
	return out
}

// Snapshot copies the current values keyed by slot name.
func (b *Blackboard) Snapshot() map[string]any {
	out := make(map[string]any, len(b.entries))
	for s, e := range b.entries {
		out[string(s)] = e.value
	}
	return out
}

// SortedSlots is Slots ordered by name, for stable rendering.
func (b *Blackboard) SortedSlots() []Slot {
	out := b.Slots()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Blackboard) set(s Slot, v any, writer string) {
	if _, ok := b.entries[s]; !ok {
		b.order = append(b.order, s)
	}
	b.entries[s] = entry{value: v, writer: writer}
}

// Commit applies a staged output. Either every staged slot is written or
// none is.
func (b *Blackboard) Commit(o *Output) error {
	if o == nil {
		return nil
	}
	if len(o.violations) > 0 {
		return o.violations[0]
	}
	for _, s := range o.order {
		if !b.Has(s) {
			continue
		}
		if _, owned := o.owns[s]; !owned {
			w, _ := b.WriterOf(s)
			return fmt.Errorf("%w: %q by %s (owner %s)", ErrSlotWritten, s, o.owner, w)
		}
	}
	for _, s := range o.order {
		b.set(s, o.values[s], o.owner)
	}
	return nil
}
