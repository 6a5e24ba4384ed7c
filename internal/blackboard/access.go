package blackboard

import "fmt"

// View is the read side handed to a capability. It holds a copy of the
// readable slots, so a capability that outlives its step cannot observe
// later writes. Reading a slot outside the declared set panics with
// *AccessError.
type View struct {
	owner    string
	readable map[Slot]struct{}
	values   map[Slot]any
}

// NewView restricts reads on b to the given slots.
func NewView(b *Blackboard, owner string, readable ...Slot) *View {
	v := &View{
		owner:    owner,
		readable: make(map[Slot]struct{}, len(readable)),
		values:   make(map[Slot]any, len(readable)),
	}
	for _, s := range readable {
		v.readable[s] = struct{}{}
		if e, ok := b.entries[s]; ok {
			v.values[s] = e.value
		}
	}
	return v
}

// Get reads k through v. A missing slot returns false.
func Get[T any](v *View, k Key[T]) (T, bool) {
	var zero T
	if _, ok := v.readable[k.Slot]; !ok {
		panic(&AccessError{Owner: v.owner, Slot: k.Slot, Err: ErrUndeclaredRead})
	}
	raw, ok := v.values[k.Slot]
	if !ok {
		return zero, false
	}
	val, ok := raw.(T)
	if !ok {
		panic(&AccessError{Owner: v.owner, Slot: k.Slot, Err: ErrTypeMismatch})
	}
	return val, true
}

// Output stages a capability's writes until the engine commits them.
type Output struct {
	owner      string
	writable   map[Slot]struct{}
	owns       map[Slot]struct{}
	values     map[Slot]any
	order      []Slot
	violations []error
}

// NewOutput stages writes for owner limited to produces. Slots in owns may
// replace an existing value on commit.
func NewOutput(owner string, produces, owns []Slot) *Output {
	o := &Output{
		owner:    owner,
		writable: make(map[Slot]struct{}, len(produces)),
		owns:     make(map[Slot]struct{}, len(owns)),
		values:   make(map[Slot]any),
	}
	for _, s := range produces {
		o.writable[s] = struct{}{}
	}
	for _, s := range owns {
		o.owns[s] = struct{}{}
	}
	return o
}

// Put stages v under k. Undeclared writes are refused and also poison the
// commit so a capability cannot ignore the error.
func Put[T any](o *Output, k Key[T], v T) error {
	if _, ok := o.writable[k.Slot]; !ok {
		err := fmt.Errorf("%w: %q by %s", ErrUndeclaredWrite, k.Slot, o.owner)
		o.violations = append(o.violations, err)
		return err
	}
	if _, ok := o.values[k.Slot]; !ok {
		o.order = append(o.order, k.Slot)
	}
	o.values[k.Slot] = v
	return nil
}

// Len returns the number of staged slots.
func (o *Output) Len() int { return len(o.order) }

// Staged returns staged slots in write order.
func (o *Output) Staged() []Slot {
	out := make([]Slot, len(o.order))
	copy(out, o.order)
	return out
}
