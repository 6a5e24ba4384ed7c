package blackboard

// FocusOwner is recorded as the writer of a default focus selection.
const FocusOwner = "engine:focus"

// FocusRule selects the current item of interest from a collection slot.
// The default is always the first item in collection order.
type FocusRule struct {
	Collection Slot
	Current    Slot
	apply      func(*Blackboard) bool
}

// FirstOf builds a rule that copies collection[0] into current when current
// is absent and the collection is non-empty.
func FirstOf[T any](collection Key[[]T], current Key[T]) FocusRule {
	return FocusRule{
		Collection: collection.Slot,
		Current:    current.Slot,
		apply: func(b *Blackboard) bool {
			if b.Has(current.Slot) {
				return false
			}
			items, ok := Lookup(b, collection)
			if !ok || len(items) == 0 {
				return false
			}
			b.set(current.Slot, items[0], FocusOwner)
			return true
		},
	}
}

// Apply runs the rule against b and reports whether it wrote.
func (r FocusRule) Apply(b *Blackboard) bool {
	if r.apply == nil {
		return false
	}
	return r.apply(b)
}
