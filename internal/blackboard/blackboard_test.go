package blackboard

import (
	"errors"
	"testing"
)

var (
	facesKey   = NewKey[[]string](CroppedFaces)
	currentKey = NewKey[string](CurrentFace)
	emotionKey = NewKey[string](Emotion)
)

func TestSeedIgnoresEmptyStrings(t *testing.T) {
	b := New()
	if err := Seed(b, EntityHintKey, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if b.Has(EntityHint) {
		t.Fatalf("empty hint should stay absent")
	}
	if err := Seed(b, QueryTextKey, "is ada ok"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if w, _ := b.WriterOf(QueryText); w != SeedOwner {
		t.Fatalf("expected seed owner, got %q", w)
	}
}

func TestSeedRejectsUnknownSlot(t *testing.T) {
	b := New()
	err := Seed(b, NewKey[string]("bogus"), "x")
	if !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestCommitRefusesOverwriteOfUnownedSlot(t *testing.T) {
	b := New()
	first := NewOutput("analyze_emotion", []Slot{Emotion}, nil)
	if err := Put(first, emotionKey, "happy"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Commit(first); err != nil {
		t.Fatalf("commit: %v", err)
	}

	second := NewOutput("other", []Slot{Emotion}, nil)
	_ = Put(second, emotionKey, "sad")
	if err := b.Commit(second); !errors.Is(err, ErrSlotWritten) {
		t.Fatalf("expected ErrSlotWritten, got %v", err)
	}
	got, _ := Lookup(b, emotionKey)
	if got != "happy" {
		t.Fatalf("value overwritten: %q", got)
	}
}

func TestCommitAllowsOwnerOverwrite(t *testing.T) {
	b := New()
	rule := FirstOf(facesKey, currentKey)
	out := NewOutput("crop", []Slot{CroppedFaces}, nil)
	_ = Put(out, facesKey, []string{"a.jpg", "b.jpg"})
	if err := b.Commit(out); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !rule.Apply(b) {
		t.Fatalf("expected focus default to apply")
	}
	if cur, _ := Lookup(b, currentKey); cur != "a.jpg" {
		t.Fatalf("expected first crop, got %q", cur)
	}

	sel := NewOutput("select_student", []Slot{CurrentFace}, []Slot{CurrentFace})
	_ = Put(sel, currentKey, "b.jpg")
	if err := b.Commit(sel); err != nil {
		t.Fatalf("owner commit: %v", err)
	}
	if cur, _ := Lookup(b, currentKey); cur != "b.jpg" {
		t.Fatalf("expected owner overwrite, got %q", cur)
	}
	if rule.Apply(b) {
		t.Fatalf("focus default must not replace an existing selection")
	}
}

func TestUndeclaredWritePoisonsCommit(t *testing.T) {
	b := New()
	out := NewOutput("detect", []Slot{Detections}, nil)
	if err := Put(out, emotionKey, "x"); !errors.Is(err, ErrUndeclaredWrite) {
		t.Fatalf("expected ErrUndeclaredWrite, got %v", err)
	}
	if err := b.Commit(out); !errors.Is(err, ErrUndeclaredWrite) {
		t.Fatalf("commit should fail, got %v", err)
	}
	if b.Has(Emotion) {
		t.Fatalf("nothing should be written")
	}
}

func TestUndeclaredReadPanics(t *testing.T) {
	b := New()
	_ = Seed(b, QueryTextKey, "q")
	v := NewView(b, "analyze_emotion", CurrentFace)
	defer func() {
		r := recover()
		ae, ok := r.(*AccessError)
		if !ok || !errors.Is(ae, ErrUndeclaredRead) {
			t.Fatalf("expected access error, got %v", r)
		}
	}()
	Get(v, QueryTextKey)
}

func TestViewGetMissing(t *testing.T) {
	v := NewView(New(), "x", Emotion)
	if _, ok := Get(v, emotionKey); ok {
		t.Fatalf("expected missing")
	}
}

func TestFocusRuleIgnoresEmptyCollection(t *testing.T) {
	b := New()
	out := NewOutput("crop", []Slot{CroppedFaces}, nil)
	_ = Put(out, facesKey, []string{})
	_ = b.Commit(out)
	if FirstOf(facesKey, currentKey).Apply(b) {
		t.Fatalf("empty collection must not select")
	}
	if b.Has(CurrentFace) {
		t.Fatalf("current should remain absent")
	}
}
