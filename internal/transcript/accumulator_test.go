package transcript

import "testing"

func TestInterimThenFinal(t *testing.T) {
	a := NewAccumulator()
	a.OnInterim("hel")
	a.OnInterim("hello wor")
	a.OnInterim("hello world")
	a.OnFinal("hello world", 0.9)

	if got := a.CurrentValue(); got != "hello world" {
		t.Fatalf("CurrentValue() = %q, want %q", got, "hello world")
	}
}

func TestFinalSegmentsJoinedWithSingleSpace(t *testing.T) {
	a := NewAccumulator()
	a.OnFinal("I worked at", 0.8)
	a.OnInterim("a startup for")
	a.OnFinal("a startup for three years", 0.7)

	if got := a.CurrentValue(); got != "I worked at a startup for three years" {
		t.Fatalf("unexpected accumulated value: %q", got)
	}
}

func TestCurrentValueIncludesPendingInterim(t *testing.T) {
	a := NewAccumulator()
	a.OnFinal("first part", 0.9)
	a.OnInterim("second par")

	if got := a.CurrentValue(); got != "first part second par" {
		t.Fatalf("CurrentValue() = %q, want interim appended", got)
	}
}

func TestEmptyFinalSegmentIgnored(t *testing.T) {
	a := NewAccumulator()
	a.OnFinal("hello", 0.9)
	a.OnFinal("", 0.1)
	a.OnFinal("   ", 0.1)

	if got := a.CurrentValue(); got != "hello" {
		t.Fatalf("empty final segment should be ignored, got %q", got)
	}
}

func TestResetIsIdempotentAndClearsEverything(t *testing.T) {
	a := NewAccumulator()
	a.OnFinal("hello world", 0.9)
	a.OnInterim("tail")
	a.Reset()
	a.Reset()

	if got := a.CurrentValue(); got != "" {
		t.Fatalf("CurrentValue() after reset = %q, want empty", got)
	}
	if got := a.Confidence(); got != 0 {
		t.Fatalf("Confidence() after reset = %v, want 0", got)
	}
}

func TestNoLeakageBetweenTurns(t *testing.T) {
	a := NewAccumulator()
	a.OnInterim("hel")
	a.OnInterim("hello wor")
	a.OnInterim("hello world")
	a.OnFinal("hello world", 0.9)

	a.Reset()
	a.OnFinal("yes", 0.8)

	if got := a.CurrentValue(); got != "yes" {
		t.Fatalf("second turn leaked first turn content: %q", got)
	}
}

func TestPromoteInterimFallback(t *testing.T) {
	a := NewAccumulator()
	a.OnInterim("only interim ever arrived")
	a.PromoteInterim()

	if got := a.CurrentValue(); got != "only interim ever arrived" {
		t.Fatalf("promoted interim lost: %q", got)
	}
	if got := a.Confidence(); got != 0 {
		t.Fatalf("promoted interim should carry zero confidence, got %v", got)
	}

	// A second promotion with an empty buffer changes nothing.
	a.PromoteInterim()
	if got := a.CurrentValue(); got != "only interim ever arrived" {
		t.Fatalf("idempotent promotion violated: %q", got)
	}
}

func TestFinalizeTurnExactlyOnce(t *testing.T) {
	a := NewAccumulator()
	a.OnFinal("the answer", 0.6)

	entry, ok := a.FinalizeTurn("turn-1")
	if !ok {
		t.Fatalf("first finalize should succeed")
	}
	if entry.Text != "the answer" {
		t.Fatalf("finalized text = %q", entry.Text)
	}

	if _, ok := a.FinalizeTurn("turn-1"); ok {
		t.Fatalf("duplicate finalize for same turn must be rejected")
	}

	a.Reset()
	a.OnFinal("another answer", 0.9)
	if _, ok := a.FinalizeTurn("turn-2"); !ok {
		t.Fatalf("finalize for a new turn should succeed")
	}

	turns := a.FinalizedTurns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 finalized turns, got %d", len(turns))
	}
	if turns[0].Text != "the answer" || turns[1].Text != "another answer" {
		t.Fatalf("finalized turns out of order: %+v", turns)
	}
}

func TestDiscardTurnRemovesEntryAndAllowsReFinalize(t *testing.T) {
	a := NewAccumulator()
	a.OnFinal("kept", 0.9)
	if _, ok := a.FinalizeTurn("turn-1"); !ok {
		t.Fatalf("finalize should succeed")
	}
	a.OnFinal("thrown away", 0.3)
	if _, ok := a.FinalizeTurn("turn-2"); !ok {
		t.Fatalf("finalize should succeed")
	}

	a.DiscardTurn("turn-2")
	a.DiscardTurn("turn-2")

	turns := a.FinalizedTurns()
	if len(turns) != 1 || turns[0].TurnID != "turn-1" {
		t.Fatalf("discarded turn still recorded: %+v", turns)
	}

	a.Reset()
	a.OnFinal("take two", 0.8)
	if _, ok := a.FinalizeTurn("turn-2"); !ok {
		t.Fatalf("discarded turn ID should be finalizable again")
	}
	turns = a.FinalizedTurns()
	if len(turns) != 2 || turns[1].Text != "take two" {
		t.Fatalf("re-finalized turn missing: %+v", turns)
	}
}

func TestConfidenceIsMeanOverFinals(t *testing.T) {
	a := NewAccumulator()
	a.OnFinal("one", 0.8)
	a.OnFinal("two", 0.4)

	if got := a.Confidence(); got < 0.599 || got > 0.601 {
		t.Fatalf("Confidence() = %v, want 0.6", got)
	}
}
