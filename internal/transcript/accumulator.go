package transcript

import (
	"strings"
	"sync"
)

// Accumulator merges a stream of interim/final recognition events into one
// authoritative answer string per turn. Recognizers emit many transient
// interim events before a stable final event; interim text only ever
// replaces the interim buffer, never the accumulated text.
type Accumulator struct {
	mu sync.Mutex

	accumulated string
	interim     string

	finalCount      int
	confidenceSum   float64
	promotedInterim bool

	finalizedTurns map[string]struct{}
	turns          []TurnTranscript
}

type TurnTranscript struct {
	TurnID     string
	Text       string
	Confidence float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{finalizedTurns: make(map[string]struct{})}
}

// Reset clears accumulated and interim text for a new turn. Idempotent.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accumulated = ""
	a.interim = ""
	a.finalCount = 0
	a.confidenceSum = 0
	a.promotedInterim = false
}

// OnInterim replaces the interim buffer. Safe to call at high frequency.
func (a *Accumulator) OnInterim(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interim = text
}

// OnFinal appends segment to the accumulated buffer with a single
// separating space, clears interim, and returns the new accumulated value.
// Empty segments are ignored.
func (a *Accumulator) OnFinal(segment string, confidence float64) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.interim = ""
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return a.accumulated
	}
	if a.accumulated == "" {
		a.accumulated = segment
	} else {
		a.accumulated += " " + segment
	}
	a.finalCount++
	a.confidenceSum += confidence
	return a.accumulated
}

// CurrentValue returns accumulated text, with any pending interim text
// appended after a single space.
func (a *Accumulator) CurrentValue() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentValueLocked()
}

func (a *Accumulator) currentValueLocked() string {
	if a.interim == "" {
		return a.accumulated
	}
	if a.accumulated == "" {
		return a.interim
	}
	return a.accumulated + " " + a.interim
}

// PromoteInterim promotes a dangling interim buffer to final text so that a
// turn whose recognizer never emitted a final event does not end up with a
// silently empty answer. Promoted text carries zero confidence.
func (a *Accumulator) PromoteInterim() {
	a.mu.Lock()
	defer a.mu.Unlock()

	interim := strings.TrimSpace(a.interim)
	a.interim = ""
	if interim == "" {
		return
	}
	if a.accumulated == "" {
		a.accumulated = interim
	} else {
		a.accumulated += " " + interim
	}
	a.finalCount++
	a.promotedInterim = true
}

// Confidence is the mean confidence over the turn's final segments.
func (a *Accumulator) Confidence() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalCount == 0 {
		return 0
	}
	return a.confidenceSum / float64(a.finalCount)
}

// FinalizeTurn appends the current value to the ordered list of finalized
// turn transcripts. At most one entry is appended per turn ID.
func (a *Accumulator) FinalizeTurn(turnID string) (TurnTranscript, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.finalizedTurns[turnID]; done {
		return TurnTranscript{}, false
	}
	a.finalizedTurns[turnID] = struct{}{}

	entry := TurnTranscript{
		TurnID: turnID,
		Text:   a.currentValueLocked(),
	}
	if a.finalCount > 0 {
		entry.Confidence = a.confidenceSum / float64(a.finalCount)
	}
	a.turns = append(a.turns, entry)
	return entry, true
}

// DiscardTurn removes a finalized turn's entry so a retried answer does not
// linger in the session record. The turn ID becomes finalizable again.
func (a *Accumulator) DiscardTurn(turnID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.finalizedTurns[turnID]; !done {
		return
	}
	delete(a.finalizedTurns, turnID)
	for i := len(a.turns) - 1; i >= 0; i-- {
		if a.turns[i].TurnID == turnID {
			a.turns = append(a.turns[:i], a.turns[i+1:]...)
			break
		}
	}
}

// FinalizedTurns returns a copy of the finalized turn transcripts in order.
func (a *Accumulator) FinalizedTurns() []TurnTranscript {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TurnTranscript, len(a.turns))
	copy(out, a.turns)
	return out
}
