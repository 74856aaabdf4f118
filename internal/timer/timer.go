package timer

import (
	"fmt"
	"sync"
	"time"

	"greenroom/internal/domain"
)

// TurnTimer tracks elapsed time and, for bounded modes, remaining time.
// It ticks once per second while active and stops cleanly at zero. The
// timer is deliberately independent of phase transitions; pausing is a
// caller decision.
type TurnTimer struct {
	mu        sync.Mutex
	modes     map[string]int
	tick      time.Duration
	elapsed   int
	remaining *int
	active    bool
	stopCh    chan struct{}
	onExpire  func()
	expired   bool
}

type Option func(*TurnTimer)

// WithTickInterval overrides the one-second tick, for tests.
func WithTickInterval(d time.Duration) Option {
	return func(t *TurnTimer) {
		if d > 0 {
			t.tick = d
		}
	}
}

// WithOnExpire registers a callback fired once when remaining reaches zero.
func WithOnExpire(fn func()) Option {
	return func(t *TurnTimer) { t.onExpire = fn }
}

func New(modes map[string]int, opts ...Option) *TurnTimer {
	t := &TurnTimer{
		modes: modes,
		tick:  time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start initializes counters from the mode lookup and begins ticking.
// A zero-second mode is unbounded: remaining stays nil and the timer only
// counts up.
func (t *TurnTimer) Start(mode string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	seconds, ok := t.modes[mode]
	if !ok {
		return fmt.Errorf("unknown timer mode: %s", mode)
	}
	if t.active {
		return nil
	}

	if seconds > 0 {
		remaining := seconds
		t.remaining = &remaining
	} else {
		t.remaining = nil
	}
	t.elapsed = 0
	t.expired = false
	t.active = true
	t.stopCh = make(chan struct{})
	go t.run(t.stopCh)
	return nil
}

// Stop pauses ticking without resetting counters. Safe to call repeatedly.
func (t *TurnTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *TurnTimer) stopLocked() {
	if !t.active {
		return
	}
	t.active = false
	close(t.stopCh)
	t.stopCh = nil
}

func (t *TurnTimer) run(stopCh chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if expired := t.advance(); expired {
				if t.onExpire != nil {
					t.onExpire()
				}
				return
			}
		}
	}
}

func (t *TurnTimer) advance() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return false
	}
	t.elapsed++
	if t.remaining == nil {
		return false
	}
	if *t.remaining > 0 {
		*t.remaining--
	}
	if *t.remaining == 0 {
		t.expired = true
		t.stopLocked()
		return true
	}
	return false
}

// Expired reports whether a bounded run counted down to zero.
func (t *TurnTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

func (t *TurnTimer) Snapshot() domain.TimerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := domain.TimerSnapshot{
		ElapsedSeconds: t.elapsed,
		Active:         t.active,
	}
	if t.remaining != nil {
		remaining := *t.remaining
		snap.RemainingSeconds = &remaining
	}
	return snap
}
