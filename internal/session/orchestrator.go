package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"greenroom/internal/domain"
	"greenroom/internal/phase"
	"greenroom/internal/transcript"
)

// Media is the slice of the avatar media manager the orchestrator drives.
type Media interface {
	Connect(ctx context.Context, room string) error
	Disconnect()
	Speak(ctx context.Context, text string) error
	SetLocalAudioEnabled(enabled bool) error
	RequestRemoteTeardown()
	NoteActivity()
	EnableSound()
	State() (domain.MediaState, bool)
	AvatarObserved() bool
	SoundBlocked() bool
}

type Config struct {
	GreetingText   string
	GreetingGap    time.Duration
	AvatarWait     time.Duration
	AvatarWaitPoll time.Duration
	Phase          phase.Config
}

// Orchestrator ties one interview session together: media lifecycle,
// greeting handshake, and the phase controller that sequences turns.
type Orchestrator struct {
	cfg        Config
	session    *domain.Session
	media      Media
	clock      phase.TurnClock
	acc        *transcript.Accumulator
	controller *phase.Controller
	logger     *slog.Logger

	mu       sync.Mutex
	starting bool
	started  bool
}

func NewOrchestrator(cfg Config, session *domain.Session, media Media, rec phase.Recognizer, clock phase.TurnClock, acc *transcript.Accumulator, questions phase.QuestionFetcher, answers phase.AnswerSubmitter, logger *slog.Logger) *Orchestrator {
	if cfg.AvatarWait <= 0 {
		cfg.AvatarWait = 10 * time.Second
	}
	if cfg.AvatarWaitPoll <= 0 {
		cfg.AvatarWaitPoll = 50 * time.Millisecond
	}

	o := &Orchestrator{
		cfg:     cfg,
		session: session,
		media:   media,
		clock:   clock,
		acc:     acc,
		logger:  logger.With("session_id", session.SessionID),
	}
	o.controller = phase.NewController(cfg.Phase, session, questions, answers, media, rec, acc, clock, o.onEnded, o.logger)
	return o
}

func (o *Orchestrator) SetJobContext(text string) error {
	return o.controller.SetJobContext(text)
}

// Prejoin starts the media join ahead of Start so the avatar is usually
// already attached by the time the candidate begins. Connect is idempotent,
// so the later Start sequence is unaffected.
func (o *Orchestrator) Prejoin(ctx context.Context) error {
	return o.media.Connect(ctx, o.session.Room)
}

// Start runs the session start sequence exactly once at a time: join the
// media room, wait for the avatar, run the greeting handshake with the mic
// briefly open, then hand over to the phase controller for the first
// question. A failed start releases the guard so the candidate can
// re-attempt; a concurrent duplicate start is rejected.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	if o.starting {
		o.mu.Unlock()
		return fmt.Errorf("session start already in progress")
	}
	o.starting = true
	o.mu.Unlock()

	err := o.start(ctx)

	o.mu.Lock()
	o.starting = false
	o.started = err == nil
	o.mu.Unlock()
	return err
}

func (o *Orchestrator) start(ctx context.Context) error {
	if err := o.media.Connect(ctx, o.session.Room); err != nil {
		return fmt.Errorf("connect media: %w", err)
	}
	if err := o.waitForAvatar(ctx); err != nil {
		return err
	}

	// Greeting handshake: the mic is open only for this window so the
	// avatar can acknowledge the candidate. It is muted again before any
	// question, so spoken answers never reach the remote side.
	if err := o.media.SetLocalAudioEnabled(true); err != nil {
		o.logger.Warn("mic unmute for greeting failed", "error", err)
	}
	if o.cfg.GreetingText != "" {
		if err := o.media.Speak(ctx, o.cfg.GreetingText); err != nil {
			o.logger.Warn("greeting speak failed", "error", err)
		}
	}
	select {
	case <-time.After(o.cfg.GreetingGap):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := o.media.SetLocalAudioEnabled(false); err != nil {
		o.logger.Warn("mic mute after greeting failed", "error", err)
	}

	return o.controller.Begin(ctx)
}

func (o *Orchestrator) waitForAvatar(ctx context.Context) error {
	deadline := time.Now().Add(o.cfg.AvatarWait)
	for time.Now().Before(deadline) {
		if o.media.AvatarObserved() {
			return nil
		}
		select {
		case <-time.After(o.cfg.AvatarWaitPoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return phase.ErrMediaNotReady
}

func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.media.NoteActivity()
	return o.controller.StartRecording(ctx)
}

func (o *Orchestrator) StopRecording() error {
	o.media.NoteActivity()
	return o.controller.StopRecording()
}

func (o *Orchestrator) Retry(ctx context.Context) error {
	o.media.NoteActivity()
	return o.controller.Retry(ctx)
}

func (o *Orchestrator) Submit(ctx context.Context) (domain.AnswerFeedback, bool, error) {
	o.media.NoteActivity()
	return o.controller.Submit(ctx)
}

func (o *Orchestrator) Continue(ctx context.Context) error {
	o.media.NoteActivity()
	return o.controller.Continue(ctx)
}

func (o *Orchestrator) ManualTranscript(text string) error {
	o.media.NoteActivity()
	return o.controller.SetManualTranscript(text)
}

func (o *Orchestrator) NoteActivity() {
	o.media.NoteActivity()
}

func (o *Orchestrator) EnableSound() {
	o.media.EnableSound()
}

// End terminates the session on the candidate's request. Media teardown runs
// through the controller's end path so every exit route tears down the same
// way.
func (o *Orchestrator) End() {
	o.controller.End()
}

// onEnded runs on every session end path: candidate end, question
// exhaustion, and time expiry. Remote teardown is best effort.
func (o *Orchestrator) onEnded(reason string) {
	o.media.RequestRemoteTeardown()
	o.media.Disconnect()
	o.logger.Info("session torn down", "reason", reason)
}

func (o *Orchestrator) Status() domain.SessionStatus {
	mediaState, attached := o.media.State()
	return domain.SessionStatus{
		Session:         *o.session,
		Phase:           o.controller.Phase(),
		Media:           mediaState,
		AvatarAttached:  attached,
		SoundBlocked:    o.media.SoundBlocked(),
		RecognizerDown:  o.controller.RecognizerDown(),
		CurrentQuestion: o.controller.CurrentQuestion(),
		Transcript:      o.controller.Transcript(),
		Timer:           o.clock.Snapshot(),
		LastError:       o.controller.LastError(),
	}
}

// Registry maps session IDs to live orchestrators.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Orchestrator
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Orchestrator)}
}

func (r *Registry) Put(id string, o *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = o
}

func (r *Registry) Get(id string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.sessions[id]
	return o, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// EndAll terminates every live session; used on server shutdown.
func (r *Registry) EndAll() {
	r.mu.Lock()
	all := make([]*Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		all = append(all, o)
	}
	r.mu.Unlock()

	for _, o := range all {
		o.End()
	}
}
