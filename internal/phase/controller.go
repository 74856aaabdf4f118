package phase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"greenroom/internal/domain"
	"greenroom/internal/recognizer"
	"greenroom/internal/transcript"
)

var (
	ErrMediaNotReady   = errors.New("media session not ready")
	ErrAwaitingContext = errors.New("job context has not been supplied")
	ErrWrongPhase      = errors.New("action not allowed in current phase")
	ErrTimeExpired     = errors.New("interview time has expired")
	ErrSessionEnded    = errors.New("session has ended")
)

type QuestionFetcher interface {
	Next(ctx context.Context, req domain.QuestionRequest) (string, error)
}

type AnswerSubmitter interface {
	Submit(ctx context.Context, ans domain.Answer) (domain.AnswerFeedback, error)
}

type MediaSession interface {
	Speak(ctx context.Context, text string) error
	State() (domain.MediaState, bool)
	AvatarObserved() bool
}

type Recognizer interface {
	Start(ctx context.Context, turnID string, handler recognizer.Handler) error
	Stop()
}

type TurnClock interface {
	Start(mode string) error
	Stop()
	Snapshot() domain.TimerSnapshot
	Expired() bool
}

type Config struct {
	// Speaking-window heuristic: there is no done-speaking signal from the
	// remote avatar, so the window is estimated from text length. Both
	// constants are tunable, not contractual.
	SpeakFloor   time.Duration
	SpeakPerChar time.Duration

	FinalizeSettle time.Duration
}

// Controller sequences one interview session through
// fetch question -> avatar speaks -> candidate records -> transcript
// finalizes -> candidate reviews/submits -> continue or end. All phase
// transitions are serialized through the controller's mutex.
type Controller struct {
	cfg       Config
	questions QuestionFetcher
	answers   AnswerSubmitter
	media     MediaSession
	rec       Recognizer
	acc       *transcript.Accumulator
	clock     TurnClock
	logger    *slog.Logger
	onEnded   func(reason string)

	mu              sync.Mutex
	session         *domain.Session
	phase           domain.Phase
	currentQuestion domain.Question
	turnID          string
	recording       bool
	recognizerDown  bool
	speakFailed     bool
	recordStart     time.Time
	recordDuration  time.Duration
	finalized       transcript.TurnTranscript
	lastErr         string
	listenTimer     *time.Timer
}

func NewController(cfg Config, session *domain.Session, questions QuestionFetcher, answers AnswerSubmitter, media MediaSession, rec Recognizer, acc *transcript.Accumulator, clock TurnClock, onEnded func(reason string), logger *slog.Logger) *Controller {
	if cfg.SpeakFloor <= 0 {
		cfg.SpeakFloor = 3 * time.Second
	}
	if cfg.SpeakPerChar <= 0 {
		cfg.SpeakPerChar = 60 * time.Millisecond
	}
	if cfg.FinalizeSettle <= 0 {
		cfg.FinalizeSettle = 400 * time.Millisecond
	}

	initial := domain.PhaseIdle
	if strings.TrimSpace(session.JobContext) == "" {
		// Blocks progression until the candidate supplies context; this
		// guards against generating hollow generic questions.
		initial = domain.PhaseAwaitingContext
	}
	return &Controller{
		cfg:       cfg,
		session:   session,
		questions: questions,
		answers:   answers,
		media:     media,
		rec:       rec,
		acc:       acc,
		clock:     clock,
		onEnded:   onEnded,
		logger:    logger,
		phase:     initial,
	}
}

func (c *Controller) Phase() domain.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) CurrentQuestion() domain.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentQuestion
}

func (c *Controller) RecognizerDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recognizerDown
}

func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetJobContext supplies the one-time job-context text and unblocks the
// pre-phase gate.
func (c *Controller) SetJobContext(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("job context must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == domain.PhaseEnded {
		return ErrSessionEnded
	}
	c.session.JobContext = text
	if c.phase == domain.PhaseAwaitingContext {
		c.phase = domain.PhaseIdle
	}
	return nil
}

// Begin starts the interview: gated on job context, a joined media session,
// and an observed avatar participant. The turn timer starts on first
// question delivery.
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case domain.PhaseAwaitingContext:
		c.mu.Unlock()
		return ErrAwaitingContext
	case domain.PhaseIdle:
	default:
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: phase=%s", ErrWrongPhase, phase)
	}
	c.mu.Unlock()

	state, _ := c.media.State()
	if state != domain.MediaJoined || !c.media.AvatarObserved() {
		return ErrMediaNotReady
	}
	return c.askNext(ctx)
}

// askNext fetches the next question and drives Asking. A fetch error leaves
// the phase unchanged so the triggering action can be re-attempted; an empty
// question ends the session.
func (c *Controller) askNext(ctx context.Context) error {
	c.mu.Lock()
	req := domain.QuestionRequest{
		SessionID:          c.session.SessionID,
		Persona:            c.session.Persona,
		Difficulty:         c.session.Difficulty,
		Mode:               c.session.Mode,
		JobContext:         c.session.JobContext,
		PriorQuestionCount: c.session.QuestionIndex,
	}
	c.mu.Unlock()

	text, err := c.questions.Next(ctx, req)
	if err != nil {
		c.setLastErr(fmt.Sprintf("question fetch failed: %v", err))
		return fmt.Errorf("fetch question: %w", err)
	}
	if text == "" {
		c.logger.Info("question service exhausted, ending session", "session_id", req.SessionID)
		c.endSession("no_more_questions")
		return nil
	}

	c.mu.Lock()
	if c.phase == domain.PhaseEnded {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	c.session.QuestionIndex++
	number := c.session.QuestionIndex
	c.currentQuestion = domain.Question{Number: number, Text: text}
	c.phase = domain.PhaseAsking
	c.speakFailed = false
	c.lastErr = ""
	firstQuestion := number == 1
	c.mu.Unlock()

	if firstQuestion {
		if err := c.clock.Start(c.session.Mode); err != nil {
			return fmt.Errorf("start turn timer: %w", err)
		}
	}
	return c.speakCurrent(ctx)
}

// speakCurrent sends the speak command and schedules the Asking->Listening
// flip after the estimated speaking window. On delivery failure the
// controller stays in Asking; Retry re-attempts.
func (c *Controller) speakCurrent(ctx context.Context) error {
	c.mu.Lock()
	q := c.currentQuestion
	c.mu.Unlock()

	if err := c.media.Speak(ctx, q.Text); err != nil {
		c.mu.Lock()
		c.speakFailed = true
		c.lastErr = fmt.Sprintf("avatar speak failed: %v", err)
		c.mu.Unlock()
		return fmt.Errorf("speak question %d: %w", q.Number, err)
	}

	window := c.SpeakEstimate(q.Text)
	c.mu.Lock()
	c.speakFailed = false
	if c.listenTimer != nil {
		c.listenTimer.Stop()
	}
	c.listenTimer = time.AfterFunc(window, func() { c.enterListening(q.Number) })
	c.mu.Unlock()

	c.logger.Info("question asked", "question", q.Number, "speak_window_ms", window.Milliseconds())
	return nil
}

// SpeakEstimate is the timer-based approximation of how long the avatar
// speaks a given text: a minimum floor plus a per-character increment.
func (c *Controller) SpeakEstimate(text string) time.Duration {
	return c.cfg.SpeakFloor + time.Duration(len([]rune(text)))*c.cfg.SpeakPerChar
}

func (c *Controller) enterListening(questionNumber int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A superseded question or a phase change while the window ran makes
	// this flip stale.
	if c.phase != domain.PhaseAsking || c.currentQuestion.Number != questionNumber {
		return
	}
	c.phase = domain.PhaseListening
}

// StartRecording opens a fresh recognizer session for the turn. Allowed
// only in Listening, and only while bounded time remains. Recognizer
// initialization failure degrades to the manual text-entry path instead of
// blocking the turn.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != domain.PhaseListening {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: phase=%s", ErrWrongPhase, phase)
	}
	if c.clock.Expired() {
		c.mu.Unlock()
		return ErrTimeExpired
	}
	if c.recording {
		c.mu.Unlock()
		return nil
	}
	turnID := uuid.NewString()
	c.turnID = turnID
	c.recording = true
	c.recordStart = time.Now()
	c.mu.Unlock()

	c.acc.Reset()

	err := c.rec.Start(ctx, turnID, func(event domain.RecognizerEvent) {
		c.handleRecognizerEvent(event)
	})
	if err != nil {
		if errors.Is(err, recognizer.ErrUnavailable) {
			c.logger.Warn("recognizer unavailable, manual text entry enabled", "turn_id", turnID, "error", err)
			c.mu.Lock()
			c.recognizerDown = true
			c.mu.Unlock()
			return nil
		}
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		return fmt.Errorf("start recognizer: %w", err)
	}
	return nil
}

func (c *Controller) handleRecognizerEvent(event domain.RecognizerEvent) {
	c.mu.Lock()
	stale := event.TurnID != c.turnID || !c.recording
	c.mu.Unlock()
	if stale {
		// Late events from a stopped recognizer session are discarded.
		return
	}

	switch event.Type {
	case domain.RecognizerEventInterim:
		c.acc.OnInterim(event.Text)
	case domain.RecognizerEventFinal:
		c.acc.OnFinal(event.Text, event.Confidence)
	}
}

// SetManualTranscript is the degraded answer path when the recognizer is
// unavailable: the typed text stands in for the spoken answer.
func (c *Controller) SetManualTranscript(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("transcript must not be empty")
	}

	c.mu.Lock()
	if c.phase != domain.PhaseListening || !c.recognizerDown {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: manual transcript only allowed while listening with recognizer down (phase=%s)", ErrWrongPhase, phase)
	}
	c.mu.Unlock()

	c.acc.Reset()
	c.acc.OnFinal(text, 0)
	return nil
}

// StopRecording flips Listening->Finalizing, stops the recognizer, and
// after a short settle delay promotes any dangling interim text and
// finalizes the turn exactly once. Finalizing->Reviewing is automatic.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	if c.phase != domain.PhaseListening || !c.recording {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: phase=%s", ErrWrongPhase, phase)
	}
	c.phase = domain.PhaseFinalizing
	c.recording = false
	c.recordDuration = time.Since(c.recordStart)
	turnID := c.turnID
	c.mu.Unlock()

	c.rec.Stop()
	time.AfterFunc(c.cfg.FinalizeSettle, func() { c.finalizeTurn(turnID) })
	return nil
}

func (c *Controller) finalizeTurn(turnID string) {
	c.mu.Lock()
	if c.phase != domain.PhaseFinalizing || c.turnID != turnID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.acc.PromoteInterim()
	entry, appended := c.acc.FinalizeTurn(turnID)

	c.mu.Lock()
	// The session may have ended while the lock was released; never
	// resurrect it into Reviewing.
	if c.phase != domain.PhaseFinalizing || c.turnID != turnID {
		c.mu.Unlock()
		return
	}
	if appended {
		c.finalized = entry
	}
	c.phase = domain.PhaseReviewing
	c.mu.Unlock()
}

// Retry discards the current turn's transcript and audio and returns to a
// clean Listening state without advancing the question index. From a failed
// Asking it re-attempts the speak command instead.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	phase := c.phase
	speakFailed := c.speakFailed
	c.mu.Unlock()

	if phase == domain.PhaseAsking && speakFailed {
		return c.speakCurrent(ctx)
	}

	switch phase {
	case domain.PhaseListening, domain.PhaseReviewing:
	default:
		return fmt.Errorf("%w: phase=%s", ErrWrongPhase, phase)
	}

	c.rec.Stop()
	c.mu.Lock()
	discarded := c.turnID
	c.recording = false
	c.turnID = ""
	c.finalized = transcript.TurnTranscript{}
	c.phase = domain.PhaseListening
	c.mu.Unlock()

	c.acc.Reset()
	if discarded != "" {
		c.acc.DiscardTurn(discarded)
	}
	return nil
}

// Submit sends the finalized answer to the evaluation service. In a bounded
// mode with the timer at zero, a successful submit forces session end
// instead of offering Continue.
func (c *Controller) Submit(ctx context.Context) (domain.AnswerFeedback, bool, error) {
	c.mu.Lock()
	if c.phase != domain.PhaseReviewing {
		phase := c.phase
		c.mu.Unlock()
		return domain.AnswerFeedback{}, false, fmt.Errorf("%w: phase=%s", ErrWrongPhase, phase)
	}
	ans := domain.Answer{
		SessionID:      c.session.SessionID,
		QuestionNumber: c.currentQuestion.Number,
		QuestionText:   c.currentQuestion.Text,
		Transcript:     c.finalized.Text,
		DurationMs:     c.recordDuration.Milliseconds(),
		Confidence:     c.finalized.Confidence,
	}
	c.mu.Unlock()

	feedback, err := c.answers.Submit(ctx, ans)
	if err != nil {
		c.setLastErr(fmt.Sprintf("answer submit failed: %v", err))
		return domain.AnswerFeedback{}, false, fmt.Errorf("submit answer: %w", err)
	}
	c.setLastErr("")

	if c.clock.Expired() {
		c.endSession("time_expired")
		return feedback, true, nil
	}
	return feedback, false, nil
}

// Continue advances to the next question; a bounded-mode timer at zero
// overrides the candidate's choice and ends the session.
func (c *Controller) Continue(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != domain.PhaseReviewing {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: phase=%s", ErrWrongPhase, phase)
	}
	c.mu.Unlock()

	if c.clock.Expired() {
		c.endSession("time_expired")
		return ErrTimeExpired
	}
	return c.askNext(ctx)
}

// End terminates the session from any phase.
func (c *Controller) End() {
	c.endSession("candidate_end")
}

func (c *Controller) endSession(reason string) {
	c.mu.Lock()
	if c.phase == domain.PhaseEnded {
		c.mu.Unlock()
		return
	}
	c.phase = domain.PhaseEnded
	c.recording = false
	if c.listenTimer != nil {
		c.listenTimer.Stop()
		c.listenTimer = nil
	}
	c.mu.Unlock()

	c.rec.Stop()
	c.clock.Stop()
	c.logger.Info("interview session ended", "session_id", c.session.SessionID, "reason", reason)
	if c.onEnded != nil {
		c.onEnded(reason)
	}
}

func (c *Controller) setLastErr(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

// Transcript returns the live answer text for status displays.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	phase := c.phase
	finalized := c.finalized.Text
	c.mu.Unlock()

	if phase == domain.PhaseReviewing || phase == domain.PhaseEnded {
		return finalized
	}
	return c.acc.CurrentValue()
}
