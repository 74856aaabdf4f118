package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"greenroom/internal/domain"
	"greenroom/internal/phase"
	"greenroom/internal/recognizer"
	"greenroom/internal/transcript"
)

type fakeMedia struct {
	mu         sync.Mutex
	ops        []string
	connectErr error
	avatar     bool
	state      domain.MediaState
}

func (f *fakeMedia) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeMedia) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

func (f *fakeMedia) Connect(_ context.Context, room string) error {
	f.mu.Lock()
	err := f.connectErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.record("connect:" + room)
	f.mu.Lock()
	f.state = domain.MediaJoined
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) Disconnect() {
	f.record("disconnect")
	f.mu.Lock()
	f.state = domain.MediaDisconnected
	f.mu.Unlock()
}

func (f *fakeMedia) Speak(_ context.Context, text string) error {
	f.record("speak:" + text)
	return nil
}

func (f *fakeMedia) SetLocalAudioEnabled(enabled bool) error {
	if enabled {
		f.record("mic:on")
	} else {
		f.record("mic:off")
	}
	return nil
}

func (f *fakeMedia) RequestRemoteTeardown() { f.record("teardown") }
func (f *fakeMedia) NoteActivity()          {}
func (f *fakeMedia) EnableSound()           { f.record("enable_sound") }

func (f *fakeMedia) State() (domain.MediaState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.avatar
}

func (f *fakeMedia) AvatarObserved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avatar
}

func (f *fakeMedia) SoundBlocked() bool { return false }

type scriptedQuestions struct {
	mu    sync.Mutex
	queue []string
}

func (s *scriptedQuestions) Next(_ context.Context, _ domain.QuestionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", nil
	}
	q := s.queue[0]
	s.queue = s.queue[1:]
	return q, nil
}

type nopAnswers struct{}

func (nopAnswers) Submit(_ context.Context, _ domain.Answer) (domain.AnswerFeedback, error) {
	return domain.AnswerFeedback{Score: 5}, nil
}

type nopRecognizer struct{}

func (nopRecognizer) Start(_ context.Context, _ string, _ recognizer.Handler) error { return nil }
func (nopRecognizer) Stop()                                                         {}

type stubClock struct{}

func (stubClock) Start(_ string) error { return nil }
func (stubClock) Stop()                {}
func (stubClock) Snapshot() domain.TimerSnapshot {
	return domain.TimerSnapshot{Active: true, ElapsedSeconds: 12}
}
func (stubClock) Expired() bool { return false }

func newTestOrchestrator(media *fakeMedia, questions ...string) *Orchestrator {
	cfg := Config{
		GreetingText:   "Welcome to your practice interview.",
		GreetingGap:    time.Millisecond,
		AvatarWait:     50 * time.Millisecond,
		AvatarWaitPoll: time.Millisecond,
		Phase: phase.Config{
			SpeakFloor:     5 * time.Millisecond,
			SpeakPerChar:   time.Microsecond,
			FinalizeSettle: time.Millisecond,
		},
	}
	sess := &domain.Session{
		SessionID:  "sess-1",
		Persona:    "friendly",
		Mode:       "5min",
		JobContext: "Backend engineer role.",
		Room:       "room-1",
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewOrchestrator(cfg, sess, media, nopRecognizer{}, stubClock{}, transcript.NewAccumulator(), &scriptedQuestions{queue: questions}, nopAnswers{}, logger)
}

func TestStartRunsGreetingHandshakeInOrder(t *testing.T) {
	media := &fakeMedia{avatar: true}
	o := newTestOrchestrator(media, "Tell me about yourself.")

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	want := []string{
		"connect:room-1",
		"mic:on",
		"speak:Welcome to your practice interview.",
		"mic:off",
		"speak:Tell me about yourself.",
	}
	got := media.opsSnapshot()
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestStartReattemptAfterFailureAndDuplicateRejected(t *testing.T) {
	media := &fakeMedia{avatar: true, connectErr: errors.New("broker down")}
	o := newTestOrchestrator(media, "Q1")

	if err := o.Start(context.Background()); err == nil {
		t.Fatalf("start succeeded despite connect failure")
	}

	media.mu.Lock()
	media.connectErr = nil
	media.mu.Unlock()
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("re-attempt failed: %v", err)
	}

	if err := o.Start(context.Background()); err == nil {
		t.Fatalf("duplicate start not rejected")
	}
}

func TestStartFailsWhenAvatarNeverAppears(t *testing.T) {
	media := &fakeMedia{avatar: false}
	o := newTestOrchestrator(media, "Q1")

	if err := o.Start(context.Background()); !errors.Is(err, phase.ErrMediaNotReady) {
		t.Fatalf("err = %v, want ErrMediaNotReady", err)
	}
}

func TestEndTearsDownMediaOnce(t *testing.T) {
	media := &fakeMedia{avatar: true}
	o := newTestOrchestrator(media, "Q1")
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	o.End()
	o.End()

	var teardowns, disconnects int
	for _, op := range media.opsSnapshot() {
		switch op {
		case "teardown":
			teardowns++
		case "disconnect":
			disconnects++
		}
	}
	if teardowns != 1 || disconnects != 1 {
		t.Fatalf("teardowns=%d disconnects=%d, want 1/1", teardowns, disconnects)
	}
}

func TestStatusSnapshot(t *testing.T) {
	media := &fakeMedia{avatar: true}
	o := newTestOrchestrator(media, "Tell me about yourself.")
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	status := o.Status()
	if status.Session.SessionID != "sess-1" {
		t.Fatalf("session id = %q", status.Session.SessionID)
	}
	if status.Media != domain.MediaJoined {
		t.Fatalf("media = %s", status.Media)
	}
	if status.CurrentQuestion.Text != "Tell me about yourself." {
		t.Fatalf("question = %+v", status.CurrentQuestion)
	}
	if status.Timer.ElapsedSeconds != 12 {
		t.Fatalf("timer = %+v", status.Timer)
	}
}

func TestRegistry(t *testing.T) {
	media := &fakeMedia{avatar: true}
	o := newTestOrchestrator(media, "Q1")

	r := NewRegistry()
	r.Put("sess-1", o)
	if _, ok := r.Get("sess-1"); !ok {
		t.Fatalf("session not found after put")
	}
	r.EndAll()
	r.Remove("sess-1")
	if _, ok := r.Get("sess-1"); ok {
		t.Fatalf("session still present after remove")
	}
}
