package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"greenroom/internal/domain"
)

var (
	// ErrAutoplayBlocked is returned by an OutputSink when the runtime
	// refuses to start playback without a prior user gesture.
	ErrAutoplayBlocked = errors.New("autoplay blocked")

	ErrNotJoined = errors.New("media session is not joined")
	ErrNoAvatar  = errors.New("no avatar participant observed")
)

// OutputSink is the surface remote avatar media is rendered to.
type OutputSink interface {
	Play(stream domain.RemoteStream) error
	PlayMuted(stream domain.RemoteStream) error
	SetMuted(muted bool)
}

// CaptureDevice requests access to the local microphone/camera. Permission
// failure is best-effort; only remote media is actually rendered.
type CaptureDevice interface {
	RequestPermission(ctx context.Context) error
	Release()
}

type ManagerConfig struct {
	BrokerURL        string
	ClientID         string
	Username         string
	Password         string
	TopicPrefix      string
	AvatarNamePrefix string
	IdleTimeout      time.Duration
	RosterTTL        time.Duration
}

// pahoClient is the subset of paho.Client the manager uses.
type pahoClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	IsConnected() bool
}

type clientFactory func(cfg ManagerConfig, onLost func(error)) pahoClient

// Manager owns the lifecycle of the remote avatar connection: join, remote
// track attachment, speak commands, local mute state, and teardown.
type Manager struct {
	cfg       ManagerConfig
	sink      OutputSink
	capture   CaptureDevice
	roster    *Roster
	logger    *slog.Logger
	newClient clientFactory

	mu             sync.Mutex
	state          domain.MediaState
	room           string
	client         pahoClient
	avatarID       string
	avatarAttached bool
	soundBlocked   bool
	idleTimer      *time.Timer
}

func NewManager(cfg ManagerConfig, sink OutputSink, capture CaptureDevice, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		sink:      sink,
		capture:   capture,
		roster:    NewRoster(cfg.RosterTTL),
		logger:    logger,
		newClient: defaultClientFactory,
		state:     domain.MediaDisconnected,
	}
}

func defaultClientFactory(cfg ManagerConfig, onLost func(error)) pahoClient {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		onLost(err)
	})
	return paho.NewClient(opts)
}

// Connect joins the interview room. Idempotent: a second call while joining
// or joined returns immediately. Local capture permission is requested
// best-effort; denial does not abort the join.
func (m *Manager) Connect(ctx context.Context, room string) error {
	m.mu.Lock()
	if m.state != domain.MediaDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = domain.MediaJoining
	m.room = room
	m.mu.Unlock()

	if m.capture != nil {
		if err := m.capture.RequestPermission(ctx); err != nil {
			m.logger.Warn("local capture permission denied, joining with remote media only", "error", err)
		}
	}

	client := m.newClient(m.cfg, func(err error) {
		m.logger.Error("media transport connection lost", "error", err)
	})
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		m.resetToDisconnected(nil)
		return fmt.Errorf("join room %s: %w", room, token.Error())
	}
	if err := m.subscribeRoom(client, room); err != nil {
		m.resetToDisconnected(client)
		return fmt.Errorf("join room %s: %w", room, err)
	}

	m.mu.Lock()
	m.client = client
	m.state = domain.MediaJoined
	m.mu.Unlock()
	m.rearmIdleTimer()
	m.logger.Info("media session joined", "room", room)
	return nil
}

func (m *Manager) resetToDisconnected(client pahoClient) {
	m.mu.Lock()
	m.state = domain.MediaDisconnected
	m.client = nil
	m.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(100)
	}
}

func (m *Manager) subscribeRoom(client pahoClient, room string) error {
	if token := client.Subscribe(TopicRoomParticipants(m.cfg.TopicPrefix, room), 1, m.handleParticipantState); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := client.Subscribe(TopicRoomTracks(m.cfg.TopicPrefix, room), 1, m.handleTrackEvent); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (m *Manager) handleParticipantState(_ paho.Client, msg paho.Message) {
	participantID, err := ParseParticipantID(msg.Topic(), m.cfg.TopicPrefix)
	if err != nil {
		m.logger.Warn("skip invalid participant topic", "topic", msg.Topic(), "error", err)
		return
	}

	var state domain.ParticipantState
	if err := json.Unmarshal(msg.Payload(), &state); err != nil {
		m.logger.Warn("invalid participant payload", "participant_id", participantID, "error", err)
		return
	}
	if state.ParticipantID != "" && state.ParticipantID != participantID {
		m.logger.Warn("participant state topic mismatch", "topic_participant", participantID, "payload_participant", state.ParticipantID)
		return
	}

	if !state.Online {
		m.roster.SetOnline(participantID, false)
		if m.isAvatar(participantID) {
			m.mu.Lock()
			m.avatarAttached = false
			m.mu.Unlock()
			m.logger.Info("avatar participant left", "participant_id", participantID)
		}
		return
	}

	// Duplicate joined events for the same participant are expected; the
	// re-subscribe below is idempotent.
	m.roster.SetOnline(participantID, true)
	if m.isAvatar(participantID) {
		m.mu.Lock()
		m.avatarID = participantID
		m.mu.Unlock()
		m.requestTrackSubscription(participantID)
		m.tryAttach(participantID)
	}
}

func (m *Manager) handleTrackEvent(_ paho.Client, msg paho.Message) {
	participantID, kind, err := ParseTrackTopic(msg.Topic(), m.cfg.TopicPrefix)
	if err != nil {
		m.logger.Warn("skip invalid track topic", "topic", msg.Topic(), "error", err)
		return
	}

	var event domain.TrackEvent
	if err := json.Unmarshal(msg.Payload(), &event); err != nil {
		m.logger.Warn("invalid track payload", "participant_id", participantID, "error", err)
		return
	}
	if event.TrackHandle == "" {
		return
	}

	m.roster.ObserveTrack(participantID, kind, event.TrackHandle, event.Persistent)
	if m.isAvatar(participantID) {
		m.mu.Lock()
		m.avatarID = participantID
		m.mu.Unlock()
		m.requestTrackSubscription(participantID)
		m.tryAttach(participantID)
	}
}

func (m *Manager) requestTrackSubscription(participantID string) {
	client, room := m.currentClient()
	if client == nil {
		return
	}
	body, _ := json.Marshal(domain.SubscribeRequest{
		ParticipantID: participantID,
		Kinds:         []string{"audio", "video"},
	})
	if token := client.Publish(TopicSubscribe(m.cfg.TopicPrefix, room), 1, false, body); token.Wait() && token.Error() != nil {
		m.logger.Warn("track subscription request failed", "participant_id", participantID, "error", token.Error())
	}
}

// tryAttach assembles a combined stream from the best available track
// handles and hands it to the output sink. Playback is started proactively;
// on autoplay rejection it retries muted and raises the sound-blocked flag.
func (m *Manager) tryAttach(participantID string) {
	audio := m.roster.BestHandle(participantID, "audio")
	video := m.roster.BestHandle(participantID, "video")
	if audio == "" && video == "" {
		return
	}

	stream := domain.RemoteStream{
		ParticipantID: participantID,
		AudioHandle:   audio,
		VideoHandle:   video,
		AttachedAt:    time.Now(),
	}

	err := m.sink.Play(stream)
	if errors.Is(err, ErrAutoplayBlocked) {
		m.logger.Warn("autoplay rejected, retrying muted", "participant_id", participantID)
		if retryErr := m.sink.PlayMuted(stream); retryErr != nil {
			m.logger.Warn("muted playback retry failed", "participant_id", participantID, "error", retryErr)
			return
		}
		m.mu.Lock()
		m.soundBlocked = true
		m.avatarAttached = true
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.logger.Warn("remote playback failed", "participant_id", participantID, "error", err)
		return
	}

	m.mu.Lock()
	m.avatarAttached = true
	m.mu.Unlock()
}

// Speak instructs the remote avatar to vocalize text. There is no reliable
// done-speaking signal from the remote side; callers estimate a speaking
// window from the text length.
func (m *Manager) Speak(ctx context.Context, text string) error {
	m.mu.Lock()
	client := m.client
	room := m.room
	avatarID := m.avatarID
	joined := m.state == domain.MediaJoined
	m.mu.Unlock()

	if !joined || client == nil {
		return ErrNotJoined
	}
	if avatarID == "" {
		return ErrNoAvatar
	}

	body, err := json.Marshal(domain.AppMessage{
		RequestID: uuid.NewString(),
		Type:      "speak",
		Text:      text,
	})
	if err != nil {
		return err
	}
	if token := client.Publish(TopicAppMessage(m.cfg.TopicPrefix, room, avatarID), 1, false, body); token.Wait() && token.Error() != nil {
		return fmt.Errorf("speak command: %w", token.Error())
	}
	return nil
}

// SetLocalAudioEnabled mutes/unmutes the outbound mic. The avatar must
// never hear the candidate's answer; the orchestrator keeps the mic muted
// except during the greeting handshake.
func (m *Manager) SetLocalAudioEnabled(enabled bool) error {
	m.mu.Lock()
	client := m.client
	room := m.room
	joined := m.state == domain.MediaJoined
	m.mu.Unlock()

	if !joined || client == nil {
		return ErrNotJoined
	}

	body, _ := json.Marshal(domain.MicState{
		Enabled: enabled,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if token := client.Publish(TopicLocalMic(m.cfg.TopicPrefix, room), 1, false, body); token.Wait() && token.Error() != nil {
		return fmt.Errorf("set local audio: %w", token.Error())
	}
	return nil
}

// RequestRemoteTeardown asks the remote side to end the session. Best
// effort: failures are logged, not retried.
func (m *Manager) RequestRemoteTeardown() {
	m.mu.Lock()
	client := m.client
	room := m.room
	joined := m.state == domain.MediaJoined
	m.mu.Unlock()

	if !joined || client == nil {
		return
	}
	body, _ := json.Marshal(domain.AppMessage{
		RequestID: uuid.NewString(),
		Type:      "end_session",
	})
	if token := client.Publish(TopicControl(m.cfg.TopicPrefix, room), 1, false, body); token.Wait() && token.Error() != nil {
		m.logger.Warn("remote teardown request failed", "room", room, "error", token.Error())
	}
}

// NoteActivity records user keyboard/mouse/click activity: it rearms the
// idle-teardown timer and, if sound was blocked by autoplay policy, unmutes
// on this first user interaction.
func (m *Manager) NoteActivity() {
	m.rearmIdleTimer()

	m.mu.Lock()
	blocked := m.soundBlocked
	m.soundBlocked = false
	m.mu.Unlock()

	if blocked {
		m.sink.SetMuted(false)
		m.logger.Info("sound enabled after user interaction")
	}
}

// EnableSound is the explicit one-click affordance for unblocking audio.
func (m *Manager) EnableSound() {
	m.NoteActivity()
}

func (m *Manager) rearmIdleTimer() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.MediaJoined {
		return
	}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, m.idleTeardown)
}

func (m *Manager) idleTeardown() {
	m.logger.Info("idle timeout reached, ending media session", "room", m.room)
	m.RequestRemoteTeardown()
	m.Disconnect()
}

// Disconnect tears down the transport and clears all room state. Safe to
// call multiple times and from shutdown paths.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == domain.MediaDisconnected {
		m.mu.Unlock()
		return
	}
	client := m.client
	m.client = nil
	m.state = domain.MediaDisconnected
	m.avatarID = ""
	m.avatarAttached = false
	m.soundBlocked = false
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	room := m.room
	m.mu.Unlock()

	m.roster.Clear()
	if m.capture != nil {
		m.capture.Release()
	}
	if client != nil {
		client.Disconnect(100)
	}
	m.logger.Info("media session disconnected", "room", room)
}

// State returns the connection state and the avatar-track-attached flag.
func (m *Manager) State() (domain.MediaState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.avatarAttached
}

func (m *Manager) AvatarObserved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avatarID != ""
}

func (m *Manager) SoundBlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.soundBlocked
}

func (m *Manager) currentClient() (pahoClient, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client, m.room
}

func (m *Manager) isAvatar(participantID string) bool {
	prefix := m.cfg.AvatarNamePrefix
	return prefix != "" && strings.HasPrefix(participantID, prefix)
}
