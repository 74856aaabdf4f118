package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"greenroom/internal/config"
	"greenroom/internal/domain"
	"greenroom/internal/media"
)

// avatar-sim stands in for the remote talking-head service during local
// development: it joins a room, announces persistent audio/video track
// handles, and acknowledges speak commands with a simulated speaking delay.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.LoadAvatarSimConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("mqtt connection lost", "error", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("mqtt connect failed", "error", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(100)

	sim := &avatarSim{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
	if err := sim.join(); err != nil {
		logger.Error("join room failed", "error", err)
		os.Exit(1)
	}
	logger.Info("avatar simulator joined",
		"participant_id", cfg.ParticipantID,
		"room", cfg.Room,
		"broker", cfg.MQTTBrokerURL,
	)

	go sim.heartbeat(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	sim.leave()
	logger.Info("avatar simulator left", "room", cfg.Room)
}

type avatarSim struct {
	cfg    config.AvatarSimConfig
	client paho.Client
	logger *slog.Logger
}

func (s *avatarSim) join() error {
	appTopic := media.TopicAppMessage(s.cfg.MQTTTopicPrefix, s.cfg.Room, s.cfg.ParticipantID)
	if token := s.client.Subscribe(appTopic, 1, s.handleAppMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", appTopic, token.Error())
	}
	controlTopic := media.TopicControl(s.cfg.MQTTTopicPrefix, s.cfg.Room)
	if token := s.client.Subscribe(controlTopic, 1, s.handleControl); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", controlTopic, token.Error())
	}

	if err := s.publishState(true); err != nil {
		return err
	}
	return s.publishTracks()
}

func (s *avatarSim) leave() {
	if err := s.publishState(false); err != nil {
		s.logger.Warn("offline announcement failed", "error", err)
	}
}

// publishState announces presence retained, so an orchestrator that joins
// after the avatar still observes it.
func (s *avatarSim) publishState(online bool) error {
	body, _ := json.Marshal(domain.ParticipantState{
		ParticipantID: s.cfg.ParticipantID,
		Online:        online,
		TS:            time.Now().UTC().Format(time.RFC3339Nano),
	})
	topic := media.TopicParticipantState(s.cfg.MQTTTopicPrefix, s.cfg.Room, s.cfg.ParticipantID)
	if token := s.client.Publish(topic, 1, true, body); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish state: %w", token.Error())
	}
	return nil
}

func (s *avatarSim) publishTracks() error {
	for _, kind := range []string{"audio", "video"} {
		body, _ := json.Marshal(domain.TrackEvent{
			ParticipantID: s.cfg.ParticipantID,
			Kind:          kind,
			TrackHandle:   fmt.Sprintf("%s-%s-%s", s.cfg.ParticipantID, kind, uuid.NewString()[:8]),
			Persistent:    true,
		})
		topic := media.TopicTrack(s.cfg.MQTTTopicPrefix, s.cfg.Room, s.cfg.ParticipantID, kind)
		if token := s.client.Publish(topic, 1, true, body); token.Wait() && token.Error() != nil {
			return fmt.Errorf("publish %s track: %w", kind, token.Error())
		}
	}
	return nil
}

func (s *avatarSim) heartbeat(ctx context.Context) {
	if s.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.publishState(true); err != nil {
				s.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (s *avatarSim) handleAppMessage(_ paho.Client, msg paho.Message) {
	var app domain.AppMessage
	if err := json.Unmarshal(msg.Payload(), &app); err != nil {
		s.logger.Warn("invalid app message", "error", err)
		return
	}
	if app.Type != "speak" {
		return
	}
	// Roughly the same speaking-window heuristic the orchestrator uses.
	dur := 3*time.Second + time.Duration(len([]rune(app.Text)))*60*time.Millisecond
	s.logger.Info("speaking",
		"request_id", app.RequestID,
		"chars", len([]rune(app.Text)),
		"duration_ms", dur.Milliseconds(),
		"text", app.Text,
	)
}

func (s *avatarSim) handleControl(_ paho.Client, msg paho.Message) {
	var app domain.AppMessage
	if err := json.Unmarshal(msg.Payload(), &app); err != nil {
		s.logger.Warn("invalid control message", "error", err)
		return
	}
	if app.Type == "end_session" {
		s.logger.Info("session end requested by orchestrator", "request_id", app.RequestID)
	}
}
