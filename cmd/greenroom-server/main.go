package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"greenroom/internal/answer"
	"greenroom/internal/config"
	"greenroom/internal/domain"
	"greenroom/internal/media"
	"greenroom/internal/phase"
	"greenroom/internal/question"
	"greenroom/internal/recognizer"
	"greenroom/internal/session"
	"greenroom/internal/timer"
	"greenroom/internal/transcript"
)

type createSessionRequest struct {
	Persona    string `json:"persona"`
	Difficulty string `json:"difficulty"`
	Mode       string `json:"mode"`
	Room       string `json:"room,omitempty"`
	JobContext string `json:"job_context,omitempty"`
}

type textRequest struct {
	Text string `json:"text"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	questionClient := question.NewClient(cfg.QuestionAPIBaseURL, cfg.ServiceTimeout)
	answerClient := answer.NewClient(cfg.AnswerAPIBaseURL, cfg.ServiceTimeout)
	registry := session.NewRegistry()

	newOrchestrator := func(req createSessionRequest, sessionID string) *session.Orchestrator {
		room := req.Room
		if room == "" {
			room = "interview-" + sessionID
		}
		sess := &domain.Session{
			SessionID:  sessionID,
			Persona:    req.Persona,
			Difficulty: req.Difficulty,
			Mode:       req.Mode,
			JobContext: strings.TrimSpace(req.JobContext),
			Room:       room,
		}

		sessionLogger := logger.With("session_id", sessionID)
		mediaMgr := media.NewManager(media.ManagerConfig{
			BrokerURL:        cfg.MQTTBrokerURL,
			ClientID:         cfg.MQTTClientID + "-" + sessionID,
			Username:         cfg.MQTTUsername,
			Password:         cfg.MQTTPassword,
			TopicPrefix:      cfg.MQTTTopicPrefix,
			AvatarNamePrefix: cfg.AvatarNamePrefix,
			IdleTimeout:      cfg.IdleTimeout,
		}, newLogSink(sessionLogger), nil, sessionLogger)

		return session.NewOrchestrator(session.Config{
			GreetingText: cfg.GreetingText,
			GreetingGap:  cfg.GreetingGap,
			Phase: phase.Config{
				SpeakFloor:     cfg.SpeakFloor,
				SpeakPerChar:   cfg.SpeakPerChar,
				FinalizeSettle: cfg.FinalizeSettle,
			},
		}, sess, mediaMgr,
			recognizer.NewClient(cfg.RecognizerWSURL, sessionLogger),
			timer.New(cfg.TimerModes),
			transcript.NewAccumulator(),
			questionClient, answerClient, sessionLogger)
	}

	withSession := func(handler func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator)) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			o, ok := registry.Get(chi.URLParam(req, "sessionID"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
				return
			}
			handler(w, req, o)
		}
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Post("/v1/sessions", func(w http.ResponseWriter, req *http.Request) {
		var createReq createSessionRequest
		if err := json.NewDecoder(req.Body).Decode(&createReq); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		if createReq.Mode == "" {
			createReq.Mode = "unbounded"
		}
		if _, ok := cfg.TimerModes[createReq.Mode]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown mode: " + createReq.Mode})
			return
		}

		sessionID := uuid.NewString()
		o := newOrchestrator(createReq, sessionID)
		if createReq.JobContext != "" {
			if err := o.SetJobContext(createReq.JobContext); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
		}
		registry.Put(sessionID, o)
		go func() {
			if err := o.Prejoin(context.Background()); err != nil {
				logger.Warn("media prejoin failed", "session_id", sessionID, "error", err)
			}
		}()
		logger.Info("session created", "session_id", sessionID, "mode", createReq.Mode)
		writeJSON(w, http.StatusCreated, o.Status())
	})

	r.Route("/v1/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", withSession(func(w http.ResponseWriter, _ *http.Request, o *session.Orchestrator) {
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/context", withSession(func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator) {
			var body textRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
				return
			}
			if err := o.SetJobContext(body.Text); err != nil {
				writeActionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/start", withSession(func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator) {
			if err := o.Start(req.Context()); err != nil {
				writeActionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/record", withSession(func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator) {
			if err := o.StartRecording(req.Context()); err != nil {
				writeActionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/stop", withSession(func(w http.ResponseWriter, _ *http.Request, o *session.Orchestrator) {
			if err := o.StopRecording(); err != nil {
				writeActionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/retry", withSession(func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator) {
			if err := o.Retry(req.Context()); err != nil {
				writeActionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/submit", withSession(func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator) {
			feedback, ended, err := o.Submit(req.Context())
			if err != nil {
				writeActionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"feedback": feedback,
				"ended":    ended,
				"status":   o.Status(),
			})
		}))

		r.Post("/continue", withSession(func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator) {
			if err := o.Continue(req.Context()); err != nil && !errors.Is(err, phase.ErrTimeExpired) {
				writeActionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/transcript", withSession(func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator) {
			var body textRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
				return
			}
			if err := o.ManualTranscript(body.Text); err != nil {
				writeActionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/activity", withSession(func(w http.ResponseWriter, _ *http.Request, o *session.Orchestrator) {
			o.NoteActivity()
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		}))

		r.Post("/sound", withSession(func(w http.ResponseWriter, _ *http.Request, o *session.Orchestrator) {
			o.EnableSound()
			writeJSON(w, http.StatusOK, o.Status())
		}))

		r.Post("/end", withSession(func(w http.ResponseWriter, req *http.Request, o *session.Orchestrator) {
			o.End()
			registry.Remove(chi.URLParam(req, "sessionID"))
			writeJSON(w, http.StatusOK, o.Status())
		}))
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("greenroom server started", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	registry.EndAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

// writeActionError maps phase-machine sentinels onto HTTP statuses: wrong
// phase and gating errors are conflicts, everything else is a server error.
func writeActionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, phase.ErrWrongPhase),
		errors.Is(err, phase.ErrAwaitingContext),
		errors.Is(err, phase.ErrMediaNotReady),
		errors.Is(err, phase.ErrTimeExpired),
		errors.Is(err, phase.ErrSessionEnded):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// logSink renders remote avatar media in a headless deployment by logging
// playback state. Mute state is tracked so autoplay-recovery flows behave
// the same as with a real rendering surface.
type logSink struct {
	logger *slog.Logger
}

func newLogSink(logger *slog.Logger) *logSink {
	return &logSink{logger: logger}
}

func (s *logSink) Play(stream domain.RemoteStream) error {
	s.logger.Info("avatar stream playing", "participant_id", stream.ParticipantID, "audio", stream.AudioHandle, "video", stream.VideoHandle)
	return nil
}

func (s *logSink) PlayMuted(stream domain.RemoteStream) error {
	s.logger.Info("avatar stream playing muted", "participant_id", stream.ParticipantID)
	return nil
}

func (s *logSink) SetMuted(muted bool) {
	s.logger.Info("avatar stream mute changed", "muted", muted)
}
