package domain

import "time"

// Phase is the current stage of an interview turn. Exactly one phase is
// active per session at any time.
type Phase string

const (
	PhaseAwaitingContext Phase = "awaiting_context"
	PhaseIdle            Phase = "idle"
	PhaseAsking          Phase = "asking"
	PhaseListening       Phase = "listening"
	PhaseFinalizing      Phase = "finalizing"
	PhaseReviewing       Phase = "reviewing"
	PhaseEnded           Phase = "ended"
)

// MediaState is the connection lifecycle of the avatar media session.
// Transitions only Disconnected -> Joining -> Joined -> Disconnected.
type MediaState string

const (
	MediaDisconnected MediaState = "disconnected"
	MediaJoining      MediaState = "joining"
	MediaJoined       MediaState = "joined"
)

type Session struct {
	SessionID     string `json:"session_id"`
	Persona       string `json:"persona"`
	Difficulty    string `json:"difficulty"`
	Mode          string `json:"mode"`
	QuestionIndex int    `json:"question_index"`
	JobContext    string `json:"job_context,omitempty"`
	Room          string `json:"room"`
}

type Question struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Answer is outbound only; it is not retained beyond the current turn.
type Answer struct {
	SessionID      string  `json:"session_id"`
	QuestionNumber int     `json:"question_number"`
	QuestionText   string  `json:"question_text"`
	Transcript     string  `json:"transcript"`
	DurationMs     int64   `json:"duration_ms"`
	Confidence     float64 `json:"confidence"`
}

type QuestionRequest struct {
	SessionID          string `json:"session_id"`
	Persona            string `json:"persona"`
	Difficulty         string `json:"difficulty"`
	Mode               string `json:"mode"`
	JobContext         string `json:"job_context"`
	PriorQuestionCount int    `json:"prior_question_count"`
}

type QuestionResponse struct {
	Question string `json:"question"`
}

type AnswerFeedback struct {
	Score    float64 `json:"score,omitempty"`
	Feedback string  `json:"feedback,omitempty"`
}

// RecognizerEvent is one interim or final recognition result for a turn.
// Events are delivered in emission order; TurnID tags the recognizer
// session that produced the event so stale events can be discarded.
type RecognizerEvent struct {
	TurnID     string  `json:"turn_id"`
	Type       string  `json:"type"` // "interim" | "final"
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

const (
	RecognizerEventInterim = "interim"
	RecognizerEventFinal   = "final"
)

type TimerSnapshot struct {
	ElapsedSeconds   int  `json:"elapsed_seconds"`
	RemainingSeconds *int `json:"remaining_seconds,omitempty"`
	Active           bool `json:"active"`
}

// Media transport payloads (MQTT).

type ParticipantState struct {
	ParticipantID string `json:"participant_id"`
	Online        bool   `json:"online"`
	TS            string `json:"ts,omitempty"`
}

type TrackEvent struct {
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"` // "audio" | "video"
	TrackHandle   string `json:"track_handle"`
	Persistent    bool   `json:"persistent"`
}

type AppMessage struct {
	RequestID string `json:"request_id"`
	Type      string `json:"type"` // "speak" | "end_session"
	Text      string `json:"text,omitempty"`
}

type SubscribeRequest struct {
	ParticipantID string   `json:"participant_id"`
	Kinds         []string `json:"kinds"`
}

type MicState struct {
	Enabled bool   `json:"enabled"`
	TS      string `json:"ts,omitempty"`
}

// RemoteStream is the combined playable stream assembled from the avatar's
// best available track handles.
type RemoteStream struct {
	ParticipantID string
	AudioHandle   string
	VideoHandle   string
	AttachedAt    time.Time
}

type SessionStatus struct {
	Session         Session       `json:"session"`
	Phase           Phase         `json:"phase"`
	Media           MediaState    `json:"media"`
	AvatarAttached  bool          `json:"avatar_attached"`
	SoundBlocked    bool          `json:"sound_blocked"`
	RecognizerDown  bool          `json:"recognizer_down"`
	CurrentQuestion Question      `json:"current_question"`
	Transcript      string        `json:"transcript"`
	Timer           TimerSnapshot `json:"timer"`
	LastError       string        `json:"last_error,omitempty"`
}
