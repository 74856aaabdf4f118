package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"greenroom/internal/domain"
)

// ErrUnavailable marks recognizer initialization failure (missing
// configuration, unreachable service). Callers degrade to the manual
// text-entry path.
var ErrUnavailable = errors.New("speech recognizer unavailable")

// Handler receives interim/final events in emission order.
type Handler func(event domain.RecognizerEvent)

type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (wsConn, error)

type controlFrame struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id,omitempty"`
}

// Client drives one streaming recognition session per turn against an
// external recognizer service.
type Client struct {
	url    string
	logger *slog.Logger
	dial   dialFunc

	mu      sync.Mutex
	current *turnSession
}

type turnSession struct {
	conn    wsConn
	turnID  string
	stopped atomic.Bool
}

func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		logger: logger,
		dial:   defaultDial,
	}
}

func defaultDial(ctx context.Context, url string) (wsConn, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: RECOGNIZER_WS_URL is not configured", ErrUnavailable)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return conn, nil
}

// Start opens a fresh recognition session for turnID. A still-open previous
// session is stopped first; its late events are dropped, never delivered to
// the new turn.
func (c *Client) Start(ctx context.Context, turnID string, handler Handler) error {
	c.Stop()

	conn, err := c.dial(ctx, c.url)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(controlFrame{Type: "start", TurnID: turnID}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	session := &turnSession{conn: conn, turnID: turnID}
	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	go c.readLoop(session, handler)
	return nil
}

func (c *Client) readLoop(session *turnSession, handler Handler) {
	for {
		_, payload, err := session.conn.ReadMessage()
		if err != nil {
			if !session.stopped.Load() {
				c.logger.Warn("recognizer stream closed", "turn_id", session.turnID, "error", err)
			}
			return
		}
		if session.stopped.Load() {
			continue
		}

		var event domain.RecognizerEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			c.logger.Warn("invalid recognizer event", "turn_id", session.turnID, "error", err)
			continue
		}
		if event.Type != domain.RecognizerEventInterim && event.Type != domain.RecognizerEventFinal {
			continue
		}
		// Tag every event with the turn this session was opened for so
		// consumers can discard stale-turn events.
		event.TurnID = session.turnID
		handler(event)
	}
}

// Stop ends the current session. Events still in flight from the stopped
// session are ignored. Safe to call repeatedly.
func (c *Client) Stop() {
	c.mu.Lock()
	session := c.current
	c.current = nil
	c.mu.Unlock()

	if session == nil || session.stopped.Swap(true) {
		return
	}
	if err := session.conn.WriteJSON(controlFrame{Type: "stop", TurnID: session.turnID}); err != nil {
		c.logger.Warn("recognizer stop frame failed", "turn_id", session.turnID, "error", err)
	}
	_ = session.conn.Close()
}
