package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"greenroom/internal/domain"
)

type fakeConn struct {
	mu       sync.Mutex
	incoming chan []byte
	written  []controlFrame
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	payload, ok := <-c.incoming
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, payload, nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame, ok := v.(controlFrame)
	if !ok {
		return errors.New("unexpected write")
	}
	c.written = append(c.written, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.incoming)
	}
	return nil
}

func (c *fakeConn) emit(t *testing.T, event domain.RecognizerEvent) {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	c.incoming <- payload
}

func testClient(conn *fakeConn) *Client {
	c := NewClient("ws://recognizer.test/stream", slog.New(slog.NewTextHandler(os.Stdout, nil)))
	c.dial = func(ctx context.Context, url string) (wsConn, error) { return conn, nil }
	return c
}

func collectEvents() (Handler, func() []domain.RecognizerEvent) {
	var mu sync.Mutex
	var events []domain.RecognizerEvent
	handler := func(e domain.RecognizerEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	snapshot := func() []domain.RecognizerEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]domain.RecognizerEvent, len(events))
		copy(out, events)
		return out
	}
	return handler, snapshot
}

func waitForEvents(t *testing.T, snapshot func() []domain.RecognizerEvent, n int) []domain.RecognizerEvent {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if events := snapshot(); len(events) >= n {
			return events
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(snapshot()))
	return nil
}

func TestEventsTaggedWithTurnAndDeliveredInOrder(t *testing.T) {
	conn := newFakeConn()
	c := testClient(conn)
	handler, snapshot := collectEvents()

	if err := c.Start(context.Background(), "turn-1", handler); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	conn.emit(t, domain.RecognizerEvent{Type: "interim", Text: "hel"})
	conn.emit(t, domain.RecognizerEvent{Type: "interim", Text: "hello wor"})
	conn.emit(t, domain.RecognizerEvent{Type: "final", Text: "hello world", Confidence: 0.92})

	events := waitForEvents(t, snapshot, 3)
	if events[0].Text != "hel" || events[2].Type != "final" {
		t.Fatalf("events out of order: %+v", events)
	}
	for _, e := range events {
		if e.TurnID != "turn-1" {
			t.Fatalf("event missing turn tag: %+v", e)
		}
	}

	conn.mu.Lock()
	first := conn.written[0]
	conn.mu.Unlock()
	if first.Type != "start" || first.TurnID != "turn-1" {
		t.Fatalf("start frame not sent: %+v", first)
	}
}

func TestStopDropsLateEvents(t *testing.T) {
	conn := newFakeConn()
	c := testClient(conn)
	handler, snapshot := collectEvents()

	if err := c.Start(context.Background(), "turn-1", handler); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conn.emit(t, domain.RecognizerEvent{Type: "final", Text: "before stop"})
	waitForEvents(t, snapshot, 1)

	c.Stop()
	c.Stop()

	time.Sleep(10 * time.Millisecond)
	if got := len(snapshot()); got != 1 {
		t.Fatalf("late events leaked after stop: %d", got)
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatalf("connection not closed on stop")
	}
}

func TestDialFailureReportsUnavailable(t *testing.T) {
	c := NewClient("", slog.New(slog.NewTextHandler(os.Stdout, nil)))
	err := c.Start(context.Background(), "turn-1", func(domain.RecognizerEvent) {})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestUnknownEventTypesIgnored(t *testing.T) {
	conn := newFakeConn()
	c := testClient(conn)
	handler, snapshot := collectEvents()

	if err := c.Start(context.Background(), "turn-1", handler); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conn.emit(t, domain.RecognizerEvent{Type: "keepalive"})
	conn.emit(t, domain.RecognizerEvent{Type: "final", Text: "done"})

	events := waitForEvents(t, snapshot, 1)
	if events[0].Text != "done" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}
