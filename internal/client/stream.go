package client

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/transport/ws"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamBuffer = 256

// EventStream is the client end of the websocket event channel.
type EventStream struct {
	conn   *websocket.Conn
	events chan ws.Event
	logger *slog.Logger
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Dial connects to the /ws endpoint at wsURL with the given token.
func Dial(ctx context.Context, wsURL, token string, logger *slog.Logger) (*EventStream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &EventStream{
		conn:   conn,
		events: make(chan ws.Event, streamBuffer),
		logger: logger.With("component", "event_stream"),
		cancel: cancel,
	}
	go s.readLoop(readCtx)
	return s, nil
}

func (s *EventStream) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		var evt ws.Event
		if err := wsjson.Read(ctx, s.conn, &evt); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.setErr(err)
				s.logger.Debug("stream_read_failed", "error", err)
			}
			return
		}
		select {
		case s.events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func (s *EventStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Err reports why the stream ended, if it ended abnormally.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Events is closed when the connection ends.
func (s *EventStream) Events() <-chan ws.Event { return s.events }

func (s *EventStream) Subscribe(ctx context.Context, topic uuid.UUID) error {
	return wsjson.Write(ctx, s.conn, ws.Event{Type: ws.EventTypeSubscribe, Topic: &topic})
}

func (s *EventStream) Unsubscribe(ctx context.Context, topic uuid.UUID) error {
	return wsjson.Write(ctx, s.conn, ws.Event{Type: ws.EventTypeUnsubscribe, Topic: &topic})
}

func (s *EventStream) Ping(ctx context.Context) error {
	return wsjson.Write(ctx, s.conn, ws.Event{Type: ws.EventTypePing})
}

func (s *EventStream) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
