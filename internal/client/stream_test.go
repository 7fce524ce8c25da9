package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/identity"
	"github.com/vedran77/pulse/internal/transport/ws"
)

type allowAll struct{}

func (allowAll) CanSubscribe(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return true, nil }

func nextEvent(t *testing.T, s *EventStream, eventType string) ws.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-s.Events():
			require.True(t, ok, "stream closed")
			if evt.Type == eventType {
				return evt
			}
		case <-timeout:
			t.Fatalf("no %s event", eventType)
		}
	}
}

func TestEventStreamFeedsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(nil, nil)
	go hub.Run(ctx)
	verifier := identity.NewVerifier("stream-secret")
	srv := httptest.NewServer(ws.ServeWS(hub, verifier, allowAll{}, nil, nil))
	defer srv.Close()

	user := uuid.New()
	token, err := verifier.Issue(identity.Identity{UserID: user}, time.Minute)
	require.NoError(t, err)

	stream, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), token, nil)
	require.NoError(t, err)
	defer stream.Close()

	topic := uuid.New()
	require.NoError(t, stream.Subscribe(ctx, topic))
	ack := nextEvent(t, stream, ws.EventTypeSubscribed)
	require.NotNil(t, ack.Topic)
	assert.Equal(t, topic, *ack.Topic)

	msg := domain.Message{ID: uuid.New(), Seq: 1, Content: "pushed"}
	msg.SetTopic(domain.DirectRef(topic))
	ws.NewHubNotifier(hub).NotifyNewMessage(&msg)

	evt := nextEvent(t, stream, ws.EventTypeMessageNew)
	r := NewReconciler(newFakeAPI(domain.DirectRef(topic), user), domain.DirectRef(topic), user, nil)
	require.NoError(t, r.ApplyEvent(&evt))
	msgs := r.View().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "pushed", msgs[0].Content)

	require.NoError(t, stream.Ping(ctx))
	nextEvent(t, stream, ws.EventTypePong)
}
