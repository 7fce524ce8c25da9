package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
)

func writeEnvelope(w http.ResponseWriter, status int, code, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "kind": kind, "message": code},
	})
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func TestHTTPClientRetriesReadsOnce(t *testing.T) {
	ref := domain.ChannelRef(uuid.New())
	var hits atomic.Int32
	var before atomic.Uint64

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/channels/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		seq, err := repository.DecodeCursor(r.URL.Query().Get("before"))
		assert.NoError(t, err)
		before.Store(seq)
		writeData(w, http.StatusOK, MessagePage{Messages: []domain.Message{{ID: uuid.New(), Seq: 7}}, HasMore: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", nil)
	page, err := c.ListMessages(context.Background(), ref, Page{Before: 8, Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 8, before.Load())
	require.Len(t, page.Messages, 1)
	assert.True(t, page.HasMore)
}

func TestHTTPClientNeverRetriesSends(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", nil)
	_, err := c.SendMessage(context.Background(), domain.DirectRef(uuid.New()), Draft{Content: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.EqualValues(t, 1, hits.Load())
}

func TestHTTPClientDecodesErrorEnvelope(t *testing.T) {
	notOwner := apperr.New(apperr.KindPermission, "NOT_OWNER", "only the message sender can perform this action")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			writeEnvelope(w, http.StatusForbidden, "NOT_OWNER", "permission")
		case http.MethodDelete:
			writeEnvelope(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "not_found")
		default:
			writeEnvelope(w, http.StatusTooManyRequests, "RATE_LIMITED", "transient")
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", nil)
	_, err := c.EditMessage(context.Background(), uuid.New(), "x")
	assert.True(t, errors.Is(err, notOwner))
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	err = c.DeleteMessage(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = c.ToggleReaction(context.Background(), uuid.New(), "👍")
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, "RATE_LIMITED", apperr.CodeOf(err))
}

func TestHTTPClientTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, "tok", nil)
	_, err := c.ListReplies(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestHTTPClientUnwrapsSuccessEnvelope(t *testing.T) {
	stored := domain.Message{ID: uuid.New(), Seq: 3, Content: "hi"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			writeData(w, http.StatusCreated, stored)
		case http.MethodDelete:
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			json.NewEncoder(w).Encode(stored)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", nil)
	msg, err := c.SendMessage(context.Background(), domain.DirectRef(uuid.New()), Draft{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, msg.ID)
	assert.EqualValues(t, 3, msg.Seq)

	require.NoError(t, c.DeleteMessage(context.Background(), stored.ID))

	// A body without the envelope is not mistaken for data.
	_, err = c.EditMessage(context.Background(), stored.ID, "x")
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}
