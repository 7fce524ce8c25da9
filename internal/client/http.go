package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/apperr"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
)

// HTTPClient implements API against the REST endpoints.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
}

func NewHTTPClient(baseURL, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, hc: hc}
}

type dataEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func topicPath(ref domain.ConversationRef) string {
	if ref.IsChannel {
		return "/api/v1/channels/" + ref.ID.String()
	}
	return "/api/v1/conversations/" + ref.ID.String()
}

// do sends one request. Transport failures and 5xx answers come back as
// transient errors; other failures carry the server's code and kind.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return apperr.Transient(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		_ = json.NewDecoder(resp.Body).Decode(&env)
		kind := apperr.ParseKind(env.Error.Kind)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = apperr.KindTransient
		}
		code := env.Error.Code
		if code == "" {
			code = "HTTP_" + strconv.Itoa(resp.StatusCode)
		}
		message := env.Error.Message
		if message == "" {
			message = resp.Status
		}
		return apperr.New(kind, code, message)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env dataEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apperr.Transient("decoding "+path, err)
	}
	if !env.Success || len(env.Data) == 0 {
		return apperr.Transient("decoding "+path, fmt.Errorf("unexpected response body"))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.Transient("decoding "+path, err)
	}
	return nil
}

// read retries a transient failure once. Only idempotent reads use it.
func (c *HTTPClient) read(ctx context.Context, path string, out any) error {
	err := c.do(ctx, http.MethodGet, path, nil, out)
	if err != nil && apperr.IsTransient(err) && ctx.Err() == nil {
		err = c.do(ctx, http.MethodGet, path, nil, out)
	}
	return err
}

func (c *HTTPClient) SendMessage(ctx context.Context, ref domain.ConversationRef, draft Draft) (*domain.Message, error) {
	var msg domain.Message
	if err := c.do(ctx, http.MethodPost, topicPath(ref)+"/messages", draft, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) EditMessage(ctx context.Context, messageID uuid.UUID, content string) (*domain.Message, error) {
	var msg domain.Message
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/messages/"+messageID.String(), body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/messages/"+messageID.String(), nil, nil)
}

func (c *HTTPClient) ToggleReaction(ctx context.Context, messageID uuid.UUID, emoji string) (*ReactionResult, error) {
	var result ReactionResult
	body := map[string]string{"emoji": emoji}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages/"+messageID.String()+"/reactions", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, ref domain.ConversationRef, page Page) (*MessagePage, error) {
	q := url.Values{}
	if page.Before > 0 {
		q.Set("before", repository.EncodeCursor(page.Before))
	}
	if page.After > 0 {
		q.Set("after", repository.EncodeCursor(page.After))
	}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	path := topicPath(ref) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out MessagePage
	if err := c.read(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListReplies(ctx context.Context, rootID uuid.UUID) ([]domain.Message, error) {
	var out []domain.Message
	if err := c.read(ctx, "/api/v1/messages/"+rootID.String()+"/replies", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ClearUnread(ctx context.Context, ref domain.ConversationRef) error {
	return c.do(ctx, http.MethodPost, topicPath(ref)+"/read", nil, nil)
}
