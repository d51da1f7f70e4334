// Package api talks to the trip server's REST endpoints that seed realtime
// sessions and carry REST-based chat sends.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
)

const maxErrorBody = 512

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
}

// StartResult is the response of a session start call.
type StartResult struct {
	SessionID    string         `json:"session_id"`
	FirstMessage string         `json:"first_message"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type startRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type postRequest struct {
	ClientMessageID string `json:"client_message_id"`
	Content         string `json:"content"`
}

type wireMessage struct {
	ID              string              `json:"id"`
	Role            string              `json:"role"`
	Content         string              `json:"content"`
	CreatedAt       time.Time           `json:"created_at"`
	ClientMessageID string              `json:"client_message_id,omitempty"`
	Author          string              `json:"author,omitempty"`
	QuickReplies    []domain.QuickReply `json:"quick_replies,omitempty"`
	Proposals       []domain.Proposal   `json:"proposals,omitempty"`
}

type messagesResponse struct {
	Messages []wireMessage `json:"messages"`
}

// Client is the REST collaborator. Start calls retry transport failures;
// message posts are never retried automatically.
type Client struct {
	baseURL string
	start   *retryablehttp.Client
	send    *retryablehttp.Client
	log     *logging.Logger
}

// NewClient builds a client from config.
func NewClient(cfg config.APIConfig, log *logging.Logger) *Client {
	log = log.Sub("api")
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	start := newRetryClient(timeout, cfg.RetryMax, log)
	send := newRetryClient(timeout, 0, log)

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		start:   start,
		send:    send,
		log:     log,
	}
}

func newRetryClient(timeout time.Duration, retryMax int, log *logging.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = max(retryMax, 0)
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{log: log}
	rc.CheckRetry = retryTransportOnly
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// retryTransportOnly retries when no response arrived at all. A response,
// even a 5xx, means the server saw the request.
func retryTransportOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return false, nil
}

// Start calls POST {base}/api/{kind}/start and returns the new session.
func (c *Client) Start(ctx context.Context, kind domain.SessionKind, userID string) (*StartResult, error) {
	endpoint := fmt.Sprintf("%s/api/%s/start", c.baseURL, url.PathEscape(string(kind)))
	var res StartResult
	if err := c.doJSON(ctx, c.start, http.MethodPost, endpoint, startRequest{UserID: userID}, &res); err != nil {
		return nil, fmt.Errorf("start %s session: %w", kind, err)
	}
	if res.SessionID == "" {
		return nil, fmt.Errorf("start %s session: %w", kind, domain.ErrInvalidSession)
	}
	c.log.Debug().Str("kind", string(kind)).Str("session", res.SessionID).Msg("session started")
	return &res, nil
}

// PostMessage sends a user message and returns the server's fan-out (the
// user echo plus any assistant reply).
func (c *Client) PostMessage(ctx context.Context, conversationID, clientID, text string) ([]domain.ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/api/conversations/%s/messages", c.baseURL, url.PathEscape(conversationID))
	var res messagesResponse
	req := postRequest{ClientMessageID: clientID, Content: text}
	if err := c.doJSON(ctx, c.send, http.MethodPost, endpoint, req, &res); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return toDomain(res.Messages), nil
}

// History fetches the server's copy of a conversation.
func (c *Client) History(ctx context.Context, conversationID string) ([]domain.ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/api/conversations/%s/messages", c.baseURL, url.PathEscape(conversationID))
	var res messagesResponse
	if err := c.doJSON(ctx, c.start, http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return toDomain(res.Messages), nil
}

func (c *Client) doJSON(ctx context.Context, hc *retryablehttp.Client, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(text)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func toDomain(in []wireMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(in))
	for _, w := range in {
		m := domain.ChatMessage{
			ID:           w.ID,
			Role:         domain.Role(w.Role),
			Text:         w.Content,
			CreatedAt:    w.CreatedAt,
			ClientID:     w.ClientMessageID,
			Author:       w.Author,
			QuickReplies: w.QuickReplies,
			Proposals:    w.Proposals,
		}
		if m.Role == domain.RoleUser {
			m.Status = domain.StatusSent
		}
		for i := range m.Proposals {
			if m.Proposals[i].Decision.State == "" {
				m.Proposals[i].Decision = domain.Pending()
			}
		}
		out = append(out, m)
	}
	return out
}

// leveledLogger adapts the zerolog wrapper to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log *logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
