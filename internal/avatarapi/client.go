// Package avatarapi talks to the internal agent-avatar service, the
// collaborator that creates avatar-renderer sessions (LiveKit room +
// lip-sync socket) and proxies text chat completions.
package avatarapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatMessage is one turn of a text chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StartRequest asks the agent service for a new live-avatar session. VoiceID
// and ContextID select a persona; when both are empty the avatar's defaults
// apply.
type StartRequest struct {
	AvatarID  string `json:"avatarId,omitempty"`
	VoiceID   string `json:"voiceId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
	Language  string `json:"language,omitempty"`
}

// StartResponse carries the handles for a created live-avatar session.
// WSURL may be empty: lip-sync is optional and the demo degrades without it.
type StartResponse struct {
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
	LivekitURL   string `json:"livekitUrl"`
	LivekitToken string `json:"livekitToken"`
	WSURL        string `json:"wsUrl"`
}

// Client is an HTTP client for the agent-avatar service. Requests carry the
// shared internal secret header.
type Client struct {
	baseURL string
	secret  string
	client  *http.Client
}

func New(baseURL, internalSecret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  internalSecret,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Chat runs one text chat completion through the agent service.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.postJSON(ctx, "/internal/openai/chat", map[string]any{"messages": messages}, &out)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// StartLiveAvatar creates a live-avatar session.
func (c *Client) StartLiveAvatar(ctx context.Context, req StartRequest) (StartResponse, error) {
	var out StartResponse
	if err := c.postJSON(ctx, "/internal/liveavatar/start", req, &out); err != nil {
		return StartResponse{}, err
	}
	return out, nil
}

// StopLiveAvatar tears a live-avatar session down by its session token.
func (c *Client) StopLiveAvatar(ctx context.Context, sessionToken string) error {
	return c.postJSON(ctx, "/internal/liveavatar/stop", map[string]string{"sessionToken": sessionToken}, nil)
}

// ListVoices returns the raw voice catalog of the renderer.
func (c *Client) ListVoices(ctx context.Context) (json.RawMessage, error) {
	return c.getJSON(ctx, "/internal/liveavatar/voices")
}

// ListContexts returns the raw persona-context catalog of the renderer.
func (c *Client) ListContexts(ctx context.Context) (json.RawMessage, error) {
	return c.getJSON(ctx, "/internal/liveavatar/contexts")
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", c.secret)
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Internal-Secret", c.secret)

	var out json.RawMessage
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("agent-avatar status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
