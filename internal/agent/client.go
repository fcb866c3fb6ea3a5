// ABOUTME: HTTP client for the Clawdbot backend agent endpoint
// ABOUTME: Forwards user messages to the fixed session and runs direct chat completions

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vargolabs/archie-relay/internal/config"
)

// Gateway errors. Callers map these to generic 500-class responses; the
// raw upstream body is logged here and never forwarded.
var (
	ErrUpstream = errors.New("backend request failed")
)

// defaultSystemPrompt is used for completions when the caller supplies none.
const defaultSystemPrompt = "You are Archie, a helpful assistant."

// maxErrorBodyLog caps how much of an upstream error body is logged.
const maxErrorBodyLog = 2048

// sendRequest is the body for the session send endpoint.
type sendRequest struct {
	Message string `json:"message"`
}

// chatMessage is one turn in a completion exchange.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionRequest is the body for the chat-completion endpoint.
type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Client talks to the backend agent over HTTP. The bearer credential and
// endpoint URLs are fixed at construction and never change.
type Client struct {
	httpClient     *http.Client
	sendURL        string
	completionsURL string
	model          string
	token          string
	logger         *slog.Logger
}

// New creates a backend client from config. Pass nil logger for default.
func New(cfg config.BackendConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:     &http.Client{Timeout: 120 * time.Second},
		sendURL:        cfg.SendURL,
		completionsURL: cfg.CompletionsURL,
		model:          cfg.Model,
		token:          cfg.Token,
		logger:         logger.With("component", "agent"),
	}
}

// Send forwards a user message to the backend's session send endpoint
// and returns the backend's JSON reply verbatim.
func (c *Client) Send(ctx context.Context, message string) (json.RawMessage, error) {
	body, err := c.post(ctx, c.sendURL, sendRequest{Message: message})
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		c.logger.Error("backend returned non-JSON reply", "bytes", len(body))
		return nil, fmt.Errorf("%w: malformed reply", ErrUpstream)
	}
	return json.RawMessage(body), nil
}

// Complete runs a direct chat completion with a system + user exchange
// and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, message, systemPrompt string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	body, err := c.post(ctx, c.completionsURL, completionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: message},
		},
	})
	if err != nil {
		return "", err
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		c.logger.Error("completion reply has no choices", "bytes", len(body))
		return "", fmt.Errorf("%w: malformed reply", ErrUpstream)
	}
	return content.String(), nil
}

// post issues one authenticated JSON POST and returns the response body.
// Any transport error or non-2xx status maps to ErrUpstream.
func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("backend unreachable", "url", url, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("backend returned error",
			"url", url,
			"status", resp.StatusCode,
			"body", truncate(body, maxErrorBodyLog))
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
