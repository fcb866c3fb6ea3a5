// ABOUTME: One-shot message forwarder to a fixed Telegram chat
// ABOUTME: Reports a permanent configuration error when no bot token is set

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vargolabs/archie-relay/internal/config"
)

// Relay errors
var (
	ErrNotConfigured = errors.New("telegram relay not configured")
	ErrSendFailed    = errors.New("telegram send failed")
)

// sendMessageRequest is the Bot API sendMessage body.
type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Relay forwards messages to one fixed Telegram chat via the Bot API.
// It is stateless; every call is a single outbound POST.
type Relay struct {
	httpClient *http.Client
	apiBase    string
	botToken   string
	chatID     string
	logger     *slog.Logger
}

// New creates a relay from config. A missing bot token is allowed here;
// Relay then fails every call with ErrNotConfigured. Pass nil logger for
// default.
func New(cfg config.TelegramConfig, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiBase:    cfg.APIBase,
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		logger:     logger.With("component", "telegram"),
	}
}

// Configured reports whether a bot credential is present.
func (r *Relay) Configured() bool {
	return r.botToken != ""
}

// Relay sends text to the configured chat. Returns ErrNotConfigured
// without any outbound call when the bot token is absent.
func (r *Relay) Relay(ctx context.Context, text string) error {
	if !r.Configured() {
		return ErrNotConfigured
	}

	data, err := json.Marshal(sendMessageRequest{ChatID: r.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", r.apiBase, r.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("telegram unreachable", "error", err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Error("telegram returned error", "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}

	return nil
}
