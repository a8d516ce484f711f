// Package telegram delivers fired timer reminders to a Telegram chat through
// the Bot API. It is an optional second delivery channel next to the local
// platform: a student who left the desk still learns the focus block is over.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alem-hub/study-timer/internal/domain/notification"
	"github.com/alem-hub/study-timer/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Telegram client.
type ClientConfig struct {
	// Token is the Telegram Bot API token.
	Token string

	// ChatID is the chat that receives reminders.
	ChatID int64

	// BaseURL is the Telegram Bot API base URL (default: https://api.telegram.org).
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of attempts per message, including the first.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// Silent sends progress reminders without sound.
	Silent bool

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string, chatID int64) ClientConfig {
	return ClientConfig{
		Token:         token,
		ChatID:        chatID,
		BaseURL:       "https://api.telegram.org",
		Timeout:       10 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Silent:        true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is a minimal Bot API client. It implements notification.Deliverer.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewClient creates a new Telegram client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telegram.org"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retrier:    retry.DeliveryRetrier(config.RetryAttempts, config.RetryDelay),
		logger:     config.Logger.With("component", "telegram"),
	}
}

// Deliver sends a fired reminder to the configured chat.
func (c *Client) Deliver(ctx context.Context, r notification.Reminder) error {
	return c.SendMessage(ctx, SendMessageParams{
		ChatID:              c.config.ChatID,
		Text:                FormatReminder(r),
		ParseMode:           "HTML",
		DisableNotification: c.config.Silent && r.Kind == notification.KindProgress,
	})
}

// SendMessageParams contains parameters for sending a message.
type SendMessageParams struct {
	ChatID              int64  `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

// SendMessage sends a text message, retrying transport failures, 5xx and
// 429 answers. A 429 waits at least the retry_after the API asked for.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		err := c.call(ctx, "sendMessage", body)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if !apiErr.Temporary() {
				return retry.Permanent(err)
			}
			return retry.RetryAfter(err, time.Duration(apiErr.RetryAfter)*time.Second)
		}
		return retry.Retryable(err)
	})
	if err != nil {
		c.logger.Warn("telegram delivery failed", "error", err)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// API CALL
// ══════════════════════════════════════════════════════════════════════════════

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, body []byte) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.config.BaseURL, c.config.Token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return &APIError{Code: resp.StatusCode, Description: "unreadable response"}
	}
	if !apiResp.OK {
		apiErr := &APIError{Code: apiResp.ErrorCode, Description: apiResp.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = apiResp.Parameters.RetryAfter
		}
		return apiErr
	}
	return nil
}

// APIError represents a Telegram API error.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Temporary reports whether the request may succeed later.
func (e *APIError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ══════════════════════════════════════════════════════════════════════════════
// FORMATTING
// ══════════════════════════════════════════════════════════════════════════════

// FormatReminder renders a reminder as Telegram HTML.
func FormatReminder(r notification.Reminder) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(r.Title))
	b.WriteString("</b>")
	if r.Body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(r.Body))
	}
	return b.String()
}
