// Package slack is a small Slack Web API client: posting messages as the bot and
// building the Block Kit layouts used for relay notifications.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://slack.com/api"
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// ErrNoToken is returned when the client has no bot token configured.
var ErrNoToken = errors.New("slack: bot token is not configured")

// APIError is an "ok": false response or a non-2xx status.
type APIError struct {
	Method     string
	Status     int
	Code       string
	RetryAfter string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("slack: %s: %s", e.Method, e.Code)
	}
	if e.RetryAfter != "" {
		return fmt.Sprintf("slack: %s: http %d (retry after %ss)", e.Method, e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("slack: %s: http %d", e.Method, e.Status)
}

// Message is the chat.postMessage argument set the relay uses.
type Message struct {
	Channel  string  `json:"channel"`
	Text     string  `json:"text,omitempty"`
	Blocks   []Block `json:"blocks,omitempty"`
	ThreadTS string  `json:"thread_ts,omitempty"`
}

// Posted identifies a delivered message.
type Posted struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type Config struct {
	BotToken string
	BaseURL  string
	Timeout  time.Duration
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.BotToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// PostMessage sends msg via chat.postMessage.
func (c *Client) PostMessage(ctx context.Context, msg Message) (*Posted, error) {
	if msg.Channel == "" {
		return nil, fmt.Errorf("slack: chat.postMessage: channel is empty")
	}
	var out Posted
	if err := c.call(ctx, "chat.postMessage", msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, args any, out any) error {
	if c.token == "" {
		return ErrNoToken
	}
	body, err := json.Marshal(args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("slack: %s: read response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Status: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	}

	var status apiResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("slack: %s: decode response: %w", method, err)
	}
	if !status.OK {
		code := status.Error
		if code == "" {
			code = "unknown_error"
		}
		return &APIError{Method: method, Status: resp.StatusCode, Code: code}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("slack: %s: decode response: %w", method, err)
		}
	}
	return nil
}
