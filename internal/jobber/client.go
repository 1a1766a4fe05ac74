// Package jobber is a minimal client for the Jobber GraphQL API: the three
// record lookups the reconciler needs, under the account's request quota.
package jobber

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

	"github.com/mattjoyce/jobrelay/internal/metrics"
	"github.com/mattjoyce/jobrelay/internal/ratelimit"
)

const (
	DefaultBaseURL        = "https://api.getjobber.com"
	DefaultGraphQLVersion = "2023-11-15"
	DefaultTimeout        = 30 * time.Second
	DefaultRateLimit      = 2500
	DefaultRateWindow     = 300 * time.Second

	maxResponseBytes = 4 << 20
)

// ErrNotFound is returned when the API answers with a null entity.
var ErrNotFound = errors.New("jobber: entity not found")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jobber: http %d: %s", e.Code, e.Body)
}

// GraphQLError carries the messages of a response "errors" array.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "jobber: graphql errors: " + strings.Join(e.Messages, "; ")
}

// Config holds client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	GraphQLVersion string
	Timeout        time.Duration
	MaxRequests    int
	Window         time.Duration
	// Now is the limiter clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production endpoint and published quota.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		GraphQLVersion: DefaultGraphQLVersion,
		Timeout:        DefaultTimeout,
		MaxRequests:    DefaultRateLimit,
		Window:         DefaultRateWindow,
	}
}

// Client issues GraphQL queries. One limiter is owned per client.
type Client struct {
	endpoint   string
	apiKey     string
	version    string
	httpClient *http.Client
	limiter    *ratelimit.Window
	metrics    metrics.Sink
}

func NewClient(cfg Config, sink metrics.Sink) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.GraphQLVersion == "" {
		cfg.GraphQLVersion = def.GraphQLVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	limiter := ratelimit.NewWindow(cfg.MaxRequests, cfg.Window)
	if cfg.Now != nil {
		limiter.WithClock(cfg.Now)
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/api/graphql",
		apiKey:   cfg.APIKey,
		version:  cfg.GraphQLVersion,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		metrics: sink,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query runs a GraphQL document and returns the raw value of the named root field.
// A missing or null root field yields ErrNotFound.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, field string) (json.RawMessage, error) {
	if err := c.limiter.Acquire(); err != nil {
		c.metrics.RateLimited("jobber")
		return nil, fmt.Errorf("jobber: %w", err)
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-JOBBER-GRAPHQL-VERSION", c.version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jobber: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("jobber: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var out graphQLResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("jobber: decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, &GraphQLError{Messages: msgs}
	}

	value, ok := out.Data[field]
	if !ok || len(value) == 0 || string(value) == "null" {
		return nil, ErrNotFound
	}
	return value, nil
}

func (c *Client) GetClient(ctx context.Context, id string) (*ClientNode, error) {
	var node ClientNode
	if err := c.get(ctx, clientQuery, "client", id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*JobNode, error) {
	var node JobNode
	if err := c.get(ctx, jobQuery, "job", id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*InvoiceNode, error) {
	var node InvoiceNode
	if err := c.get(ctx, invoiceQuery, "invoice", id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Remaining reports the calls left in the current rate window.
func (c *Client) Remaining() int {
	return c.limiter.Remaining()
}

func (c *Client) get(ctx context.Context, query, field, id string, out any) error {
	raw, err := c.Query(ctx, query, map[string]any{"id": id}, field)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("jobber: decode %s: %w", field, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
