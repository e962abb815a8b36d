// Package upstream issues generation requests to the configured provider and
// exposes streamed responses as a plain byte stream.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/utils"
)

// errorBodyLimit bounds how much of a failed response body is kept for logs.
const errorBodyLimit = 512

// Config is the upstream client configuration.
type Config struct {
	// BaseURL is the provider base URL (e.g., "https://api.deepseek.com/v1").
	// The provider's endpoint path is appended to it.
	BaseURL string

	// APIKey is the credential passed to the provider's auth headers.
	APIKey string

	// Model is the upstream model name (e.g., "deepseek-chat").
	Model string

	// SystemPrompt is sent ahead of every user prompt when non-empty.
	SystemPrompt string

	Temperature float64
	MaxTokens   int

	// HTTPClient overrides the default client. Streaming requests must not
	// carry a client-wide Timeout: it would cut long generations short.
	HTTPClient *http.Client
}

// Client issues requests to one upstream provider.
type Client struct {
	config     Config
	provider   provider.Provider
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for prov.
func NewClient(config Config, prov provider.Provider, logger *slog.Logger) (*Client, error) {
	if prov == nil {
		return nil, errors.New("provider is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("upstream base URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		config:     config,
		provider:   prov,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Provider returns the provider whose wire format this client speaks.
func (c *Client) Provider() provider.Provider {
	return c.provider
}

// Model returns the configured upstream model name.
func (c *Client) Model() string {
	return c.config.Model
}

// Open issues a streaming request for prompt. On success the returned Stream
// yields the raw response body; the caller must Close it. A transport error
// or a non-success status is returned as *UnavailableError before any byte is
// read. Cancelling ctx aborts the connection and unblocks a pending Read.
func (c *Client) Open(ctx context.Context, prompt string) (*Stream, error) {
	resp, err := c.do(ctx, prompt, true)
	if err != nil {
		return nil, err
	}
	return &Stream{body: resp.Body}, nil
}

// Complete issues a non-streaming request for prompt and parses the response.
func (c *Client) Complete(ctx context.Context, prompt string) (*llm.ChatResponse, error) {
	resp, err := c.do(ctx, prompt, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}

	parsed, err := c.provider.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream response: %w", err)
	}
	return parsed, nil
}

func (c *Client) do(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	chatReq := llm.NewPromptRequest(
		c.config.Model,
		c.config.SystemPrompt,
		prompt,
		c.config.MaxTokens,
		c.config.Temperature,
		stream,
	)

	payload, err := c.provider.NewRequest(chatReq)
	if err != nil {
		return nil, fmt.Errorf("encoding upstream request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + c.provider.Path()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	c.provider.SetHeaders(httpReq.Header, c.config.APIKey)

	c.logger.Debug("forwarding request to upstream",
		"url", url,
		"provider", c.provider.Name(),
		"model", c.config.Model,
		"stream", stream,
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(c.provider.Name(), metrics.StatusClass(0)).Inc()
		return nil, &UnavailableError{Err: err}
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(c.provider.Name(), metrics.StatusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()

		c.logger.Error("upstream returned error",
			"status", resp.StatusCode,
			"body", utils.Truncate(string(body), 200),
		)
		return nil, &UnavailableError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}

// Stream is an open upstream response body. Reads return ByteChunks at
// whatever boundaries the transport delivers them.
type Stream struct {
	body      io.ReadCloser
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps an already open body, for callers that obtained the
// response elsewhere.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{body: body}
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
