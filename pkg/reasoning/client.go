// Package reasoning implements the HTTP client for the external reasoning
// service that ai_agent steps call.
package reasoning

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

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

const (
	defaultTimeout = 60 * time.Second
	maxTimeout     = 300 * time.Second
)

// ErrEmptyReply is returned when the service answers with no reply text.
var ErrEmptyReply = errors.New("reasoning service returned an empty reply")

// Client calls the reasoning service over HTTP JSON: POST {endpoint} with
// {"prompt": ..., "context": {...}}, expecting {"reply": "..."} back.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a reasoning client for the given endpoint. The api key
// is sent as a bearer token when non-empty.
func NewClient(logger *slog.Logger, endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{},
		logger:   logger.With("module", "reasoning"),
	}
}

type invokePayload struct {
	Prompt  string         `json:"prompt"`
	Context map[string]any `json:"context,omitempty"`
}

type invokeResponse struct {
	Reply string `json:"reply"`
}

// Invoke submits the task and waits for the reply within the request's
// timeout. Timeouts, network failures, 5xx and 429 responses are transient;
// other non-2xx responses are permanent.
func (c *Client) Invoke(ctx context.Context, req protocol.ReasoningRequest) (*protocol.ReasoningReply, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(invokePayload{Prompt: req.Prompt, Context: req.Context})
	if err != nil {
		return nil, models.NewConfigurationError("", fmt.Sprintf("failed to encode reasoning request: %v", err), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, models.NewConfigurationError("", fmt.Sprintf("failed to build reasoning request: %v", err), err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.InfoContext(ctx, "Invoking reasoning service", "timeout", timeout.String())

	start := time.Now()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, models.NewTransientError("", fmt.Sprintf("reasoning service unreachable: %v", err), err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewTransientError("", fmt.Sprintf("failed to read reasoning reply: %v", err), err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, models.NewTransientError("", fmt.Sprintf("reasoning service returned status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, models.NewPermanentError("", fmt.Sprintf("reasoning service returned status %d", resp.StatusCode), nil)
	}

	var decoded invokeResponse

	err = json.Unmarshal(respBytes, &decoded)
	if err != nil {
		return nil, models.NewTransientError("", fmt.Sprintf("undecodable reasoning reply: %v", err), err)
	}

	if decoded.Reply == "" {
		return nil, models.NewPermanentError("", ErrEmptyReply.Error(), ErrEmptyReply)
	}

	c.logger.InfoContext(ctx, "Reasoning service replied",
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_length", len(decoded.Reply))

	return &protocol.ReasoningReply{
		Text:   decoded.Reply,
		Parsed: tryParse(decoded.Reply),
	}, nil
}

// tryParse decodes the reply as JSON when possible so ai_agent steps
// configured for structured output get typed data.
func tryParse(text string) any {
	var parsed any

	err := json.Unmarshal([]byte(text), &parsed)
	if err != nil {
		return nil
	}

	switch parsed.(type) {
	case map[string]any, []any:
		return parsed
	default:
		// Bare scalars stay available through Text only.
		return nil
	}
}
