// Package webhook provides the outbound HTTP request executor for action steps.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

const (
	defaultTimeoutSeconds = 30
	maxTimeoutSeconds     = 120
)

var (
	// ErrWebhookURLInvalid is returned when the webhook URL is missing or malformed.
	ErrWebhookURLInvalid = errors.New("invalid webhook URL")
	// ErrWebhookMethodInvalid is returned when the HTTP method is not supported.
	ErrWebhookMethodInvalid = errors.New("invalid webhook method")
)

// Action performs one HTTP request against an external endpoint and records
// the response as the step output.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// NewAction creates a webhook Action from step configuration.
func NewAction(config map[string]any) (*Action, error) {
	rawURL, ok := config["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("missing or invalid 'url' in configuration: %w", ErrWebhookURLInvalid)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second

	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		if seconds > maxTimeoutSeconds {
			seconds = maxTimeoutSeconds
		}

		timeout = time.Duration(seconds) * time.Second
	}

	return &Action{
		URL:     rawURL,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    encodeBody(config["body"]),
		Timeout: timeout,
	}, nil
}

func encodeBody(raw any) string {
	switch value := raw.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}

		return string(encoded)
	}
}

// Execute sends the request. Network failures, 5xx and 429 responses come
// back transient; other non-2xx responses come back permanent.
func (a *Action) Execute(ctx context.Context, input protocol.ActionInput, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "webhook_action")
	logger.InfoContext(ctx, "Executing webhook", "method", a.Method, "url", a.URL)

	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, strings.NewReader(a.Body))
	if err != nil {
		return nil, models.NewConfigurationError(input.StepID, fmt.Sprintf("failed to build request: %v", err), err)
	}

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	if a.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: a.Timeout}

	resp, err := client.Do(req)
	if err != nil {
		return nil, models.NewTransientError(input.StepID, fmt.Sprintf("request failed: %v", err), err)
	}

	return a.processResponse(ctx, input.StepID, resp, logger)
}

func (a *Action) processResponse(ctx context.Context, stepID string, resp *http.Response, logger *slog.Logger) (any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewTransientError(stepID, fmt.Sprintf("failed to read response body: %v", err), err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, models.NewTransientError(stepID, fmt.Sprintf("endpoint returned status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, models.NewPermanentError(stepID, fmt.Sprintf("endpoint returned status %d", resp.StatusCode), nil)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "Webhook completed", "status_code", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     flattenHeaders(resp.Header),
	}, nil
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}

	return flat
}

// Validate checks the URL and method beyond what the schema covers. URLs
// holding unresolved placeholders only become parseable at execution time.
func (a *Action) Validate(_ context.Context) error {
	if !strings.Contains(a.URL, "{{") {
		parsed, err := url.Parse(a.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("cannot parse %q: %w", a.URL, ErrWebhookURLInvalid)
		}
	}

	switch a.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		return nil
	default:
		return fmt.Errorf("unsupported method %q: %w", a.Method, ErrWebhookMethodInvalid)
	}
}
