// Package records provides the business-record store implementations: an
// HTTP JSON client for the production record service and an in-memory store
// for development and tests.
package records

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
)

const requestTimeout = 15 * time.Second

// ErrRecordNotFound is returned when the store has no record for the ref.
var ErrRecordNotFound = errors.New("record not found")

// Client talks to the record service over HTTP JSON. Record URLs follow
// {base}/{entity_type}/{entity_id}.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a record-store client for the given base URL.
func NewClient(logger *slog.Logger, baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger.With("module", "records"),
	}
}

// Get fetches a fresh snapshot of the record's fields.
func (c *Client) Get(ctx context.Context, entity models.EntityRef) (map[string]any, error) {
	respBytes, err := c.do(ctx, http.MethodGet, c.recordURL(entity), nil, entity)
	if err != nil {
		return nil, err
	}

	var fields map[string]any

	err = json.Unmarshal(respBytes, &fields)
	if err != nil {
		return nil, models.NewTransientError("", fmt.Sprintf("undecodable record payload: %v", err), err)
	}

	return fields, nil
}

// UpdateField sets one field on the record.
func (c *Client) UpdateField(ctx context.Context, entity models.EntityRef, field string, value any) error {
	payload := map[string]any{"fields": map[string]any{field: value}}

	_, err := c.do(ctx, http.MethodPatch, c.recordURL(entity), payload, entity)

	return err
}

// AddTag appends a tag to the record. Re-adding an existing tag succeeds.
func (c *Client) AddTag(ctx context.Context, entity models.EntityRef, tag string) error {
	payload := map[string]any{"tag": tag}

	_, err := c.do(ctx, http.MethodPost, c.recordURL(entity)+"/tags", payload, entity)

	return err
}

func (c *Client) recordURL(entity models.EntityRef) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, entity.Type, entity.ID)
}

func (c *Client) do(ctx context.Context, method, url string, payload any, entity models.EntityRef) ([]byte, error) {
	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, models.NewConfigurationError("", fmt.Sprintf("failed to encode record payload: %v", err), err)
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, models.NewConfigurationError("", fmt.Sprintf("failed to build record request: %v", err), err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, models.NewTransientError("", fmt.Sprintf("record store unreachable: %v", err), err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewTransientError("", fmt.Sprintf("failed to read record response: %v", err), err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.NewPermanentError("",
			fmt.Sprintf("record %s/%s not found", entity.Type, entity.ID),
			ErrRecordNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, models.NewTransientError("", fmt.Sprintf("record store returned status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, models.NewPermanentError("", fmt.Sprintf("record store returned status %d", resp.StatusCode), nil)
	}

	return respBytes, nil
}
