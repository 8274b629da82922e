package protocol

import (
	"context"
	"time"
)

// ReasoningRequest is one task submitted to the external reasoning service.
type ReasoningRequest struct {
	Prompt  string
	Context map[string]any
	Timeout time.Duration
}

// ReasoningReply carries the service's answer. Parsed is non-nil when the
// reply text decodes as JSON.
type ReasoningReply struct {
	Text   string
	Parsed any
}

// ReasoningClient submits tasks to the external reasoning service. Every
// call is bounded; exceeding the bound is a transient failure.
type ReasoningClient interface {
	Invoke(ctx context.Context, req ReasoningRequest) (*ReasoningReply, error)
}
