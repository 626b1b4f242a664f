package provider

import (
	"context"
	"fmt"

	"cortex-router/internal/models"
)

// CompletionRequest carries everything a vendor client needs for one call.
// Conversation history is passed through verbatim; clients decide how to
// encode it for their wire format.
type CompletionRequest struct {
	Prompt      string
	Model       string
	Temperature *float64
	MaxTokens   *int
	History     []models.Message
}

// CompletionResult is a vendor client's normalized success payload.
type CompletionResult struct {
	Text         string
	Usage        models.TokenUsage
	FinishReason string
}

// Client is the single capability every vendor backend exposes. Clients
// return ordinary Go errors; normalization into models.NormalizedError is the
// orchestrator's job alone.
type Client interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// APIError is an upstream HTTP failure with enough detail for the
// orchestrator to decide retryability.
type APIError struct {
	Provider string
	Status   int
	Type     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s error status %d: %s", e.Provider, e.Status, e.Message)
}

// RateLimited reports whether the upstream signalled rate limiting, the one
// upstream failure treated as retryable.
func (e *APIError) RateLimited() bool {
	return e.Status == 429
}
