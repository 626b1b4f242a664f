package models

import "time"

// Message represents a single conversational turn passed through to providers.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage records token accounting for one provider call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewTokenUsage constructs a TokenUsage whose total is always the sum of its parts.
func NewTokenUsage(prompt, completion int) TokenUsage {
	if prompt < 0 {
		prompt = 0
	}
	if completion < 0 {
		completion = 0
	}
	return TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// ErrorCode classifies a normalized failure.
type ErrorCode string

const (
	ErrCodeTimeout       ErrorCode = "timeout"
	ErrCodeBadRequest    ErrorCode = "bad_request"
	ErrCodeUpstreamError ErrorCode = "upstream_error"
	ErrCodeUnknown       ErrorCode = "unknown"
)

// NormalizedError is the single failure shape every backend error is reduced to.
type NormalizedError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Provider  string         `json:"provider"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *NormalizedError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// UnifiedResponse is one backend's answer to one prompt. It is constructed
// once by the orchestrator and never mutated afterwards; a retry produces a
// fresh response with a new request ID.
type UnifiedResponse struct {
	RequestID     string           `json:"request_id"`
	Text          string           `json:"text"`
	Provider      string           `json:"provider"`
	Model         string           `json:"model"`
	LatencyMS     int64            `json:"latency_ms"`
	TokenUsage    TokenUsage       `json:"token_usage"`
	EstimatedCost float64          `json:"estimated_cost"`
	FinishReason  string           `json:"finish_reason"`
	Error         *NormalizedError `json:"error,omitempty"`
}

// IsError reports whether the response carries a normalized failure.
func (r *UnifiedResponse) IsError() bool {
	return r.Error != nil
}

// CompareTarget names one provider/model pair requested by the caller.
// An empty Model means the provider's default model.
type CompareTarget struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// MultiUnifiedResponse aggregates the outcome of a multi-target compare.
// Responses are kept in request order, never completion order.
type MultiUnifiedResponse struct {
	RequestGroupID string            `json:"request_group_id"`
	Responses      []UnifiedResponse `json:"responses"`
	SuccessCount   int               `json:"success_count"`
	ErrorCount     int               `json:"error_count"`
	TotalTokens    int               `json:"total_tokens"`
	TotalCost      float64           `json:"total_cost"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NewMultiUnifiedResponse builds the aggregate from a resolved response set.
// Counters and totals are recomputed from the slice rather than accumulated
// incrementally, so they can never drift from the responses they describe.
func NewMultiUnifiedResponse(groupID string, responses []UnifiedResponse) *MultiUnifiedResponse {
	agg := &MultiUnifiedResponse{
		RequestGroupID: groupID,
		Responses:      responses,
		Timestamp:      time.Now().UTC(),
	}
	for i := range responses {
		if responses[i].IsError() {
			agg.ErrorCount++
			continue
		}
		agg.SuccessCount++
		agg.TotalTokens += responses[i].TokenUsage.TotalTokens
		agg.TotalCost += responses[i].EstimatedCost
	}
	return agg
}
