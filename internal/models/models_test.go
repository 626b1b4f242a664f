package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTokenUsage(t *testing.T) {
	t.Run("total is always the sum of its parts", func(t *testing.T) {
		cases := []struct {
			prompt     int
			completion int
		}{
			{0, 0},
			{10, 0},
			{0, 25},
			{120, 480},
			{1, 1},
		}
		for _, tc := range cases {
			usage := NewTokenUsage(tc.prompt, tc.completion)
			assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
		}
	})

	t.Run("negative counts clamp to zero", func(t *testing.T) {
		usage := NewTokenUsage(-5, 10)
		assert.Equal(t, 0, usage.PromptTokens)
		assert.Equal(t, 10, usage.TotalTokens)
	})
}

func TestUnifiedResponseIsError(t *testing.T) {
	ok := &UnifiedResponse{Text: "hello"}
	assert.False(t, ok.IsError())

	failed := &UnifiedResponse{Error: &NormalizedError{Code: ErrCodeUpstreamError, Message: "boom"}}
	assert.True(t, failed.IsError())
}

func TestNewMultiUnifiedResponse(t *testing.T) {
	responses := []UnifiedResponse{
		{Text: "a", TokenUsage: NewTokenUsage(10, 20), EstimatedCost: 0.002},
		{Error: &NormalizedError{Code: ErrCodeTimeout, Retryable: true}},
		{Text: "c", TokenUsage: NewTokenUsage(5, 5), EstimatedCost: 0.001},
	}

	agg := NewMultiUnifiedResponse("group-1", responses)

	assert.Equal(t, "group-1", agg.RequestGroupID)
	assert.Equal(t, 2, agg.SuccessCount)
	assert.Equal(t, 1, agg.ErrorCount)
	assert.Equal(t, len(agg.Responses), agg.SuccessCount+agg.ErrorCount)
	assert.Equal(t, 40, agg.TotalTokens)
	assert.InDelta(t, 0.003, agg.TotalCost, 1e-9)
	assert.False(t, agg.Timestamp.IsZero())
}

func TestNormalizedErrorError(t *testing.T) {
	err := &NormalizedError{Code: ErrCodeBadRequest, Message: "missing provider"}
	assert.Equal(t, "bad_request: missing provider", err.Error())
}
