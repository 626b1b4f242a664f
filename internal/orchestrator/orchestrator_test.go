package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex-router/internal/models"
	"cortex-router/internal/pricing"
	"cortex-router/internal/provider"
	"cortex-router/internal/routing"
)

type stubClient struct {
	name   string
	delay  time.Duration
	result *provider.CompletionResult
	err    error
	calls  atomic.Int32
}

func (c *stubClient) Name() string {
	return c.name
}

func (c *stubClient) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResult, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	if c.result != nil {
		return c.result, nil
	}
	return &provider.CompletionResult{
		Text:         "response from " + c.name,
		Usage:        models.NewTokenUsage(10, 20),
		FinishReason: "stop",
	}, nil
}

func newTestOrchestrator(t *testing.T, clients []*stubClient, opts Options) *Orchestrator {
	t.Helper()

	registry := provider.NewRegistry()
	for _, client := range clients {
		require.NoError(t, registry.Register(client, client.name+"-default"))
	}
	return New(registry, pricing.Default(), routing.NewPolicy(), opts)
}

func TestAskSuccess(t *testing.T) {
	stub := &stubClient{name: "demo"}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	resp := orch.Ask(context.Background(), AskRequest{
		Prompt:   "hello",
		Provider: "demo",
		Model:    "x",
	})

	require.NotNil(t, resp)
	assert.False(t, resp.IsError())
	assert.Equal(t, "response from demo", resp.Text)
	assert.Equal(t, "demo", resp.Provider)
	assert.Equal(t, "x", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 30, resp.TokenUsage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestAskFinishReasonDefaultsToStop(t *testing.T) {
	stub := &stubClient{name: "demo", result: &provider.CompletionResult{Text: "hi"}}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	resp := orch.Ask(context.Background(), AskRequest{Prompt: "hello", Provider: "demo", Model: "x"})

	assert.Equal(t, "stop", resp.FinishReason)
}

func TestAskGenericClientError(t *testing.T) {
	stub := &stubClient{name: "demo", err: errors.New("connection reset by peer")}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	resp := orch.Ask(context.Background(), AskRequest{Prompt: "hello", Provider: "demo", Model: "x"})

	require.True(t, resp.IsError())
	assert.Equal(t, models.ErrCodeUpstreamError, resp.Error.Code)
	assert.False(t, resp.Error.Retryable)
	assert.Empty(t, resp.Text)
	assert.Equal(t, models.TokenUsage{}, resp.TokenUsage)
	assert.Zero(t, resp.EstimatedCost)
}

func TestAskTimeoutError(t *testing.T) {
	stub := &stubClient{name: "demo", err: context.DeadlineExceeded}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	resp := orch.Ask(context.Background(), AskRequest{Prompt: "hello", Provider: "demo", Model: "x"})

	require.True(t, resp.IsError())
	assert.Equal(t, models.ErrCodeTimeout, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
}

func TestAskRateLimitIsRetryable(t *testing.T) {
	stub := &stubClient{name: "demo", err: &provider.APIError{Provider: "demo", Status: 429, Message: "slow down"}}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	resp := orch.Ask(context.Background(), AskRequest{Prompt: "hello", Provider: "demo", Model: "x"})

	require.True(t, resp.IsError())
	assert.Equal(t, models.ErrCodeUpstreamError, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
}

func TestAskUnknownProvider(t *testing.T) {
	orch := newTestOrchestrator(t, nil, Options{})

	resp := orch.Ask(context.Background(), AskRequest{Prompt: "hello", Provider: "nowhere", Model: "x"})

	require.True(t, resp.IsError())
	assert.Equal(t, models.ErrCodeBadRequest, resp.Error.Code)
}

func TestAskRoutesWhenProviderUnset(t *testing.T) {
	stub := &stubClient{name: "openai"}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	resp := orch.Ask(context.Background(), AskRequest{Prompt: "hello"})

	assert.False(t, resp.IsError())
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestComparePreservesRequestOrder(t *testing.T) {
	slow := &stubClient{name: "openai", delay: 80 * time.Millisecond}
	fast := &stubClient{name: "gemini"}
	orch := newTestOrchestrator(t, []*stubClient{slow, fast}, Options{})

	result := orch.Compare(context.Background(), CompareRequest{
		Prompt: "hello",
		Targets: []models.CompareTarget{
			{Provider: "openai", Model: "gpt-4o"},
			{Provider: "gemini", Model: "gemini-1.5-flash"},
		},
	})

	require.Len(t, result.Responses, 2)
	assert.Equal(t, "openai", result.Responses[0].Provider)
	assert.Equal(t, "gemini", result.Responses[1].Provider)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.ErrorCount)
	assert.NotEmpty(t, result.RequestGroupID)
}

func TestCompareCountsInvariant(t *testing.T) {
	good := &stubClient{name: "openai"}
	bad := &stubClient{name: "grok", err: errors.New("boom")}
	orch := newTestOrchestrator(t, []*stubClient{good, bad}, Options{})

	result := orch.Compare(context.Background(), CompareRequest{
		Prompt: "hello",
		Targets: []models.CompareTarget{
			{Provider: "openai"},
			{Provider: "grok"},
			{Provider: "missing"},
		},
	})

	assert.Len(t, result.Responses, 3)
	assert.Equal(t, len(result.Responses), result.SuccessCount+result.ErrorCount)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.ErrorCount)
}

func TestCompareEmptyTargetFailsFast(t *testing.T) {
	stub := &stubClient{name: "openai"}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	result := orch.Compare(context.Background(), CompareRequest{
		Prompt: "hello",
		Targets: []models.CompareTarget{
			{Provider: "", Model: ""},
			{Provider: "", Model: ""},
		},
	})

	require.Len(t, result.Responses, 2)
	for _, resp := range result.Responses {
		require.True(t, resp.IsError())
		assert.Equal(t, models.ErrCodeBadRequest, resp.Error.Code)
		assert.False(t, resp.Error.Retryable)
		assert.Zero(t, resp.LatencyMS)
	}
	// No provider client may be invoked for a malformed target.
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestCompareEmptyModelUsesProviderDefault(t *testing.T) {
	stub := &stubClient{name: "deepseek"}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	result := orch.Compare(context.Background(), CompareRequest{
		Prompt: "hello",
		Targets: []models.CompareTarget{
			{Provider: "deepseek"},
			{Provider: "deepseek", Model: "deepseek-reasoner"},
		},
	})

	assert.Equal(t, "deepseek-default", result.Responses[0].Model)
	assert.Equal(t, "deepseek-reasoner", result.Responses[1].Model)
}

func TestCompareTimeoutIsolation(t *testing.T) {
	slow := &stubClient{name: "openai", delay: 500 * time.Millisecond}
	fast := &stubClient{name: "gemini"}
	orch := newTestOrchestrator(t, []*stubClient{slow, fast}, Options{})

	start := time.Now()
	result := orch.Compare(context.Background(), CompareRequest{
		Prompt: "hello",
		Targets: []models.CompareTarget{
			{Provider: "openai"},
			{Provider: "gemini"},
		},
		Timeout: 50 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.Len(t, result.Responses, 2)

	timedOut := result.Responses[0]
	require.True(t, timedOut.IsError())
	assert.Equal(t, models.ErrCodeTimeout, timedOut.Error.Code)
	assert.True(t, timedOut.Error.Retryable)
	assert.InDelta(t, 0.05, timedOut.Error.Details["timeout_seconds"], 1e-9)

	// The sibling target's result is intact and undelayed.
	sibling := result.Responses[1]
	assert.False(t, sibling.IsError())
	assert.Equal(t, "response from gemini", sibling.Text)
	assert.Less(t, elapsed, 400*time.Millisecond)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
}

func TestCompareSingleTargetDegradesSafely(t *testing.T) {
	stub := &stubClient{name: "openai"}
	orch := newTestOrchestrator(t, []*stubClient{stub}, Options{})

	result := orch.Compare(context.Background(), CompareRequest{
		Prompt:  "hello",
		Targets: []models.CompareTarget{{Provider: "openai"}},
	})

	require.Len(t, result.Responses, 1)
	assert.Equal(t, 1, result.SuccessCount)
}
