package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"cortex-router/internal/models"
	"cortex-router/internal/pricing"
	"cortex-router/internal/provider"
	"cortex-router/internal/routing"
)

const (
	defaultMaxConcurrent = 8
	defaultChunkSize     = 120
	defaultFinishReason  = "stop"
)

// Options tune dispatch concurrency and simulated streaming.
type Options struct {
	// MaxConcurrent bounds the number of in-flight provider calls.
	MaxConcurrent int64
	// ChunkSize is the display width for line events from unbroken text.
	ChunkSize int
	// LineDelay paces line events for client-side rendering. Zero disables
	// pacing; functional behaviour is identical either way.
	LineDelay time.Duration
}

// Orchestrator owns single-target ask and multi-target compare. It is the
// only place raw provider errors are caught and normalized; nothing above or
// below it sees an unnormalized backend failure.
type Orchestrator struct {
	registry *provider.Registry
	pricing  pricing.Table
	policy   routing.Policy
	workers  *semaphore.Weighted
	opts     Options
}

// New constructs an orchestrator over the given provider registry.
func New(registry *provider.Registry, table pricing.Table, policy routing.Policy, opts Options) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}

	return &Orchestrator{
		registry: registry,
		pricing:  table,
		policy:   policy,
		workers:  semaphore.NewWeighted(opts.MaxConcurrent),
		opts:     opts,
	}
}

// AskRequest describes one single-target dispatch.
type AskRequest struct {
	Prompt       string
	Provider     string
	Model        string
	History      []models.Message
	Temperature  *float64
	MaxTokens    *int
	SmartMode    bool
	ResearchMode bool
}

// CompareRequest describes one multi-target fan-out.
type CompareRequest struct {
	Prompt      string
	Targets     []models.CompareTarget
	History     []models.Message
	Temperature *float64
	MaxTokens   *int
	// Timeout bounds each target independently. Zero means unbounded.
	Timeout time.Duration
}

// Ask dispatches the prompt to a single backend. It never returns a Go
// error: every failure is encoded in the returned response.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) *models.UnifiedResponse {
	providerName, model := o.resolveAsk(req)

	client, _, err := o.registry.Lookup(providerName)
	if err != nil {
		return o.errorResponse(providerName, model, 0, &models.NormalizedError{
			Code:     models.ErrCodeBadRequest,
			Message:  err.Error(),
			Provider: providerName,
		})
	}

	if err := o.workers.Acquire(ctx, 1); err != nil {
		return o.errorResponse(providerName, model, 0, normalizeError(providerName, err))
	}
	defer o.workers.Release(1)

	return o.execute(ctx, client, providerName, model, req.Prompt, req.History, req.Temperature, req.MaxTokens)
}

// Compare fans the prompt out to every target concurrently, each with an
// independent timeout, and joins once all targets have resolved. Responses
// come back in request order regardless of completion order, and one
// target's failure never disturbs its siblings.
func (o *Orchestrator) Compare(ctx context.Context, req CompareRequest) *models.MultiUnifiedResponse {
	groupID := uuid.NewString()
	responses := make([]models.UnifiedResponse, len(req.Targets))

	done := make(chan indexedResponse, len(req.Targets))
	for i, target := range req.Targets {
		go func(idx int, target models.CompareTarget) {
			done <- indexedResponse{index: idx, response: o.runTarget(ctx, target, req)}
		}(i, target)
	}

	for range req.Targets {
		resolved := <-done
		responses[resolved.index] = *resolved.response
	}

	return models.NewMultiUnifiedResponse(groupID, responses)
}

type indexedResponse struct {
	index    int
	response *models.UnifiedResponse
}

// runTarget executes one compare target end to end: validation, worker-pool
// admission, the provider call, and timeout enforcement.
func (o *Orchestrator) runTarget(ctx context.Context, target models.CompareTarget, req CompareRequest) *models.UnifiedResponse {
	providerName, model, client, nerr := o.resolveTarget(target)
	if nerr != nil {
		// Malformed targets fail synchronously with zero latency; no
		// worker-pool slot or network call is consumed.
		return o.errorResponse(providerName, model, 0, nerr)
	}

	if err := o.workers.Acquire(ctx, 1); err != nil {
		return o.errorResponse(providerName, model, 0, normalizeError(providerName, err))
	}

	result := make(chan *models.UnifiedResponse, 1)
	go func() {
		defer o.workers.Release(1)
		result <- o.execute(ctx, client, providerName, model, req.Prompt, req.History, req.Temperature, req.MaxTokens)
	}()

	var expired <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case resp := <-result:
		return resp
	case <-expired:
		// The blocking call has no cancellation hook; the worker keeps
		// running in the background and its eventual result is discarded.
		return o.errorResponse(providerName, model, req.Timeout.Milliseconds(), &models.NormalizedError{
			Code:      models.ErrCodeTimeout,
			Message:   fmt.Sprintf("provider %s did not respond within %.1fs", providerName, req.Timeout.Seconds()),
			Provider:  providerName,
			Retryable: true,
			Details:   map[string]any{"timeout_seconds": req.Timeout.Seconds()},
		})
	case <-ctx.Done():
		return o.errorResponse(providerName, model, 0, normalizeError(providerName, ctx.Err()))
	}
}

// execute performs one provider call, measuring wall-clock latency around it
// and converting the outcome into an immutable UnifiedResponse.
func (o *Orchestrator) execute(ctx context.Context, client provider.Client, providerName, model, prompt string, history []models.Message, temperature *float64, maxTokens *int) *models.UnifiedResponse {
	start := time.Now()
	result, err := client.Complete(ctx, provider.CompletionRequest{
		Prompt:      prompt,
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		History:     history,
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return o.errorResponse(providerName, model, latency, normalizeError(providerName, err))
	}

	finishReason := result.FinishReason
	if finishReason == "" {
		finishReason = defaultFinishReason
	}

	return &models.UnifiedResponse{
		RequestID:     uuid.NewString(),
		Text:          result.Text,
		Provider:      providerName,
		Model:         model,
		LatencyMS:     latency,
		TokenUsage:    result.Usage,
		EstimatedCost: o.pricing.Estimate(providerName, model, result.Usage),
		FinishReason:  finishReason,
	}
}

// resolveAsk fills in provider and model when the caller left them unset.
func (o *Orchestrator) resolveAsk(req AskRequest) (string, string) {
	providerName := strings.ToLower(strings.TrimSpace(req.Provider))
	model := strings.TrimSpace(req.Model)

	if providerName == "" {
		routedProvider, routedModel := o.policy.Choose(req.Prompt, req.SmartMode, req.ResearchMode)
		providerName = routedProvider
		if model == "" {
			model = routedModel
		}
	}
	if model == "" {
		if _, defaultModel, err := o.registry.Lookup(providerName); err == nil {
			model = defaultModel
		} else {
			model = o.policy.DefaultModel(providerName)
		}
	}
	return providerName, model
}

// resolveTarget validates a compare target without consuming any resources.
func (o *Orchestrator) resolveTarget(target models.CompareTarget) (string, string, provider.Client, *models.NormalizedError) {
	providerName := strings.ToLower(strings.TrimSpace(target.Provider))
	model := strings.TrimSpace(target.Model)

	if providerName == "" {
		return providerName, model, nil, &models.NormalizedError{
			Code:    models.ErrCodeBadRequest,
			Message: "compare target must name a provider",
		}
	}

	client, defaultModel, err := o.registry.Lookup(providerName)
	if err != nil {
		return providerName, model, nil, &models.NormalizedError{
			Code:     models.ErrCodeBadRequest,
			Message:  err.Error(),
			Provider: providerName,
		}
	}

	if model == "" {
		model = defaultModel
	}
	if model == "" {
		return providerName, model, nil, &models.NormalizedError{
			Code:     models.ErrCodeBadRequest,
			Message:  fmt.Sprintf("no model requested and provider %s has no default", providerName),
			Provider: providerName,
		}
	}

	return providerName, model, client, nil
}

// errorResponse builds the failure shape: empty text, zeroed usage and cost.
func (o *Orchestrator) errorResponse(providerName, model string, latencyMS int64, nerr *models.NormalizedError) *models.UnifiedResponse {
	if nerr.Provider == "" {
		nerr.Provider = providerName
	}
	return &models.UnifiedResponse{
		RequestID:  uuid.NewString(),
		Provider:   providerName,
		Model:      model,
		LatencyMS:  latencyMS,
		TokenUsage: models.NewTokenUsage(0, 0),
		Error:      nerr,
	}
}

// normalizeError reduces any client failure to the closed error taxonomy.
func normalizeError(providerName string, err error) *models.NormalizedError {
	var apiErr *provider.APIError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &models.NormalizedError{
			Code:      models.ErrCodeTimeout,
			Message:   err.Error(),
			Provider:  providerName,
			Retryable: true,
		}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &models.NormalizedError{
			Code:      models.ErrCodeTimeout,
			Message:   err.Error(),
			Provider:  providerName,
			Retryable: true,
		}
	case errors.As(err, &apiErr):
		nerr := &models.NormalizedError{
			Code:     models.ErrCodeUpstreamError,
			Message:  apiErr.Message,
			Provider: providerName,
			Details:  map[string]any{"status": apiErr.Status},
		}
		if apiErr.RateLimited() {
			nerr.Retryable = true
		}
		return nerr
	case errors.Is(err, context.Canceled):
		return &models.NormalizedError{
			Code:     models.ErrCodeUnknown,
			Message:  "request cancelled",
			Provider: providerName,
		}
	default:
		return &models.NormalizedError{
			Code:     models.ErrCodeUpstreamError,
			Message:  err.Error(),
			Provider: providerName,
		}
	}
}
