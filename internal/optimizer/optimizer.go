package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cortex-router/internal/models"
	"cortex-router/internal/provider"
)

const (
	defaultMaxAttempts = 3

	requestTemperature = 0.7
	requestMaxTokens   = 2000
)

const systemInstructions = `You are an expert prompt engineer. Your task is to optimize user-provided prompts to make them clearer, more specific, and more effective.

When optimizing a prompt, you should:
1. Identify ambiguities and clarify them
2. Add relevant context where needed
3. Structure the prompt for better results
4. Ensure the prompt is specific and actionable
5. Maintain the original intent

You must respond with a valid JSON object following this exact schema:
{
  "optimized_prompt": "string (required) - The improved version of the prompt",
  "steps": ["string", ...] (optional) - Key steps taken during optimization,
  "explanations": ["string", ...] (optional) - Explanations for why changes were made,
  "metrics": {object} (optional) - Any quality scores or metrics (e.g., {"clarity_score": 8.5})
}

CRITICAL: Your response must be ONLY the JSON object, with no additional text before or after.`

const retryInstructions = `

IMPORTANT: Previous attempt failed validation. Ensure your response is STRICTLY valid JSON with no markdown formatting, no code blocks, and no extra text.`

// Result is the structured outcome of one optimization pass.
type Result struct {
	OptimizedPrompt string         `json:"optimized_prompt"`
	Steps           []string       `json:"steps,omitempty"`
	Explanations    []string       `json:"explanations,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
}

// Optimizer rewrites user prompts through a configured backend before
// dispatch. The rewriting model must emit a strict JSON object; malformed
// output triggers a retry with harder instructions.
type Optimizer struct {
	registry     *provider.Registry
	providerName string
	model        string
	maxAttempts  int
	retryDelay   time.Duration
}

// New constructs an optimizer backed by the named provider. An empty model
// resolves to the provider's registered default at call time.
func New(registry *provider.Registry, providerName, model string, maxAttempts int) *Optimizer {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Optimizer{
		registry:     registry,
		providerName: strings.ToLower(strings.TrimSpace(providerName)),
		model:        strings.TrimSpace(model),
		maxAttempts:  maxAttempts,
		retryDelay:   time.Second,
	}
}

// Provider reports which backend performs the rewriting.
func (o *Optimizer) Provider() string {
	return o.providerName
}

// Optimize rewrites one prompt. On failure the caller is expected to fall
// back to the original prompt; optimization is an enhancement, never a gate.
func (o *Optimizer) Optimize(ctx context.Context, prompt string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("prompt must not be empty")
	}

	client, defaultModel, err := o.registry.Lookup(o.providerName)
	if err != nil {
		return nil, fmt.Errorf("optimizer backend: %w", err)
	}
	model := o.model
	if model == "" {
		model = defaultModel
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if attempt > 1 && o.retryDelay > 0 {
			// Linear pacing between attempts; the per-request context
			// still bounds the whole operation.
			select {
			case <-time.After(o.retryDelay * time.Duration(attempt-1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		temperature := requestTemperature
		maxTokens := requestMaxTokens
		completion, err := client.Complete(ctx, provider.CompletionRequest{
			Prompt:      userMessage(prompt),
			Model:       model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			History:     []models.Message{{Role: "system", Content: systemMessage(attempt)}},
		})
		if err != nil {
			lastErr = err
			continue
		}

		result, err := parseResult(completion.Text)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("prompt optimization failed after %d attempts: %w", o.maxAttempts, lastErr)
}

func systemMessage(attempt int) string {
	if attempt > 1 {
		return systemInstructions + retryInstructions
	}
	return systemInstructions
}

func userMessage(prompt string) string {
	return "Please optimize the following prompt:\n\n" + prompt
}

// parseResult decodes the model's JSON reply, tolerating a markdown code
// fence around the object since models add one despite instructions.
func parseResult(text string) (*Result, error) {
	cleaned := stripCodeFence(strings.TrimSpace(text))

	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("optimizer reply is not valid JSON: %w", err)
	}
	if strings.TrimSpace(result.OptimizedPrompt) == "" {
		return nil, errors.New("optimizer reply is missing optimized_prompt")
	}
	return &result, nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
