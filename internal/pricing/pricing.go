package pricing

import (
	"strings"

	"cortex-router/internal/models"
)

// Rate holds USD prices per 1K tokens for one model.
type Rate struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Table maps provider name -> model ID -> rate.
type Table map[string]map[string]Rate

// Default returns the built-in pricing table. Values are USD per 1K tokens.
func Default() Table {
	return Table{
		"openai": {
			"gpt-4o":      {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
			"gpt-4o-mini": {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
		},
		"gemini": {
			"gemini-1.5-pro":   {PromptPer1K: 0.00125, CompletionPer1K: 0.005},
			"gemini-1.5-flash": {PromptPer1K: 0.000075, CompletionPer1K: 0.0003},
		},
		"deepseek": {
			"deepseek-chat":     {PromptPer1K: 0.00027, CompletionPer1K: 0.0011},
			"deepseek-reasoner": {PromptPer1K: 0.00055, CompletionPer1K: 0.00219},
		},
		"grok": {
			"grok-2-latest": {PromptPer1K: 0.002, CompletionPer1K: 0.01},
		},
	}
}

// Merge overlays rates from other on top of the receiver, returning the receiver.
func (t Table) Merge(other Table) Table {
	for provider, rates := range other {
		if t[provider] == nil {
			t[provider] = make(map[string]Rate, len(rates))
		}
		for model, rate := range rates {
			t[provider][model] = rate
		}
	}
	return t
}

// Lookup returns the rate for a provider/model pair.
func (t Table) Lookup(provider, model string) (Rate, bool) {
	rates, ok := t[strings.ToLower(provider)]
	if !ok {
		return Rate{}, false
	}
	rate, ok := rates[model]
	return rate, ok
}

// Estimate computes the monetary cost of a call. It never fails: an unknown
// provider or model prices at zero.
func (t Table) Estimate(provider, model string, usage models.TokenUsage) float64 {
	rate, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	prompt := float64(usage.PromptTokens) / 1000 * rate.PromptPer1K
	completion := float64(usage.CompletionTokens) / 1000 * rate.CompletionPer1K
	return prompt + completion
}
