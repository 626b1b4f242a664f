package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cortex-router/internal/models"
)

func TestEstimate(t *testing.T) {
	table := Default()

	t.Run("known model prices by token counts", func(t *testing.T) {
		usage := models.NewTokenUsage(1000, 2000)
		cost := table.Estimate("openai", "gpt-4o-mini", usage)
		assert.InDelta(t, 0.00015+2*0.0006, cost, 1e-9)
	})

	t.Run("provider lookup is case-insensitive", func(t *testing.T) {
		usage := models.NewTokenUsage(1000, 0)
		assert.Equal(t, table.Estimate("openai", "gpt-4o", usage), table.Estimate("OpenAI", "gpt-4o", usage))
	})

	t.Run("unknown provider yields zero, never an error", func(t *testing.T) {
		cost := table.Estimate("nonexistent", "some-model", models.NewTokenUsage(5000, 5000))
		assert.Zero(t, cost)
	})

	t.Run("unknown model yields zero", func(t *testing.T) {
		cost := table.Estimate("openai", "gpt-99", models.NewTokenUsage(5000, 5000))
		assert.Zero(t, cost)
	})

	t.Run("zero usage costs nothing", func(t *testing.T) {
		cost := table.Estimate("deepseek", "deepseek-chat", models.NewTokenUsage(0, 0))
		assert.Zero(t, cost)
	})
}

func TestMerge(t *testing.T) {
	table := Default()
	table.Merge(Table{
		"openai": {"gpt-4o-mini": {PromptPer1K: 1, CompletionPer1K: 2}},
		"local":  {"llama": {PromptPer1K: 0, CompletionPer1K: 0}},
	})

	rate, ok := table.Lookup("openai", "gpt-4o-mini")
	assert.True(t, ok)
	assert.Equal(t, 1.0, rate.PromptPer1K)

	_, ok = table.Lookup("local", "llama")
	assert.True(t, ok)

	// Untouched entries survive the merge.
	_, ok = table.Lookup("grok", "grok-2-latest")
	assert.True(t, ok)
}
