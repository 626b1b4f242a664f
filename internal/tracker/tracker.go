package tracker

import (
	"time"

	"cortex-router/internal/models"
)

// Tracker accumulates token usage and cost over a sequence of responses.
// It is a plain accumulator with no locking of its own: the owning session
// serializes access, and concurrent compare targets never write into one
// because aggregation happens only after the fan-out join.
type Tracker struct {
	requests         int
	promptTokens     int
	completionTokens int
	totalTokens      int
	totalCost        float64
}

// New returns a zeroed tracker.
func New() *Tracker {
	return &Tracker{}
}

// Record folds one response into the running totals. Errored responses count
// as requests but contribute zero usage and cost by construction.
func (t *Tracker) Record(resp *models.UnifiedResponse) {
	if resp == nil {
		return
	}
	t.requests++
	t.promptTokens += resp.TokenUsage.PromptTokens
	t.completionTokens += resp.TokenUsage.CompletionTokens
	t.totalTokens += resp.TokenUsage.TotalTokens
	t.totalCost += resp.EstimatedCost
}

// Reset zeroes all counters.
func (t *Tracker) Reset() {
	*t = Tracker{}
}

// Summary is a point-in-time snapshot of accumulated usage.
type Summary struct {
	Requests         int       `json:"requests"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	TotalCost        float64   `json:"total_cost"`
	Timestamp        time.Time `json:"timestamp"`
}

// Summary snapshots the tracker.
func (t *Tracker) Summary() Summary {
	return Summary{
		Requests:         t.requests,
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalTokens:      t.totalTokens,
		TotalCost:        t.totalCost,
		Timestamp:        time.Now().UTC(),
	}
}
