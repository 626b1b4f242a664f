package history

import (
	"context"
	"time"
)

// Entry is one persisted exchange.
type Entry struct {
	ID        int64     `json:"id"`
	Prompt    string    `json:"prompt"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Response  string    `json:"response"`
	LatencyMS int64     `json:"latency_ms"`
	Tokens    int       `json:"tokens"`
	Cost      float64   `json:"cost"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists chat exchanges. Persistence is best-effort everywhere it is
// used: a failing store is logged and swallowed, never surfaced to a caller.
type Store interface {
	SaveChat(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// NopStore discards everything; used when no history path is configured.
type NopStore struct{}

func (NopStore) SaveChat(context.Context, Entry) error { return nil }

func (NopStore) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func (NopStore) Close() error { return nil }
