package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveChatAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChat(ctx, Entry{
		Prompt: "first", Provider: "openai", Model: "gpt-4o-mini",
		Response: "a", LatencyMS: 120, Tokens: 30, Cost: 0.001, Mode: "chat",
	}))
	require.NoError(t, store.SaveChat(ctx, Entry{
		Prompt: "second", Provider: "gemini", Model: "gemini-1.5-flash",
		Response: "b", Mode: "compare",
	}))

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Most recent first.
	assert.Equal(t, "second", entries[0].Prompt)
	assert.Equal(t, "compare", entries[0].Mode)
	assert.Equal(t, "first", entries[1].Prompt)
	assert.Equal(t, int64(120), entries[1].LatencyMS)
	assert.Equal(t, 30, entries[1].Tokens)
	assert.InDelta(t, 0.001, entries[1].Cost, 1e-9)
	assert.False(t, entries[1].CreatedAt.IsZero())
}

func TestRecentHonorsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for n := 0; n < 5; n++ {
		require.NoError(t, store.SaveChat(ctx, Entry{
			Prompt: "p", Provider: "openai", Model: "m", Response: "r", Mode: "chat",
		}))
	}

	entries, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// Non-positive limits fall back to the default.
	entries, err = store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestRecentEmptyDatabase(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNopStore(t *testing.T) {
	var store Store = NopStore{}

	assert.NoError(t, store.SaveChat(context.Background(), Entry{Prompt: "p"}))

	entries, err := store.Recent(context.Background(), 10)
	assert.NoError(t, err)
	assert.Nil(t, entries)
	assert.NoError(t, store.Close())
}
