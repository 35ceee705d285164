package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-flowpilot/session"
	"github.com/goliatone/go-flowpilot/storage"
)

func TestHistoryTrimJob(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store, err := storage.New(t.TempDir(), storage.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	require.NoError(t, err)

	for _, owner := range []string{"chat-1", "chat-2"} {
		for _, id := range []string{"p-1", "p-2", "p-3"} {
			require.NoError(t, store.AppendHistory(owner, map[string]any{"prompt_id": id}, 0))
		}
	}

	job := HistoryTrimJob{Store: store, Limit: 2}
	assert.Equal(t, "@every 1h", job.CronOptions().Expression)
	require.NoError(t, job.CronHandler()())

	for _, owner := range []string{"chat-1", "chat-2"} {
		_, total, err := store.RecentHistory(owner, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	}
}

func TestSessionSweepJob(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := session.NewMemoryRegistry(
		session.WithTTL(time.Minute),
		session.WithClock(func() time.Time { return now }),
	)
	_, err := registry.Create(context.Background(), session.Reference{OwnerID: "chat-1"})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	job := SessionSweepJob{Sessions: registry}
	assert.Equal(t, "@every 10m", job.CronOptions().Expression)
	require.NoError(t, job.CronHandler()())
	assert.Equal(t, 0, registry.Sweep())
}
