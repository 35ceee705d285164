package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowpilot "github.com/goliatone/go-flowpilot"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := New(t.TempDir(), opts...)
	require.NoError(t, err)
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	workflow := map[string]any{
		"1": map[string]any{"class_type": "KSampler"},
	}

	path, err := store.Save("chat-42", "portrait", workflow)
	require.NoError(t, err)
	assert.FileExists(t, path)

	loaded, err := store.Load("chat-42", "portrait")
	require.NoError(t, err)
	assert.Equal(t, workflow, loaded)
}

func TestLoadMissingWorkflow(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("chat-42", "absent")
	require.Error(t, err)
	assert.Equal(t, ErrCodeWorkflowNotFound, flowpilot.ErrorCode(err))
}

func TestDefaultName(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("chat-42", "", map[string]any{"1": map[string]any{}})
	require.NoError(t, err)

	assert.True(t, store.Has("chat-42", ""))
	assert.True(t, store.Has("chat-42", "default"))
}

func TestListSkipsHistoryFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("chat-42", "b-side", map[string]any{})
	require.NoError(t, err)
	_, err = store.Save("chat-42", "anime", map[string]any{})
	require.NoError(t, err)
	require.NoError(t, store.AppendHistory("chat-42", map[string]any{"prompt_id": "p-1"}, 0))

	names, err := store.List("chat-42")
	require.NoError(t, err)
	assert.Equal(t, []string{"anime", "b-side"}, names)
}

func TestListUnknownOwner(t *testing.T) {
	store := newTestStore(t)

	names, err := store.List("nobody")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("chat-42", "portrait", map[string]any{})
	require.NoError(t, err)

	require.NoError(t, store.Delete("chat-42", "portrait"))
	assert.False(t, store.Has("chat-42", "portrait"))

	// deleting again is a no-op
	require.NoError(t, store.Delete("chat-42", "portrait"))
}

func TestNameValidation(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"../escape", "a/b", `a\b`} {
		_, err := store.Save("chat-42", name, map[string]any{})
		require.Error(t, err, name)
		assert.Equal(t, ErrCodeInvalidName, flowpilot.ErrorCode(err), name)
	}
}

func TestHistoryOrderAndCap(t *testing.T) {
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(func() time.Time {
		stamp = stamp.Add(time.Second)
		return stamp
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendHistory("chat-42", map[string]any{
			"prompt_id": string(rune('a' + i)),
		}, 3))
	}

	recent, total, err := store.RecentHistory("chat-42", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recent, 2)
	assert.Equal(t, "e", recent[0]["prompt_id"])
	assert.Equal(t, "d", recent[1]["prompt_id"])
	assert.Contains(t, recent[0], "created_at")
	assert.Contains(t, recent[0], "created_at_ts")
}

func TestHistoryKeepsCallerTimestamps(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendHistory("chat-42", map[string]any{
		"prompt_id":     "p-1",
		"created_at":    "2025-01-01T00:00:00Z",
		"created_at_ts": 1735689600.0,
	}, 0))

	recent, _, err := store.RecentHistory("chat-42", 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "2025-01-01T00:00:00Z", recent[0]["created_at"])
}

func TestMalformedHistoryDegradesToEmpty(t *testing.T) {
	store := newTestStore(t)

	dir := store.OwnerDir("chat-42")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history.json"), []byte("{not json"), 0o644))

	recent, total, err := store.RecentHistory("chat-42", 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, recent)

	// appending over a broken file starts fresh
	require.NoError(t, store.AppendHistory("chat-42", map[string]any{"prompt_id": "p-1"}, 0))
	_, total, err = store.RecentHistory("chat-42", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestOwners(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("chat-42", "portrait", map[string]any{})
	require.NoError(t, err)
	_, err = store.Save("chat-7", "landscape", map[string]any{})
	require.NoError(t, err)

	owners, err := store.Owners()
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-42", "chat-7"}, owners)
}

func TestTrimHistory(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	for _, id := range []string{"p-1", "p-2", "p-3", "p-4"} {
		require.NoError(t, store.AppendHistory("chat-42", map[string]any{"prompt_id": id}, 0))
	}

	require.NoError(t, store.TrimHistory("chat-42", 2))

	recent, total, err := store.RecentHistory("chat-42", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "p-4", recent[0]["prompt_id"])
	assert.Equal(t, "p-3", recent[1]["prompt_id"])

	// already within the cap is a no-op
	require.NoError(t, store.TrimHistory("chat-42", 10))
	require.NoError(t, store.TrimHistory("nobody", 10))
}
