package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeHistory(t *testing.T, raw string) map[string]any {
	t.Helper()
	var history map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &history))
	return history
}

func TestGatherOutputs(t *testing.T) {
	t.Run("nested history block", func(t *testing.T) {
		history := decodeHistory(t, `{"history": {"p-1": {"outputs": {"9": {"images": []}}}}}`)
		outputs := GatherOutputs(history, "p-1")
		assert.Contains(t, outputs, "9")
	})

	t.Run("direct prompt key", func(t *testing.T) {
		history := decodeHistory(t, `{"p-2": {"outputs": {"5": {}}}}`)
		outputs := GatherOutputs(history, "p-2")
		assert.Contains(t, outputs, "5")
	})

	t.Run("scan by prompt_id field", func(t *testing.T) {
		history := decodeHistory(t, `{"anything": {"prompt_id": "p-3", "outputs": {"1": {}}}}`)
		outputs := GatherOutputs(history, "p-3")
		assert.Contains(t, outputs, "1")
	})

	t.Run("unknown prompt", func(t *testing.T) {
		history := decodeHistory(t, `{"p-4": {"outputs": {}}}`)
		assert.Empty(t, GatherOutputs(history, "other"))
		assert.Empty(t, GatherOutputs(nil, "other"))
	})
}

func TestLocateOutputFiles(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "batch1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "batch1", "a.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "b.png"), []byte("x"), 0o644))

	outputs := decodeHistory(t, `{
		"1": {"images": [
			{"filename": "a.png", "subfolder": "batch1"},
			{"filename": "b.png"},
			{"filename": "missing.png"}
		]}
	}`)

	matches := LocateOutputFiles(outputs, base)
	require.Len(t, matches, 2)
	assert.Equal(t, filepath.Join(base, "batch1", "a.png"), matches[0])
	assert.Equal(t, filepath.Join(base, "b.png"), matches[1])
}

func TestRecentOutputs(t *testing.T) {
	dir := t.TempDir()

	older := filepath.Join(dir, "old.png")
	newer := filepath.Join(dir, "new.jpg")
	skipped := filepath.Join(dir, "notes.txt")

	require.NoError(t, os.WriteFile(older, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(skipped, []byte("x"), 0o644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	files, err := RecentOutputs(dir, 10)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, newer, files[0].Path)
	assert.Equal(t, older, files[1].Path)

	limited, err := RecentOutputs(dir, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer, limited[0].Path)
}

func TestImageRefs_MalformedShapes(t *testing.T) {
	outputs := decodeHistory(t, `{
		"1": {"images": "not a list"},
		"2": "not a map",
		"3": {"images": [{"subfolder": "x"}, {"filename": "ok.png"}]}
	}`)

	refs := imageRefs(outputs)
	require.Len(t, refs, 1)
	assert.Equal(t, "ok.png", refs[0].filename)
}
