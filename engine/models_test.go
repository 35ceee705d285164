package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterModelNames(t *testing.T) {
	names := []string{
		"sd15/model.safetensors",
		"MODEL.SAFETENSORS", // duplicate by filename, case-insensitive
		"vae.pt",            // unknown extension
		"  ",                // blank
		"windows\\path\\other.ckpt",
		"quant.gguf",
	}

	filtered := filterModelNames(names)
	assert.Equal(t, []string{"quant.gguf", "sd15/model.safetensors", "windows\\path\\other.ckpt"}, filtered)
}

func TestDecodeModelNames(t *testing.T) {
	t.Run("list of strings", func(t *testing.T) {
		names := decodeModelNames([]byte(`["a.ckpt", "b.ckpt"]`), "checkpoints")
		assert.Equal(t, []string{"a.ckpt", "b.ckpt"}, names)
	})

	t.Run("mapping with models key", func(t *testing.T) {
		names := decodeModelNames([]byte(`{"models": [{"name": "x.safetensors"}]}`), "checkpoints")
		assert.Equal(t, []string{"x.safetensors"}, names)
	})

	t.Run("mapping keyed by name", func(t *testing.T) {
		names := decodeModelNames([]byte(`{"n1.ckpt": {}, "n2.ckpt": {}}`), "checkpoints")
		assert.Equal(t, []string{"n1.ckpt", "n2.ckpt"}, names)
	})

	t.Run("plain text lines", func(t *testing.T) {
		names := decodeModelNames([]byte("one.ckpt\ntwo.ckpt\n"), "checkpoints")
		assert.Equal(t, []string{"one.ckpt", "two.ckpt"}, names)
	})
}

func TestListModels(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			calls++
			require.Equal(t, "checkpoints", r.URL.Query().Get("type"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []any{"b.safetensors", "a.safetensors", "skip.yaml"},
			})
		default:
			http.NotFound(w, r)
		}
	})

	models, err := client.ListModels(context.Background(), "checkpoints", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.safetensors", "b.safetensors"}, models)

	// cached
	_, err = client.ListModels(context.Background(), "checkpoints", false)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestListModels_FallbackRoute(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
		case "/models/loras":
			_ = json.NewEncoder(w).Encode([]any{"style.safetensors"})
		default:
			http.NotFound(w, r)
		}
	})

	models, err := client.ListModels(context.Background(), "loras", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"style.safetensors"}, models)
}

func TestListModels_NotSupported(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	models, err := client.ListModels(context.Background(), "checkpoints", false)
	require.NoError(t, err)
	assert.Empty(t, models)
}
