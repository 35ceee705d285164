package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	flowpilot "github.com/goliatone/go-flowpilot"
)

// modelExtensions filters listings down to checkpoint-style files.
var modelExtensions = []string{".safetensors", ".ckpt", ".pth", ".gguf"}

// ListModels returns the model filenames the engine knows for a type,
// cached per type. The listing endpoint has drifted over engine
// versions, so both `/models?type=` and `/models/{type}` are consulted
// and heterogeneous body shapes are coerced.
func (c *Client) ListModels(ctx context.Context, modelType string, refresh bool) ([]string, error) {
	key := strings.ToLower(modelType)

	c.mu.Lock()
	if cached, ok := c.models[key]; ok && !refresh {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	params := url.Values{}
	params.Set("type", modelType)

	status, body, err := c.do(ctx, http.MethodGet, "/models", params, nil)
	if err != nil {
		return nil, err
	}

	var names []string
	switch {
	case status == http.StatusNotFound:
		c.logger.Debug("engine does not support model listing", "type", modelType)
	case status >= 400:
		return nil, flowpilot.NewFetchFailure(
			extractErrorMessage(body),
			nil,
			map[string]any{"status": status, "type": modelType},
		)
	default:
		names = decodeModelNames(body, modelType)
	}

	filtered := filterModelNames(names)

	if len(filtered) == 0 && modelType != "" {
		altStatus, altBody, err := c.do(ctx, http.MethodGet, "/models/"+url.PathEscape(modelType), nil, nil)
		if err != nil {
			return nil, err
		}
		switch {
		case altStatus == http.StatusNotFound:
			c.logger.Debug("engine does not support per-type model route", "type", modelType)
		case altStatus >= 400:
			return nil, flowpilot.NewFetchFailure(
				extractErrorMessage(altBody),
				nil,
				map[string]any{"status": altStatus, "type": modelType},
			)
		default:
			filtered = filterModelNames(decodeModelNames(altBody, modelType))
		}
	}

	c.mu.Lock()
	c.models[key] = filtered
	c.mu.Unlock()
	return filtered, nil
}

// decodeModelNames accepts the shapes seen in the wild: a list, a
// mapping with one of several list-bearing keys, a mapping keyed by
// name, or plain text lines.
func decodeModelNames(body []byte, modelType string) []string {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		var names []string
		for _, line := range strings.Split(string(body), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				names = append(names, line)
			}
		}
		return names
	}

	switch value := decoded.(type) {
	case []any:
		return coerceModelNames(value)
	case map[string]any:
		for _, key := range []string{"models", "items", "model_list", "data", "names", modelType} {
			if candidate, ok := value[key]; ok {
				if names := coerceModelValue(candidate); len(names) > 0 {
					return names
				}
			}
		}
		return coerceModelValue(value)
	case string:
		return []string{value}
	default:
		return nil
	}
}

func coerceModelValue(value any) []string {
	switch v := value.(type) {
	case []any:
		return coerceModelNames(v)
	case map[string]any:
		names := make([]string, 0, len(v))
		for key := range v {
			names = append(names, key)
		}
		sort.Strings(names)
		return names
	case string:
		return []string{v}
	default:
		return nil
	}
}

func coerceModelNames(items []any) []string {
	var names []string
	for _, item := range items {
		switch v := item.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			for _, key := range []string{"name", "title", "id", "filename"} {
				if s, ok := v[key].(string); ok && s != "" {
					names = append(names, s)
					break
				}
			}
		}
	}
	return names
}

// filterModelNames deduplicates case-insensitively and keeps only names
// whose filename carries a known model extension, sorted.
func filterModelNames(names []string) []string {
	filtered := make([]string, 0, len(names))
	seen := make(map[string]struct{})

	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}

		normalized := strings.ReplaceAll(trimmed, "\\", "/")
		parts := strings.Split(normalized, "/")
		lowered := strings.ToLower(parts[len(parts)-1])

		matched := false
		for _, ext := range modelExtensions {
			if strings.HasSuffix(lowered, ext) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if _, dup := seen[lowered]; dup {
			continue
		}
		seen[lowered] = struct{}{}
		filtered = append(filtered, trimmed)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return strings.ToLower(filtered[i]) < strings.ToLower(filtered[j])
	})
	return filtered
}
