package engine

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	flowpilot "github.com/goliatone/go-flowpilot"
)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
	".bmp":  {},
}

// OutputFile is one image found in the engine's output directory.
type OutputFile struct {
	Path    string
	ModTime time.Time
}

// GatherOutputs extracts the outputs block for promptID from a history
// response. The engine nests the record differently between versions:
// under a `history` map, under the prompt id directly, or as a value
// whose `prompt_id` field matches.
func GatherOutputs(history map[string]any, promptID string) map[string]any {
	if history == nil {
		return map[string]any{}
	}

	var record map[string]any

	if nested, ok := history["history"].(map[string]any); ok {
		if candidate, ok := nested[promptID].(map[string]any); ok {
			record = candidate
		}
	}
	if record == nil {
		if candidate, ok := history[promptID].(map[string]any); ok {
			record = candidate
		}
	}
	if record == nil {
		for _, value := range history {
			candidate, ok := value.(map[string]any)
			if !ok {
				continue
			}
			if pid, _ := candidate["prompt_id"].(string); pid == promptID {
				record = candidate
				break
			}
		}
	}
	if record == nil {
		return map[string]any{}
	}

	outputs, ok := record["outputs"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return outputs
}

// DownloadImages fetches every image referenced in outputs through the
// engine's view endpoint, writing them under targetDir.
func (c *Client) DownloadImages(ctx context.Context, outputs map[string]any, targetDir string) ([]string, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, flowpilot.WrapError("OutputError", "failed to create output directory", err)
	}

	var files []string
	for _, ref := range imageRefs(outputs) {
		local, err := c.downloadImage(ctx, ref.filename, ref.subfolder, targetDir)
		if err != nil {
			return files, err
		}
		files = append(files, local)
	}
	return files, nil
}

// LocateOutputFiles resolves output references against a shared output
// directory on disk, preferring the subfolder-qualified path.
func LocateOutputFiles(outputs map[string]any, baseDir string) []string {
	var matches []string
	seen := make(map[string]struct{})

	for _, ref := range imageRefs(outputs) {
		var candidates []string
		if ref.subfolder != "" {
			safe := filepath.Join(strings.Split(path.Clean(ref.subfolder), "/")...)
			candidates = append(candidates, filepath.Join(baseDir, safe, ref.filename))
		}
		candidates = append(candidates, filepath.Join(baseDir, ref.filename))

		for _, candidate := range candidates {
			if _, dup := seen[candidate]; dup {
				continue
			}
			if _, err := os.Stat(candidate); err == nil {
				seen[candidate] = struct{}{}
				matches = append(matches, candidate)
				break
			}
		}
	}
	return matches
}

// RecentOutputs scans a directory tree for images, newest first,
// returning at most limit entries.
func RecentOutputs(dir string, limit int) ([]OutputFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, flowpilot.WrapError("OutputError", "failed to create output directory", err)
	}

	var files []OutputFile
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(p))]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, OutputFile{Path: p, ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, flowpilot.WrapError("OutputError", "failed to scan output directory", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

type imageRef struct {
	filename  string
	subfolder string
}

func imageRefs(outputs map[string]any) []imageRef {
	var refs []imageRef
	keys := make([]string, 0, len(outputs))
	for key := range outputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		nodeOutputs, ok := outputs[key].(map[string]any)
		if !ok {
			continue
		}
		images, ok := nodeOutputs["images"].([]any)
		if !ok {
			continue
		}
		for _, raw := range images {
			image, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			filename, _ := image["filename"].(string)
			if filename == "" {
				continue
			}
			subfolder, _ := image["subfolder"].(string)
			refs = append(refs, imageRef{filename: filename, subfolder: subfolder})
		}
	}
	return refs
}

func (c *Client) downloadImage(ctx context.Context, filename, subfolder, targetDir string) (string, error) {
	params := url.Values{}
	params.Set("filename", filename)
	params.Set("subfolder", subfolder)
	params.Set("type", "output")

	status, body, err := c.do(ctx, http.MethodGet, "/view", params, nil)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", flowpilot.NewFetchFailure(
			extractErrorMessage(body),
			nil,
			map[string]any{"status": status, "filename": filename},
		)
	}

	local := filepath.Join(targetDir, filepath.Base(filename))
	if err := os.WriteFile(local, body, 0o644); err != nil {
		return "", flowpilot.WrapError("OutputError", "failed to write downloaded image", err)
	}
	return local, nil
}
