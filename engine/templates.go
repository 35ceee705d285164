package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	flowpilot "github.com/goliatone/go-flowpilot"
)

// Template describes one workflow template offered by the engine or
// found in the configured on-disk directory.
type Template struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Category  string         `json:"category,omitempty"`
	Source    string         `json:"source"`
	Namespace string         `json:"namespace,omitempty"`
	DiskPath  string         `json:"disk_path,omitempty"`
	Workflow  map[string]any `json:"workflow,omitempty"`
}

const (
	templateSourceLegacy = "legacy"
	templateSourceAPI    = "api"
	templateSourceDisk   = "disk"
)

// Templates merges the template catalogs the engine exposes with the
// optional on-disk directory. Sources that are missing or forbidden on
// this engine build are skipped, not fatal. First source wins per id.
func (c *Client) Templates(ctx context.Context, refresh bool) ([]Template, error) {
	c.mu.Lock()
	if c.tplCache != nil && !refresh {
		cached := c.tplCache
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	collected := make(map[string]Template)
	order := []string{}

	merge := func(items []Template) {
		for _, item := range items {
			if item.ID == "" {
				continue
			}
			if _, dup := collected[item.ID]; dup {
				continue
			}
			collected[item.ID] = item
			order = append(order, item.ID)
		}
	}

	if items, err := c.legacyTemplates(ctx); err != nil {
		c.logger.Debug("legacy template route unavailable", "error", err)
	} else {
		merge(items)
	}

	if items, err := c.apiTemplates(ctx); err != nil {
		c.logger.Debug("api template route unavailable", "error", err)
	} else {
		merge(items)
	}

	if items, err := c.diskTemplates(); err != nil {
		c.logger.Debug("disk templates unavailable", "error", err)
	} else {
		merge(items)
	}

	templates := make([]Template, 0, len(order))
	for _, id := range order {
		templates = append(templates, collected[id])
	}
	sort.SliceStable(templates, func(i, j int) bool {
		return strings.ToLower(templates[i].Name) < strings.ToLower(templates[j].Name)
	})

	c.mu.Lock()
	c.tplCache = templates
	c.mu.Unlock()
	return templates, nil
}

// Template loads the workflow document for one catalog entry.
func (c *Client) Template(ctx context.Context, tpl Template) (map[string]any, error) {
	switch tpl.Source {
	case templateSourceDisk:
		if tpl.Workflow != nil {
			return tpl.Workflow, nil
		}
		return c.loadDiskTemplate(tpl.DiskPath)
	case templateSourceAPI:
		name := tpl.Name
		if name == "" {
			name = tpl.ID
		}
		return c.getJSON(ctx, "/api/workflow_templates/"+url.PathEscape(tpl.Namespace)+"/"+url.PathEscape(name), nil)
	default:
		return c.getJSON(ctx, "/templates/"+url.PathEscape(strings.Trim(tpl.ID, "/")), nil)
	}
}

func (c *Client) legacyTemplates(ctx context.Context) ([]Template, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/templates", nil, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, flowpilot.NewFetchFailure(extractErrorMessage(body), nil, map[string]any{"status": status})
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, flowpilot.NewFetchFailure("legacy template route returned invalid JSON", err, nil)
	}

	var rawItems []any
	switch v := decoded.(type) {
	case []any:
		rawItems = v
	case map[string]any:
		if list, ok := v["templates"].([]any); ok {
			rawItems = list
		}
	}

	var templates []Template
	for _, raw := range rawItems {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := item["id"].(string)
		name, _ := item["name"].(string)
		if id == "" {
			id = name
		}
		if id == "" {
			continue
		}
		if name == "" {
			name = id
		}
		category, _ := item["category"].(string)
		templates = append(templates, Template{
			ID:       id,
			Name:     name,
			Category: category,
			Source:   templateSourceLegacy,
		})
	}
	return templates, nil
}

// apiTemplates decodes the namespace map form:
// {"namespace": ["template-name", ...], ...}
func (c *Client) apiTemplates(ctx context.Context) ([]Template, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/workflow_templates", nil, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, flowpilot.NewFetchFailure(extractErrorMessage(body), nil, map[string]any{"status": status})
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, flowpilot.NewFetchFailure("api template route returned invalid JSON", err, nil)
	}

	namespaces := make([]string, 0, len(decoded))
	for namespace := range decoded {
		namespaces = append(namespaces, namespace)
	}
	sort.Strings(namespaces)

	var templates []Template
	for _, namespace := range namespaces {
		items, ok := decoded[namespace].([]any)
		if !ok {
			continue
		}
		for _, raw := range items {
			name, ok := raw.(string)
			if !ok || name == "" {
				continue
			}
			templates = append(templates, Template{
				ID:        namespace + "/" + name,
				Name:      name,
				Category:  namespace,
				Namespace: namespace,
				Source:    templateSourceAPI,
			})
		}
	}
	return templates, nil
}

func (c *Client) diskTemplates() ([]Template, error) {
	if c.templatesDir == "" {
		return nil, nil
	}
	if _, err := os.Stat(c.templatesDir); err != nil {
		return nil, err
	}

	var templates []Template
	err := filepath.WalkDir(c.templatesDir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".json") {
			return nil
		}

		raw, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		var workflow map[string]any
		if err := json.Unmarshal(raw, &workflow); err != nil {
			return nil
		}

		relative, err := filepath.Rel(c.templatesDir, p)
		if err != nil {
			relative = filepath.Base(p)
		}
		relative = filepath.ToSlash(relative)

		category := "builtin"
		if parts := strings.Split(relative, "/"); len(parts) > 1 {
			category = parts[0]
		}

		templates = append(templates, Template{
			ID:       "disk::" + relative,
			Name:     strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)),
			Category: category,
			Source:   templateSourceDisk,
			DiskPath: p,
			Workflow: workflow,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].ID < templates[j].ID
	})
	return templates, nil
}

func (c *Client) loadDiskTemplate(location string) (map[string]any, error) {
	if c.templatesDir == "" {
		return nil, flowpilot.NewFetchFailure("no template directory configured", nil, nil)
	}

	p := location
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.templatesDir, location)
	}

	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, flowpilot.NewFetchFailure("failed to read template file", err, map[string]any{"path": p})
	}

	var workflow map[string]any
	if err := json.Unmarshal(raw, &workflow); err != nil {
		return nil, flowpilot.NewFetchFailure("template file contains invalid JSON", err, map[string]any{"path": p})
	}
	return workflow, nil
}
