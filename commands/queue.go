package commands

import (
	"strings"

	"github.com/goliatone/go-flowpilot/graph"
)

// JobInfo is one queue entry reduced to display fields.
type JobInfo struct {
	PromptID string `json:"prompt_id,omitempty"`
	Node     string `json:"node,omitempty"`
	Status   string `json:"status,omitempty"`
	Label    string `json:"label"`
}

// QueueSnapshot is the engine queue split into phases.
type QueueSnapshot struct {
	Running  []JobInfo `json:"running"`
	Pending  []JobInfo `json:"pending"`
	Finished []JobInfo `json:"finished,omitempty"`
}

// Empty reports whether nothing is running or waiting.
func (s QueueSnapshot) Empty() bool {
	return len(s.Running) == 0 && len(s.Pending) == 0
}

// normalizeQueueState accepts the queue shapes engine builds have
// shipped: a nested `queue` block or phase lists at the top level.
// Within the block, `pending` holds what is executing right now and
// `queue` holds what waits.
func normalizeQueueState(state map[string]any) QueueSnapshot {
	queueBlock, _ := state["queue"].(map[string]any)

	running := normalizeJobs(queueBlock["pending"])
	pending := normalizeJobs(queueBlock["queue"])
	finished := normalizeJobs(queueBlock["finished"])

	if len(running) == 0 {
		running = normalizeJobs(state["pending"])
	}
	if len(pending) == 0 {
		pending = normalizeJobs(state["queue"])
	}
	if len(finished) == 0 {
		finished = normalizeJobs(state["finished"])
	}

	return QueueSnapshot{
		Running:  running,
		Pending:  pending,
		Finished: finished,
	}
}

// normalizeJobs tolerates a list, a single job, or nothing.
func normalizeJobs(raw any) []JobInfo {
	var items []any
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		items = v
	case bool:
		if !v {
			return nil
		}
		items = []any{v}
	default:
		items = []any{v}
	}

	jobs := make([]JobInfo, 0, len(items))
	for _, item := range items {
		jobs = append(jobs, describeJob(item))
	}
	return jobs
}

// describeJob mirrors the permissive labeling the engine queue needs:
// jobs arrive as rich objects, bare ids, or tuples.
func describeJob(job any) JobInfo {
	obj, ok := job.(map[string]any)
	if !ok {
		return JobInfo{Label: graph.Stringify(job)}
	}

	info := JobInfo{
		PromptID: firstString(obj, "prompt_id", "id", "queue_id"),
		Node:     firstString(obj, "node", "node_id", "class_type"),
		Status:   firstString(obj, "status", "state"),
	}

	var parts []string
	if info.PromptID != "" {
		parts = append(parts, shorten(info.PromptID, 10))
	}
	if info.Node != "" {
		parts = append(parts, info.Node)
	}
	if info.Status != "" {
		parts = append(parts, info.Status)
	}
	if len(parts) > 0 {
		info.Label = strings.Join(parts, " | ")
		return info
	}

	if name := firstString(obj, "name", "type"); name != "" {
		info.Label = name
		return info
	}
	if _, ok := obj["workflow"].(map[string]any); ok {
		info.Label = "workflow"
		return info
	}
	info.Label = graph.Stringify(obj)
	return info
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if raw, ok := obj[key]; ok && raw != nil {
			if s := graph.Stringify(raw); s != "" {
				return s
			}
		}
	}
	return ""
}

func shorten(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max-3] + "…"
}
