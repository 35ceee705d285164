// Package graph converts loosely-shaped workflow payloads into a
// renderable node/edge model. The input comes from an uncontrolled
// upstream producer, so the conversion is total: malformed entries are
// dropped or defaulted, never surfaced as errors.
package graph

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// Position is a resolved render coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VisualNode is a position-resolved node ready for rendering.
type VisualNode struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Subtitle string   `json:"subtitle,omitempty"`
	Position Position `json:"position"`
}

// VisualEdge is a directed connection between two visual nodes.
type VisualEdge struct {
	ID         string `json:"id"`
	SourceID   string `json:"sourceId"`
	TargetID   string `json:"targetId"`
	SourcePort string `json:"sourcePort"`
	TargetPort string `json:"targetPort"`
}

// Result bundles the outputs of one normalization pass. Lookup maps node
// ids back to their raw records for on-demand detail display. Collisions
// counts duplicate node ids that were overwritten (last write wins).
type Result struct {
	Nodes      []VisualNode          `json:"nodes"`
	Edges      []VisualEdge          `json:"edges"`
	Lookup     map[string]NodeRecord `json:"-"`
	Collisions int                   `json:"collisions"`
}

// IDGenerator synthesizes an identifier for records that carry none.
type IDGenerator func() string

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithIDGenerator overrides the random identifier fallback, letting tests
// exercise that path deterministically.
func WithIDGenerator(fn IDGenerator) Option {
	return func(n *Normalizer) {
		if fn != nil {
			n.genID = fn
		}
	}
}

// Normalizer performs the single-pass payload-to-graph conversion.
type Normalizer struct {
	genID IDGenerator
}

// New builds a Normalizer. The default identifier fallback is a
// process-local random token; it only triggers for records lacking any
// identifying field.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		genID: func() string {
			return "node-" + uuid.NewString()[:8]
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Normalize runs the default Normalizer over payload.
func Normalize(payload any) Result {
	return New().Normalize(payload)
}

// nodeEntry pairs a record with the identifier resolved for it.
type nodeEntry struct {
	id     string
	record NodeRecord
}

// Normalize converts a decoded workflow payload into visual nodes and
// edges. The payload is either an object carrying `nodes` (mapping or
// sequence) plus optional `links`, or the bare node mapping itself.
// The operation is pure and never fails for type-plausible input.
func (n *Normalizer) Normalize(payload any) Result {
	entries, links := n.resolveCollections(payload)

	out := Result{
		Nodes:  make([]VisualNode, 0, len(entries)),
		Edges:  []VisualEdge{},
		Lookup: make(map[string]NodeRecord, len(entries)),
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		node := VisualNode{
			ID:       entry.id,
			Label:    entry.record.Label(entry.id),
			Subtitle: entry.record.Subtitle(),
		}
		if pos, ok := entry.record.ExplicitPosition(); ok {
			node.Position = pos
		} else {
			node.Position = FallbackPosition(entry.id)
		}

		if _, dup := seen[entry.id]; dup {
			out.Collisions++
		}
		seen[entry.id] = struct{}{}

		out.Nodes = append(out.Nodes, node)
		out.Lookup[entry.id] = entry.record
	}

	for idx, raw := range links {
		edge, ok := resolveLink(idx, raw)
		if !ok {
			continue
		}
		out.Edges = append(out.Edges, edge)
	}

	return out
}

// resolveCollections extracts the node entries, in a stable order, and
// the raw link sequence from the payload.
func (n *Normalizer) resolveCollections(payload any) ([]nodeEntry, []any) {
	var rawNodes any
	var links []any

	switch p := payload.(type) {
	case map[string]any:
		if v, ok := p["nodes"]; ok && v != nil {
			rawNodes = v
		} else if v, ok := p["workflow"]; ok && v != nil {
			rawNodes = v
		} else {
			// API-style payloads are the bare node mapping.
			rawNodes = p
		}
		if v, ok := p["links"].([]any); ok {
			links = v
		}
	case []any:
		rawNodes = p
	default:
		return nil, nil
	}

	switch nodes := rawNodes.(type) {
	case []any:
		entries := make([]nodeEntry, 0, len(nodes))
		for _, raw := range nodes {
			record, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			entries = append(entries, n.entryFor(NodeRecord(record), ""))
		}
		return entries, links
	case map[string]any:
		keys := make([]string, 0, len(nodes))
		for key := range nodes {
			// structural keys of graph-style payloads are not nodes
			if key == "links" || key == "nodes" || key == "workflow" {
				continue
			}
			keys = append(keys, key)
		}
		sortNodeIDs(keys)

		entries := make([]nodeEntry, 0, len(keys))
		for _, key := range keys {
			record, ok := nodes[key].(map[string]any)
			if !ok {
				continue
			}
			entries = append(entries, n.entryFor(NodeRecord(record), key))
		}
		return entries, links
	default:
		return nil, links
	}
}

// entryFor resolves the identifier: the record's own field, else the
// mapping key, else a synthesized token.
func (n *Normalizer) entryFor(record NodeRecord, fallbackKey string) nodeEntry {
	if id, ok := record.Identifier(); ok {
		return nodeEntry{id: id, record: record}
	}
	if fallbackKey != "" {
		return nodeEntry{id: fallbackKey, record: record}
	}
	return nodeEntry{id: n.genID(), record: record}
}

// resolveLink converts one raw link tuple
// [linkId, source, sourcePort, target, targetPort, ...] into an edge.
// Tuples without a source or target node are dropped.
func resolveLink(index int, raw any) (VisualEdge, bool) {
	tuple, ok := raw.([]any)
	if !ok || len(tuple) < 2 {
		return VisualEdge{}, false
	}

	at := func(i int) any {
		if i < len(tuple) {
			return tuple[i]
		}
		return nil
	}

	src := at(1)
	dst := at(3)
	if src == nil || dst == nil {
		return VisualEdge{}, false
	}

	srcID := Stringify(src)
	dstID := Stringify(dst)

	edge := VisualEdge{
		ID:         fmt.Sprintf("edge-%d-%s-%s", index, srcID, dstID),
		SourceID:   srcID,
		TargetID:   dstID,
		SourcePort: portOrDefault(at(2)),
		TargetPort: portOrDefault(at(4)),
	}
	return edge, true
}

func portOrDefault(raw any) string {
	if raw == nil {
		return "0"
	}
	if s := Stringify(raw); s != "" {
		return s
	}
	return "0"
}

// FallbackPosition derives the deterministic grid slot for a node with
// no explicit coordinates. The 32-bit rolling hash keys a bounded 6x6
// tile grid so fallback nodes separate instead of stacking at the
// origin, and the same identifier always lands on the same tile.
func FallbackPosition(id string) Position {
	var h int32
	for _, c := range id {
		h = 31*h + int32(c)
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}

	col := v % 6
	row := (v / 6) % 6
	return Position{
		X: float64(col) * 260,
		Y: float64(row) * 180,
	}
}

// sortNodeIDs orders mapping keys numerically when possible, string-wise
// otherwise, with numeric ids first. Mapping iteration order is not
// stable in Go, so this keeps repeated passes byte-identical.
func sortNodeIDs(ids []string) {
	numeric := func(s string) (int64, bool) {
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	sort.SliceStable(ids, func(i, j int) bool {
		ni, iNum := numeric(ids[i])
		nj, jNum := numeric(ids[j])
		switch {
		case iNum && jNum:
			return ni < nj
		case iNum:
			return true
		case jNum:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
