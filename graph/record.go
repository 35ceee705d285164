package graph

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// NodeRecord is the raw, untrusted node description as decoded from a
// workflow payload. Field presence varies by producer, so every accessor
// is a pure function with an explicit fallback chain.
type NodeRecord map[string]any

// Identifier resolves the record's own identifying field. Precedence is
// `id`, `key`, `_id`. The second return is false when none is present.
func (r NodeRecord) Identifier() (string, bool) {
	for _, key := range []string{"id", "key", "_id"} {
		if raw, ok := r[key]; ok && raw != nil {
			if s := Stringify(raw); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// Label resolves the display title: `_meta.title`, then `class_type`,
// then `type`, falling back to a synthesized "Node <id>" label.
func (r NodeRecord) Label(id string) string {
	if meta, ok := r["_meta"].(map[string]any); ok {
		if raw, ok := meta["title"]; ok && raw != nil {
			if s := Stringify(raw); s != "" {
				return s
			}
		}
	}
	if s := r.Subtitle(); s != "" {
		return s
	}
	return "Node " + id
}

// Subtitle resolves the category label (`class_type` or `type`), or "".
func (r NodeRecord) Subtitle() string {
	for _, key := range []string{"class_type", "type"} {
		if raw, ok := r[key]; ok && raw != nil {
			if s := Stringify(raw); s != "" {
				return s
			}
		}
	}
	return ""
}

// ExplicitPosition reads an explicit coordinate from the record, either a
// 2-element pair or an object with x/y fields, under the `pos` or
// `position` key. Components coerce permissively; absence returns false.
func (r NodeRecord) ExplicitPosition() (Position, bool) {
	for _, key := range []string{"pos", "position"} {
		raw, ok := r[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case []any:
			if len(v) >= 2 {
				return Position{
					X: CoerceFiniteNumber(v[0], 0),
					Y: CoerceFiniteNumber(v[1], 0),
				}, true
			}
		case map[string]any:
			_, hasX := v["x"]
			_, hasY := v["y"]
			if hasX || hasY {
				return Position{
					X: CoerceFiniteNumber(v["x"], 0),
					Y: CoerceFiniteNumber(v["y"], 0),
				}, true
			}
		}
	}
	return Position{}, false
}

// InputNames returns the keys of the `inputs` mapping, sorted. Values are
// ignored; only port names are consumed.
func (r NodeRecord) InputNames() []string {
	return portNames(r["inputs"])
}

// OutputNames returns the keys of the `outputs` mapping, sorted.
func (r NodeRecord) OutputNames() []string {
	return portNames(r["outputs"])
}

func portNames(raw any) []string {
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CoerceFiniteNumber converts any type-plausible value to a finite
// float64. Non-numeric and non-finite values become def; the policy is
// deliberately permissive and never fails.
func CoerceFiniteNumber(value any, def float64) float64 {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int32:
		n = float64(v)
	case int64:
		n = float64(v)
	case uint:
		n = float64(v)
	case uint64:
		n = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return def
		}
		n = parsed
	default:
		return def
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return def
	}
	return n
}

// Stringify renders a scalar the way a permissive frontend would:
// integral floats drop the fractional suffix, nil becomes "".
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
