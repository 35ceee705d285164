package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePayload(t *testing.T, raw string) any {
	t.Helper()
	var payload any
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func TestNormalize_EmptyInputs(t *testing.T) {
	cases := map[string]string{
		"empty mapping":    `{"nodes": {}}`,
		"empty sequence":   `{"nodes": []}`,
		"empty top level":  `{}`,
		"null nodes field": `{"nodes": null}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			result := Normalize(decodePayload(t, raw))
			assert.Empty(t, result.Nodes)
			assert.Empty(t, result.Edges)
			assert.Empty(t, result.Lookup)
			assert.Zero(t, result.Collisions)
		})
	}
}

func TestNormalize_MappingKeyBecomesID(t *testing.T) {
	payload := decodePayload(t, `{"nodes": {"x1": {"class_type": "KSampler"}}}`)

	result := Normalize(payload)

	require.Len(t, result.Nodes, 1)
	assert.Equal(t, "x1", result.Nodes[0].ID)
	assert.Equal(t, "KSampler", result.Nodes[0].Label)
	assert.Contains(t, result.Lookup, "x1")
}

func TestNormalize_RecordIDWinsOverMappingKey(t *testing.T) {
	payload := decodePayload(t, `{"nodes": {"k": {"id": "real", "type": "Load"}}}`)

	result := Normalize(payload)

	require.Len(t, result.Nodes, 1)
	assert.Equal(t, "real", result.Nodes[0].ID)
}

func TestNormalize_LabelPrecedence(t *testing.T) {
	payload := decodePayload(t, `{"nodes": [
		{"id": "a", "_meta": {"title": "Sampler One"}, "class_type": "KSampler"},
		{"id": "b", "class_type": "CLIPTextEncode", "type": "ignored"},
		{"id": "c", "type": "VAEDecode"},
		{"id": "d"}
	]}`)

	result := Normalize(payload)

	require.Len(t, result.Nodes, 4)
	assert.Equal(t, "Sampler One", result.Nodes[0].Label)
	assert.Equal(t, "CLIPTextEncode", result.Nodes[1].Label)
	assert.Equal(t, "VAEDecode", result.Nodes[2].Label)
	assert.Equal(t, "Node d", result.Nodes[3].Label)
	assert.Empty(t, result.Nodes[3].Subtitle)
}

func TestNormalize_ExplicitPositionBypassesGrid(t *testing.T) {
	payload := decodePayload(t, `{"nodes": [{"id": "p1", "pos": [120, 340]}]}`)

	result := Normalize(payload)

	require.Len(t, result.Nodes, 1)
	assert.Equal(t, Position{X: 120, Y: 340}, result.Nodes[0].Position)
}

func TestNormalize_ObjectPosition(t *testing.T) {
	payload := decodePayload(t, `{"nodes": [{"id": "p2", "position": {"x": 10, "y": "nope"}}]}`)

	result := Normalize(payload)

	require.Len(t, result.Nodes, 1)
	// Non-numeric components coerce to 0, never error.
	assert.Equal(t, Position{X: 10, Y: 0}, result.Nodes[0].Position)
}

func TestFallbackPosition_Deterministic(t *testing.T) {
	first := FallbackPosition("n1")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, FallbackPosition("n1"))
	}

	// Short identifiers should separate into distinct grid cells.
	assert.NotEqual(t, FallbackPosition("a"), FallbackPosition("b"))
}

func TestFallbackPosition_GridBounds(t *testing.T) {
	for _, id := range []string{"a", "b", "n1", "prompt", "42", ""} {
		pos := FallbackPosition(id)
		assert.GreaterOrEqual(t, pos.X, 0.0)
		assert.LessOrEqual(t, pos.X, 5*260.0)
		assert.GreaterOrEqual(t, pos.Y, 0.0)
		assert.LessOrEqual(t, pos.Y, 5*180.0)
		assert.Zero(t, int(pos.X)%260)
		assert.Zero(t, int(pos.Y)%180)
	}
}

func TestNormalize_Links(t *testing.T) {
	payload := decodePayload(t, `{
		"nodes": [{"id": "A"}, {"id": "B"}],
		"links": [
			[1, "A", 0, "B", 1],
			[2, null, 0, "B", 1],
			"garbage",
			[3, "A", null, "B"]
		]
	}`)

	result := Normalize(payload)

	require.Len(t, result.Edges, 2)

	first := result.Edges[0]
	assert.Equal(t, "A", first.SourceID)
	assert.Equal(t, "B", first.TargetID)
	assert.Equal(t, "0", first.SourcePort)
	assert.Equal(t, "1", first.TargetPort)

	// Missing ports default to "0".
	second := result.Edges[1]
	assert.Equal(t, "0", second.SourcePort)
	assert.Equal(t, "0", second.TargetPort)

	// Edge ids are unique even for identical endpoints.
	assert.NotEqual(t, first.ID, second.ID)
}

func TestNormalize_MalformedEntriesDropped(t *testing.T) {
	payload := decodePayload(t, `{"nodes": [null, 42, "text", {"id": "ok"}]}`)

	result := Normalize(payload)

	require.Len(t, result.Nodes, 1)
	assert.Equal(t, "ok", result.Nodes[0].ID)
}

func TestNormalize_DuplicateIDsLastWriteWins(t *testing.T) {
	payload := decodePayload(t, `{"nodes": [
		{"id": "dup", "class_type": "First"},
		{"id": "dup", "class_type": "Second"}
	]}`)

	result := Normalize(payload)

	assert.Len(t, result.Nodes, 2)
	assert.Equal(t, 1, result.Collisions)
	assert.Equal(t, "Second", result.Lookup["dup"].Subtitle())
}

func TestNormalize_SynthesizedIdentifier(t *testing.T) {
	calls := 0
	n := New(WithIDGenerator(func() string {
		calls++
		return "synth-1"
	}))

	payload := decodePayload(t, `{"nodes": [{"class_type": "Orphan"}]}`)
	result := n.Normalize(payload)

	require.Len(t, result.Nodes, 1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "synth-1", result.Nodes[0].ID)
	assert.Equal(t, FallbackPosition("synth-1"), result.Nodes[0].Position)
}

func TestNormalize_BareMappingPayload(t *testing.T) {
	// API-style payloads carry the node mapping at the top level.
	payload := decodePayload(t, `{
		"3": {"class_type": "KSampler", "inputs": {"seed": 5}},
		"10": {"class_type": "SaveImage"}
	}`)

	result := Normalize(payload)

	require.Len(t, result.Nodes, 2)
	// Numeric ids sort numerically for a stable pass order.
	assert.Equal(t, "3", result.Nodes[0].ID)
	assert.Equal(t, "10", result.Nodes[1].ID)
}

func TestNormalize_RoundTripIdentical(t *testing.T) {
	raw := `{
		"nodes": {"1": {"class_type": "KSampler"}, "2": {"class_type": "VAEDecode", "pos": [40, 80]}},
		"links": [[1, "1", 0, "2", 0]]
	}`

	first := Normalize(decodePayload(t, raw))
	second := Normalize(decodePayload(t, raw))

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, string(firstJSON), string(secondJSON))
}
