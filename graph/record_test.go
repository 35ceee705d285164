package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerceFiniteNumber(t *testing.T) {
	tests := []struct {
		name  string
		value any
		def   float64
		want  float64
	}{
		{"float", 12.5, 0, 12.5},
		{"int", 7, 0, 7},
		{"numeric string", " 42 ", 0, 42},
		{"garbage string", "abc", 0, 0},
		{"nil", nil, 0, 0},
		{"bool", true, 3, 3},
		{"nan", math.NaN(), 1, 1},
		{"inf", math.Inf(1), 2, 2},
		{"slice", []any{1}, 9, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoerceFiniteNumber(tt.value, tt.def))
		})
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "plain", Stringify("plain"))
	// JSON numbers decode as float64; integral values drop the fraction.
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "3.5", Stringify(3.5))
	assert.Equal(t, "true", Stringify(true))
}

func TestNodeRecord_Identifier(t *testing.T) {
	r := NodeRecord{"id": float64(12), "key": "k", "_id": "u"}
	id, ok := r.Identifier()
	assert.True(t, ok)
	assert.Equal(t, "12", id)

	r = NodeRecord{"key": "k2"}
	id, ok = r.Identifier()
	assert.True(t, ok)
	assert.Equal(t, "k2", id)

	_, ok = NodeRecord{"title": "no id here"}.Identifier()
	assert.False(t, ok)
}

func TestNodeRecord_PortNames(t *testing.T) {
	r := NodeRecord{
		"inputs":  map[string]any{"seed": float64(5), "cfg": 7.5},
		"outputs": map[string]any{"IMAGE": nil},
	}

	assert.Equal(t, []string{"cfg", "seed"}, r.InputNames())
	assert.Equal(t, []string{"IMAGE"}, r.OutputNames())
	assert.Nil(t, NodeRecord{}.InputNames())
	assert.Nil(t, NodeRecord{"inputs": "not a map"}.InputNames())
}

func TestNodeRecord_ExplicitPosition(t *testing.T) {
	pos, ok := NodeRecord{"pos": []any{float64(120), float64(340)}}.ExplicitPosition()
	assert.True(t, ok)
	assert.Equal(t, Position{X: 120, Y: 340}, pos)

	pos, ok = NodeRecord{"position": map[string]any{"x": float64(1), "y": float64(2)}}.ExplicitPosition()
	assert.True(t, ok)
	assert.Equal(t, Position{X: 1, Y: 2}, pos)

	_, ok = NodeRecord{"pos": []any{float64(1)}}.ExplicitPosition()
	assert.False(t, ok)

	_, ok = NodeRecord{}.ExplicitPosition()
	assert.False(t, ok)
}
