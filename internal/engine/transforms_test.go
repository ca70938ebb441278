package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
)

func quarters(values ...float64) []contracts.Period {
	start := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	out := make([]contracts.Period, len(values))
	for i, v := range values {
		out[i] = contracts.Period{Date: start.AddDate(0, -3*i, 0), Value: v}
	}
	return out
}

func TestTransforms(t *testing.T) {
	tests := []struct {
		name    string
		kind    definition.TransformKind
		params  map[string]float64
		periods []contracts.Period
		want    float64
		null    bool
		used    int
	}{
		{name: "ttm full window", kind: definition.TransformTTM, periods: quarters(10, 10, 10, 10), want: 40, used: 4},
		{name: "ttm uses only window", kind: definition.TransformTTM, periods: quarters(10, 10, 10, 10, 99), want: 40, used: 4},
		{name: "ttm scaled", kind: definition.TransformTTM, params: map[string]float64{"min_points": 1, "scale_to": 4}, periods: quarters(10, 10), want: 40, used: 2},
		{name: "ttm below min points", kind: definition.TransformTTM, params: map[string]float64{"min_points": 3}, periods: quarters(10, 10), null: true},
		{name: "ttm empty", kind: definition.TransformTTM, periods: nil, null: true},
		{name: "qoq", kind: definition.TransformQoQ, periods: quarters(12, 10), want: 0.2, used: 2},
		{name: "qoq negative base", kind: definition.TransformQoQ, periods: quarters(-5, -10), want: 0.5, used: 2},
		{name: "qoq div by zero", kind: definition.TransformQoQ, periods: quarters(12, 0), null: true},
		{name: "qoq one period", kind: definition.TransformQoQ, periods: quarters(12), null: true},
		{name: "yoy", kind: definition.TransformYoY, periods: quarters(15, 1, 1, 1, 10), want: 0.5, used: 5},
		{name: "yoy four periods", kind: definition.TransformYoY, periods: quarters(15, 1, 1, 1), null: true},
		{name: "yoy div by zero", kind: definition.TransformYoY, periods: quarters(15, 1, 1, 1, 0), null: true},
		{name: "last", kind: definition.TransformLast, periods: quarters(7, 3), want: 7, used: 1},
		{name: "last empty", kind: definition.TransformLast, null: true},
		{name: "mean window", kind: definition.TransformMean, params: map[string]float64{"window": 2}, periods: quarters(4, 6, 100), want: 5, used: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := NewTransform(tt.kind, tt.params)
			require.NoError(t, err)

			got, used := fn(tt.periods)
			if tt.null {
				assert.False(t, got.Valid)
				return
			}
			require.True(t, got.Valid)
			assert.InDelta(t, tt.want, got.Float64, 1e-9)
			assert.Equal(t, tt.used, used)
		})
	}
}

func TestResolveTransform(t *testing.T) {
	cat, err := definition.Parse([]byte(`
transforms:
  - id: ttm_strict
    kind: ttm
    params: {window: 4, min_points: 4}
`))
	require.NoError(t, err)

	strict, err := ResolveTransform(cat, "ttm_strict", nil)
	require.NoError(t, err)
	v, _ := strict(quarters(10, 10))
	assert.False(t, v.Valid)

	// aggregation params가 우선
	relaxed, err := ResolveTransform(cat, "ttm_strict", map[string]float64{"min_points": 1})
	require.NoError(t, err)
	v, _ = relaxed(quarters(10, 10))
	assert.InDelta(t, 40, v.Float64, 1e-9)

	// 정의가 없으면 내장 kind
	builtin, err := ResolveTransform(cat, "qoq", nil)
	require.NoError(t, err)
	v, _ = builtin(quarters(11, 10))
	assert.InDelta(t, 0.1, v.Float64, 1e-9)

	_, err = ResolveTransform(cat, "median", nil)
	assert.Error(t, err)

	_, err = ResolveTransform(cat, "ttm", map[string]float64{"min_points": 5})
	assert.Error(t, err)
}
