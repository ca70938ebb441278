package fairvalue

import (
	"math"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"

	"github.com/wonny/metricengine/internal/contracts"
)

func TestQuartiles(t *testing.T) {
	q1, q3 := Quartiles([]float64{5, 6, 7, 8, 100})
	assert.Equal(t, 6.0, q1)
	assert.Equal(t, 8.0, q3)

	q1, q3 = Quartiles([]float64{1, 2, 3, 4})
	assert.InDelta(t, 1.75, q1, 1e-9)
	assert.InDelta(t, 3.25, q3, 1e-9)
}

func TestTrimmedMean(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		want     float64
		null     bool
		wantKept int
	}{
		{name: "drops high outlier", values: []float64{5, 6, 7, 8, 100}, want: 6.5, wantKept: 4},
		{name: "drops low outlier", values: []float64{-50, 10, 11, 12, 13}, want: 11.5, wantKept: 4},
		{name: "no outliers", values: []float64{10, 12}, want: 11, wantKept: 2},
		{name: "single value", values: []float64{10}, null: true, wantKept: 1},
		{name: "empty", values: nil, null: true},
		{name: "non finite ignored", values: []float64{math.NaN(), 4, math.Inf(1), 6}, want: 5, wantKept: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kept := TrimmedMean(tt.values, 1.5, 2)
			assert.Equal(t, tt.wantKept, kept)
			if tt.null {
				assert.False(t, got.Valid)
				return
			}
			assert.InDelta(t, tt.want, got.Float64, 1e-9)
		})
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name          string
		fair, price   null.Float
		wantPosition  contracts.Position
		wantDisparity null.Float
	}{
		{"long", null.FloatFrom(120), null.FloatFrom(100), contracts.PositionLong, null.FloatFrom(0.2)},
		{"short", null.FloatFrom(75), null.FloatFrom(100), contracts.PositionShort, null.FloatFrom(-0.25)},
		{"equal", null.FloatFrom(100), null.FloatFrom(100), contracts.PositionUndefined, null.FloatFrom(0)},
		{"fair null", null.Float{}, null.FloatFrom(100), contracts.PositionUndefined, null.Float{}},
		{"price null", null.FloatFrom(100), null.Float{}, contracts.PositionUndefined, null.Float{}},
		{"price zero", null.FloatFrom(10), null.FloatFrom(0), contracts.PositionLong, null.Float{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			position, disparity := Derive(tt.fair, tt.price)
			assert.Equal(t, tt.wantPosition, position)
			assert.Equal(t, tt.wantDisparity.Valid, disparity.Valid)
			if tt.wantDisparity.Valid {
				assert.InDelta(t, tt.wantDisparity.Float64, disparity.Float64, 1e-9)
			}
		})
	}
}
