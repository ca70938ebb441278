package engine

import (
	"fmt"
	"math"

	"github.com/guregu/null/v6"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
)

// Transform turns the periods of a base metric (most recent first) into one value.
// used is the number of periods consumed.
type Transform func(periods []contracts.Period) (value null.Float, used int)

// ResolveTransform binds a transform reference to its implementation.
// ref may name a TransformDefinition or, failing that, a built-in kind.
// override params take precedence over the definition params.
func ResolveTransform(cat *definition.Catalog, ref string, override map[string]float64) (Transform, error) {
	def, ok := cat.Transforms[ref]
	if !ok {
		kind := definition.TransformKind(ref)
		if !definition.KnownTransformKind(kind) {
			return nil, fmt.Errorf("unknown transform %q", ref)
		}
		def = definition.TransformDefinition{ID: ref, Kind: kind}
	}

	params := make(map[string]float64, len(def.Params)+len(override))
	for k, v := range def.Params {
		params[k] = v
	}
	for k, v := range override {
		params[k] = v
	}

	return NewTransform(def.Kind, params)
}

// NewTransform builds a transform of kind with params
func NewTransform(kind definition.TransformKind, params map[string]float64) (Transform, error) {
	switch kind {
	case definition.TransformTTM:
		window := intParam(params, "window", 4)
		minPoints := intParam(params, "min_points", 1)
		scaleTo := params["scale_to"]
		if scaleTo == 0 {
			scaleTo = float64(window)
		}
		if window < 1 || minPoints < 1 || minPoints > window {
			return nil, fmt.Errorf("ttm: invalid window=%d min_points=%d", window, minPoints)
		}
		return func(p []contracts.Period) (null.Float, int) {
			return trailingSum(p, window, minPoints, scaleTo)
		}, nil

	case definition.TransformQoQ:
		return func(p []contracts.Period) (null.Float, int) {
			return growth(p, 1)
		}, nil

	case definition.TransformYoY:
		lag := intParam(params, "lag", 4)
		if lag < 1 {
			return nil, fmt.Errorf("yoy: invalid lag=%d", lag)
		}
		return func(p []contracts.Period) (null.Float, int) {
			return growth(p, lag)
		}, nil

	case definition.TransformLast:
		return func(p []contracts.Period) (null.Float, int) {
			if len(p) == 0 {
				return null.Float{}, 0
			}
			return null.FloatFrom(p[0].Value), 1
		}, nil

	case definition.TransformMean:
		window := intParam(params, "window", 4)
		minPoints := intParam(params, "min_points", 1)
		if window < 1 || minPoints < 1 {
			return nil, fmt.Errorf("mean: invalid window=%d min_points=%d", window, minPoints)
		}
		return func(p []contracts.Period) (null.Float, int) {
			n := minInt(len(p), window)
			if n < minPoints || n == 0 {
				return null.Float{}, 0
			}
			sum := 0.0
			for _, period := range p[:n] {
				sum += period.Value
			}
			return finite(sum / float64(n)), n
		}, nil

	default:
		return nil, fmt.Errorf("unknown transform kind %q", kind)
	}
}

// trailingSum sums up to window periods. With fewer than window but at least
// minPoints periods the average is scaled to scaleTo periods.
func trailingSum(p []contracts.Period, window, minPoints int, scaleTo float64) (null.Float, int) {
	n := minInt(len(p), window)
	if n == 0 || n < minPoints {
		return null.Float{}, 0
	}

	sum := 0.0
	for _, period := range p[:n] {
		sum += period.Value
	}
	if n == window {
		return finite(sum), n
	}
	return finite(sum / float64(n) * scaleTo), n
}

// growth is (p[0] - p[lag]) / |p[lag]|
func growth(p []contracts.Period, lag int) (null.Float, int) {
	if len(p) <= lag {
		return null.Float{}, 0
	}
	prev := p[lag].Value
	if prev == 0 {
		return null.Float{}, 0
	}
	return finite((p[0].Value - prev) / math.Abs(prev)), lag + 1
}

func intParam(params map[string]float64, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	return int(v)
}

func finite(v float64) null.Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
