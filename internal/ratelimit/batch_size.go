package ratelimit

import "math"

// Mode names how aggressively the next batch is issued
type Mode string

const (
	ModeThrottled  Mode = "throttled"
	ModeAggressive Mode = "aggressive"
	ModeDynamic    Mode = "dynamic"
)

const (
	throttleAt      = 0.80
	aggressiveBelow = 0.50
	aggressiveSize  = 50
)

// NextBatchSize is the dynamic batch sizer:
//
//	usage >= 0.80 -> (1, throttled)
//	usage <  0.50 -> (min(remaining, 50), aggressive)
//	otherwise     -> (max(1, min(remaining, floor(limit*(1-usage)/2))), dynamic)
//
// remaining == 0 always yields size 0.
func NextBatchSize(usage float64, limit, remaining int) (int, Mode) {
	var size int
	var mode Mode

	switch {
	case usage >= throttleAt:
		size, mode = 1, ModeThrottled
	case usage < aggressiveBelow:
		size, mode = minInt(remaining, aggressiveSize), ModeAggressive
	default:
		headroom := int(math.Floor(float64(limit) * (1 - usage) / 2))
		size, mode = maxInt(1, minInt(remaining, headroom)), ModeDynamic
	}

	if remaining <= 0 {
		return 0, mode
	}
	return size, mode
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
