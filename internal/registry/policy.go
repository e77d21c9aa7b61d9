package registry

import (
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Step returns the signed score change for one completed vault: the return
// in percent of volume, rounded, at least one point in the direction of
// performance and at most maxStep points either way. A flat result moves
// nothing.
func Step(performance, volume decimal.Decimal, maxStep uint64) int64 {
	if performance.IsZero() {
		return 0
	}
	if maxStep > math.MaxInt64 {
		maxStep = math.MaxInt64
	}
	limit := decimal.NewFromInt(int64(maxStep))

	var raw decimal.Decimal
	if volume.IsPositive() {
		raw = performance.Mul(hundred).Div(volume).Round(0)
	} else {
		raw = limit
	}
	raw = raw.Abs()
	if raw.LessThan(decimal.NewFromInt(1)) {
		raw = decimal.NewFromInt(1)
	}
	if raw.GreaterThan(limit) {
		raw = limit
	}

	step := raw.IntPart()
	if performance.IsNegative() {
		step = -step
	}
	return step
}

// ApplyStep moves score by step, flooring at zero and saturating at the
// top of the range.
func ApplyStep(score uint64, step int64) uint64 {
	if step >= 0 {
		if uint64(step) > math.MaxUint64-score {
			return math.MaxUint64
		}
		return score + uint64(step)
	}
	down := uint64(-step)
	if down >= score {
		return 0
	}
	return score - down
}
