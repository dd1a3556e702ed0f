package pointer

import "math"

// DefaultScrollScale maps trackpad wheel deltas onto a handful of TV scroll units.
const DefaultScrollScale = 0.005

// ScrollAccumulator turns fractional scroll input into integer steps and keeps
// the leftover fraction for the next call. It is not safe for concurrent use.
type ScrollAccumulator struct {
	scale float64
	remX  float64
	remY  float64
}

func NewScrollAccumulator(scale float64) *ScrollAccumulator {
	return &ScrollAccumulator{scale: scale}
}

// Add scales (dx, dy) into the remainders and takes out whole units.
// ok is false when both axes round to zero. NaN input counts as zero.
func (a *ScrollAccumulator) Add(dx, dy float64) (outX, outY int, ok bool) {
	a.remX = clampAxis(a.remX + clampAxis(dx)*a.scale)
	a.remY = clampAxis(a.remY + clampAxis(dy)*a.scale)

	outX = int(math.RoundToEven(a.remX))
	outY = int(math.RoundToEven(a.remY))

	a.remX -= float64(outX)
	a.remY -= float64(outY)

	return outX, outY, outX != 0 || outY != 0
}

// Remainders returns the fractions carried to the next call.
func (a *ScrollAccumulator) Remainders() (float64, float64) {
	return a.remX, a.remY
}

// Reset drops any carried fraction.
func (a *ScrollAccumulator) Reset() {
	a.remX, a.remY = 0, 0
}
