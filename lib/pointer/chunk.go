// Package pointer holds the pure pieces of pointer translation: splitting
// deltas into wire-sized steps, accumulating fractional scroll input, and
// encoding commands for the TV pointer socket.
package pointer

import "math"

const (
	// DefaultMaxStep keeps each packet inside the range where the TV moves
	// the cursor linearly.
	DefaultMaxStep = 40
	// DefaultMaxChunks caps how many packets a single delta may fan out to.
	DefaultMaxChunks = 64
	// MaxDelta bounds each axis before it is converted to an int.
	MaxDelta = 1 << 20
)

// Delta is one integer pointer step.
type Delta struct {
	DX int
	DY int
}

// Chunker splits pointer deltas into packets no larger than MaxStep per axis.
type Chunker struct {
	MaxStep   int
	MaxChunks int
}

// DefaultChunker returns the chunker tuned for webOS pointer sockets.
func DefaultChunker() Chunker {
	return Chunker{MaxStep: DefaultMaxStep, MaxChunks: DefaultMaxChunks}
}

// Chunk rounds (dx, dy) and returns steps that sum exactly to the rounded delta.
// A zero delta yields a single zero step.
func (c Chunker) Chunk(dx, dy float64) []Delta {
	tx := int(math.RoundToEven(clampAxis(dx)))
	ty := int(math.RoundToEven(clampAxis(dy)))
	maxAxis := max(abs(tx), abs(ty))
	if maxAxis == 0 {
		return []Delta{{}}
	}

	maxStep := c.MaxStep
	if maxStep <= 0 {
		maxStep = DefaultMaxStep
	}
	maxChunks := c.MaxChunks
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}

	steps := int(math.Ceil(float64(maxAxis) / float64(maxStep)))
	steps = min(max(steps, 1), maxChunks)
	if steps == 1 {
		return []Delta{{DX: tx, DY: ty}}
	}

	chunks := make([]Delta, 0, steps)
	prevX, prevY := 0, 0
	for i := 1; i <= steps; i++ {
		nextX := int(math.RoundToEven(float64(tx) * float64(i) / float64(steps)))
		nextY := int(math.RoundToEven(float64(ty) * float64(i) / float64(steps)))
		d := Delta{DX: nextX - prevX, DY: nextY - prevY}
		if d.DX != 0 || d.DY != 0 {
			chunks = append(chunks, d)
		}
		prevX, prevY = nextX, nextY
	}
	if len(chunks) == 0 {
		return []Delta{{}}
	}
	return chunks
}

// clampAxis maps NaN to zero and limits v to [-MaxDelta, MaxDelta].
func clampAxis(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-MaxDelta, math.Min(MaxDelta, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
