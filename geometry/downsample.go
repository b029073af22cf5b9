package geometry

import (
	"math"

	"github.com/leeforge/thumbforge/options"
)

// MaxShrink caps the decode pre-shrink factor.
const MaxShrink = 8

// ShrinkFactor computes the largest safe integer pre-shrink factor
// for decoding a sourceW x sourceH image that has to serve every
// option set in the batch. The decoded image keeps a 3x margin over
// the largest source-space footprint so later geometry still has
// headroom; factors are powers of two up to MaxShrink. Returns 1
// (decode at full resolution) when no meaningful shrink is possible.
func ShrinkFactor(sourceW, sourceH int, optsList []*options.Options) int {
	maxX, maxY := 0, 0
	for _, opts := range optsList {
		x, y := opts.SourceX(sourceW), opts.SourceY(sourceH)
		if x == 0 || y == 0 {
			// A size-less target (format conversion, pass-through) needs
			// the source at natural size, no matter what the rest of the
			// batch could tolerate.
			return 1
		}
		if x > maxX {
			maxX = x
		}
		if y > maxY {
			maxY = y
		}
	}
	if maxX == 0 || maxY == 0 {
		return 1
	}
	xScale := float64(sourceW) / float64(maxX)
	yScale := float64(sourceH) / float64(maxY)
	minScale := math.Min(xScale, yScale) / 3
	if minScale < 2 {
		return 1
	}
	shrink := int(math.Pow(2, math.Floor(math.Log2(minScale))))
	if shrink > MaxShrink {
		shrink = MaxShrink
	}
	return shrink
}
