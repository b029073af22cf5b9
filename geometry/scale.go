// Package geometry holds the pure scaling and cropping math for
// derivative images. It is deterministic, side-effect free and
// independent of any codec: callers apply the returned plan with
// whatever pixel engine they have.
package geometry

import (
	"math"

	"github.com/leeforge/thumbforge/options"
)

// CropBox is a pixel-space extraction region.
type CropBox struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// ScalePlan describes how to turn a decoded source into the target
// derivative: optionally extract PreCrop first, then resize by Scale,
// then extract Crop. OutW/OutH are the resulting dimensions.
type ScalePlan struct {
	PreCrop *CropBox
	Scale   float64
	Crop    *CropBox
	OutW    int
	OutH    int
}

// ComputeTargetBox computes the scale factor and crop box for scaling
// a sourceW x sourceH image to the options' target size.
//
// Cover (the default) scales to fill and overflow the target box;
// contain scales to fit inside it and never upscales. When a focal
// window is present and its region would still exceed the target
// after scaling, the plan pre-crops to the window and rescales
// against the sub-region instead of scaling the whole source. When
// cropping, the anchor is the window's center if a window is present,
// else the resolved focal point, and the crop box is shifted (never
// shrunk) to stay within the scaled image.
//
// ok is false when the options resolve no concrete size; the caller
// passes the source through untouched.
func ComputeTargetBox(sourceW, sourceH int, opts *options.Options) (plan ScalePlan, ok bool) {
	targetW, targetH, ok := opts.Size()
	if !ok {
		return ScalePlan{}, false
	}
	tw, th := float64(targetW), float64(targetH)
	w, h := float64(sourceW), float64(sourceH)

	scale := coverScale(tw, th, w, h, opts.Contain)
	window := opts.Window
	crop := opts.Crop
	if opts.Contain {
		// Contain fits the whole image inside the box; a crop would
		// defeat it.
		crop = nil
	}

	var anchor [2]float64
	if crop != nil {
		anchor = *crop
	}

	if window != nil {
		left := window[0] * w
		top := window[1] * h
		right := window[2] * w
		bottom := window[3] * h
		if right-left > tw && bottom-top > th {
			// The focal window alone covers the target: crop to it
			// first and rescale against the sub-region, so the full
			// source is never resized.
			plan.PreCrop = &CropBox{
				Left:   int(left),
				Top:    int(top),
				Width:  int(right - left),
				Height: int(bottom - top),
			}
			w, h = float64(plan.PreCrop.Width), float64(plan.PreCrop.Height)
			scale = coverScale(tw, th, w, h, opts.Contain)
		} else if crop != nil {
			// Anchor the crop on the window's center.
			anchor = [2]float64{
				(window[0] + window[2]) / 2,
				(window[1] + window[3]) / 2,
			}
		}
	}

	plan.Scale = scale
	scaledW := int(math.Round(w * scale))
	scaledH := int(math.Round(h * scale))

	if crop == nil {
		plan.OutW, plan.OutH = scaledW, scaledH
		return plan, true
	}

	// Cover scaling guarantees the scaled image covers the target box;
	// guard the integer rounding so the crop below is always exact.
	if scaledW < targetW {
		scaledW = targetW
	}
	if scaledH < targetH {
		scaledH = targetH
	}

	left := int(anchor[0]*float64(scaledW)) - targetW/2
	top := int(anchor[1]*float64(scaledH)) - targetH/2
	left = clampShift(left, targetW, scaledW)
	top = clampShift(top, targetH, scaledH)

	plan.Crop = &CropBox{Left: left, Top: top, Width: targetW, Height: targetH}
	plan.OutW, plan.OutH = targetW, targetH
	return plan, true
}

func coverScale(tw, th, w, h float64, contain bool) float64 {
	if contain {
		return math.Min(math.Min(tw/w, th/h), 1)
	}
	return math.Max(tw/w, th/h)
}

// clampShift moves a crop edge back inside [0, total-size] without
// shrinking the box.
func clampShift(pos, size, total int) int {
	if pos < 0 {
		return 0
	}
	if pos+size > total {
		return total - size
	}
	return pos
}
