package options

// Named shorthand tables. These are part of the option contract: a
// caller may pass "tl" for a crop anchor, "sm" for a width or "video"
// for a ratio and get the same identity as the equivalent literal.

// CropAnchors maps named crop anchors to focal point fractions.
var CropAnchors = map[string][2]float64{
	"center": {0.5, 0.5},
	"tl":     {0, 0},
	"tr":     {1, 0},
	"bl":     {0, 1},
	"br":     {1, 1},
	"t":      {0.5, 0},
	"b":      {0.5, 1},
	"l":      {0, 0.5},
	"r":      {1, 0.5},
}

// NamedWidths maps named widths to pixel values.
var NamedWidths = map[string]int{
	"xs":         320,
	"sm":         384,
	"md":         448,
	"lg":         512,
	"screen-sm":  640,
	"screen-md":  768,
	"screen-lg":  1024,
	"screen-xl":  1280,
	"screen-2xl": 1536,
}

// NamedRatios maps named aspect ratios to width/height values.
var NamedRatios = map[string]float64{
	"square":          1,
	"video":           16.0 / 9.0,
	"video_vertical":  9.0 / 16.0,
	"golden":          1.618033988749895,
	"golden_vertical": 1 / 1.618033988749895,
}
