// Package batch aggregates many derivative requests against
// possibly-overlapping sources into bulk storage operations and
// shared-decode builds. It is the caller-facing surface: configure an
// Img, bind it to sources through a Batch, read back URLs and markup.
package batch

import (
	"github.com/leeforge/thumbforge/options"
)

// Intent selects which of a request's derivatives a build covers.
type Intent string

const (
	IntentNone   Intent = ""
	IntentBase   Intent = "src"
	IntentSrcSet Intent = "srcset"
	IntentAll    Intent = "all"
)

// SizeRule maps one media condition to a rendition width. Rules keep
// their declaration order; it drives the sizes attribute.
type SizeRule struct {
	// Media is a raw media query. Empty means MaxWidth is a pixel
	// breakpoint rendered as "(max-width: Npx)".
	Media    string
	MaxWidth int
	// Value is the rendition for this condition: an int or named
	// width, or a map of option overrides.
	Value any
}

// Img is an immutable derivative configuration: the slot options
// handed to the option parser plus the responsive meta options
// (format, densities, sizes). Bind it to a source via a Batch, or
// call it standalone with a one-off batch.
type Img struct {
	opts      map[string]any
	format    string
	densities []float64
	sizes     []SizeRule
	alt       string
	attrs     map[string]string
}

// imgDefaults are applied under every Img's explicit options. Contain
// is deliberately absent: it suppresses cropping, so defaulting it
// would turn every default-configured rendition into a contain-fit
// instead of the exact cover+crop size. Callers opt in per Img.
var imgDefaults = map[string]any{
	"quality": options.DefaultQuality,
	"ratio":   "video",
	"crop":    true,
}

const defaultFormat = "webp"

var defaultDensities = []float64{2}

// ImgOption configures an Img.
type ImgOption func(*Img)

// WithOptions sets slot options (width, ratio, crop, window, quality,
// contain, mimetype) merged over the defaults.
func WithOptions(opts map[string]any) ImgOption {
	return func(i *Img) {
		for k, v := range opts {
			i.opts[k] = v
		}
	}
}

// WithFormat sets the target format shorthand (webp, avif, jpeg, png).
func WithFormat(format string) ImgOption {
	return func(i *Img) { i.format = format }
}

// WithDensities sets the density multipliers for the srcset family.
func WithDensities(densities ...float64) ImgOption {
	return func(i *Img) { i.densities = append([]float64(nil), densities...) }
}

// WithSizes sets the responsive breakpoint rules.
func WithSizes(rules ...SizeRule) ImgOption {
	return func(i *Img) { i.sizes = append([]SizeRule(nil), rules...) }
}

// WithAlt sets the default alt text for renditions of this Img.
func WithAlt(alt string) ImgOption {
	return func(i *Img) { i.alt = alt }
}

// WithAttrs sets extra attributes rendered into the img tag.
func WithAttrs(attrs map[string]string) ImgOption {
	return func(i *Img) {
		if i.attrs == nil {
			i.attrs = make(map[string]string, len(attrs))
		}
		for k, v := range attrs {
			i.attrs[k] = v
		}
	}
}

// NewImg builds a configuration from the defaults plus the given
// options.
func NewImg(opts ...ImgOption) *Img {
	img := &Img{
		opts:      make(map[string]any, len(imgDefaults)),
		format:    defaultFormat,
		densities: append([]float64(nil), defaultDensities...),
	}
	for k, v := range imgDefaults {
		img.opts[k] = v
	}
	for _, opt := range opts {
		opt(img)
	}
	return img
}

// Extend derives a new Img with further options layered on top; the
// receiver is unchanged.
func (i *Img) Extend(opts ...ImgOption) *Img {
	clone := &Img{
		opts:      make(map[string]any, len(i.opts)),
		format:    i.format,
		densities: append([]float64(nil), i.densities...),
		sizes:     append([]SizeRule(nil), i.sizes...),
		alt:       i.alt,
	}
	for k, v := range i.opts {
		clone.opts[k] = v
	}
	if i.attrs != nil {
		clone.attrs = make(map[string]string, len(i.attrs))
		for k, v := range i.attrs {
			clone.attrs[k] = v
		}
	}
	for _, opt := range opts {
		opt(clone)
	}
	return clone
}

// bag returns a fresh copy of the slot options.
func (i *Img) bag() map[string]any {
	out := make(map[string]any, len(i.opts))
	for k, v := range i.opts {
		out[k] = v
	}
	return out
}
