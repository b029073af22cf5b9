package options

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"

	"github.com/leeforge/thumbforge/errors"
)

// json is configured to sort map keys, which the canonical encoding
// relies on for byte-for-byte stability.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultQuality is the encoding quality used when none is given.
// The default is excluded from the canonical encoding so that an
// unspecified quality and an explicit 80 hash identically.
const DefaultQuality = 80

// Options is the parsed, immutable form of a processing-options bag.
// Zero values mean "not set": a zero Width or Ratio leaves the target
// size unresolved, a nil Crop or Window disables that behaviour.
type Options struct {
	Quality  int
	Crop     *[2]float64
	Contain  bool
	Window   *[4]float64
	Width    int
	Ratio    float64
	Mimetype string
}

// slotParser parses one raw slot value into o. The full bag is passed
// through so slots can consult meta options (width_multiplier).
type slotParser func(o *Options, value any, bag map[string]any) error

// slot table; iterated in this fixed order so parsing is deterministic.
var slots = []struct {
	key   string
	parse slotParser
}{
	{"contain", parseContain},
	{"crop", parseCrop},
	{"mimetype", parseMimetype},
	{"quality", parseQuality},
	{"ratio", parseRatio},
	{"width", parseWidth},
	{"window", parseWindow},
}

// Parse constructs Options from a raw key/value bag. Unknown keys are
// ignored; strict rejection is a caller concern. A slot holding an
// empty value (nil, false, zero, "") resolves to its default rather
// than an error.
func Parse(bag map[string]any) (*Options, error) {
	o := &Options{Quality: DefaultQuality}
	for _, slot := range slots {
		raw, ok := bag[slot.key]
		if !ok || isEmpty(raw) {
			continue
		}
		if err := slot.parse(o, raw, bag); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// MustParse is Parse for statically known bags, panicking on error.
func MustParse(bag map[string]any) *Options {
	o, err := Parse(bag)
	if err != nil {
		panic(err)
	}
	return o
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case int:
		return t == 0
	case float64:
		return t == 0
	}
	return false
}

func parseQuality(o *Options, value any, _ map[string]any) error {
	q, err := cast.ToIntE(value)
	if err != nil {
		return errors.NewValidation("quality", value, "not an integer")
	}
	o.Quality = q
	return nil
}

func parseCrop(o *Options, value any, _ map[string]any) error {
	if b, ok := value.(bool); ok && b {
		o.Crop = &[2]float64{0.5, 0.5}
		return nil
	}
	if s, ok := value.(string); ok {
		if anchor, ok := CropAnchors[s]; ok {
			c := anchor
			o.Crop = &c
			return nil
		}
		value = splitParts(s, ",")
	}
	pair, err := toFloats(value, 2)
	if err != nil {
		return errors.NewValidation("crop", value, "expected anchor name, true or x,y fractions")
	}
	o.Crop = &[2]float64{pair[0], pair[1]}
	return nil
}

func parseWindow(o *Options, value any, _ map[string]any) error {
	if s, ok := value.(string); ok {
		value = splitParts(s, ",")
	}
	quad, err := toFloats(value, 4)
	if err != nil {
		return errors.NewValidation("window", value, "expected left,top,right,bottom fractions")
	}
	o.Window = &[4]float64{quad[0], quad[1], quad[2], quad[3]}
	return nil
}

func parseWidth(o *Options, value any, bag map[string]any) error {
	if s, ok := value.(string); ok {
		if w, ok := NamedWidths[s]; ok {
			value = w
		}
	}
	w, err := cast.ToIntE(value)
	if err != nil {
		return errors.NewValidation("width", value, "not an integer or named width")
	}
	// The density multiplier is applied exactly once, here at width
	// resolution. It is a meta option and never serialized itself.
	if raw, ok := bag["width_multiplier"]; ok && !isEmpty(raw) {
		m, err := cast.ToFloat64E(raw)
		if err != nil {
			return errors.NewValidation("width_multiplier", raw, "not a number")
		}
		w = int(float64(w) * m)
	}
	o.Width = w
	return nil
}

func parseRatio(o *Options, value any, _ map[string]any) error {
	if s, ok := value.(string); ok {
		if r, ok := NamedRatios[s]; ok {
			o.Ratio = r
			return nil
		}
		if strings.Contains(s, "/") {
			value = splitParts(s, "/")
		}
	}
	if pair, err := toFloats(value, 2); err == nil {
		if pair[1] == 0 {
			return errors.NewValidation("ratio", value, "zero denominator")
		}
		o.Ratio = pair[0] / pair[1]
		return nil
	}
	r, err := cast.ToFloat64E(value)
	if err != nil {
		return errors.NewValidation("ratio", value, "not a number, a/b or named ratio")
	}
	o.Ratio = r
	return nil
}

func parseContain(o *Options, value any, _ map[string]any) error {
	b, err := cast.ToBoolE(value)
	if err != nil {
		return errors.NewValidation("contain", value, "not a boolean")
	}
	o.Contain = b
	return nil
}

func parseMimetype(o *Options, value any, _ map[string]any) error {
	s, err := cast.ToStringE(value)
	if err != nil {
		return errors.NewValidation("mimetype", value, "not a string")
	}
	o.Mimetype = s
	return nil
}

func splitParts(s, sep string) []any {
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func toFloats(value any, arity int) ([]float64, error) {
	items, err := toSlice(value)
	if err != nil || len(items) != arity {
		return nil, errors.NewValidation("value", value, "wrong arity")
	}
	out := make([]float64, arity)
	for i, item := range items {
		f, err := cast.ToFloat64E(item)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func toSlice(value any) ([]any, error) {
	switch t := value.(type) {
	case []any:
		return t, nil
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, nil
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case [2]float64:
		return []any{t[0], t[1]}, nil
	case [4]float64:
		return []any{t[0], t[1], t[2], t[3]}, nil
	}
	return nil, errors.NewValidation("value", value, "not a sequence")
}

// Size returns the resolved target size. Both width and ratio are
// required for a concrete size.
func (o *Options) Size() (w, h int, ok bool) {
	if o.Width == 0 || o.Ratio == 0 {
		return 0, 0, false
	}
	return o.Width, int(float64(o.Width) / o.Ratio), true
}

// SourceX returns the source-space horizontal footprint of these
// options: the focal window's extracted width, or the resolved target
// width. Used by the downsample planner.
func (o *Options) SourceX(sourceW int) int {
	if o.Window != nil {
		return int(o.Window[2]*float64(sourceW)) - int(o.Window[0]*float64(sourceW))
	}
	return o.Width
}

// SourceY is the vertical counterpart of SourceX.
func (o *Options) SourceY(sourceH int) int {
	if o.Window != nil {
		return int(o.Window[3]*float64(sourceH)) - int(o.Window[1]*float64(sourceH))
	}
	if o.Width == 0 || o.Ratio == 0 {
		return 0
	}
	return int(float64(o.Width) / o.Ratio)
}

// ToMap returns the non-default slots as a plain map, the persisted
// form of the options. Parse(ToMap()) round-trips.
func (o *Options) ToMap() map[string]any {
	m := map[string]any{}
	if o.Quality != DefaultQuality {
		m["quality"] = o.Quality
	}
	if o.Crop != nil {
		m["crop"] = []float64{o.Crop[0], o.Crop[1]}
	}
	if o.Contain {
		m["contain"] = true
	}
	if o.Window != nil {
		m["window"] = []float64{o.Window[0], o.Window[1], o.Window[2], o.Window[3]}
	}
	if o.Width != 0 {
		m["width"] = o.Width
	}
	if o.Ratio != 0 {
		m["ratio"] = o.Ratio
	}
	if o.Mimetype != "" {
		m["mimetype"] = o.Mimetype
	}
	return m
}

// Canonical returns the stable textual encoding of the non-default
// slots, keys sorted lexicographically. Two Options with equal
// canonical encodings are interchangeable for identity purposes; this
// string is the hashing input for derivative identities.
func (o *Options) Canonical() string {
	s, err := json.MarshalToString(o.ToMap())
	if err != nil {
		// Only primitive types reach the encoder.
		panic(err)
	}
	return s
}

func (o *Options) String() string {
	return o.Canonical()
}
