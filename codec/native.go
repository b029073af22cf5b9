package codec

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/nfnt/resize"

	// Register the decoders for the source formats we accept.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/leeforge/thumbforge/errors"
	"github.com/leeforge/thumbforge/geometry"
)

// Native is a pure-Go Codec. It avoids a CGO image library for easier
// deployment; formats the standard encoders cannot produce (webp,
// avif) are delegated to external encoder commands when available.
type Native struct {
	exec *execEncoders
}

// NewNative creates the pure-Go codec, probing PATH for the external
// webp/avif encoder commands.
func NewNative() *Native {
	return &Native{exec: detectExecEncoders()}
}

func (c *Native) Decode(r io.Reader, shrink int) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeSource, "image decode failed")
	}
	if shrink > 1 {
		// The standard decoders cannot subsample during decode, so the
		// pre-shrink is a cheap nearest-neighbour pass straight after.
		// Later per-variant resizes then work on the small image.
		b := img.Bounds()
		img = resize.Resize(uint(b.Dx()/shrink), uint(b.Dy()/shrink), img, resize.NearestNeighbor)
	}
	return img, nil
}

func (c *Native) Dimensions(r io.Reader) (int, int, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, errors.WrapWithType(err, errors.ErrorTypeSource, "image header decode failed")
	}
	return cfg.Width, cfg.Height, nil
}

func (c *Native) Resize(img image.Image, scale float64) image.Image {
	if scale == 1 {
		return img
	}
	b := img.Bounds()
	w := uint(math.Round(float64(b.Dx()) * scale))
	h := uint(math.Round(float64(b.Dy()) * scale))
	return resize.Resize(w, h, img, resize.Lanczos3)
}

func (c *Native) ExtractRegion(img image.Image, box geometry.CropBox) (image.Image, error) {
	b := img.Bounds()
	rect := image.Rect(
		b.Min.X+box.Left,
		b.Min.Y+box.Top,
		b.Min.X+box.Left+box.Width,
		b.Min.Y+box.Top+box.Height,
	)
	if !rect.In(b) {
		return nil, errors.New(errors.ErrorTypeBuild, "crop box outside image bounds").
			WithDetail("box", box)
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, errors.New(errors.ErrorTypeBuild, "image type does not support cropping")
	}
	return si.SubImage(rect), nil
}

func (c *Native) Encode(img image.Image, mimetype string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch mimetype {
	case "image/jpeg", "":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, errors.WrapWithType(err, errors.ErrorTypeBuild, "jpeg encode failed")
		}
	case "image/png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, errors.WrapWithType(err, errors.ErrorTypeBuild, "png encode failed")
		}
	case "image/webp", "image/avif":
		out, err := c.exec.encode(img, mimetype, quality)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, errors.New(errors.ErrorTypeBuild, "unsupported target mimetype").
			WithDetail("mimetype", mimetype)
	}
	return buf.Bytes(), nil
}

var _ Codec = (*Native)(nil)
