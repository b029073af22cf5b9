// Package codec abstracts the pixel engine behind a single capability
// interface so the build executor never depends on a particular
// backend.
package codec

import (
	"image"
	"io"

	"github.com/leeforge/thumbforge/geometry"
)

// Codec is the decode/resize/crop/encode capability the build
// executor drives. Implementations must be safe for concurrent use.
type Codec interface {
	// Decode reads a source image, pre-shrunk by the given integer
	// factor (1 = natural size).
	Decode(r io.Reader, shrink int) (image.Image, error)

	// Dimensions reads only the header and reports the natural size.
	Dimensions(r io.Reader) (w, h int, err error)

	// Resize scales the image by the given factor.
	Resize(img image.Image, scale float64) image.Image

	// ExtractRegion returns the sub-image inside the box.
	ExtractRegion(img image.Image, box geometry.CropBox) (image.Image, error)

	// Encode produces the derivative bytes in the target mimetype.
	Encode(img image.Image, mimetype string, quality int) ([]byte, error)
}

// FormatMap maps short format names to target mimetypes.
var FormatMap = map[string]string{
	"avif": "image/avif",
	"webp": "image/webp",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// extensions maps target mimetypes to blob file extensions.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/avif": ".avif",
	"image/png":  ".png",
}

// ExtensionFor returns the blob extension for a mimetype, defaulting
// to .jpg for anything unrecognized.
func ExtensionFor(mimetype string) string {
	if ext, ok := extensions[mimetype]; ok {
		return ext
	}
	return ".jpg"
}
