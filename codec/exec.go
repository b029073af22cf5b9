package codec

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/leeforge/thumbforge/errors"
)

// execEncoders shells out to cwebp / avifenc for the formats the
// standard library cannot encode. Commands missing from PATH leave
// the format unsupported rather than failing at startup.
type execEncoders struct {
	webp string
	avif string
}

func detectExecEncoders() *execEncoders {
	e := &execEncoders{}
	if path, err := exec.LookPath("cwebp"); err == nil {
		e.webp = path
	}
	if path, err := exec.LookPath("avifenc"); err == nil {
		e.avif = path
	}
	return e
}

func (e *execEncoders) encode(img image.Image, mimetype string, quality int) ([]byte, error) {
	var cmd string
	switch mimetype {
	case "image/webp":
		cmd = e.webp
	case "image/avif":
		cmd = e.avif
	}
	if cmd == "" {
		return nil, errors.New(errors.ErrorTypeBuild, "no encoder available for mimetype").
			WithDetail("mimetype", mimetype)
	}

	dir, err := os.MkdirTemp("", "thumbforge-enc-")
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeBuild, "temp dir for encoder failed")
	}
	defer os.RemoveAll(dir)

	// Hand the pixels over losslessly and let the external encoder do
	// the lossy compression.
	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out"+ExtensionFor(mimetype))
	f, err := os.Create(in)
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeBuild, "temp file for encoder failed")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return nil, errors.WrapWithType(err, errors.ErrorTypeBuild, "intermediate encode failed")
	}
	f.Close()

	var args []string
	switch mimetype {
	case "image/webp":
		args = []string{"-q", fmt.Sprint(quality), in, "-o", out}
	case "image/avif":
		args = []string{"-q", fmt.Sprint(quality), in, out}
	}
	if err := exec.Command(cmd, args...).Run(); err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeBuild, "external encoder failed").
			WithDetail("command", cmd)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeBuild, "encoder output unreadable")
	}
	return data, nil
}
