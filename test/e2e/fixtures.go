package e2e

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// ImageSize is the edge length of generated catalog images. Small enough to
// keep rebuilds fast, large enough to survive preprocessing.
const ImageSize = 64

// EncodeImage renders a solid-color square and encodes it in the given
// format. Supported extensions are .png and .jpg.
func EncodeImage(c color.RGBA, ext string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, ImageSize, ImageSize))
	for y := 0; y < ImageSize; y++ {
		for x := 0; x < ImageSize; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	switch ext {
	case ".png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case ".jpg", ".jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported fixture extension %q", ext)
	}
	return buf.Bytes(), nil
}
