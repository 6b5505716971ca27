// Package imaging decodes untrusted image bytes and converts them into the
// fixed-size tensor the embedding model expects. Only decoded pixels flow out of
// this package; embedded metadata (EXIF and friends) never leaves it.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"math"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// InputSize is the square edge length of the model input in pixels.
const InputSize = 224

// Channel statistics of the vision model's training preprocessing. Pixel values
// are scaled to [0,1] and then standardized per channel.
var (
	channelMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	channelStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// DecodeError reports malformed or unsupported image data. It is a caller error,
// surfaced as-is and never retried.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Info describes a decoded image. Feeds catalog item metadata.
type Info struct {
	Width  int
	Height int
	Format string
}

// Tensor is a normalized model input: channel-first RGB float32 values for one
// InputSize x InputSize image. Length is always 3*InputSize*InputSize.
type Tensor struct {
	Data []float32
}

// Probe reads only the image header and returns its dimensions and format,
// without decoding pixels. Used when the embedding is already cached and the
// full decode can be skipped.
func Probe(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, &DecodeError{Reason: "decode image header", Err: err}
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return Info{}, &DecodeError{Reason: "image has zero area"}
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Decode parses raw image bytes (JPEG, PNG, or WebP) into an in-memory image.
// Returns a *DecodeError for corrupt or unsupported data.
func Decode(data []byte) (image.Image, Info, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, &DecodeError{Reason: "decode image", Err: err}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, Info{}, &DecodeError{Reason: "image has zero area"}
	}
	return img, Info{Width: b.Dx(), Height: b.Dy(), Format: format}, nil
}

// Normalize converts a decoded image into the model input tensor: scale the
// shorter side to InputSize with Catmull-Rom resampling, center-crop a square,
// then standardize each RGB channel. Pure and deterministic: the same image
// always yields the same tensor.
func Normalize(img image.Image) (*Tensor, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, &DecodeError{Reason: "image has zero area"}
	}

	var rw, rh int
	if w <= h {
		rw = InputSize
		rh = int(math.Round(float64(h) * float64(InputSize) / float64(w)))
	} else {
		rh = InputSize
		rw = int(math.Round(float64(w) * float64(InputSize) / float64(h)))
	}
	if rw < InputSize {
		rw = InputSize
	}
	if rh < InputSize {
		rh = InputSize
	}

	resized := image.NewRGBA(image.Rect(0, 0, rw, rh))
	xdraw.CatmullRom.Scale(resized, resized.Bounds(), img, b, xdraw.Src, nil)

	x0 := (rw - InputSize) / 2
	y0 := (rh - InputSize) / 2
	const plane = InputSize * InputSize
	data := make([]float32, 3*plane)
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			c := resized.RGBAAt(x0+x, y0+y)
			i := y*InputSize + x
			data[i] = (float32(c.R)/255 - channelMean[0]) / channelStd[0]
			data[plane+i] = (float32(c.G)/255 - channelMean[1]) / channelStd[1]
			data[2*plane+i] = (float32(c.B)/255 - channelMean[2]) / channelStd[2]
		}
	}
	return &Tensor{Data: data}, nil
}

// Prepare decodes and normalizes in one step. The returned Info reflects the
// original image, not the resized one.
func Prepare(data []byte) (*Tensor, Info, error) {
	img, info, err := Decode(data)
	if err != nil {
		return nil, Info{}, err
	}
	tensor, err := Normalize(img)
	if err != nil {
		return nil, Info{}, err
	}
	return tensor, info, nil
}
