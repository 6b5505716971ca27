package e2e

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/hyperjump/miwake/internal/imaging"
)

func TestEncodeImage_PreparesInBothFormats(t *testing.T) {
	c := color.RGBA{R: 120, G: 33, B: 201, A: 255}
	for _, ext := range []string{".png", ".jpg"} {
		ext := ext
		t.Run(ext, func(t *testing.T) {
			data, err := EncodeImage(c, ext)
			if err != nil {
				t.Fatalf("EncodeImage: %v", err)
			}
			if len(data) == 0 {
				t.Fatal("empty encoding")
			}
			_, info, err := imaging.Prepare(data)
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			if info.Width != ImageSize || info.Height != ImageSize {
				t.Errorf("decoded size = %dx%d, want %dx%d", info.Width, info.Height, ImageSize, ImageSize)
			}
		})
	}
}

func TestEncodeImage_PNGPreservesPixels(t *testing.T) {
	c := color.RGBA{R: 37, G: 145, B: 70, A: 255}
	data, err := EncodeImage(c, ".png")
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	if uint8(r>>8) != c.R || uint8(g>>8) != c.G || uint8(b>>8) != c.B {
		t.Errorf("pixel (0,0) = (%d,%d,%d), want (%d,%d,%d)", r>>8, g>>8, b>>8, c.R, c.G, c.B)
	}
}

// Two independent PNG encodings of the same pixels must preprocess to the
// same tensor. The re-encoded probe cases stand on this.
func TestEncodeImage_ReencodeYieldsSameTensor(t *testing.T) {
	c := color.RGBA{R: 9, G: 222, B: 180, A: 255}
	first, err := EncodeImage(c, ".png")
	if err != nil {
		t.Fatal(err)
	}
	second, err := EncodeImage(c, ".png")
	if err != nil {
		t.Fatal(err)
	}

	t1, _, err := imaging.Prepare(first)
	if err != nil {
		t.Fatal(err)
	}
	t2, _, err := imaging.Prepare(second)
	if err != nil {
		t.Fatal(err)
	}
	if len(t1.Data) != len(t2.Data) {
		t.Fatalf("tensor lengths differ: %d vs %d", len(t1.Data), len(t2.Data))
	}
	for i := range t1.Data {
		if t1.Data[i] != t2.Data[i] {
			t.Fatalf("tensors diverge at %d: %v vs %v", i, t1.Data[i], t2.Data[i])
		}
	}
}
