// Package imaging decodes camera frames and produces bounded JPEG renditions.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned for zero-length input.
var ErrEmptyImage = errors.New("empty image data")

// Decode decodes any supported image format (JPEG, PNG, GIF, BMP, WebP).
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes an image as JPEG with the shared quality setting.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// FitDimensions returns the size of a w x h image scaled to fit within maxSize
// on its longest side while keeping aspect ratio. Images already small enough
// keep their size.
func FitDimensions(width, height, maxSize int) (int, int) {
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return width, height
	}
	if width > height {
		return maxSize, max(1, int(float64(height)*float64(maxSize)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxSize)/float64(height))), maxSize
}

// Fit scales img to fit within maxSize. Detection inputs favour speed, so the
// cheaper bilinear kernel is used.
func Fit(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	w, h := FitDimensions(bounds.Dx(), bounds.Dy(), maxSize)
	if w == bounds.Dx() && h == bounds.Dy() {
		return img
	}
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// ResizeJPEG resizes image data to fit within maxSize (width or height) and
// returns it as JPEG. Data already within bounds is re-encoded as JPEG to
// ensure a consistent format.
func ResizeJPEG(data []byte, maxSize int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(Fit(img, maxSize))
}
