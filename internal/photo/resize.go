package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Registered decoders for the formats operators actually submit.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

// targetDims caps the longest side at maxEdge while preserving aspect
// ratio; the short side is rounded to the nearest pixel.
func targetDims(width, height, maxEdge int) (int, int) {
	if width <= maxEdge && height <= maxEdge {
		return width, height
	}
	if width >= height {
		scaled := float64(height) * float64(maxEdge) / float64(width)
		return maxEdge, int(scaled + 0.5)
	}
	scaled := float64(width) * float64(maxEdge) / float64(height)
	return int(scaled + 0.5), maxEdge
}

// reencode scales img down to fit maxEdge and encodes it as JPEG at the
// fixed quality factor.
func reencode(img image.Image, maxEdge, quality int) ([]byte, error) {
	bounds := img.Bounds()
	w, h := targetDims(bounds.Dx(), bounds.Dy(), maxEdge)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("degenerate dimensions %dx%d", w, h)
	}

	out := img
	if w != bounds.Dx() || h != bounds.Dy() {
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
