// Package archive re-encodes artifacts into smaller, degraded copies that are
// kept after a student leaves a finished slot.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ContentType of every archived artifact.
const ContentType = "image/jpeg"

// Encoder downsizes to MaxDim on the longer side and writes JPEG at Quality.
type Encoder struct {
	MaxDim  int
	Quality int
}

// New returns an encoder; out-of-range values fall back to 800 px and quality 40.
func New(maxDim, quality int) *Encoder {
	if maxDim <= 0 {
		maxDim = 800
	}
	if quality < 1 || quality > 100 {
		quality = 40
	}
	return &Encoder{MaxDim: maxDim, Quality: quality}
}

// Reencode decodes PNG, JPEG, GIF or WebP and returns the degraded JPEG.
func (e *Encoder) Reencode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), e.MaxDim)

	// JPEG has no alpha; flatten onto white.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales (w,h) so the longer side is at most maxDim, keeping the ratio.
func fit(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}
