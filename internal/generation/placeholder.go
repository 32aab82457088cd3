package generation

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"

	"github.com/and161185/slotkeeper/internal/model"
)

// Placeholder renders a flat PNG whose color is derived from the prompt.
// Used when no backend key is configured so the server runs offline.
type Placeholder struct {
	Width int // width of a 1:1 image
}

// NewPlaceholder returns an offline generator.
func NewPlaceholder() *Placeholder { return &Placeholder{Width: 512} }

// Generate implements Generator.
func (p *Placeholder) Generate(ctx context.Context, prompt, aspectRatio string, _ []model.ReferenceImage) (model.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return model.Artifact{}, err
	}
	w, h := p.Width, p.Width
	if num, den, ok := strings.Cut(aspectRatio, ":"); ok {
		n, err1 := strconv.Atoi(num)
		d, err2 := strconv.Atoi(den)
		if err1 == nil && err2 == nil && n > 0 && d > 0 {
			h = w * d / n
		}
	}

	f := fnv.New32a()
	_, _ = f.Write([]byte(prompt))
	sum := f.Sum32()
	c := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return model.Artifact{}, err
	}
	return model.Artifact{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}
