package archive

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 0x80})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestReencode_DownscalesToJPEG(t *testing.T) {
	e := New(800, 40)
	out, err := e.Reencode(pngOf(t, 1600, 900))
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 800, cfg.Width)
	require.Equal(t, 450, cfg.Height)
}

func TestReencode_PortraitAndSmall(t *testing.T) {
	e := New(100, 40)

	out, err := e.Reencode(pngOf(t, 50, 200))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 25, cfg.Width)
	require.Equal(t, 100, cfg.Height)

	out, err = e.Reencode(pngOf(t, 60, 40))
	require.NoError(t, err)
	cfg, err = jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 60, cfg.Width)
	require.Equal(t, 40, cfg.Height)
}

func TestReencode_Rejects(t *testing.T) {
	e := New(0, 0)
	require.Equal(t, 800, e.MaxDim)
	require.Equal(t, 40, e.Quality)

	_, err := e.Reencode(nil)
	require.Error(t, err)
	_, err = e.Reencode([]byte("not an image"))
	require.Error(t, err)
}

func TestFit(t *testing.T) {
	w, h := fit(5000, 1, 800)
	require.Equal(t, 800, w)
	require.Equal(t, 1, h)
}
