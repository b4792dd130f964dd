package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareUploadDownscales(t *testing.T) {
	data := pngBytes(t, 1200, 300)

	out, mimeType, err := PrepareUpload(data, "image/png", ImageOptions{MaxDimension: 600})
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.Width)
	assert.Equal(t, 150, cfg.Height)
}

func TestPrepareUploadPassThrough(t *testing.T) {
	small := pngBytes(t, 40, 20)

	out, mimeType, err := PrepareUpload(small, "IMAGE/PNG", ImageOptions{MaxDimension: 600})
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, small, out, "small images are not re-encoded")

	pdf := []byte("%PDF-1.7")
	out, mimeType, err = PrepareUpload(pdf, "application/pdf", ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mimeType)
	assert.Equal(t, pdf, out)
}

func TestPrepareUploadEnhanceReencodes(t *testing.T) {
	data := pngBytes(t, 40, 20)

	out, mimeType, err := PrepareUpload(data, "image/png", ImageOptions{Enhance: true})
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.NotEqual(t, data, out)
}

func TestPrepareUploadRejectsCorruptImage(t *testing.T) {
	_, _, err := PrepareUpload([]byte("not a png"), "image/png", ImageOptions{})
	assert.ErrorContains(t, err, "decode image")
}
