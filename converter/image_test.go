package converter

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/docmark/model"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageDimensionsAndAltText(t *testing.T) {
	data := pngBytes(t, 40, 24)
	doc, err := (&Image{}).ConvertBytes(context.Background(), data, model.Options{Name: "scans/receipt.png", Extension: "png"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", doc.Metadata["mime_type"])

	imgs := doc.Images()
	require.Len(t, imgs, 1)
	assert.Equal(t, 40, imgs[0].Width)
	assert.Equal(t, 24, imgs[0].Height)
	assert.Equal(t, "receipt", imgs[0].AltText)
	assert.Equal(t, data, imgs[0].Data)
}

func TestImageContentOverridesExtension(t *testing.T) {
	doc, err := (&Image{}).ConvertBytes(context.Background(), pngBytes(t, 2, 2), model.Options{Name: "photo.jpg", Extension: "jpg"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", doc.Metadata["mime_type"])
}

func TestImageCorruptData(t *testing.T) {
	data := pngBytes(t, 8, 8)[:20]
	_, err := (&Image{}).ConvertBytes(context.Background(), data, model.Options{Extension: "png"})
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestImageSVGSkipsDecoding(t *testing.T) {
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"/>`)
	doc, err := (&Image{}).ConvertBytes(context.Background(), svg, model.Options{Name: "logo.svg", Extension: "svg"})
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", doc.Metadata["mime_type"])
	imgs := doc.Images()
	require.Len(t, imgs, 1)
	assert.Zero(t, imgs[0].Width)
}

func TestImageSize(t *testing.T) {
	w, h := imageSize(pngBytes(t, 5, 7))
	assert.Equal(t, 5, w)
	assert.Equal(t, 7, h)

	w, h = imageSize([]byte("nope"))
	assert.Zero(t, w)
	assert.Zero(t, h)
}
