package converter

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// Image converts a standalone image into a page holding one image block.
// Descriptions are left empty; the engine fills them when a describer is
// configured.
type Image struct{}

func (c *Image) SupportedExtensions() []string {
	return []string{"png", "jpg", "jpeg", "gif", "webp", "bmp", "tif", "tiff", "svg"}
}

func (c *Image) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *Image) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	mime := sniffImageMIME(data, opts.Extension)
	img := model.ExtractedImage{
		ID:       "image_1",
		Data:     data,
		MIMEType: mime,
		AltText:  opts.BaseName(""),
	}
	if mime != "image/svg+xml" {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, model.ParseError(opts.Extension, err)
		}
		img.Width, img.Height = cfg.Width, cfg.Height
	}

	doc := model.NewDocument("", []model.Block{model.Image{Image: img}})
	doc.SetMeta("mime_type", mime)
	return doc, nil
}

// sniffImageMIME prefers the content over the declared extension.
func sniffImageMIME(data []byte, ext string) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp":
		return ct
	}
	if len(data) >= 4 && (bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*"))) {
		return "image/tiff"
	}
	if m := model.MIMEForExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}

// imageSize returns the width and height of an encoded image, or zeros
// when the format is not decodable.
func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
