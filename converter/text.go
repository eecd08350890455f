package converter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"

	"github.com/brunobiangulo/docmark/detect"
	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// DecodeText converts data to a UTF-8 string. Byte order marks select
// UTF-16; other non-UTF-8 input goes through charset detection. Content
// with NUL bytes that is not UTF-16 is rejected as binary.
func DecodeText(data []byte, name string) (string, error) {
	switch {
	case bytes.HasPrefix(data, utf8BOM):
		data = data[len(utf8BOM):]
	case bytes.HasPrefix(data, []byte{0xff, 0xfe}), bytes.HasPrefix(data, []byte{0xfe, 0xff}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(data)
		if err != nil {
			return "", model.EncodingError(name, err)
		}
		return string(out), nil
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", model.EncodingError(name, errors.New("binary content"))
	}
	enc, _, _ := charset.DetermineEncoding(data, "text/plain")
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", model.EncodingError(name, err)
	}
	return string(out), nil
}

// Text converts plain text into a single Text block.
type Text struct{}

func (c *Text) SupportedExtensions() []string { return []string{"txt", "text", "dat"} }

func (c *Text) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *Text) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	return model.NewDocument("", []model.Block{model.Text{Text: text}}), nil
}

// Markdown passes Markdown through unchanged.
type Markdown struct{}

func (c *Markdown) SupportedExtensions() []string { return []string{"md", "markdown", "mdx"} }

func (c *Markdown) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *Markdown) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	doc := model.NewDocument("", []model.Block{model.RawMarkdown{Markdown: text}})
	for _, line := range strings.SplitN(text, "\n", 50) {
		if strings.HasPrefix(line, "# ") {
			doc.SetMeta("title", strings.TrimPrefix(line, "# "))
			break
		}
	}
	return doc, nil
}

// Code wraps source files in a fenced block tagged with their language.
type Code struct{}

func (c *Code) SupportedExtensions() []string { return detect.CodeExtensions() }

func (c *Code) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *Code) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	lang := detect.Language(opts.Extension)
	if lang == "" {
		lang = detect.Language(detect.ExtensionFromName(opts.Name))
	}
	doc := model.NewDocument("", []model.Block{model.Code{Language: lang, Code: text}})
	doc.SetMeta("language", lang)
	return doc, nil
}
