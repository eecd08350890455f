// Package model defines the document representation shared by every
// converter and consumer: Document, Page, Block and ExtractedImage.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is the result of one conversion call.
type Document struct {
	Title    string            `json:"title,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Pages    []Page            `json:"pages"`

	// Warnings collects recoverable diagnostics, e.g. a failed page
	// description that fell back to extracted text.
	Warnings []string `json:"warnings,omitempty"`
}

// Page is one logical unit: a page, slide, sheet or archive entry.
type Page struct {
	Number int     `json:"number"`
	Blocks []Block `json:"blocks"`

	// RenderedImage is set when fine-grained extraction was skipped in
	// favour of a whole-page visual surrogate.
	RenderedImage *ExtractedImage `json:"rendered_image,omitempty"`
}

// ExtractedImage is an image carried by a document.
type ExtractedImage struct {
	ID       string `json:"id"`
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	// Width and Height are zero when unknown.
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	AltText     string `json:"alt_text,omitempty"`
	Description string `json:"description,omitempty"`
}

// FileName is the name the image is saved under next to the Markdown output.
func (img ExtractedImage) FileName() string {
	return img.ID + ExtensionForMIME(img.MIMEType)
}

// NewDocument returns a document with one page per block group, numbered
// from 1.
func NewDocument(title string, pages ...[]Block) *Document {
	doc := &Document{Title: title}
	for _, blocks := range pages {
		doc.AddPage(blocks...)
	}
	return doc
}

// AddPage appends a page numbered after the current last page.
func (d *Document) AddPage(blocks ...Block) *Page {
	num := 1
	if n := len(d.Pages); n > 0 {
		num = d.Pages[n-1].Number + 1
	}
	d.Pages = append(d.Pages, Page{Number: num, Blocks: blocks})
	return &d.Pages[len(d.Pages)-1]
}

// SetMeta records a metadata entry, ignoring empty values.
func (d *Document) SetMeta(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
}

// Warn appends a recoverable diagnostic.
func (d *Document) Warn(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// Renumber assigns page numbers 1..n in slice order.
func (d *Document) Renumber() {
	for i := range d.Pages {
		d.Pages[i].Number = i + 1
	}
}

// ReassignImageIDs renames block images image_1..n in document order and
// rendered surrogates page_N after their page number. Documents assembled
// from several sources call it after Renumber so IDs stay unique.
func (d *Document) ReassignImageIDs() {
	seq := 0
	for i := range d.Pages {
		p := &d.Pages[i]
		for j, b := range p.Blocks {
			if img, ok := b.(Image); ok {
				seq++
				img.Image.ID = fmt.Sprintf("image_%d", seq)
				p.Blocks[j] = img
			}
		}
		if p.RenderedImage != nil {
			r := *p.RenderedImage
			r.ID = fmt.Sprintf("page_%d", p.Number)
			p.RenderedImage = &r
		}
	}
}

// Validate checks that page numbers are unique, strictly increasing and
// start at 1.
func (d *Document) Validate() error {
	prev := 0
	for i, p := range d.Pages {
		if i == 0 && p.Number != 1 {
			return fmt.Errorf("first page numbered %d, want 1", p.Number)
		}
		if p.Number <= prev {
			return fmt.Errorf("page %d follows page %d", p.Number, prev)
		}
		prev = p.Number
	}
	return nil
}

// Images returns every image in the document in page order, including
// rendered page surrogates.
func (d *Document) Images() []ExtractedImage {
	var out []ExtractedImage
	for _, p := range d.Pages {
		for _, b := range p.Blocks {
			if img, ok := b.(Image); ok {
				out = append(out, img.Image)
			}
		}
		if p.RenderedImage != nil {
			out = append(out, *p.RenderedImage)
		}
	}
	return out
}

// PlainText joins the text content of all blocks, used for quick
// inspection and tests.
func (d *Document) PlainText() string {
	var b strings.Builder
	for _, p := range d.Pages {
		for _, blk := range p.Blocks {
			if s := blockText(blk); s != "" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(s)
			}
		}
	}
	return b.String()
}

// MarshalJSON tags each block with its kind.
func (p Page) MarshalJSON() ([]byte, error) {
	blocks := make([]any, len(p.Blocks))
	for i, b := range p.Blocks {
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		fields := map[string]json.RawMessage{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		kind, _ := json.Marshal(b.Kind())
		fields["type"] = kind
		blocks[i] = fields
	}
	return json.Marshal(struct {
		Number        int             `json:"number"`
		Blocks        []any           `json:"blocks"`
		RenderedImage *ExtractedImage `json:"rendered_image,omitempty"`
	}{p.Number, blocks, p.RenderedImage})
}

// ExtensionForMIME maps common image MIME types to a file extension.
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	case "image/svg+xml":
		return ".svg"
	case "image/emf":
		return ".emf"
	case "image/wmf":
		return ".wmf"
	default:
		return ".bin"
	}
}

// MIMEForExtension is the inverse of ExtensionForMIME for image files.
func MIMEForExtension(ext string) string {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tif", "tiff":
		return "image/tiff"
	case "svg":
		return "image/svg+xml"
	case "emf":
		return "image/emf"
	case "wmf":
		return "image/wmf"
	default:
		return ""
	}
}
