package converter

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html/charset"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// Email converts RFC 822 messages: a header table, the body (plain text
// preferred over HTML) and a list of attachments.
type Email struct {
	renderer *HTMLRenderer
}

// NewEmail returns an email converter sharing r for HTML bodies.
func NewEmail(r *HTMLRenderer) *Email {
	if r == nil {
		r = NewHTMLRenderer()
	}
	return &Email{renderer: r}
}

func (c *Email) SupportedExtensions() []string { return []string{"eml"} }

func (c *Email) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

var headerDecoder = &mime.WordDecoder{CharsetReader: charset.NewReaderLabel}

// mailParts accumulates the leaves of a MIME tree.
type mailParts struct {
	plain       []string
	html        []string
	attachments []string
	images      []model.ExtractedImage
}

func (c *Email) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, model.ParseError("eml", err)
	}

	decode := func(s string) string {
		if out, err := headerDecoder.DecodeHeader(s); err == nil {
			return out
		}
		return s
	}

	doc := &model.Document{Title: decode(msg.Header.Get("Subject"))}
	headers := model.Table{Headers: []string{"Field", "Value"}}
	for _, key := range []string{"From", "To", "Cc", "Date", "Subject"} {
		if v := strings.TrimSpace(msg.Header.Get(key)); v != "" {
			headers.Rows = append(headers.Rows, []string{key, decode(v)})
		}
	}
	doc.SetMeta("author", decode(msg.Header.Get("From")))
	doc.SetMeta("date", msg.Header.Get("Date"))

	var parts mailParts
	if err := collectPart(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), "", msg.Body, &parts, 0); err != nil {
		return nil, model.ParseError("eml", err)
	}

	blocks := []model.Block{headers}
	switch {
	case len(parts.plain) > 0:
		blocks = append(blocks, model.Text{Text: strings.TrimSpace(strings.Join(parts.plain, "\n\n"))})
	case len(parts.html) > 0:
		md, err := c.renderer.Render(strings.Join(parts.html, "\n"), opts.URL)
		if err != nil {
			return nil, model.ParseError("eml", err)
		}
		blocks = append(blocks, model.RawMarkdown{Markdown: md})
	}
	if len(parts.attachments) > 0 {
		blocks = append(blocks, model.Heading{Level: 2, Text: "Attachments"}, model.List{Items: parts.attachments})
	}
	if opts.ExtractImages {
		for i, img := range parts.images {
			img.ID = fmt.Sprintf("image_%d", i+1)
			blocks = append(blocks, model.Image{Image: img})
		}
	}
	doc.AddPage(blocks...)
	return doc, nil
}

const maxMIMEDepth = 16

func collectPart(contentType, encoding, disposition string, body io.Reader, out *mailParts, depth int) error {
	if depth > maxMIMEDepth {
		return fmt.Errorf("MIME nesting deeper than %d", maxMIMEDepth)
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			err = collectPart(p.Header.Get("Content-Type"), p.Header.Get("Content-Transfer-Encoding"),
				p.Header.Get("Content-Disposition"), p, out, depth+1)
			if err != nil {
				return err
			}
		}
	}

	raw, err := io.ReadAll(transferDecoder(encoding, body))
	if err != nil {
		return err
	}

	dispType, dispParams, _ := mime.ParseMediaType(disposition)
	name := dispParams["filename"]
	if name == "" {
		name = params["name"]
	}
	if dispType == "attachment" || (name != "" && !strings.HasPrefix(mediaType, "text/")) {
		if name == "" {
			name = "unnamed"
		}
		out.attachments = append(out.attachments, fmt.Sprintf("%s (%s, %s)", name, mediaType, humanize.Bytes(uint64(len(raw)))))
		if strings.HasPrefix(mediaType, "image/") {
			w, h := imageSize(raw)
			out.images = append(out.images, model.ExtractedImage{Data: raw, MIMEType: mediaType, Width: w, Height: h, AltText: name})
		}
		return nil
	}

	text := string(raw)
	if cs := params["charset"]; cs != "" && !strings.EqualFold(cs, "utf-8") && !strings.EqualFold(cs, "us-ascii") {
		if r, err := charset.NewReaderLabel(cs, bytes.NewReader(raw)); err == nil {
			if b, err := io.ReadAll(r); err == nil {
				text = string(b)
			}
		}
	}
	switch mediaType {
	case "text/plain":
		out.plain = append(out.plain, text)
	case "text/html":
		out.html = append(out.html, text)
	}
	return nil
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}
