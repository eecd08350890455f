package converter

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// EPUB converts e-books with one page per spine document, in reading
// order.
type EPUB struct {
	renderer *HTMLRenderer
}

// NewEPUB returns an EPUB converter sharing r for chapter bodies.
func NewEPUB(r *HTMLRenderer) *EPUB {
	if r == nil {
		r = NewHTMLRenderer()
	}
	return &EPUB{renderer: r}
}

func (c *EPUB) SupportedExtensions() []string { return []string{"epub"} }

func (c *EPUB) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Metadata struct {
		Title     []string `xml:"title"`
		Creator   []string `xml:"creator"`
		Language  string   `xml:"language"`
		Publisher string   `xml:"publisher"`
	} `xml:"metadata"`
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef  string `xml:"idref,attr"`
		Linear string `xml:"linear,attr"`
	} `xml:"spine>itemref"`
}

func (c *EPUB) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	pkg, err := openZipPackage(data)
	if err != nil {
		return nil, model.ParseError("epub", err)
	}
	raw, err := pkg.read("META-INF/container.xml")
	if err != nil {
		return nil, model.ParseError("epub", err)
	}
	var container epubContainer
	if err := xml.Unmarshal(raw, &container); err != nil || len(container.Rootfiles) == 0 {
		return nil, model.ParseError("epub", fmt.Errorf("no rootfile in container.xml"))
	}
	opfPath := strings.TrimPrefix(container.Rootfiles[0].FullPath, "/")
	raw, err = pkg.read(opfPath)
	if err != nil {
		return nil, model.ParseError("epub", err)
	}
	var opf epubPackage
	if err := xml.Unmarshal(raw, &opf); err != nil {
		return nil, model.ParseError("epub", err)
	}

	doc := &model.Document{}
	if len(opf.Metadata.Title) > 0 {
		doc.Title = strings.TrimSpace(opf.Metadata.Title[0])
	}
	doc.SetMeta("author", strings.Join(opf.Metadata.Creator, ", "))
	doc.SetMeta("language", opf.Metadata.Language)
	doc.SetMeta("publisher", opf.Metadata.Publisher)

	hrefs := make(map[string]string, len(opf.Manifest))
	for _, item := range opf.Manifest {
		hrefs[item.ID] = item.Href
	}
	base := path.Dir(opfPath)
	if base == "." {
		base = ""
	} else {
		base += "/"
	}

	for _, ref := range opf.Spine {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		href, ok := hrefs[ref.IDRef]
		if !ok || ref.Linear == "no" {
			continue
		}
		part := resolvePart(base, strings.SplitN(href, "#", 2)[0])
		chapter, err := pkg.read(part)
		if err != nil {
			doc.Warn("epub: chapter %s unreadable: %v", part, err)
			continue
		}
		md, err := c.chapter(chapter, opts)
		if err != nil {
			return nil, model.ParseError("epub", fmt.Errorf("%s: %w", part, err))
		}
		if md == "" {
			continue
		}
		doc.AddPage(model.RawMarkdown{Markdown: md})
	}
	return doc, nil
}

func (c *EPUB) chapter(data []byte, opts model.Options) (string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	body := findElement(root, "body")
	if body == nil {
		body = root
	}
	var buf bytes.Buffer
	for ch := body.FirstChild; ch != nil; ch = ch.NextSibling {
		if err := html.Render(&buf, ch); err != nil {
			return "", err
		}
	}
	return c.renderer.Render(buf.String(), opts.URL)
}
