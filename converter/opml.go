package converter

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// OPML converts outline files into a nested Markdown list. Outlines with
// a feed or page URL become links.
type OPML struct{}

func (c *OPML) SupportedExtensions() []string { return []string{"opml"} }

func (c *OPML) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

type opmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Type     string        `xml:"type,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	HTMLURL  string        `xml:"htmlUrl,attr"`
	URL      string        `xml:"url,attr"`
	Children []opmlOutline `xml:"outline"`
}

type opmlDoc struct {
	Title    string        `xml:"head>title"`
	Owner    string        `xml:"head>ownerName"`
	Outlines []opmlOutline `xml:"body>outline"`
}

func (c *OPML) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	var o opmlDoc
	if err := unmarshalLenient(text, &o); err != nil {
		return nil, model.ParseError("opml", err)
	}

	var b strings.Builder
	var walk func(items []opmlOutline, depth int)
	walk = func(items []opmlOutline, depth int) {
		for _, it := range items {
			label := it.Text
			if label == "" {
				label = it.Title
			}
			url := it.XMLURL
			if url == "" {
				url = it.HTMLURL
			}
			if url == "" {
				url = it.URL
			}
			indent := strings.Repeat("  ", depth)
			switch {
			case label != "" && url != "":
				fmt.Fprintf(&b, "%s- [%s](%s)\n", indent, label, url)
			case label != "":
				fmt.Fprintf(&b, "%s- %s\n", indent, label)
			}
			walk(it.Children, depth+1)
		}
	}
	walk(o.Outlines, 0)

	doc := &model.Document{Title: strings.TrimSpace(o.Title)}
	doc.SetMeta("author", o.Owner)
	if md := strings.TrimRight(b.String(), "\n"); md != "" {
		doc.AddPage(model.RawMarkdown{Markdown: md})
	} else {
		doc.AddPage()
	}
	return doc, nil
}
