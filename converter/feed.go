package converter

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// Feed converts RSS 2.0, RSS 1.0 (RDF) and Atom feeds through gofeed: one
// heading per item followed by its rendered body. Other XML is emitted as
// a code block once it is known to be well formed.
type Feed struct {
	renderer *HTMLRenderer
}

// NewFeed returns a feed converter sharing r for item bodies.
func NewFeed(r *HTMLRenderer) *Feed {
	if r == nil {
		r = NewHTMLRenderer()
	}
	return &Feed{renderer: r}
}

func (c *Feed) SupportedExtensions() []string { return []string{"rss", "atom", "xml"} }

func (c *Feed) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *Feed) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}

	root, err := rootElement(text)
	if err != nil {
		return nil, model.ParseError("xml", err)
	}

	switch strings.ToLower(root) {
	case "rss", "rdf", "feed":
		// gofeed parsers keep per-parse state, so each call gets its own.
		feed, err := gofeed.NewParser().ParseString(text)
		if err != nil {
			return nil, model.ParseError(feedFormat(root), err)
		}
		return c.feedDocument(feed, opts), nil
	}

	doc := model.NewDocument("", []model.Block{model.Code{Language: "xml", Code: strings.TrimSpace(text)}})
	doc.SetMeta("root_element", root)
	return doc, nil
}

func feedFormat(root string) string {
	if strings.EqualFold(root, "feed") {
		return "atom"
	}
	return "rss"
}

func (c *Feed) feedDocument(feed *gofeed.Feed, opts model.Options) *model.Document {
	doc := &model.Document{Title: strings.TrimSpace(feed.Title)}
	doc.SetMeta("link", feed.Link)
	doc.SetMeta("feed_type", feed.FeedType)
	doc.SetMeta("feed_version", feed.FeedVersion)
	doc.SetMeta("language", feed.Language)

	var blocks []model.Block
	if d := strings.TrimSpace(feed.Description); d != "" {
		blocks = append(blocks, model.Text{Text: d})
	}
	for _, it := range feed.Items {
		body := it.Content
		if strings.TrimSpace(body) == "" {
			body = it.Description
		}
		date := it.Published
		if date == "" {
			date = it.Updated
		}
		blocks = append(blocks, c.itemBlocks(it.Title, it.Link, date, itemAuthor(it), body, opts)...)
	}
	doc.AddPage(blocks...)
	return doc
}

func itemAuthor(it *gofeed.Item) string {
	if it.Author != nil && it.Author.Name != "" {
		return it.Author.Name
	}
	for _, a := range it.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

func (c *Feed) itemBlocks(title, link, date, author, body string, opts model.Options) []model.Block {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	blocks := []model.Block{model.Heading{Level: 2, Text: title}}

	var meta []string
	if link = strings.TrimSpace(link); link != "" {
		meta = append(meta, fmt.Sprintf("[%s](%s)", link, link))
	}
	if date = strings.TrimSpace(date); date != "" {
		meta = append(meta, date)
	}
	if author = strings.TrimSpace(author); author != "" {
		meta = append(meta, author)
	}
	if len(meta) > 0 {
		blocks = append(blocks, model.Text{Text: strings.Join(meta, " · ")})
	}

	if strings.TrimSpace(body) == "" {
		return blocks
	}
	md, err := c.renderer.Render(body, opts.URL)
	if err != nil || md == "" {
		md = strings.TrimSpace(body)
	}
	return append(blocks, model.RawMarkdown{Markdown: md})
}

// rootElement returns the local name of the first element, validating the
// rest of the document along the way.
func rootElement(text string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	root := ""
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok && root == "" {
			root = se.Name.Local
		}
	}
	if root == "" {
		return "", errors.New("no root element")
	}
	return root, nil
}

func unmarshalLenient(text string, v any) error {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	return dec.Decode(v)
}
