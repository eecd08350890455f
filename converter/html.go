package converter

import (
	"bytes"
	"context"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// HTMLRenderer sanitizes HTML and renders it as Markdown. It is shared by
// the HTML, EPUB and feed converters.
type HTMLRenderer struct {
	md     *htmlmd.Converter
	policy *bluemonday.Policy
}

// NewHTMLRenderer returns a renderer with the commonmark and table plugins.
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{
		md: htmlmd.NewConverter(
			htmlmd.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render converts an HTML fragment to Markdown. domain resolves relative
// links and may be empty.
func (r *HTMLRenderer) Render(fragment, domain string) (string, error) {
	clean := r.policy.Sanitize(fragment)
	var (
		md  string
		err error
	)
	if domain != "" {
		md, err = r.md.ConvertString(clean, htmlmd.WithDomain(domain))
	} else {
		md, err = r.md.ConvertString(clean)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// HTML converts web pages. The <title> becomes the document title and
// only the <body> is rendered.
type HTML struct {
	renderer *HTMLRenderer
}

// NewHTML returns an HTML converter.
func NewHTML(r *HTMLRenderer) *HTML {
	if r == nil {
		r = NewHTMLRenderer()
	}
	return &HTML{renderer: r}
}

func (c *HTML) SupportedExtensions() []string { return []string{"html", "htm", "xhtml"} }

func (c *HTML) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *HTML) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	reader, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return nil, model.EncodingError(opts.Name, err)
	}
	root, err := html.Parse(reader)
	if err != nil {
		return nil, model.ParseError("html", err)
	}

	doc := &model.Document{Title: strings.TrimSpace(nodeText(findElement(root, "title")))}
	for _, name := range []string{"description", "author", "keywords"} {
		doc.SetMeta(name, metaContent(root, name))
	}

	body := findElement(root, "body")
	if body == nil {
		body = root
	}
	var buf bytes.Buffer
	for ch := body.FirstChild; ch != nil; ch = ch.NextSibling {
		if err := html.Render(&buf, ch); err != nil {
			return nil, model.ParseError("html", err)
		}
	}

	md, err := c.renderer.Render(buf.String(), opts.URL)
	if err != nil {
		return nil, model.ParseError("html", err)
	}
	if md == "" {
		doc.AddPage()
		return doc, nil
	}
	doc.AddPage(model.RawMarkdown{Markdown: md})
	return doc, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if found := findElement(ch, tag); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return b.String()
}

func metaContent(root *html.Node, name string) string {
	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			var key, content string
			for _, a := range n.Attr {
				switch strings.ToLower(a.Key) {
				case "name", "property":
					key = strings.ToLower(a.Val)
				case "content":
					content = a.Val
				}
			}
			if key == name {
				found = content
				return
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
	return found
}
