package converter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/niklasfasching/go-org/org"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

var errOrgInclude = errors.New("org: #+INCLUDE is not supported")

// Org converts Emacs Org mode files by rendering them to HTML and
// passing that through the shared HTML renderer.
type Org struct {
	renderer *HTMLRenderer
}

// NewOrg returns an Org converter sharing r.
func NewOrg(r *HTMLRenderer) *Org {
	if r == nil {
		r = NewHTMLRenderer()
	}
	return &Org{renderer: r}
}

func (c *Org) SupportedExtensions() []string { return []string{"org"} }

func (c *Org) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *Org) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}

	conf := org.New()
	// No title heading or table of contents in the body.
	conf.DefaultSettings["OPTIONS"] = "toc:nil <:t e:t f:t pri:t todo:t tags:t title:nil ealb:nil"
	conf.Log = slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug)
	conf.ReadFile = func(string) ([]byte, error) { return nil, errOrgInclude }

	od := conf.Parse(strings.NewReader(text), opts.Name)
	if od.Error != nil {
		return nil, model.ParseError("org", od.Error)
	}
	w := org.NewHTMLWriter()
	w.TopLevelHLevel = 1
	fragment, err := od.Write(w)
	if err != nil {
		return nil, model.ParseError("org", err)
	}

	doc := &model.Document{Title: strings.TrimSpace(od.Get("TITLE"))}
	for _, key := range []string{"AUTHOR", "DATE", "EMAIL", "LANGUAGE"} {
		doc.SetMeta(strings.ToLower(key), strings.TrimSpace(od.Get(key)))
	}

	md, err := c.renderer.Render(fragment, opts.URL)
	if err != nil {
		return nil, model.ParseError("org", err)
	}
	if md == "" {
		doc.AddPage()
		return doc, nil
	}
	doc.AddPage(model.RawMarkdown{Markdown: md})
	return doc, nil
}
