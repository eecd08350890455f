// Package pdf converts PDF documents page by page. Each page is first run
// through text extraction; pages whose extraction looks unreliable are
// rendered and handed to the configured describer instead.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/docmark/converter"
	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// Placeholder is the page content used when nothing could be extracted.
const Placeholder = "[PDF content could not be extracted. The document may be scanned or protected.]"

// Converter is the PDF converter. It is safe for concurrent use.
type Converter struct {
	renderer    PageRenderer
	thresholds  Thresholds
	concurrency int
	scanImages  func(data []byte, extract bool) (pageImages, error)
}

// Option configures a Converter.
type Option func(*Converter)

// WithRenderer replaces the pdftoppm renderer.
func WithRenderer(r PageRenderer) Option {
	return func(c *Converter) { c.renderer = r }
}

func WithThresholds(t Thresholds) Option {
	return func(c *Converter) { c.thresholds = t }
}

// WithConcurrency caps concurrent render-and-describe calls per document.
func WithConcurrency(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New returns a PDF converter rendering with pdftoppm by default.
func New(opts ...Option) *Converter {
	c := &Converter{
		renderer:    &PopplerRenderer{},
		thresholds:  DefaultThresholds(),
		concurrency: 4,
		scanImages:  readImages,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Converter) SupportedExtensions() []string { return []string{"pdf"} }

func (c *Converter) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return converter.ReadAndConvert(ctx, c, store, path, opts)
}

// info is the subset of the PDF Info dictionary copied into metadata.
type info struct {
	title, author, subject, creator string
}

func (c *Converter) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	start := time.Now()

	pages, meta, err := readText(data)
	if err != nil {
		return nil, model.ParseError("pdf", err)
	}
	imgs, scanErr := c.scanImages(data, opts.ExtractImages)
	if scanErr != nil {
		slog.Warn("pdf: image scan failed", "name", opts.Name, "error", scanErr)
	}

	doc, err := c.convertPages(ctx, data, pages, imgs, opts)
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		doc.Warn("embedded images unavailable, image counts not used for page decisions: %v", scanErr)
	}
	doc.Title = meta.title
	doc.SetMeta("author", meta.author)
	doc.SetMeta("subject", meta.subject)
	doc.SetMeta("creator", meta.creator)
	doc.SetMeta("page_count", fmt.Sprint(len(pages)))

	slog.Debug("pdf: converted",
		"name", opts.Name, "pages", len(pages), "rendered", doc.Metadata["rendered_pages"],
		"elapsed", time.Since(start).Round(time.Millisecond))
	return doc, nil
}

// readText extracts positioned text runs for every page with ledongthuc/pdf.
// Panics from malformed content streams are returned as errors.
func readText(data []byte) (pages [][]run, meta info, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, meta, err
	}
	infoDict := r.Trailer().Key("Info")
	meta = info{
		title:   strings.TrimSpace(infoDict.Key("Title").Text()),
		author:  strings.TrimSpace(infoDict.Key("Author").Text()),
		subject: strings.TrimSpace(infoDict.Key("Subject").Text()),
		creator: strings.TrimSpace(infoDict.Key("Creator").Text()),
	}

	n := r.NumPage()
	pages = make([][]run, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pages[i-1] = pageRuns(p)
	}
	return pages, meta, nil
}

// pageRuns reads one page, leaving it empty when its content stream cannot
// be interpreted.
func pageRuns(p pdf.Page) (runs []run) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("pdf: unreadable page content", "error", r)
			runs = nil
		}
	}()
	for _, t := range p.Content().Text {
		runs = append(runs, run{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}
	return runs
}

// convertPages decides and builds every page. Render-and-describe calls
// fan out with a bounded errgroup; results are kept by page index.
func (c *Converter) convertPages(ctx context.Context, src []byte, pages [][]run, imgs pageImages, opts model.Options) (*model.Document, error) {
	results := make([]model.Page, len(pages))
	var render []int
	for i, runs := range pages {
		num := i + 1
		blocks := layoutBlocks(groupLines(runs))
		sig := Measure(blocks, imgs.counts[num])
		strategy, trigger := Decide(sig, c.thresholds)
		if opts.ForceOCR {
			strategy, trigger = RenderAndDescribe, TriggerForced
		}
		slog.Debug("pdf: page decision",
			"page", num, "strategy", strategy, "trigger", string(trigger),
			"words", sig.WordCount, "alnum_ratio", sig.AlphanumericRatio,
			"unstructured", sig.UnstructuredChars, "images", sig.EmbeddedImages)

		if opts.ExtractImages {
			for _, img := range imgs.images[num] {
				blocks = append(blocks, model.Image{Image: img})
			}
		}
		results[i] = model.Page{Number: num, Blocks: blocks}
		if strategy == RenderAndDescribe && opts.Describer != nil && c.renderer != nil {
			render = append(render, i)
		}
	}

	warnings := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, i := range render {
		g.Go(func() error {
			page, warning := c.describePage(gctx, src, results[i], opts.Describer)
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], warnings[i] = page, warning
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := &model.Document{Pages: results}
	rendered := 0
	for i := range doc.Pages {
		p := &doc.Pages[i]
		if p.RenderedImage != nil {
			rendered++
		}
		if len(p.Blocks) == 0 && p.RenderedImage == nil {
			p.Blocks = []model.Block{model.Text{Text: Placeholder}}
		}
		if warnings[i] != "" {
			doc.Warnings = append(doc.Warnings, warnings[i])
		}
	}
	if len(doc.Pages) == 0 {
		doc.AddPage(model.Text{Text: Placeholder})
	}
	doc.ReassignImageIDs()
	doc.SetMeta("rendered_pages", fmt.Sprint(rendered))
	return doc, nil
}

// describePage renders page and replaces its content with the describer's
// output. On failure the extracted page is returned with a warning.
func (c *Converter) describePage(ctx context.Context, src []byte, page model.Page, d model.VisualDescriber) (model.Page, string) {
	png, err := c.renderer.RenderPage(ctx, src, page.Number)
	if err != nil {
		slog.Warn("pdf: render failed, keeping extracted text", "page", page.Number, "error", err)
		return page, fmt.Sprintf("page %d: render failed, kept extracted text: %v", page.Number, err)
	}
	desc, err := d.Describe(ctx, model.DescribeRequest{Data: png, MIMEType: "image/png", Purpose: model.PurposePage})
	if err == nil && strings.TrimSpace(desc) == "" {
		err = fmt.Errorf("%w: empty description", model.ErrExternalCapability)
	}
	if err != nil {
		slog.Warn("pdf: describe failed, keeping extracted text", "page", page.Number, "error", err)
		return page, fmt.Sprintf("page %d: description failed, kept extracted text: %v", page.Number, err)
	}
	desc = strings.TrimSpace(desc)
	return model.Page{
		Number: page.Number,
		Blocks: []model.Block{model.RawMarkdown{Markdown: desc}},
		RenderedImage: &model.ExtractedImage{
			ID:          fmt.Sprintf("page_%d", page.Number),
			Data:        png,
			MIMEType:    "image/png",
			Description: desc,
		},
	}, ""
}
