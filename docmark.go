// Package docmark converts documents, spreadsheets, archives and images
// into a shared document model and renders it as Markdown.
//
// The Engine detects the input format from its name and content,
// dispatches to the registered converter and post-processes the result
// (image descriptions, table merging). Archive entries re-enter the
// engine, so converters registered later are visible inside archives too.
package docmark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/docmark/archive"
	"github.com/brunobiangulo/docmark/converter"
	"github.com/brunobiangulo/docmark/detect"
	"github.com/brunobiangulo/docmark/llm"
	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/ocr"
	"github.com/brunobiangulo/docmark/pdf"
	"github.com/brunobiangulo/docmark/storage"
	"github.com/brunobiangulo/docmark/tablemerge"
)

// Document is the conversion result.
type Document = model.Document

// Engine is the main entry point. It is safe for concurrent use.
type Engine struct {
	cfg       Config
	detector  *detect.Detector
	store     storage.Storage
	describer model.VisualDescriber
	renderer  pdf.PageRenderer
	registry  atomic.Pointer[converter.Registry]
	closers   []io.Closer
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithStorage replaces the local-filesystem storage used by Convert.
func WithStorage(s storage.Storage) Option {
	return func(e *Engine) { e.store = s }
}

// WithDescriber sets the visual describer, overriding Config.Vision and
// Config.OCR.
func WithDescriber(d model.VisualDescriber) Option {
	return func(e *Engine) { e.describer = d }
}

// WithRenderer replaces the pdftoppm page renderer.
func WithRenderer(r pdf.PageRenderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// New creates an engine from cfg. Zero values in cfg take their defaults.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, detector: detect.New(cfg.detectorOptions()...)}
	for _, o := range opts {
		o(e)
	}

	if e.store == nil {
		if err := e.openStorage(); err != nil {
			return nil, err
		}
	}

	if e.describer == nil {
		d, err := e.newDescriber()
		if err != nil {
			e.Close()
			return nil, err
		}
		e.describer = d
	}
	e.describer = llm.Limit(e.describer, cfg.DescribeConcurrency)

	if e.renderer == nil {
		e.renderer = &pdf.PopplerRenderer{Path: cfg.PdftoppmPath, DPI: cfg.PDFRenderDPI}
	}

	reg := converter.NewRegistry(converter.Builtins()...).With(
		pdf.New(pdf.WithRenderer(e.renderer), pdf.WithConcurrency(cfg.PDFConcurrency)),
		archive.New(e, e.detector,
			archive.WithMaxDepth(cfg.archiveDepth()),
			archive.WithConcurrency(cfg.ArchiveConcurrency),
			archive.WithMaxEntrySize(cfg.MaxEntrySize),
			archive.WithMaxTotalSize(cfg.MaxArchiveTotalSize),
			archive.WithSummary(cfg.ArchiveSummary),
		),
	)
	e.registry.Store(reg)

	slog.Debug("docmark: engine ready",
		"formats", len(reg.Formats()), "describer", e.describer != nil,
		"vision", cfg.Vision.Provider, "ocr", cfg.OCR)
	return e, nil
}

// openStorage picks the SQLite blob store when StorageDB is set and the
// local filesystem otherwise.
func (e *Engine) openStorage() error {
	if e.cfg.StorageDB != "" {
		db, err := storage.OpenSQLite(e.cfg.StorageDB)
		if err != nil {
			return fmt.Errorf("opening storage db: %w", err)
		}
		e.closers = append(e.closers, db)
		e.store = db
		return nil
	}
	local := storage.NewLocal(e.cfg.StorageRoot)
	local.MaxSize = e.cfg.MaxFileSize
	e.store = local
	return nil
}

func (e *Engine) newDescriber() (model.VisualDescriber, error) {
	switch {
	case e.cfg.Vision.Provider != "":
		p, err := llm.NewProvider(llm.Config{
			Provider: e.cfg.Vision.Provider,
			Model:    e.cfg.Vision.Model,
			BaseURL:  e.cfg.Vision.BaseURL,
			APIKey:   e.cfg.Vision.APIKey,
			Timeout:  e.cfg.Vision.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("creating vision provider: %w", err)
		}
		var opts []llm.DescriberOption
		if e.cfg.Vision.MaxTokens > 0 {
			opts = append(opts, llm.WithMaxTokens(e.cfg.Vision.MaxTokens))
		}
		return llm.NewDescriber(p, opts...), nil
	case e.cfg.OCR:
		t, err := ocr.New(e.cfg.OCRLanguages)
		if err != nil {
			return nil, fmt.Errorf("creating ocr describer: %w", err)
		}
		e.closers = append(e.closers, t)
		return t, nil
	}
	return nil, nil
}

// Close releases the storage database and describer resources.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// RegisterConverter adds c under every extension it declares, replacing
// any converter already registered for them. Conversions in flight keep
// the registry they started with.
func (e *Engine) RegisterConverter(c converter.Converter) {
	for {
		cur := e.registry.Load()
		if e.registry.CompareAndSwap(cur, cur.With(c)) {
			return
		}
	}
}

// Formats lists the format identifiers that have a converter, sorted.
func (e *Engine) Formats() []string {
	return e.registry.Load().Formats()
}

// Detect resolves the format of data named name without converting it.
func (e *Engine) Detect(name string, data []byte) (string, error) {
	return e.detector.DetectName(name, data)
}

// DispatchPath converts a staged archive entry. It lets the archive
// converter re-enter the engine with the current registry.
func (e *Engine) DispatchPath(ctx context.Context, format string, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return e.registry.Load().DispatchPath(ctx, format, store, path, opts)
}

// ConvertOption configures a single conversion.
type ConvertOption func(*model.Options)

// WithExtension overrides the extension derived from the name.
func WithExtension(ext string) ConvertOption {
	return func(o *model.Options) { o.Extension = ext }
}

// WithURL records the source location, used to resolve relative links.
func WithURL(url string) ConvertOption {
	return func(o *model.Options) { o.URL = url }
}

// WithForceOCR sends every PDF page through render-and-describe.
func WithForceOCR(on bool) ConvertOption {
	return func(o *model.Options) { o.ForceOCR = on }
}

// WithMergeTables joins tables split across page boundaries.
func WithMergeTables(on bool) ConvertOption {
	return func(o *model.Options) { o.MergeTables = on }
}

// WithExtractImages toggles image extraction.
func WithExtractImages(on bool) ConvertOption {
	return func(o *model.Options) { o.ExtractImages = on }
}

func (e *Engine) options(name string, opts []ConvertOption) model.Options {
	o := model.Options{
		Name:          name,
		Describer:     e.describer,
		ForceOCR:      e.cfg.ForceOCR,
		ExtractImages: e.cfg.ExtractImages,
		MergeTables:   e.cfg.MergeTables,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Convert reads path from the engine's storage and converts it.
func (e *Engine) Convert(ctx context.Context, path string, opts ...ConvertOption) (*Document, error) {
	data, err := e.store.ReadAll(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.IOError(path, err)
	}
	return e.convert(ctx, data, e.options(path, opts))
}

// ConvertBytes converts data. name supplies the extension and title
// fallback and may be empty, in which case the format is sniffed.
func (e *Engine) ConvertBytes(ctx context.Context, data []byte, name string, opts ...ConvertOption) (*Document, error) {
	if int64(len(data)) > e.cfg.MaxFileSize {
		return nil, model.IOError(name, storage.ErrTooLarge)
	}
	return e.convert(ctx, data, e.options(name, opts))
}

func (e *Engine) convert(ctx context.Context, data []byte, opts model.Options) (*Document, error) {
	start := time.Now()

	ext := opts.Extension
	if ext == "" {
		ext = detect.ExtensionFromName(opts.Name)
	}
	format, err := e.detector.Detect(ext, data)
	if err != nil {
		return nil, err
	}
	opts.Extension = format

	doc, err := e.registry.Load().Dispatch(ctx, format, data, opts)
	if err != nil {
		return nil, err
	}

	if e.cfg.DescribeImages && opts.Describer != nil {
		if err := describeImages(ctx, doc, opts.Describer, e.cfg.DescribeConcurrency); err != nil {
			return nil, err
		}
	}
	if opts.MergeTables {
		doc = tablemerge.Merge(doc)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("docmark: %s produced an invalid document: %w", format, err)
	}

	slog.Info("docmark: converted",
		"name", opts.Name, "format", format, "pages", len(doc.Pages),
		"warnings", len(doc.Warnings), "elapsed", time.Since(start).Round(time.Millisecond))
	return doc, nil
}

// describeImages fills the description of every image block that lacks
// one. Failures become document warnings; only cancellation is returned.
func describeImages(ctx context.Context, doc *Document, d model.VisualDescriber, concurrency int) error {
	type target struct{ page, block int }
	var targets []target
	for i, p := range doc.Pages {
		for j, b := range p.Blocks {
			if img, ok := b.(model.Image); ok && img.Image.Description == "" && len(img.Image.Data) > 0 {
				targets = append(targets, target{i, j})
			}
		}
	}
	if len(targets) == 0 {
		return nil
	}

	warnings := make([]string, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for k, t := range targets {
		g.Go(func() error {
			img := doc.Pages[t.page].Blocks[t.block].(model.Image)
			desc, err := d.Describe(gctx, model.DescribeRequest{
				Data:     img.Image.Data,
				MIMEType: img.Image.MIMEType,
				Purpose:  model.PurposeImage,
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("docmark: image description failed", "image", img.Image.ID, "error", err)
				warnings[k] = fmt.Sprintf("image %s: %v", img.Image.ID, err)
				return nil
			}
			img.Image.Description = desc
			doc.Pages[t.page].Blocks[t.block] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, w := range warnings {
		if w != "" {
			doc.Warnings = append(doc.Warnings, w)
		}
	}
	return nil
}
