// Package archive converts archives and compressed streams by extracting
// each entry, dispatching it back through the converter registry and
// assembling the results into one document.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/docmark/detect"
	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

const (
	// DefaultMaxDepth is the deepest nesting level an archive may sit at.
	// The top-level input is depth 0.
	DefaultMaxDepth = 8
	// DefaultMaxEntrySize bounds the decompressed size of a single entry.
	DefaultMaxEntrySize = 256 << 20
	// DefaultMaxTotalSize bounds the decompressed bytes of a top-level
	// archive and everything nested in it.
	DefaultMaxTotalSize = 1 << 30
)

// Dispatcher converts a staged entry. *converter.Registry satisfies it.
type Dispatcher interface {
	DispatchPath(ctx context.Context, format string, store storage.Storage, path string, opts model.Options) (*model.Document, error)
}

// Engine is the archive converter. It is safe for concurrent use.
type Engine struct {
	dispatcher   Dispatcher
	detector     *detect.Detector
	maxDepth     int
	concurrency  int
	maxEntrySize int64
	maxTotalSize int64
	summary      bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth sets the deepest archive nesting level that is still
// extracted.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxDepth = n
		}
	}
}

// WithConcurrency caps the number of entries converted in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithMaxEntrySize skips entries whose decompressed size exceeds n bytes.
func WithMaxEntrySize(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxEntrySize = n
		}
	}
}

// WithMaxTotalSize caps the decompressed bytes read from one top-level
// archive, nested archives included. Entries past the cap are skipped.
func WithMaxTotalSize(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTotalSize = n
		}
	}
}

// WithSummary toggles the trailing summary page. It is off by default.
func WithSummary(on bool) Option {
	return func(e *Engine) { e.summary = on }
}

// New returns an archive converter that re-enters d for every entry.
func New(d Dispatcher, det *detect.Detector, opts ...Option) *Engine {
	if det == nil {
		det = detect.New()
	}
	e := &Engine{
		dispatcher:   d,
		detector:     det,
		maxDepth:     DefaultMaxDepth,
		concurrency:  runtime.GOMAXPROCS(0),
		maxEntrySize: DefaultMaxEntrySize,
		maxTotalSize: DefaultMaxTotalSize,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) SupportedExtensions() []string {
	return []string{
		"zip", "tar", "tgz", "tar.gz", "tar.bz2", "tbz2", "tar.xz", "txz", "tar.zst",
		"gz", "bz2", "xz", "zst", "7z",
	}
}

func (e *Engine) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	data, err := store.ReadAll(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.IOError(path, err)
	}
	if opts.Name == "" {
		opts.Name = path
	}
	return e.ConvertBytes(ctx, data, opts)
}

// entryStatus classifies the outcome of one entry.
type entryStatus int

const (
	statusConverted entryStatus = iota
	statusSkipped
	statusFailed
)

type entryResult struct {
	name   string
	size   int64
	status entryStatus
	doc    *model.Document
	err    error
	reason string
	// binary marks skipped entries that still get a placeholder page.
	binary bool
}

// ConvertBytes extracts data and converts every entry. Entry failures are
// reported inside the document; only an unreadable archive, an exceeded
// depth or cancellation fail the call.
func (e *Engine) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if opts.Depth > e.maxDepth {
		return nil, fmt.Errorf("%w: %s at depth %d (max %d)", model.ErrRecursionLimitExceeded, displayName(opts), opts.Depth, e.maxDepth)
	}
	if len(data) == 0 {
		return &model.Document{}, nil
	}

	b := budgetFrom(ctx)
	if b == nil {
		b = newBudget(e.maxTotalSize)
		ctx = withBudget(ctx, b)
	}

	start := time.Now()
	kind := archiveKind(opts.Extension, data)
	entries, err := e.extract(kind, data, opts, b)
	if err != nil {
		return nil, model.ParseError(kind, err)
	}

	store := storage.NewMemory()
	results := make([]entryResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, ent := range entries {
		results[i] = entryResult{name: ent.name, size: ent.size}
		if ent.skip != "" {
			results[i].status = statusSkipped
			results[i].reason = ent.skip
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if ent.open != nil {
				ent.data, ent.size, ent.skip = e.load(ent, b)
				if ent.skip != "" {
					results[i] = entryResult{name: ent.name, size: ent.size, status: statusSkipped, reason: ent.skip}
					return nil
				}
			}
			results[i] = e.convertEntry(gctx, store, fmt.Sprintf("%d/%s", i, ent.name), ent, opts)
			entries[i].data = nil
			// Only cancellation aborts the archive.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := e.assemble(results, opts)
	slog.Debug("archive: converted",
		"name", displayName(opts), "kind", kind, "entries", len(entries),
		"depth", opts.Depth, "elapsed", time.Since(start).Round(time.Millisecond))
	return doc, nil
}

// convertEntry stages ent under key, which is unique per archive since
// member names may repeat.
func (e *Engine) convertEntry(ctx context.Context, store *storage.Memory, key string, ent entry, opts model.Options) entryResult {
	res := entryResult{name: ent.name, size: ent.size}

	format, err := e.detector.DetectName(ent.name, ent.data)
	if err != nil {
		return binaryResult(res, len(ent.data))
	}
	if err := store.Put(key, ent.data); err != nil {
		res.status = statusFailed
		res.err = err
		return res
	}

	sub := opts
	sub.Extension = ""
	sub.URL = ""
	sub.Name = ent.name
	sub.Depth = opts.Depth + 1

	doc, err := e.dispatcher.DispatchPath(ctx, format, store, key, sub)
	store.Delete(key)
	switch {
	case err == nil:
		res.status = statusConverted
		res.doc = doc
	case errors.Is(err, model.ErrUnsupportedFormat):
		return binaryResult(res, len(ent.data))
	case ctx.Err() != nil:
		res.status = statusFailed
		res.err = ctx.Err()
	default:
		res.status = statusFailed
		res.err = err
		slog.Warn("archive: entry failed", "entry", ent.name, "format", format, "depth", sub.Depth, "error", err)
	}
	return res
}

func binaryResult(res entryResult, n int) entryResult {
	res.status = statusSkipped
	res.binary = true
	res.reason = fmt.Sprintf("[Binary data: %d bytes]", n)
	return res
}

// assemble splices entry results in archive order. A single-page entry
// contributes its blocks as one page; multi-page entries are introduced by
// a heading naming the entry.
func (e *Engine) assemble(results []entryResult, opts model.Options) *model.Document {
	doc := &model.Document{}
	var converted, skipped, failed int
	var skippedItems []string

	for _, r := range results {
		switch r.status {
		case statusConverted:
			converted++
			if r.doc == nil {
				continue
			}
			doc.Warnings = append(doc.Warnings, prefixed(r.name, r.doc.Warnings)...)
			switch len(r.doc.Pages) {
			case 0:
			case 1:
				p := r.doc.Pages[0]
				doc.Pages = append(doc.Pages, model.Page{Blocks: p.Blocks, RenderedImage: p.RenderedImage})
			default:
				for i, p := range r.doc.Pages {
					blocks := p.Blocks
					if i == 0 {
						blocks = append([]model.Block{model.Heading{Level: 2, Text: r.name}}, blocks...)
					}
					doc.Pages = append(doc.Pages, model.Page{Blocks: blocks, RenderedImage: p.RenderedImage})
				}
			}
		case statusSkipped:
			skipped++
			skippedItems = append(skippedItems, fmt.Sprintf("%s (%s): %s", r.name, humanize.Bytes(uint64(r.size)), r.reason))
			if r.binary {
				doc.Pages = append(doc.Pages, model.Page{Blocks: []model.Block{
					model.Heading{Level: 3, Text: r.name},
					model.Text{Text: r.reason},
				}})
			}
		case statusFailed:
			failed++
			doc.Pages = append(doc.Pages, model.Page{Blocks: []model.Block{
				model.Quote{Text: fmt.Sprintf("Failed to convert %s: %v", r.name, r.err)},
			}})
		}
	}

	if e.summary {
		blocks := []model.Block{
			model.Heading{Level: 2, Text: "Archive: " + displayName(opts)},
			model.List{Items: []string{
				fmt.Sprintf("Total entries: %d", len(results)),
				fmt.Sprintf("Converted: %d", converted),
				fmt.Sprintf("Skipped: %d", skipped),
				fmt.Sprintf("Failed: %d", failed),
			}},
		}
		if len(skippedItems) > 0 {
			blocks = append(blocks, model.Heading{Level: 3, Text: "Skipped Files"}, model.List{Items: skippedItems})
		}
		doc.Pages = append(doc.Pages, model.Page{Blocks: blocks})
	}

	doc.Renumber()
	doc.ReassignImageIDs()
	doc.SetMeta("entries", fmt.Sprint(len(results)))
	return doc
}

func prefixed(name string, warnings []string) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = name + ": " + w
	}
	return out
}

func displayName(opts model.Options) string {
	if opts.Name != "" {
		return opts.Name
	}
	return "archive"
}
