// Package tablemerge joins tables that a page break split in two.
package tablemerge

import (
	"slices"
	"strings"

	"github.com/brunobiangulo/docmark/model"
)

// Merge returns a copy of doc in which every table ending a page absorbs
// the matching table that starts the next page. Fragments match when they
// have the same column count and, if both carry headers, the same trimmed
// header text. A page left empty by a merge is dropped and the following
// page is compared against the same table, so a run of fragments collapses
// in one pass. Pages with a rendered image but no blocks are kept and
// skipped over. Page numbers of the remaining pages are kept. doc is not
// modified.
func Merge(doc *model.Document) *model.Document {
	if doc == nil {
		return nil
	}
	out := *doc
	pages := make([]model.Page, len(doc.Pages))
	for i, p := range doc.Pages {
		p.Blocks = slices.Clone(p.Blocks)
		pages[i] = p
	}

	for i := 0; i < len(pages)-1; {
		j := i + 1
		for j < len(pages) && len(pages[j].Blocks) == 0 && pages[j].RenderedImage != nil {
			j++
		}
		if j == len(pages) || !mergePair(&pages[i], &pages[j]) {
			i++
			continue
		}
		if next := pages[j]; len(next.Blocks) == 0 && next.RenderedImage == nil {
			pages = slices.Delete(pages, j, j+1)
		}
	}
	out.Pages = pages
	return &out
}

// mergePair moves the leading table of b into the trailing table of a.
func mergePair(a, b *model.Page) bool {
	if len(a.Blocks) == 0 || len(b.Blocks) == 0 {
		return false
	}
	last := len(a.Blocks) - 1
	head, tail, ok := trailingTable(a.Blocks[last])
	if !ok {
		return false
	}
	cont, rest, ok := leadingTable(b.Blocks[0])
	if !ok || !compatible(tail, cont) {
		return false
	}

	blocks := make([]model.Block, 0, len(a.Blocks)+1)
	blocks = append(blocks, a.Blocks[:last]...)
	blocks = append(blocks, head...)
	a.Blocks = append(blocks, join(tail, cont))

	b.Blocks = append(slices.Clone(rest), b.Blocks[1:]...)
	return true
}

func compatible(a, b model.Table) bool {
	cols := a.ColumnCount()
	if cols == 0 || cols != b.ColumnCount() {
		return false
	}
	if a.HasHeaders() && b.HasHeaders() {
		return slices.EqualFunc(a.Headers, b.Headers, func(x, y string) bool {
			return strings.TrimSpace(x) == strings.TrimSpace(y)
		})
	}
	return true
}

// join appends b's rows to a. A repeated header row is dropped; a header
// row that only the continuation has is kept as data.
func join(a, b model.Table) model.Table {
	rows := make([][]string, 0, len(a.Rows)+len(b.Rows)+1)
	rows = append(rows, a.Rows...)
	if b.HasHeaders() && !a.HasHeaders() {
		rows = append(rows, b.Headers)
	}
	rows = append(rows, b.Rows...)
	return model.Table{Headers: a.Headers, Rows: rows}
}

// trailingTable returns the table that ends blk plus the blocks that
// precede it within blk.
func trailingTable(blk model.Block) ([]model.Block, model.Table, bool) {
	switch v := blk.(type) {
	case model.Table:
		return nil, v, true
	case model.RawMarkdown:
		lines := strings.Split(strings.TrimRight(v.Markdown, "\n "), "\n")
		start := len(lines)
		for start > 0 && isRow(lines[start-1]) {
			start--
		}
		if start == len(lines) {
			return nil, model.Table{}, false
		}
		t := parseTable(lines[start:])
		return markdownBlock(lines[:start]), t, true
	}
	return nil, model.Table{}, false
}

// leadingTable returns the table that starts blk plus the blocks that
// follow it within blk.
func leadingTable(blk model.Block) (model.Table, []model.Block, bool) {
	switch v := blk.(type) {
	case model.Table:
		return v, nil, true
	case model.RawMarkdown:
		lines := strings.Split(strings.TrimLeft(v.Markdown, "\n "), "\n")
		end := 0
		for end < len(lines) && isRow(lines[end]) {
			end++
		}
		if end == 0 {
			return model.Table{}, nil, false
		}
		return parseTable(lines[:end]), markdownBlock(lines[end:]), true
	}
	return model.Table{}, nil, false
}

func markdownBlock(lines []string) []model.Block {
	md := strings.TrimSpace(strings.Join(lines, "\n"))
	if md == "" {
		return nil
	}
	return []model.Block{model.RawMarkdown{Markdown: md}}
}

func isRow(line string) bool {
	t := strings.TrimSpace(line)
	return len(t) >= 2 && t[0] == '|' && t[len(t)-1] == '|'
}

func isSeparator(line string) bool {
	t := strings.Trim(strings.TrimSpace(line), "|")
	if t == "" {
		return false
	}
	for _, r := range t {
		if !strings.ContainsRune("-:| ", r) {
			return false
		}
	}
	return strings.Contains(t, "-")
}

// parseTable reads pipe-table lines. The first row is the header when the
// second line is a delimiter row.
func parseTable(lines []string) model.Table {
	var t model.Table
	for i, l := range lines {
		if isSeparator(l) {
			if i == 1 && len(t.Rows) == 1 {
				t.Headers, t.Rows = t.Rows[0], nil
			}
			continue
		}
		t.Rows = append(t.Rows, splitRow(l))
	}
	return t
}

// splitRow splits a pipe-table row, honouring "\|" escapes.
func splitRow(line string) []string {
	t := strings.TrimSpace(line)
	t = t[1 : len(t)-1]
	var cells []string
	var b strings.Builder
	for i := 0; i < len(t); i++ {
		switch {
		case t[i] == '\\' && i+1 < len(t) && t[i+1] == '|':
			b.WriteByte('|')
			i++
		case t[i] == '|':
			cells = append(cells, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteByte(t[i])
		}
	}
	return append(cells, strings.TrimSpace(b.String()))
}
