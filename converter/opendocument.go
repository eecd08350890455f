package converter

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// OpenDocument converts ODF text documents, spreadsheets (one page per
// table) and presentations (one page per slide). The kind is taken from
// the package mimetype, falling back to the extension.
type OpenDocument struct{}

func (c *OpenDocument) SupportedExtensions() []string { return []string{"odt", "ods", "odp"} }

func (c *OpenDocument) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

// odfMaxRepeat caps table:number-columns-repeated and
// table:number-rows-repeated, which spreadsheets use to pad to the sheet
// edge.
const odfMaxRepeat = 256

func (c *OpenDocument) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	pkg, err := openZipPackage(data)
	if err != nil {
		return nil, model.ParseError("odf", err)
	}
	kind := opts.Extension
	if mt, err := pkg.read("mimetype"); err == nil {
		switch strings.TrimSpace(string(mt)) {
		case "application/vnd.oasis.opendocument.text":
			kind = "odt"
		case "application/vnd.oasis.opendocument.spreadsheet":
			kind = "ods"
		case "application/vnd.oasis.opendocument.presentation":
			kind = "odp"
		}
	}
	content, err := pkg.read("content.xml")
	if err != nil {
		return nil, model.ParseError(kind, err)
	}

	doc := &model.Document{}
	odfMeta(pkg, doc)

	w := &odfWalker{dec: xml.NewDecoder(bytes.NewReader(content)), kind: kind, doc: doc}
	if err := w.run(); err != nil {
		return nil, model.ParseError(kind, err)
	}
	return doc, nil
}

func odfMeta(pkg *zipPackage, doc *model.Document) {
	data, err := pkg.read("meta.xml")
	if err != nil {
		return
	}
	var meta struct {
		Title   string `xml:"meta>title"`
		Creator string `xml:"meta>initial-creator"`
		Subject string `xml:"meta>subject"`
	}
	if xml.Unmarshal(data, &meta) == nil {
		doc.Title = strings.TrimSpace(meta.Title)
		doc.SetMeta("author", meta.Creator)
		doc.SetMeta("subject", meta.Subject)
	}
}

type odfWalker struct {
	dec    *xml.Decoder
	kind   string
	doc    *model.Document
	blocks []model.Block
}

func (w *odfWalker) run() error {
	for {
		tok, err := w.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "h":
			text, err := w.inline()
			if err != nil {
				return err
			}
			if text != "" {
				level, _ := strconv.Atoi(attr(se, "outline-level"))
				w.blocks = append(w.blocks, model.Heading{Level: max(level, 1), Text: text})
			}
		case "p":
			text, err := w.inline()
			if err != nil {
				return err
			}
			if text != "" {
				w.blocks = append(w.blocks, model.Text{Text: text})
			}
		case "list":
			items, err := w.list()
			if err != nil {
				return err
			}
			if len(items) > 0 {
				w.blocks = append(w.blocks, model.List{Items: items})
			}
		case "table":
			tbl, err := w.table()
			if err != nil {
				return err
			}
			if w.kind == "ods" {
				blocks := []model.Block{model.Heading{Level: 2, Text: attr(se, "name")}}
				if len(tbl.Rows) > 0 || len(tbl.Headers) > 0 {
					blocks = append(blocks, tbl)
				}
				w.doc.AddPage(blocks...)
				continue
			}
			if len(tbl.Headers) > 0 {
				w.blocks = append(w.blocks, tbl)
			}
		case "page":
			if w.kind == "odp" && len(w.blocks) > 0 {
				w.flush()
			}
			if name := attr(se, "name"); name != "" && w.kind == "odp" {
				w.blocks = append(w.blocks, model.Heading{Level: 2, Text: name})
			}
		case "notes":
			if err := w.dec.Skip(); err != nil {
				return err
			}
		}
	}
	if w.kind != "ods" {
		w.flush()
	}
	return nil
}

func (w *odfWalker) flush() {
	w.doc.AddPage(w.blocks...)
	w.blocks = nil
}

// inline collects the character data of the current element, honouring
// text:s, text:tab and text:line-break.
func (w *odfWalker) inline() (string, error) {
	var b strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := w.dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "s":
				n, _ := strconv.Atoi(attr(t, "c"))
				b.WriteString(strings.Repeat(" ", max(n, 1)))
			case "tab":
				b.WriteByte('\t')
			case "line-break":
				b.WriteByte('\n')
			case "note", "annotation":
				if err := w.dec.Skip(); err != nil {
					return "", err
				}
				depth--
			}
		case xml.EndElement:
			depth--
		case xml.CharData:
			b.Write(t)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// list flattens nested lists into their item paragraphs.
func (w *odfWalker) list() ([]string, error) {
	var items []string
	depth := 1
	for depth > 0 {
		tok, err := w.dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == "p" || t.Name.Local == "h" {
				text, err := w.inline()
				if err != nil {
					return nil, err
				}
				depth--
				if text != "" {
					items = append(items, text)
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return items, nil
}

func (w *odfWalker) table() (model.Table, error) {
	var (
		rows    [][]string
		row     []string
		cell    strings.Builder
		rowRep  = 1
		cellRep = 1
		depth   = 1
	)
	for depth > 0 {
		tok, err := w.dec.Token()
		if err != nil {
			return model.Table{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "table-row":
				row = nil
				rowRep = odfRepeat(attr(t, "number-rows-repeated"))
			case "table-cell", "covered-table-cell":
				cell.Reset()
				cellRep = odfRepeat(attr(t, "number-columns-repeated"))
			case "p", "h":
				text, err := w.inline()
				if err != nil {
					return model.Table{}, err
				}
				depth--
				if text != "" {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(text)
				}
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "table-cell", "covered-table-cell":
				for range cellRep {
					row = append(row, cell.String())
				}
			case "table-row":
				for range rowRep {
					rows = append(rows, row)
				}
			}
		}
	}
	tbl, ok := sheetTable(rows)
	if !ok {
		return model.Table{}, nil
	}
	return tbl, nil
}

func odfRepeat(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return min(n, odfMaxRepeat)
}
