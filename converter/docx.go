package converter

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// DOCX converts WordprocessingML documents into headings, paragraphs,
// lists, tables and inline images in body order. A Template instance
// handles dotx/dotm and tags its output with template metadata.
type DOCX struct {
	Template bool
}

func (c *DOCX) SupportedExtensions() []string {
	if c.Template {
		return []string{"dotx", "dotm"}
	}
	return []string{"docx", "docm"}
}

func (c *DOCX) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *DOCX) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	pkg, err := openZipPackage(data)
	if err != nil {
		return nil, model.ParseError("docx", err)
	}
	const main = "word/document.xml"
	body, err := pkg.read(main)
	if err != nil {
		return nil, model.ParseError("docx", err)
	}

	w := &docxWalker{
		pkg:       pkg,
		rels:      pkg.rels(main),
		numbering: docxNumbering(pkg),
		images:    opts.ExtractImages,
	}
	blocks, err := w.walk(body)
	if err != nil {
		return nil, model.ParseError("docx", err)
	}

	doc := &model.Document{}
	pkg.applyCoreProperties(doc)
	if doc.Title == "" {
		for _, b := range blocks {
			if h, ok := b.(model.Heading); ok && h.Level == 1 {
				doc.Title = h.Text
				break
			}
		}
	}
	if c.Template {
		doc.SetMeta("template", "true")
	}
	doc.AddPage(blocks...)
	return doc, nil
}

type docxWalker struct {
	pkg       *zipPackage
	rels      map[string]string
	numbering map[string]bool // numId -> ordered
	images    bool

	blocks   []model.Block
	list     *model.List
	listNum  string
	imageSeq int
}

// docxParagraph is what a w:p contributes once its runs are collected.
type docxParagraph struct {
	style  string
	numID  string
	text   strings.Builder
	embeds []string
}

func (w *docxWalker) walk(data []byte) ([]model.Block, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	inBody := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case se.Name.Local == "body":
			inBody = true
		case !inBody:
		case se.Name.Local == "p":
			p, err := w.paragraph(dec)
			if err != nil {
				return nil, err
			}
			w.emitParagraph(p)
		case se.Name.Local == "tbl":
			tbl, err := w.table(dec)
			if err != nil {
				return nil, err
			}
			w.flushList()
			if len(tbl.Rows) > 0 {
				w.blocks = append(w.blocks, tbl)
			}
		case se.Name.Local == "sectPr":
			if err := dec.Skip(); err != nil {
				return nil, err
			}
		}
	}
	w.flushList()
	return w.blocks, nil
}

// paragraph consumes tokens up to the matching </w:p>.
func (w *docxWalker) paragraph(dec *xml.Decoder) (*docxParagraph, error) {
	p := &docxParagraph{}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "pStyle":
				p.style = attr(t, "val")
			case "numId":
				p.numID = attr(t, "val")
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, err
				}
				depth--
				p.text.WriteString(s)
			case "tab":
				p.text.WriteByte('\t')
			case "br", "cr":
				p.text.WriteByte('\n')
			case "blip":
				if id := attr(t, "embed"); id != "" {
					p.embeds = append(p.embeds, id)
				}
			case "delText", "instrText":
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				depth--
			}
		case xml.EndElement:
			depth--
		}
	}
	return p, nil
}

func (w *docxWalker) emitParagraph(p *docxParagraph) {
	text := strings.TrimSpace(p.text.String())
	style := strings.ToLower(p.style)

	switch {
	case text == "":
	case strings.HasPrefix(style, "heading") || strings.HasPrefix(style, "title"):
		w.flushList()
		w.blocks = append(w.blocks, model.Heading{Level: headingStyleLevel(style), Text: text})
	case p.numID != "" && p.numID != "0":
		if w.list == nil || w.listNum != p.numID {
			w.flushList()
			w.list = &model.List{Ordered: w.numbering[p.numID]}
			w.listNum = p.numID
		}
		w.list.Items = append(w.list.Items, text)
	case strings.Contains(style, "quote"):
		w.flushList()
		w.blocks = append(w.blocks, model.Quote{Text: text})
	case strings.Contains(style, "code") || strings.Contains(style, "htmlpreformatted"):
		w.flushList()
		w.blocks = append(w.blocks, model.Code{Code: text})
	default:
		w.flushList()
		w.blocks = append(w.blocks, model.Text{Text: text})
	}

	if !w.images {
		return
	}
	for _, id := range p.embeds {
		target, ok := w.rels[id]
		if !ok {
			continue
		}
		img, ok := w.pkg.image(target)
		if !ok {
			slog.Debug("docx: skipping image", "rId", id, "target", target)
			continue
		}
		w.flushList()
		w.imageSeq++
		img.ID = fmt.Sprintf("image_%d", w.imageSeq)
		w.blocks = append(w.blocks, model.Image{Image: img})
	}
}

func (w *docxWalker) flushList() {
	if w.list != nil && len(w.list.Items) > 0 {
		w.blocks = append(w.blocks, *w.list)
	}
	w.list = nil
	w.listNum = ""
}

// table consumes tokens up to the matching </w:tbl>. Nested tables are
// flattened into their enclosing cell text.
func (w *docxWalker) table(dec *xml.Decoder) (model.Table, error) {
	var (
		rows  [][]string
		row   []string
		cell  strings.Builder
		depth = 1
		nest  = 0
	)
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return model.Table{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "tbl":
				nest++
			case "tr":
				if nest == 0 {
					row = nil
				}
			case "tc":
				if nest == 0 {
					cell.Reset()
				}
			case "p":
				p, err := w.paragraph(dec)
				if err != nil {
					return model.Table{}, err
				}
				depth--
				if s := strings.TrimSpace(p.text.String()); s != "" {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(s)
				}
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "tbl":
				if nest > 0 {
					nest--
				}
			case "tc":
				if nest == 0 {
					row = append(row, cell.String())
				}
			case "tr":
				if nest == 0 {
					rows = append(rows, row)
				}
			}
		}
	}
	if len(rows) == 0 {
		return model.Table{}, nil
	}
	return model.Table{Headers: rows[0], Rows: rows[1:]}, nil
}

func headingStyleLevel(style string) int {
	lower := strings.ToLower(style)
	if strings.HasPrefix(lower, "title") {
		return 1
	}
	digits := strings.TrimLeft(lower, "abcdefghijklmnopqrstuvwxyz ")
	if n, err := strconv.Atoi(digits); err == nil && n >= 1 {
		return min(n, 6)
	}
	return 1
}

type docxNumberingXML struct {
	Abstract []struct {
		ID     string `xml:"abstractNumId,attr"`
		Levels []struct {
			Ilvl   string `xml:"ilvl,attr"`
			NumFmt struct {
				Val string `xml:"val,attr"`
			} `xml:"numFmt"`
		} `xml:"lvl"`
	} `xml:"abstractNum"`
	Nums []struct {
		ID       string `xml:"numId,attr"`
		Abstract struct {
			Val string `xml:"val,attr"`
		} `xml:"abstractNumId"`
	} `xml:"num"`
}

// docxNumbering maps each numId to whether its first level is numbered
// rather than bulleted.
func docxNumbering(pkg *zipPackage) map[string]bool {
	data, err := pkg.read("word/numbering.xml")
	if err != nil {
		return nil
	}
	var n docxNumberingXML
	if err := xml.Unmarshal(data, &n); err != nil {
		return nil
	}
	ordered := make(map[string]bool, len(n.Abstract))
	for _, a := range n.Abstract {
		for _, lvl := range a.Levels {
			if lvl.Ilvl == "0" {
				f := lvl.NumFmt.Val
				ordered[a.ID] = f != "" && f != "bullet" && f != "none"
			}
		}
	}
	out := make(map[string]bool, len(n.Nums))
	for _, num := range n.Nums {
		out[num.ID] = ordered[num.Abstract.Val]
	}
	return out
}
