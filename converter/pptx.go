package converter

import (
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// PPTX converts presentations with one page per slide: the title
// placeholder becomes a heading, body placeholders become lists, free
// text boxes become paragraphs, followed by tables, pictures and speaker
// notes. A Template instance handles potx.
type PPTX struct {
	Template bool
}

func (c *PPTX) SupportedExtensions() []string {
	if c.Template {
		return []string{"potx"}
	}
	return []string{"pptx", "pptm"}
}

func (c *PPTX) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

type pptxSlide struct {
	CSld struct {
		SpTree pptxShape `xml:"spTree"`
	} `xml:"cSld"`
}

// pptxShape covers sp, pic, graphicFrame and grpSp; unknown children are
// walked so grouped shapes keep their order.
type pptxShape struct {
	XMLName xml.Name
	Ph      *struct {
		Type string `xml:"type,attr"`
	} `xml:"nvSpPr>nvPr>ph"`
	TxBody *pptxTxBody `xml:"txBody"`
	Blip   *struct {
		Embed string `xml:"embed,attr"`
	} `xml:"blipFill>blip"`
	Table    *pptxTable  `xml:"graphic>graphicData>tbl"`
	Children []pptxShape `xml:",any"`
}

type pptxTxBody struct {
	Paras []pptxPara `xml:"p"`
}

type pptxPara struct {
	PPr *struct {
		Lvl       int       `xml:"lvl,attr"`
		BuAutoNum *struct{} `xml:"buAutoNum"`
		BuNone    *struct{} `xml:"buNone"`
	} `xml:"pPr"`
	Runs []struct {
		Text string `xml:"t"`
	} `xml:"r"`
	Fields []struct {
		Text string `xml:"t"`
	} `xml:"fld"`
}

func (p pptxPara) text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		b.WriteString(r.Text)
	}
	for _, f := range p.Fields {
		b.WriteString(f.Text)
	}
	return strings.TrimSpace(b.String())
}

type pptxTable struct {
	Rows []struct {
		Cells []struct {
			TxBody pptxTxBody `xml:"txBody"`
		} `xml:"tc"`
	} `xml:"tr"`
}

func (c *PPTX) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	pkg, err := openZipPackage(data)
	if err != nil {
		return nil, model.ParseError("pptx", err)
	}
	slides := pptxSlideOrder(pkg)
	if len(slides) == 0 && !pkg.has("ppt/presentation.xml") {
		return nil, model.ParseError("pptx", fmt.Errorf("ppt/presentation.xml not found"))
	}

	doc := &model.Document{}
	pkg.applyCoreProperties(doc)
	if c.Template {
		doc.SetMeta("template", "true")
	}

	imageSeq := 0
	for _, part := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := pkg.read(part)
		if err != nil {
			return nil, model.ParseError("pptx", err)
		}
		var slide pptxSlide
		if err := xml.Unmarshal(raw, &slide); err != nil {
			return nil, model.ParseError("pptx", fmt.Errorf("%s: %w", part, err))
		}

		sb := &slideBuilder{pkg: pkg, rels: pkg.rels(part), images: opts.ExtractImages, imageSeq: &imageSeq}
		sb.walk(slide.CSld.SpTree)
		blocks := sb.blocks()
		if doc.Title == "" && sb.title != "" {
			doc.Title = sb.title
		}
		for _, notesPart := range pkg.relsOfType(part, "/notesSlide") {
			if notes := pptxNotes(pkg, notesPart); notes != "" {
				blocks = append(blocks, model.Quote{Text: "Notes: " + notes})
			}
		}
		doc.AddPage(blocks...)
	}
	doc.SetMeta("slide_count", strconv.Itoa(len(slides)))
	return doc, nil
}

type slideBuilder struct {
	pkg      *zipPackage
	rels     map[string]string
	images   bool
	imageSeq *int

	title string
	body  []model.Block
}

func (b *slideBuilder) blocks() []model.Block {
	if b.title == "" {
		return b.body
	}
	return append([]model.Block{model.Heading{Level: 2, Text: b.title}}, b.body...)
}

func (b *slideBuilder) walk(sh pptxShape) {
	switch {
	case sh.TxBody != nil && sh.XMLName.Local == "sp":
		b.textShape(sh)
	case sh.Table != nil:
		b.table(sh.Table)
	case sh.Blip != nil:
		b.picture(sh.Blip.Embed)
	}
	for _, ch := range sh.Children {
		b.walk(ch)
	}
}

func (b *slideBuilder) textShape(sh pptxShape) {
	phType := ""
	isPlaceholder := sh.Ph != nil
	if isPlaceholder {
		phType = sh.Ph.Type
	}

	var lines []string
	ordered := false
	for _, p := range sh.TxBody.Paras {
		if t := p.text(); t != "" {
			lines = append(lines, t)
			if p.PPr != nil && p.PPr.BuAutoNum != nil {
				ordered = true
			}
		}
	}
	if len(lines) == 0 {
		return
	}

	switch {
	case phType == "title" || phType == "ctrTitle":
		if b.title == "" {
			b.title = strings.Join(lines, " ")
			return
		}
		b.body = append(b.body, model.Text{Text: strings.Join(lines, " ")})
	case isPlaceholder && (phType == "" || phType == "body" || phType == "obj") && len(lines) > 1:
		b.body = append(b.body, model.List{Ordered: ordered, Items: lines})
	default:
		b.body = append(b.body, model.Text{Text: strings.Join(lines, "\n")})
	}
}

func (b *slideBuilder) table(t *pptxTable) {
	var rows [][]string
	for _, r := range t.Rows {
		row := make([]string, 0, len(r.Cells))
		for _, cell := range r.Cells {
			var parts []string
			for _, p := range cell.TxBody.Paras {
				if s := p.text(); s != "" {
					parts = append(parts, s)
				}
			}
			row = append(row, strings.Join(parts, " "))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}
	b.body = append(b.body, model.Table{Headers: rows[0], Rows: rows[1:]})
}

func (b *slideBuilder) picture(embed string) {
	if !b.images || embed == "" {
		return
	}
	target, ok := b.rels[embed]
	if !ok {
		return
	}
	img, ok := b.pkg.image(target)
	if !ok {
		return
	}
	*b.imageSeq++
	img.ID = fmt.Sprintf("image_%d", *b.imageSeq)
	b.body = append(b.body, model.Image{Image: img})
}

// pptxSlideOrder lists slide parts in presentation order, falling back to
// the numeric order of ppt/slides/slideN.xml.
func pptxSlideOrder(pkg *zipPackage) []string {
	const pres = "ppt/presentation.xml"
	if data, err := pkg.read(pres); err == nil {
		var p struct {
			IDs []struct {
				RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
			} `xml:"sldIdLst>sldId"`
		}
		if xml.Unmarshal(data, &p) == nil && len(p.IDs) > 0 {
			rels := pkg.rels(pres)
			var out []string
			for _, id := range p.IDs {
				if target, ok := rels[id.RID]; ok && pkg.has(target) {
					out = append(out, target)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}

	nums := map[int]string{}
	for _, name := range pkg.order {
		dir, file := path.Split(name)
		if dir != "ppt/slides/" || !strings.HasPrefix(file, "slide") || !strings.HasSuffix(file, ".xml") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file, "slide"), ".xml")); err == nil {
			nums[n] = name
		}
	}
	keys := make([]int, 0, len(nums))
	for n := range nums {
		keys = append(keys, n)
	}
	sort.Ints(keys)
	out := make([]string, 0, len(keys))
	for _, n := range keys {
		out = append(out, nums[n])
	}
	return out
}

// pptxNotes returns the text of the body placeholder of a notes slide.
func pptxNotes(pkg *zipPackage, part string) string {
	data, err := pkg.read(part)
	if err != nil {
		return ""
	}
	var notes pptxSlide
	if err := xml.Unmarshal(data, &notes); err != nil {
		return ""
	}
	var lines []string
	var walk func(pptxShape)
	walk = func(sh pptxShape) {
		if sh.TxBody != nil && sh.Ph != nil && sh.Ph.Type == "body" {
			for _, p := range sh.TxBody.Paras {
				if t := p.text(); t != "" {
					lines = append(lines, t)
				}
			}
		}
		for _, ch := range sh.Children {
			walk(ch)
		}
	}
	walk(notes.CSld.SpTree)
	return strings.Join(lines, " ")
}
