package converter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beevik/etree"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// parseTree reads an XML document leniently and returns its root element.
func parseTree(text, format string) (*etree.Element, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	if err := doc.ReadFromString(text); err != nil {
		return nil, model.ParseError(format, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, model.ParseError(format, errors.New("no root element"))
	}
	return root, nil
}

// inlineFunc renders one inline element; ok is false for elements the
// caller does not style.
type inlineFunc func(el *etree.Element, inner string) (string, bool)

// inlineText flattens el's mixed content, collapsing whitespace.
func inlineText(el *etree.Element, style inlineFunc) string {
	var b strings.Builder
	for _, tok := range el.Child {
		switch v := tok.(type) {
		case *etree.CharData:
			b.WriteString(v.Data)
		case *etree.Element:
			inner := inlineText(v, style)
			if s, ok := style(v, inner); ok {
				b.WriteString(s)
			} else {
				b.WriteString(inner)
			}
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// rawText concatenates every text node under el verbatim.
func rawText(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		switch v := tok.(type) {
		case *etree.CharData:
			b.WriteString(v.Data)
		case *etree.Element:
			b.WriteString(rawText(v))
		}
	}
	return b.String()
}

// attr returns the value of the attribute named key in any namespace.
func elemAttr(el *etree.Element, key string) string {
	for _, a := range el.Attr {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func wrap(mark, s string) string {
	if s == "" {
		return ""
	}
	return mark + s + mark
}

// FictionBook converts FB2 e-books: one page per top-level section, with
// the title-info block supplying title, authors and language.
type FictionBook struct{}

func (c *FictionBook) SupportedExtensions() []string { return []string{"fb2"} }

func (c *FictionBook) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *FictionBook) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	root, err := parseTree(text, "fb2")
	if err != nil {
		return nil, err
	}
	if root.Tag != "FictionBook" {
		return nil, model.ParseError("fb2", fmt.Errorf("root element is %s, want FictionBook", root.Tag))
	}

	doc := &model.Document{}
	var annotation []model.Block
	if info := root.FindElement("./description/title-info"); info != nil {
		if t := info.SelectElement("book-title"); t != nil {
			doc.Title = inlineText(t, fb2Inline)
		}
		var authors, genres []string
		for _, a := range info.SelectElements("author") {
			if name := fb2Person(a); name != "" {
				authors = append(authors, name)
			}
		}
		for _, g := range info.SelectElements("genre") {
			genres = append(genres, strings.TrimSpace(g.Text()))
		}
		doc.SetMeta("author", strings.Join(authors, ", "))
		doc.SetMeta("genre", strings.Join(genres, ", "))
		if l := info.SelectElement("lang"); l != nil {
			doc.SetMeta("language", strings.TrimSpace(l.Text()))
		}
		if a := info.SelectElement("annotation"); a != nil {
			if q := fb2Quote(a); q != "" {
				annotation = append(annotation, model.Quote{Text: q})
			}
		}
	}

	w := &fb2Walker{images: opts.ExtractImages, binaries: map[string]*etree.Element{}}
	for _, bin := range root.SelectElements("binary") {
		w.binaries[elemAttr(bin, "id")] = bin
	}

	for _, body := range root.SelectElements("body") {
		lead := annotation
		annotation = nil
		if name := elemAttr(body, "name"); name != "" {
			lead = append(lead, model.Heading{Level: 2, Text: strings.ToUpper(name[:1]) + name[1:]})
		}
		var sections []*etree.Element
		for _, el := range body.ChildElements() {
			switch el.Tag {
			case "section":
				sections = append(sections, el)
			case "title":
				if t := fb2Title(el); t != "" && t != doc.Title {
					lead = append(lead, model.Heading{Level: 2, Text: t})
				}
			default:
				lead = append(lead, w.blocks(el, 2)...)
			}
		}
		if len(sections) == 0 {
			if len(lead) > 0 {
				doc.AddPage(lead...)
			}
			continue
		}
		for i, sec := range sections {
			blocks := w.section(sec, 2)
			if i == 0 {
				blocks = append(lead, blocks...)
			}
			doc.AddPage(blocks...)
		}
	}
	if len(doc.Pages) == 0 && len(annotation) > 0 {
		doc.AddPage(annotation...)
	}
	return doc, nil
}

func fb2Person(a *etree.Element) string {
	var parts []string
	for _, tag := range []string{"first-name", "middle-name", "last-name"} {
		if el := a.SelectElement(tag); el != nil {
			if s := strings.TrimSpace(el.Text()); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		if nick := a.SelectElement("nickname"); nick != nil {
			return strings.TrimSpace(nick.Text())
		}
	}
	return strings.Join(parts, " ")
}

func fb2Inline(el *etree.Element, inner string) (string, bool) {
	switch el.Tag {
	case "emphasis":
		return wrap("*", inner), true
	case "strong":
		return wrap("**", inner), true
	case "strikethrough":
		return wrap("~~", inner), true
	case "code":
		return wrap("`", inner), true
	case "a":
		href := elemAttr(el, "href")
		if href == "" || strings.HasPrefix(href, "#") {
			return inner, true
		}
		return fmt.Sprintf("[%s](%s)", inner, href), true
	}
	return "", false
}

// fb2Title joins the paragraphs of a title element.
func fb2Title(el *etree.Element) string {
	var parts []string
	for _, p := range el.SelectElements("p") {
		if s := inlineText(p, fb2Inline); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return inlineText(el, fb2Inline)
	}
	return strings.Join(parts, ". ")
}

// fb2Quote renders epigraphs, citations and annotations as quote text,
// one line per paragraph, with the attribution last.
func fb2Quote(el *etree.Element) string {
	var lines []string
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "p", "subtitle":
			lines = append(lines, inlineText(child, fb2Inline))
		case "text-author":
			lines = append(lines, "— "+inlineText(child, fb2Inline))
		case "poem":
			lines = append(lines, fb2Poem(child)...)
		}
	}
	return strings.Join(lines, "\n")
}

func fb2Poem(el *etree.Element) []string {
	var lines []string
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "title":
			lines = append(lines, "**"+fb2Title(child)+"**")
		case "stanza":
			if len(lines) > 0 {
				lines = append(lines, "")
			}
			for _, v := range child.SelectElements("v") {
				lines = append(lines, "*"+inlineText(v, fb2Inline)+"*")
			}
		case "text-author":
			lines = append(lines, "— "+inlineText(child, fb2Inline))
		}
	}
	return lines
}

type fb2Walker struct {
	images   bool
	binaries map[string]*etree.Element
	seq      int
}

func (w *fb2Walker) section(sec *etree.Element, level int) []model.Block {
	var blocks []model.Block
	for _, el := range sec.ChildElements() {
		blocks = append(blocks, w.blocks(el, level)...)
	}
	return blocks
}

func (w *fb2Walker) blocks(el *etree.Element, level int) []model.Block {
	switch el.Tag {
	case "title":
		if t := fb2Title(el); t != "" {
			return []model.Block{model.Heading{Level: min(level, 6), Text: t}}
		}
	case "subtitle":
		if t := inlineText(el, fb2Inline); t != "" {
			return []model.Block{model.Heading{Level: min(level+1, 6), Text: t}}
		}
	case "p":
		if t := inlineText(el, fb2Inline); t != "" {
			return []model.Block{model.Text{Text: t}}
		}
	case "epigraph", "cite", "annotation":
		if q := fb2Quote(el); q != "" {
			return []model.Block{model.Quote{Text: q}}
		}
	case "poem":
		if lines := fb2Poem(el); len(lines) > 0 {
			return []model.Block{model.Quote{Text: strings.Join(lines, "\n")}}
		}
	case "section":
		return w.section(el, level+1)
	case "table":
		return fb2Table(el)
	case "image":
		return w.image(el)
	}
	return nil
}

func fb2Table(el *etree.Element) []model.Block {
	var t model.Table
	for i, tr := range el.SelectElements("tr") {
		var row []string
		header := true
		for _, cell := range tr.ChildElements() {
			row = append(row, inlineText(cell, fb2Inline))
			header = header && cell.Tag == "th"
		}
		if i == 0 && header {
			t.Headers = row
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if t.ColumnCount() == 0 {
		return nil
	}
	return []model.Block{t}
}

// image resolves an inline image against the document's base64 binaries.
func (w *fb2Walker) image(el *etree.Element) []model.Block {
	if !w.images {
		return nil
	}
	id := strings.TrimPrefix(elemAttr(el, "href"), "#")
	bin, ok := w.binaries[id]
	if !ok {
		return nil
	}
	payload := strings.Join(strings.Fields(bin.Text()), "")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		slog.Debug("fb2: skipping image", "id", id, "error", err)
		return nil
	}
	w.seq++
	return []model.Block{model.Image{Image: model.ExtractedImage{
		ID:       fmt.Sprintf("image_%d", w.seq),
		Data:     data,
		MIMEType: elemAttr(bin, "content-type"),
		AltText:  elemAttr(el, "alt"),
	}}}
}

// DocBook converts DocBook 4 and 5 XML. Books get one page per chapter;
// other documents become a single page.
type DocBook struct{}

func (c *DocBook) SupportedExtensions() []string { return []string{"docbook", "dbk"} }

func (c *DocBook) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

var (
	dbSections = map[string]bool{
		"section": true, "sect1": true, "sect2": true, "sect3": true, "sect4": true, "sect5": true,
		"simplesect": true, "refsect1": true, "refsect2": true, "refsection": true,
	}
	dbChapters = map[string]bool{
		"chapter": true, "appendix": true, "preface": true, "part": true, "article": true,
		"glossary": true, "bibliography": true, "colophon": true, "dedication": true,
	}
	dbInfo = map[string]bool{
		"info": true, "articleinfo": true, "bookinfo": true, "chapterinfo": true,
		"sectioninfo": true, "sect1info": true, "prefaceinfo": true,
	}
	dbAdmonitions = map[string]string{
		"note": "Note", "tip": "Tip", "warning": "Warning", "important": "Important", "caution": "Caution",
	}
)

func (c *DocBook) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	root, err := parseTree(text, "docbook")
	if err != nil {
		return nil, err
	}

	doc := &model.Document{}
	doc.SetMeta("root_element", root.Tag)
	if t := root.SelectElement("title"); t != nil {
		doc.Title = inlineText(t, docbookInline)
	}
	for _, el := range root.ChildElements() {
		if dbInfo[el.Tag] {
			docbookInfo(doc, el)
		}
	}

	if root.Tag != "book" && root.Tag != "set" {
		blocks := docbookChildren(root, 1)
		if title, rest := leadingTitle(blocks); title != "" && title == doc.Title {
			blocks = rest
		}
		doc.AddPage(blocks...)
		return doc, nil
	}
	var lead []model.Block
	for _, el := range root.ChildElements() {
		switch {
		case el.Tag == "title" || dbInfo[el.Tag]:
		case dbChapters[el.Tag] || el.Tag == "book":
			doc.AddPage(append(lead, docbookBlocks(el, 1)...)...)
			lead = nil
		default:
			lead = append(lead, docbookBlocks(el, 1)...)
		}
	}
	if len(lead) > 0 {
		doc.AddPage(lead...)
	}
	return doc, nil
}

func docbookInfo(doc *model.Document, info *etree.Element) {
	if doc.Title == "" {
		if t := info.SelectElement("title"); t != nil {
			doc.Title = inlineText(t, docbookInline)
		}
	}
	var authors []string
	for _, a := range info.FindElements(".//author") {
		if name := inlineText(a, docbookInline); name != "" {
			authors = append(authors, name)
		}
	}
	doc.SetMeta("author", strings.Join(authors, ", "))
	if d := info.SelectElement("pubdate"); d != nil {
		doc.SetMeta("date", strings.TrimSpace(d.Text()))
	} else if d := info.SelectElement("date"); d != nil {
		doc.SetMeta("date", strings.TrimSpace(d.Text()))
	}
}

func docbookInline(el *etree.Element, inner string) (string, bool) {
	switch el.Tag {
	case "emphasis":
		if role := elemAttr(el, "role"); role == "bold" || role == "strong" {
			return wrap("**", inner), true
		}
		return wrap("*", inner), true
	case "literal", "code", "command", "filename", "computeroutput", "userinput",
		"varname", "function", "classname", "methodname", "option", "envar", "constant":
		return wrap("`", inner), true
	case "link", "ulink":
		url := elemAttr(el, "url")
		if url == "" {
			url = elemAttr(el, "href")
		}
		switch {
		case url == "":
			return inner, true
		case inner == "":
			return url, true
		}
		return fmt.Sprintf("[%s](%s)", inner, url), true
	case "xref":
		if inner != "" {
			return inner, true
		}
		return elemAttr(el, "linkend"), true
	case "quote":
		return "“" + inner + "”", true
	case "footnote", "indexterm", "remark",
		"itemizedlist", "orderedlist", "programlisting", "screen", "informaltable", "table":
		return "", true
	case "personname", "author":
		return inner, true
	}
	return "", false
}

func docbookChildren(el *etree.Element, level int) []model.Block {
	var blocks []model.Block
	for _, child := range el.ChildElements() {
		blocks = append(blocks, docbookBlocks(child, level)...)
	}
	return blocks
}

func docbookBlocks(el *etree.Element, level int) []model.Block {
	switch {
	case el.Tag == "title":
		if t := inlineText(el, docbookInline); t != "" {
			return []model.Block{model.Heading{Level: min(level, 6), Text: t}}
		}
		return nil
	case el.Tag == "subtitle":
		if t := inlineText(el, docbookInline); t != "" {
			return []model.Block{model.Heading{Level: min(level+1, 6), Text: t}}
		}
		return nil
	case dbInfo[el.Tag]:
		return nil
	case dbSections[el.Tag] || dbChapters[el.Tag]:
		return docbookChildren(el, level+1)
	}

	switch el.Tag {
	case "para", "simpara":
		var blocks []model.Block
		if t := inlineText(el, docbookInline); t != "" {
			blocks = append(blocks, model.Text{Text: t})
		}
		// Block content nested in a para (lists, listings) follows it.
		for _, child := range el.ChildElements() {
			switch child.Tag {
			case "itemizedlist", "orderedlist", "programlisting", "screen", "informaltable", "table":
				blocks = append(blocks, docbookBlocks(child, level)...)
			}
		}
		return blocks
	case "formalpara":
		return docbookChildren(el, level+1)
	case "itemizedlist", "orderedlist":
		if items := docbookItems(el); len(items) > 0 {
			return []model.Block{model.List{Ordered: el.Tag == "orderedlist", Items: items}}
		}
	case "variablelist":
		var items []string
		for _, entry := range el.SelectElements("varlistentry") {
			var terms []string
			for _, term := range entry.SelectElements("term") {
				terms = append(terms, inlineText(term, docbookInline))
			}
			def := ""
			if li := entry.SelectElement("listitem"); li != nil {
				def = itemText(li)
			}
			items = append(items, fmt.Sprintf("**%s**: %s", strings.Join(terms, ", "), def))
		}
		if len(items) > 0 {
			return []model.Block{model.List{Items: items}}
		}
	case "programlisting", "screen", "literallayout", "synopsis":
		return []model.Block{model.Code{Language: elemAttr(el, "language"), Code: strings.Trim(rawText(el), "\n")}}
	case "blockquote", "epigraph":
		var lines []string
		for _, b := range docbookChildren(el, level) {
			lines = append(lines, strings.TrimRight(model.BlockMarkdown(b), "\n"))
		}
		if a := el.SelectElement("attribution"); a != nil {
			lines = append(lines, "— "+inlineText(a, docbookInline))
		}
		if len(lines) > 0 {
			return []model.Block{model.Quote{Text: strings.Join(lines, "\n")}}
		}
	case "note", "tip", "warning", "important", "caution":
		var parts []string
		for _, b := range docbookChildren(el, level) {
			if _, ok := b.(model.Heading); ok {
				continue
			}
			parts = append(parts, strings.TrimRight(model.BlockMarkdown(b), "\n"))
		}
		return []model.Block{model.Quote{Text: "**" + dbAdmonitions[el.Tag] + ":** " + strings.Join(parts, "\n")}}
	case "table", "informaltable":
		return docbookTable(el)
	case "figure", "informalfigure", "mediaobject", "inlinemediaobject":
		return docbookMedia(el)
	case "attribution":
		return nil
	default:
		return docbookChildren(el, level)
	}
	return nil
}

func docbookItems(list *etree.Element) []string {
	var items []string
	for _, li := range list.SelectElements("listitem") {
		items = append(items, itemText(li))
	}
	return items
}

// itemText renders a list item's paragraphs on one line and nested lists
// as indented Markdown below it.
func itemText(li *etree.Element) string {
	var (
		parts  []string
		nested []string
	)
	for _, child := range li.ChildElements() {
		switch child.Tag {
		case "itemizedlist", "orderedlist":
			for i, item := range docbookItems(child) {
				marker := "-"
				if child.Tag == "orderedlist" {
					marker = fmt.Sprintf("%d.", i+1)
				}
				nested = append(nested, "  "+marker+" "+strings.ReplaceAll(item, "\n", "\n  "))
			}
		default:
			if t := inlineText(child, docbookInline); t != "" {
				parts = append(parts, t)
			}
		}
	}
	out := strings.Join(parts, " ")
	if len(nested) > 0 {
		out += "\n" + strings.Join(nested, "\n")
	}
	return out
}

func docbookTable(el *etree.Element) []model.Block {
	var t model.Table
	if head := el.FindElements(".//thead/row"); len(head) > 0 {
		t.Headers = docbookRow(head[0])
	}
	for _, row := range el.FindElements(".//tbody/row") {
		t.Rows = append(t.Rows, docbookRow(row))
	}
	if len(t.Rows) == 0 && len(t.Headers) == 0 {
		// HTML-style tables.
		for i, tr := range el.FindElements(".//tr") {
			var cells []string
			header := true
			for _, cell := range tr.ChildElements() {
				cells = append(cells, itemText(cell))
				header = header && cell.Tag == "th"
			}
			if i == 0 && header {
				t.Headers = cells
				continue
			}
			t.Rows = append(t.Rows, cells)
		}
	}
	if t.ColumnCount() == 0 {
		return nil
	}
	blocks := []model.Block{}
	if title := el.SelectElement("title"); title != nil {
		blocks = append(blocks, model.Text{Text: "**" + inlineText(title, docbookInline) + "**"})
	}
	return append(blocks, t)
}

func docbookRow(row *etree.Element) []string {
	var cells []string
	for _, entry := range row.SelectElements("entry") {
		text := itemText(entry)
		if text == "" {
			text = inlineText(entry, docbookInline)
		}
		cells = append(cells, text)
	}
	return cells
}

// docbookMedia emits a Markdown image link to the referenced file; the
// bytes live outside the document.
func docbookMedia(el *etree.Element) []model.Block {
	alt := ""
	if t := el.FindElement(".//textobject/phrase"); t != nil {
		alt = inlineText(t, docbookInline)
	}
	if alt == "" {
		if t := el.SelectElement("title"); t != nil {
			alt = inlineText(t, docbookInline)
		}
	}
	for _, img := range el.FindElements(".//imagedata") {
		if ref := elemAttr(img, "fileref"); ref != "" {
			return []model.Block{model.RawMarkdown{Markdown: fmt.Sprintf("![%s](%s)", alt, ref)}}
		}
	}
	if alt != "" {
		return []model.Block{model.Text{Text: alt}}
	}
	return nil
}
