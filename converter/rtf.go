package converter

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// RTF converts Rich Text Format documents. Paragraphs become text blocks
// with bold and italic runs kept, table rows become tables, and the \info
// group supplies title and metadata.
type RTF struct{}

func (c *RTF) SupportedExtensions() []string { return []string{"rtf"} }

func (c *RTF) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *RTF) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	if !bytes.HasPrefix(data, []byte(`{\rtf`)) {
		return nil, model.ParseError("rtf", errors.New(`missing {\rtf header`))
	}

	p := newRTFParser(data)
	p.run()

	doc := &model.Document{Title: p.metaValue("title")}
	for _, key := range []string{"author", "subject", "keywords", "company"} {
		doc.SetMeta(key, p.metaValue(key))
	}
	if p.depth != 0 {
		doc.Warn("rtf: unbalanced groups (depth %d at end of input)", p.depth)
	}
	doc.AddPage(p.blocks...)
	return doc, nil
}

// rtfDestinations are groups whose text is not document content.
var rtfDestinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "listtable": true, "listoverridetable": true,
	"revtbl": true, "rsidtbl": true, "generator": true, "xmlnstbl": true, "pict": true, "object": true,
	"themedata": true, "colorschememapping": true, "datastore": true, "latentstyles": true,
	"header": true, "headerl": true, "headerr": true, "headerf": true,
	"footer": true, "footerl": true, "footerr": true, "footerf": true,
	"fldinst": true, "bkmkstart": true, "bkmkend": true, "filetbl": true, "pgdsctbl": true,
	"protusertbl": true, "nonshppict": true, "shppict": true, "shpinst": true, "footnote": true,
	"annotation": true, "atnid": true, "atnauthor": true, "private": true, "userprops": true,
}

var rtfInfoFields = map[string]bool{
	"title": true, "author": true, "subject": true, "keywords": true, "company": true, "operator": true,
}

var rtfSymbols = map[string]string{
	"emdash": "—", "endash": "–", "bullet": "•", "lquote": "‘", "rquote": "’",
	"ldblquote": "“", "rdblquote": "”", "line": "\n", "tab": "\t", "emspace": " ", "enspace": " ",
}

// rtfCodepage maps an \ansicpg value to its decoder.
func rtfCodepage(cp int) encoding.Encoding {
	switch cp {
	case 437:
		return charmap.CodePage437
	case 850:
		return charmap.CodePage850
	case 852:
		return charmap.CodePage852
	case 866:
		return charmap.CodePage866
	case 874:
		return charmap.Windows874
	case 932:
		return japanese.ShiftJIS
	case 936:
		return simplifiedchinese.GBK
	case 949:
		return korean.EUCKR
	case 950:
		return traditionalchinese.Big5
	case 1250:
		return charmap.Windows1250
	case 1251:
		return charmap.Windows1251
	case 1253:
		return charmap.Windows1253
	case 1254:
		return charmap.Windows1254
	case 1255:
		return charmap.Windows1255
	case 1256:
		return charmap.Windows1256
	case 1257:
		return charmap.Windows1257
	case 1258:
		return charmap.Windows1258
	case 10000:
		return charmap.Macintosh
	}
	return charmap.Windows1252
}

// rtfState is the formatting state saved and restored with each group.
type rtfState struct {
	skip   bool
	info   bool
	field  string
	bold   bool
	italic bool
	uc     int
}

type rtfParser struct {
	data  []byte
	pos   int
	depth int

	st    rtfState
	stack []rtfState

	enc     encoding.Encoding
	pending []byte
	ucSkip  int

	out    rtfWriter
	intbl  bool
	cells  []string
	rows   [][]string
	blocks []model.Block
	meta   map[string]*strings.Builder
}

func newRTFParser(data []byte) *rtfParser {
	return &rtfParser{
		data: data,
		st:   rtfState{uc: 1},
		enc:  charmap.Windows1252,
		meta: map[string]*strings.Builder{},
	}
}

func (p *rtfParser) run() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case c == '{':
			p.flushPending()
			p.stack = append(p.stack, p.st)
			p.depth++
			p.pos++
		case c == '}':
			p.flushPending()
			if n := len(p.stack); n > 0 {
				p.st = p.stack[n-1]
				p.stack = p.stack[:n-1]
			}
			p.depth--
			p.pos++
		case c == '\\':
			p.control()
		case c == '\r' || c == '\n':
			p.pos++
		case c >= 0x80:
			p.pos++
			if !p.consumeFallback() {
				p.pending = append(p.pending, c)
			}
		default:
			p.pos++
			if p.consumeFallback() {
				continue
			}
			p.flushPending()
			p.emit(string(c))
		}
	}
	p.flushPending()
	p.intbl = false
	p.paragraph()
	p.flushTable()
}

// consumeFallback swallows one character of the ANSI fallback that
// follows a \u escape.
func (p *rtfParser) consumeFallback() bool {
	if p.ucSkip > 0 {
		p.ucSkip--
		return true
	}
	return false
}

func (p *rtfParser) control() {
	p.pos++
	if p.pos >= len(p.data) {
		return
	}
	c := p.data[p.pos]
	if !isASCIILetter(c) {
		p.pos++
		switch c {
		case '\'':
			if p.pos+2 <= len(p.data) {
				b, ok := hexByte(p.data[p.pos], p.data[p.pos+1])
				p.pos += 2
				if ok && !p.consumeFallback() {
					p.pending = append(p.pending, b)
				}
			}
		case '*':
			p.st.skip = true
		case '~':
			p.flushPending()
			p.emit(" ")
		case '_':
			p.flushPending()
			p.emit("-")
		case '\\', '{', '}':
			p.flushPending()
			p.emit(string(c))
		case '\n', '\r':
			p.flushPending()
			p.paragraph()
		}
		return
	}

	start := p.pos
	for p.pos < len(p.data) && isASCIILetter(p.data[p.pos]) {
		p.pos++
	}
	word := string(p.data[start:p.pos])
	param, hasParam := 0, false
	neg := p.pos < len(p.data) && p.data[p.pos] == '-'
	if neg {
		p.pos++
	}
	for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		param = param*10 + int(p.data[p.pos]-'0')
		hasParam = true
		p.pos++
	}
	if neg {
		param = -param
	}
	if p.pos < len(p.data) && p.data[p.pos] == ' ' {
		p.pos++
	}
	p.flushPending()
	p.word(word, param, hasParam)
}

func (p *rtfParser) word(word string, param int, hasParam bool) {
	on := !hasParam || param != 0
	switch word {
	case "par", "sect", "page":
		p.paragraph()
	case "u":
		if param < 0 {
			param += 65536
		}
		p.emit(string(rune(param)))
		p.ucSkip = p.st.uc
	case "uc":
		p.st.uc = param
	case "b":
		p.st.bold = on
	case "i":
		p.st.italic = on
	case "plain":
		p.st.bold, p.st.italic = false, false
	case "pard":
		p.intbl = false
	case "intbl":
		p.intbl = true
	case "cell":
		p.cells = append(p.cells, p.out.finish())
	case "row":
		if len(p.cells) > 0 {
			p.rows = append(p.rows, p.cells)
			p.cells = nil
		}
	case "ansicpg":
		p.enc = rtfCodepage(param)
	case "info":
		p.st.info = true
	default:
		if s, ok := rtfSymbols[word]; ok {
			p.emit(s)
			return
		}
		if p.st.info && rtfInfoFields[word] {
			p.st.field = word
			return
		}
		if rtfDestinations[word] {
			p.st.skip = true
		}
	}
}

func (p *rtfParser) flushPending() {
	if len(p.pending) == 0 {
		return
	}
	out, err := p.enc.NewDecoder().Bytes(p.pending)
	if err != nil {
		out = p.pending
	}
	p.pending = p.pending[:0]
	p.emit(string(out))
}

func (p *rtfParser) emit(s string) {
	switch {
	case p.st.skip:
	case p.st.field != "":
		b, ok := p.meta[p.st.field]
		if !ok {
			b = &strings.Builder{}
			p.meta[p.st.field] = b
		}
		b.WriteString(s)
	case p.st.info:
	default:
		p.out.write(s, p.st.bold, p.st.italic)
	}
}

func (p *rtfParser) paragraph() {
	if p.intbl {
		p.out.write(" ", false, false)
		return
	}
	text := p.out.finish()
	p.flushTable()
	if text != "" {
		p.blocks = append(p.blocks, model.Text{Text: text})
	}
}

func (p *rtfParser) flushTable() {
	if len(p.cells) > 0 {
		p.rows = append(p.rows, p.cells)
		p.cells = nil
	}
	if len(p.rows) == 0 {
		return
	}
	p.blocks = append(p.blocks, model.Table{Headers: p.rows[0], Rows: p.rows[1:]})
	p.rows = nil
}

func (p *rtfParser) metaValue(key string) string {
	if b, ok := p.meta[key]; ok {
		return strings.TrimSpace(b.String())
	}
	return ""
}

// rtfWriter accumulates one paragraph, opening and closing Markdown
// emphasis markers as the character formatting changes.
type rtfWriter struct {
	buf    bytes.Buffer
	bold   bool
	italic bool
}

func (w *rtfWriter) write(s string, bold, italic bool) {
	if bold != w.bold || italic != w.italic {
		if strings.TrimSpace(s) == "" {
			w.buf.WriteString(s)
			return
		}
		w.close()
		rest := strings.TrimLeft(s, " \t")
		w.buf.WriteString(s[:len(s)-len(rest)])
		s = rest
		if bold {
			w.buf.WriteString("**")
		}
		if italic {
			w.buf.WriteString("*")
		}
		w.bold, w.italic = bold, italic
	}
	w.buf.WriteString(s)
}

// close ends open markers before any trailing whitespace.
func (w *rtfWriter) close() {
	if !w.bold && !w.italic {
		return
	}
	text := w.buf.String()
	trimmed := strings.TrimRight(text, " \t")
	w.buf.Truncate(len(trimmed))
	if w.italic {
		w.buf.WriteString("*")
	}
	if w.bold {
		w.buf.WriteString("**")
	}
	w.buf.WriteString(text[len(trimmed):])
	w.bold, w.italic = false, false
}

func (w *rtfWriter) finish() string {
	w.close()
	s := strings.TrimSpace(w.buf.String())
	w.buf.Reset()
	return s
}

func isASCIILetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func hexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexNibble(hi)
	l, ok2 := hexNibble(lo)
	return h<<4 | l, ok1 && ok2
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
