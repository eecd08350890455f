package detect

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// SniffResult is the outcome of content inspection.
type SniffResult struct {
	Format string
	// Confident is set for structural matches (magic numbers, parsed root
	// elements). Heuristic matches such as "looks like text" are not.
	Confident bool
	// Hint describes a partial match that did not resolve to a format.
	Hint string
}

// Summary renders the sniff for diagnostics: a hex dump of the first 16
// bytes plus any hint.
func (s SniffResult) Summary(data []byte) string {
	if len(data) == 0 {
		return "empty"
	}
	head := data[:min(16, len(data))]
	out := fmt.Sprintf("[% x]", head)
	if s.Hint != "" {
		out += " (" + s.Hint + ")"
	}
	return out
}

type signature struct {
	format string
	offset int
	magic  []byte
}

// signatures are matched in order; the first hit wins.
var signatures = []signature{
	{"pdf", 0, []byte("%PDF")},
	{"gz", 0, []byte{0x1f, 0x8b}},
	{"bz2", 0, []byte("BZh")},
	{"xz", 0, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{"zst", 0, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{"7z", 0, []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}},
	{"tar", 257, []byte("ustar")},
	{"png", 0, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	{"jpg", 0, []byte{0xff, 0xd8, 0xff}},
	{"gif", 0, []byte("GIF87a")},
	{"gif", 0, []byte("GIF89a")},
	{"tiff", 0, []byte{'I', 'I', 0x2a, 0x00}},
	{"tiff", 0, []byte{'M', 'M', 0x00, 0x2a}},
	{"sqlite", 0, []byte("SQLite format 3\x00")},
	{"rtf", 0, []byte(`{\rtf`)},
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
	utf8BOM  = []byte{0xef, 0xbb, 0xbf}
)

// Sniff inspects content. ZIP containers are refined using the whole
// buffer; every other check looks at the first SniffLen bytes.
func Sniff(data []byte) SniffResult {
	if len(data) == 0 {
		return SniffResult{}
	}
	prefix := data[:min(SniffLen, len(data))]

	if bytes.HasPrefix(prefix, zipMagic) {
		return SniffResult{Format: sniffZip(data), Confident: true}
	}
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(prefix) >= end && bytes.Equal(prefix[sig.offset:end], sig.magic) {
			return SniffResult{Format: sig.format, Confident: true}
		}
	}
	if len(prefix) >= 12 && bytes.Equal(prefix[:4], []byte("RIFF")) && bytes.Equal(prefix[8:12], []byte("WEBP")) {
		return SniffResult{Format: "webp", Confident: true}
	}
	if bytes.HasPrefix(prefix, []byte("BM")) && len(prefix) >= 26 && prefix[6] == 0 && prefix[7] == 0 && prefix[8] == 0 && prefix[9] == 0 {
		return SniffResult{Format: "bmp", Confident: true}
	}
	if bytes.HasPrefix(prefix, oleMagic) {
		// Legacy Office files share this container; only the name can tell
		// .doc, .xls, .ppt and .msg apart.
		return SniffResult{Hint: "OLE2 compound document"}
	}

	text := bytes.TrimPrefix(prefix, utf8BOM)
	if !looksLikeText(text) {
		return SniffResult{Hint: "binary"}
	}
	trimmed := bytes.TrimSpace(text)
	switch {
	case len(trimmed) == 0:
		return SniffResult{Format: "txt"}
	case trimmed[0] == '<':
		return sniffMarkup(trimmed)
	case trimmed[0] == '{' || trimmed[0] == '[':
		if r := sniffJSON(data); r.Format != "" {
			return r
		}
	case hasLinePrefix(trimmed, "BEGIN:VCALENDAR"):
		return SniffResult{Format: "ics", Confident: true}
	case hasLinePrefix(trimmed, "BEGIN:VCARD"):
		return SniffResult{Format: "vcf", Confident: true}
	case looksLikeMail(trimmed):
		return SniffResult{Format: "eml"}
	}
	return SniffResult{Format: "txt"}
}

// sniffZip classifies a ZIP container by its entries.
func sniffZip(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		// Truncated buffer or damaged central directory: the local header
		// magic is still authoritative for "zip".
		return "zip"
	}
	var contentTypes string
	var hasWord, hasXL, hasPPT bool
	for _, f := range zr.File {
		switch {
		case f.Name == "mimetype":
			switch mt := readSmall(f); {
			case mt == "application/epub+zip":
				return "epub"
			case mt == "application/vnd.oasis.opendocument.text":
				return "odt"
			case mt == "application/vnd.oasis.opendocument.spreadsheet":
				return "ods"
			case mt == "application/vnd.oasis.opendocument.presentation":
				return "odp"
			}
		case f.Name == "[Content_Types].xml":
			contentTypes = readSmall(f)
		case strings.HasPrefix(f.Name, "word/"):
			hasWord = true
		case strings.HasPrefix(f.Name, "xl/"):
			hasXL = true
		case strings.HasPrefix(f.Name, "ppt/"):
			hasPPT = true
		}
	}
	template := strings.Contains(contentTypes, ".template")
	macro := strings.Contains(strings.ToLower(contentTypes), "macroenabled")
	switch {
	case hasWord:
		return pick(template, macro, "dotx", "docm", "docx")
	case hasXL:
		return pick(template, macro, "xltx", "xlsm", "xlsx")
	case hasPPT:
		return pick(template, macro, "potx", "pptm", "pptx")
	}
	return "zip"
}

func pick(template, macro bool, tmpl, macroFmt, base string) string {
	switch {
	case template:
		return tmpl
	case macro:
		return macroFmt
	}
	return base
}

func readSmall(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	b, _ := io.ReadAll(io.LimitReader(rc, 64<<10))
	return strings.TrimSpace(string(b))
}

const docbookNS = "http://docbook.org/ns/docbook"

// docbookRoots are the DocBook 4 root elements accepted under a DocBook
// DOCTYPE.
var docbookRoots = map[string]bool{
	"article": true, "book": true, "chapter": true, "part": true,
	"section": true, "refentry": true, "set": true,
}

// sniffMarkup resolves HTML and XML dialects from the root element.
func sniffMarkup(data []byte) SniffResult {
	upper := strings.ToUpper(string(data[:min(len(data), 512)]))
	if strings.HasPrefix(upper, "<!DOCTYPE HTML") || strings.HasPrefix(upper, "<HTML") {
		return SniffResult{Format: "html", Confident: true}
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	docbookDoctype := false
	for {
		tok, err := dec.Token()
		if err != nil {
			// The prefix may be cut mid-document; a declaration without a
			// root element is still XML.
			if bytes.HasPrefix(data, []byte("<?xml")) {
				return SniffResult{Format: "xml", Hint: "no root element in prefix"}
			}
			return SniffResult{Format: "txt"}
		}
		if d, ok := tok.(xml.Directive); ok && bytes.Contains(bytes.ToLower(d), []byte("docbook")) {
			docbookDoctype = true
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Space == docbookNS || (docbookDoctype && docbookRoots[se.Name.Local]) {
			return SniffResult{Format: "docbook", Confident: true}
		}
		switch strings.ToLower(se.Name.Local) {
		case "rss", "rdf":
			return SniffResult{Format: "rss", Confident: true}
		case "feed":
			return SniffResult{Format: "atom", Confident: true}
		case "html":
			return SniffResult{Format: "html", Confident: true}
		case "svg":
			return SniffResult{Format: "svg", Confident: true}
		case "opml":
			return SniffResult{Format: "opml", Confident: true}
		case "fictionbook":
			return SniffResult{Format: "fb2", Confident: true}
		default:
			return SniffResult{Format: "xml", Confident: true, Hint: "root " + se.Name.Local}
		}
	}
}

// sniffJSON validates JSON and spots Jupyter notebooks.
func sniffJSON(data []byte) SniffResult {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !json.Valid(data) {
		return SniffResult{}
	}
	var nb struct {
		Cells    json.RawMessage `json:"cells"`
		NBFormat *int            `json:"nbformat"`
	}
	if json.Unmarshal(data, &nb) == nil && nb.Cells != nil && nb.NBFormat != nil {
		return SniffResult{Format: "ipynb", Confident: true}
	}
	return SniffResult{Format: "json", Confident: true}
}

func looksLikeText(b []byte) bool {
	if bytes.IndexByte(b, 0) >= 0 {
		return false
	}
	// Allow a rune cut at the end of the prefix.
	for i := 0; i < utf8.UTFMax && len(b) > 0 && !utf8.Valid(b); i++ {
		b = b[:len(b)-1]
	}
	return utf8.Valid(b)
}

func hasLinePrefix(b []byte, p string) bool {
	return bytes.HasPrefix(bytes.ToUpper(b[:min(len(b), len(p))]), []byte(p))
}

var mailHeaders = []string{"from:", "received:", "return-path:", "message-id:", "mime-version:", "delivered-to:"}

func looksLikeMail(b []byte) bool {
	lines := strings.SplitN(string(b[:min(len(b), 2048)]), "\n", 8)
	hits := 0
	for _, l := range lines {
		l = strings.ToLower(l)
		for _, h := range mailHeaders {
			if strings.HasPrefix(l, h) {
				hits++
			}
		}
	}
	return hits >= 2
}
