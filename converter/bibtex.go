package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// BibTeX converts bibliography databases: one section per entry with its
// fields as a table. @string macros are expanded and @comment and
// @preamble blocks are dropped.
type BibTeX struct{}

func (c *BibTeX) SupportedExtensions() []string { return []string{"bib"} }

func (c *BibTeX) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

// bibFieldOrder lists the fields shown first, in this order.
var bibFieldOrder = []string{"author", "editor", "year", "month", "journal", "booktitle",
	"publisher", "school", "institution", "volume", "number", "pages", "edition", "doi", "url", "isbn", "issn"}

func (c *BibTeX) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	entries, err := parseBibTeX(text)
	if err != nil {
		return nil, model.ParseError("bib", err)
	}

	doc := &model.Document{Title: "Bibliography"}
	doc.SetMeta("entries", fmt.Sprint(len(entries)))
	blocks := []model.Block{model.Text{Text: fmt.Sprintf("*%d entries*", len(entries))}}
	for _, e := range entries {
		blocks = append(blocks, e.blocks()...)
	}
	doc.AddPage(blocks...)
	return doc, nil
}

type bibEntry struct {
	kind   string
	key    string
	fields map[string]string
}

func (e bibEntry) blocks() []model.Block {
	title := bibClean(e.fields["title"])
	if title == "" {
		title = e.key
	}
	kind := e.kind
	if kind != "" {
		kind = strings.ToUpper(kind[:1]) + kind[1:]
	}
	out := []model.Block{
		model.Heading{Level: 2, Text: title},
		model.Text{Text: fmt.Sprintf("`%s` · %s", e.key, kind)},
	}

	t := model.Table{Headers: []string{"Field", "Value"}}
	seen := map[string]bool{"title": true, "abstract": true}
	add := func(name string) {
		v, ok := e.fields[name]
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		switch name {
		case "author", "editor":
			v = bibNames(v)
		case "doi":
			v = fmt.Sprintf("[%s](https://doi.org/%s)", v, v)
		case "url":
			v = "<" + v + ">"
		default:
			v = bibClean(v)
		}
		t.Rows = append(t.Rows, []string{strings.ToUpper(name[:1]) + name[1:], v})
	}
	for _, name := range bibFieldOrder {
		add(name)
	}
	rest := make([]string, 0, len(e.fields))
	for name := range e.fields {
		rest = append(rest, name)
	}
	slices.Sort(rest)
	for _, name := range rest {
		add(name)
	}
	if len(t.Rows) > 0 {
		out = append(out, t)
	}
	if abs := bibClean(e.fields["abstract"]); abs != "" {
		out = append(out, model.Quote{Text: abs})
	}
	return out
}

var bibMonths = map[string]string{
	"jan": "January", "feb": "February", "mar": "March", "apr": "April", "may": "May", "jun": "June",
	"jul": "July", "aug": "August", "sep": "September", "oct": "October", "nov": "November", "dec": "December",
}

// bibScanner walks a BibTeX database. Everything outside an @entry is a
// comment.
type bibScanner struct {
	s      string
	pos    int
	macros map[string]string
}

func parseBibTeX(text string) ([]bibEntry, error) {
	sc := &bibScanner{s: text, macros: map[string]string{}}
	for k, v := range bibMonths {
		sc.macros[k] = v
	}
	var entries []bibEntry
	for {
		at := strings.IndexByte(sc.s[sc.pos:], '@')
		if at < 0 {
			break
		}
		sc.pos += at + 1
		kind := strings.ToLower(sc.ident())
		sc.space()
		if sc.pos >= len(sc.s) || (sc.s[sc.pos] != '{' && sc.s[sc.pos] != '(') {
			continue
		}
		closer := byte('}')
		if sc.s[sc.pos] == '(' {
			closer = ')'
		}
		sc.pos++

		switch kind {
		case "comment", "preamble":
			if err := sc.skipGroup(closer); err != nil {
				return nil, err
			}
			continue
		case "string":
			fields, err := sc.fields(closer)
			if err != nil {
				return nil, err
			}
			for k, v := range fields {
				sc.macros[k] = v
			}
			continue
		case "":
			continue
		}

		sc.space()
		start := sc.pos
		for sc.pos < len(sc.s) && sc.s[sc.pos] != ',' && sc.s[sc.pos] != closer && !isSpace(sc.s[sc.pos]) {
			sc.pos++
		}
		key := sc.s[start:sc.pos]
		fields, err := sc.fields(closer)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		entries = append(entries, bibEntry{kind: kind, key: key, fields: fields})
	}
	if len(entries) == 0 {
		return nil, errors.New("no entries")
	}
	return entries, nil
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

func (sc *bibScanner) space() {
	for sc.pos < len(sc.s) && isSpace(sc.s[sc.pos]) {
		sc.pos++
	}
}

func (sc *bibScanner) ident() string {
	start := sc.pos
	for sc.pos < len(sc.s) {
		r := rune(sc.s[sc.pos])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("_-:.+/", r) {
			break
		}
		sc.pos++
	}
	return sc.s[start:sc.pos]
}

func (sc *bibScanner) skipGroup(closer byte) error {
	depth := 1
	opener := byte('{')
	if closer == ')' {
		opener = '('
	}
	for ; sc.pos < len(sc.s); sc.pos++ {
		switch sc.s[sc.pos] {
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				sc.pos++
				return nil
			}
		}
	}
	return errors.New("unterminated block")
}

// fields reads name = value pairs up to the entry's closing delimiter.
func (sc *bibScanner) fields(closer byte) (map[string]string, error) {
	fields := map[string]string{}
	for {
		sc.space()
		for sc.pos < len(sc.s) && sc.s[sc.pos] == ',' {
			sc.pos++
			sc.space()
		}
		if sc.pos >= len(sc.s) {
			return nil, errors.New("unterminated entry")
		}
		if sc.s[sc.pos] == closer {
			sc.pos++
			return fields, nil
		}
		name := strings.ToLower(sc.ident())
		if name == "" {
			return nil, fmt.Errorf("unexpected %q at offset %d", sc.s[sc.pos], sc.pos)
		}
		sc.space()
		if sc.pos >= len(sc.s) || sc.s[sc.pos] != '=' {
			return nil, fmt.Errorf("field %s: missing '='", name)
		}
		sc.pos++
		value, err := sc.value()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		fields[name] = value
	}
}

// value reads one field value: braced or quoted strings, numbers and
// macro names, joined with '#'.
func (sc *bibScanner) value() (string, error) {
	var b strings.Builder
	for {
		sc.space()
		if sc.pos >= len(sc.s) {
			return "", errors.New("missing value")
		}
		switch c := sc.s[sc.pos]; {
		case c == '{':
			start := sc.pos + 1
			sc.pos++
			if err := sc.skipGroup('}'); err != nil {
				return "", err
			}
			b.WriteString(sc.s[start : sc.pos-1])
		case c == '"':
			sc.pos++
			start, depth := sc.pos, 0
			for ; sc.pos < len(sc.s); sc.pos++ {
				ch := sc.s[sc.pos]
				if ch == '{' {
					depth++
				} else if ch == '}' {
					depth--
				} else if ch == '"' && depth == 0 {
					break
				}
			}
			if sc.pos >= len(sc.s) {
				return "", errors.New("unterminated string")
			}
			b.WriteString(sc.s[start:sc.pos])
			sc.pos++
		default:
			word := sc.ident()
			if word == "" {
				return "", fmt.Errorf("unexpected %q", c)
			}
			if v, ok := sc.macros[strings.ToLower(word)]; ok {
				word = v
			}
			b.WriteString(word)
		}
		sc.space()
		if sc.pos < len(sc.s) && sc.s[sc.pos] == '#' {
			sc.pos++
			continue
		}
		return strings.Join(strings.Fields(b.String()), " "), nil
	}
}

var (
	bibAccent  = regexp.MustCompile(`\\(['"^` + "`" + `~=.]|[uvHc][\s{])\s*\{?\\?([A-Za-z])\}?`)
	bibAnd     = regexp.MustCompile(`\s+and\s+`)
	bibCommand = regexp.MustCompile(`\\(?:textbf|textit|emph|texttt|textsc|mathrm|url)\s*`)
	bibMarks   = map[string]rune{
		"'": '\u0301', "`": '\u0300', "^": '\u0302', `"`: '\u0308', "~": '\u0303', "=": '\u0304',
		".": '\u0307', "u": '\u0306', "v": '\u030c', "H": '\u030b', "c": '\u0327',
	}
	bibEscapes = strings.NewReplacer(`\&`, "&", `\%`, "%", `\$`, "$", `\_`, "_", `\#`, "#",
		"---", "—", "--", "–", `{\ss}`, "ß", `{\o}`, "ø", `{\O}`, "Ø", `{\aa}`, "å", `{\AA}`, "Å", `{\ae}`, "æ", `{\l}`, "ł", "~", " ")
)

// bibClean turns TeX markup in a field value into plain text.
func bibClean(s string) string {
	s = bibCommand.ReplaceAllString(s, "")
	s = bibAccent.ReplaceAllStringFunc(s, func(m string) string {
		sub := bibAccent.FindStringSubmatch(m)
		return sub[2] + string(bibMarks[sub[1][:1]])
	})
	s = bibEscapes.Replace(s)
	s = strings.NewReplacer("{", "", "}", "").Replace(s)
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// bibNames rewrites "Last, First and Last, First" as "First Last, First Last".
func bibNames(s string) string {
	var names []string
	for _, n := range bibAnd.Split(s, -1) {
		n = bibClean(n)
		if last, first, ok := strings.Cut(n, ","); ok {
			n = strings.TrimSpace(first) + " " + strings.TrimSpace(last)
		}
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, ", ")
}
