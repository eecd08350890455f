package converter

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// Typst converts Typst markup. Set, let, show and import rules are
// dropped; #set document(title: ...) supplies the title.
type Typst struct{}

func (c *Typst) SupportedExtensions() []string { return []string{"typ"} }

func (c *Typst) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

var (
	typHeading   = regexp.MustCompile(`^(=+)\s+(.*)$`)
	typFnHeading = regexp.MustCompile(`^#heading(?:\(([^)]*)\))?\[(.*)\]\s*$`)
	typLevel     = regexp.MustCompile(`level:\s*(\d)`)
	typDocTitle  = regexp.MustCompile(`#set\s+document\([^)]*title:\s*"([^"]*)"`)
	typDocAuthor = regexp.MustCompile(`#set\s+document\([^)]*author:\s*"([^"]*)"`)
	typTerm      = regexp.MustCompile(`^/\s+([^:]+):\s*(.*)$`)
	typImage     = regexp.MustCompile(`^#(?:figure\()?image\("([^"]+)"[^)]*\)`)
	typQuote     = regexp.MustCompile(`^#quote(?:\([^)]*\))?\[(.*)\]\s*$`)

	typInline = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`#strong\[([^\]]+)\]`), "**$1**"},
		{regexp.MustCompile(`#emph\[([^\]]+)\]`), "*$1*"},
		{regexp.MustCompile(`#text(?:\([^)]*\))?\[([^\]]+)\]`), "$1"},
		{regexp.MustCompile(`#link\("([^"]+)"\)\[([^\]]+)\]`), "[$2]($1)"},
		{regexp.MustCompile(`#link\("([^"]+)"\)`), "<$1>"},
		{regexp.MustCompile(`(^|[^\w*])\*([^*\s][^*]*)\*`), "$1**$2**"},
		{regexp.MustCompile(`(^|[^\w_])_([^_\s][^_]*)_`), "$1*$2*"},
		{regexp.MustCompile(`(^|\s)@([\w:-]+)`), "$1[$2]"},
	}
)

func (c *Typst) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	doc := &model.Document{}
	if m := typDocTitle.FindStringSubmatch(text); m != nil {
		doc.Title = m[1]
	}
	if m := typDocAuthor.FindStringSubmatch(text); m != nil {
		doc.SetMeta("author", m[1])
	}

	var b blockBuilder
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "":
			b.flush()
			continue
		case strings.HasPrefix(line, "```"):
			lang := strings.TrimSpace(strings.TrimPrefix(line, "```"))
			var code []string
			for i++; i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```"); i++ {
				code = append(code, lines[i])
			}
			b.add(model.Code{Language: lang, Code: strings.Join(code, "\n")})
			continue
		case strings.HasPrefix(line, "//"):
			continue
		case len(line) > 3 && strings.HasPrefix(line, "$ ") && strings.HasSuffix(line, " $"):
			b.add(model.RawMarkdown{Markdown: "$$\n" + strings.TrimSpace(strings.Trim(line, "$")) + "\n$$"})
			continue
		}

		if typSkipRule(line) {
			i = typSkipArgs(lines, i)
			continue
		}
		if m := typHeading.FindStringSubmatch(line); m != nil {
			b.heading(len(m[1]), typInlineText(m[2]))
			continue
		}
		if m := typFnHeading.FindStringSubmatch(line); m != nil {
			level := 1
			if l := typLevel.FindStringSubmatch(m[1]); l != nil {
				level = int(l[1][0] - '0')
			}
			b.heading(level, typInlineText(m[2]))
			continue
		}
		if m := typImage.FindStringSubmatch(line); m != nil {
			b.add(model.RawMarkdown{Markdown: fmt.Sprintf("![](%s)", m[1])})
			continue
		}
		if m := typQuote.FindStringSubmatch(line); m != nil {
			b.add(model.Quote{Text: typInlineText(m[1])})
			continue
		}
		if m := typTerm.FindStringSubmatch(line); m != nil {
			b.item(false, "**"+typInlineText(m[1])+":** "+typInlineText(m[2]))
			continue
		}
		switch {
		case strings.HasPrefix(line, "- "):
			b.item(false, typInlineText(line[2:]))
		case strings.HasPrefix(line, "+ "):
			b.item(true, typInlineText(line[2:]))
		case line == `\`:
			b.flush()
		case b.inList() && indentOf(lines[i]) > 0:
			b.cont(typInlineText(line))
		default:
			b.text(typInlineText(strings.TrimSuffix(line, `\`)))
		}
	}
	blocks := b.done()
	if title, rest := leadingTitle(blocks); title != "" && (doc.Title == "" || doc.Title == title) {
		doc.Title, blocks = title, rest
	}
	doc.AddPage(blocks...)
	return doc, nil
}

func typSkipRule(line string) bool {
	for _, p := range []string{"#set ", "#let ", "#show", "#import ", "#include ", "#pagebreak", "#outline", "#v(", "#h("} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// typSkipArgs returns the last line of a rule whose parentheses span
// several lines.
func typSkipArgs(lines []string, i int) int {
	depth := 0
	for j := i; j < len(lines); j++ {
		depth += strings.Count(lines[j], "(") + strings.Count(lines[j], "[") -
			strings.Count(lines[j], ")") - strings.Count(lines[j], "]")
		if depth <= 0 {
			return j
		}
	}
	return len(lines) - 1
}

func typInlineText(s string) string {
	// Raw spans keep their content verbatim.
	parts := strings.Split(s, "`")
	for i := 0; i < len(parts); i += 2 {
		for _, r := range typInline {
			parts[i] = r.re.ReplaceAllString(parts[i], r.repl)
		}
		parts[i] = strings.ReplaceAll(parts[i], `\`, "")
	}
	return strings.TrimSpace(strings.Join(parts, "`"))
}
