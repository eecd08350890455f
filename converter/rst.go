package converter

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// RST converts reStructuredText. Section levels follow the order in which
// adornment styles first appear, as docutils assigns them.
type RST struct{}

func (c *RST) SupportedExtensions() []string { return []string{"rst", "rest"} }

func (c *RST) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

var (
	rstDirective  = regexp.MustCompile(`^\.\.\s+([\w:-]+)::\s*(.*)$`)
	rstBullet     = regexp.MustCompile(`^[-*+•]\s+(.*)$`)
	rstEnumerated = regexp.MustCompile(`^(?:\d+|#)[.)]\s+(.*)$`)
	rstField      = regexp.MustCompile(`^:([\w][\w -]*):\s*(.*)$`)
	rstLiteral    = regexp.MustCompile("``([^`]+)``")
	rstLink       = regexp.MustCompile("`([^`<]+?)\\s*<([^>`]+)>`__?")
	rstRole       = regexp.MustCompile(":([\\w-]+):`([^`]+)`")
	rstRef        = regexp.MustCompile("`([^`]+)`__?")
)

var rstAdmonitions = map[string]string{
	"note": "Note", "warning": "Warning", "tip": "Tip", "hint": "Hint", "important": "Important",
	"caution": "Caution", "attention": "Attention", "danger": "Danger", "error": "Error",
	"seealso": "See also",
}

func (c *RST) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{}
	p := rstParser{lines: strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"), doc: doc}
	title, blocks := leadingTitle(p.parse())
	doc.Title = title
	doc.AddPage(blocks...)
	return doc, nil
}

type rstParser struct {
	lines  []string
	doc    *model.Document
	b      blockBuilder
	styles []string
}

func (p *rstParser) parse() []model.Block {
	lines := p.lines
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			p.b.flush()
			continue

		case i+2 < len(lines) && isAdornment(trimmed) && strings.TrimSpace(lines[i+1]) != "" &&
			strings.TrimSpace(lines[i+2]) == trimmed:
			p.b.heading(p.level("o"+trimmed[:1]), strings.TrimSpace(lines[i+1]))
			i += 2
			continue

		case indentOf(line) == 0 && i+1 < len(lines) && isAdornment(strings.TrimSpace(lines[i+1])) &&
			utf8.RuneCountInString(strings.TrimSpace(lines[i+1])) >= utf8.RuneCountInString(trimmed):
			p.b.heading(p.level(strings.TrimSpace(lines[i+1])[:1]), rstInline(trimmed))
			i++
			continue

		case strings.HasPrefix(trimmed, ".."):
			i = p.directive(i)
			continue
		}

		if m := rstField.FindStringSubmatch(trimmed); m != nil && indentOf(line) == 0 {
			name := strings.ToLower(m[1])
			if len(p.b.blocks) == 0 || (len(p.b.blocks) == 1 && p.isHeading(0)) {
				p.doc.SetMeta(name, rstInline(m[2]))
			} else {
				p.b.text(fmt.Sprintf("**%s:** %s", m[1], rstInline(m[2])))
				p.b.flush()
			}
			continue
		}
		if m := rstBullet.FindStringSubmatch(trimmed); m != nil {
			p.b.item(false, rstInline(m[1]))
			continue
		}
		if m := rstEnumerated.FindStringSubmatch(trimmed); m != nil {
			p.b.item(true, rstInline(m[1]))
			continue
		}

		if indentOf(line) > 0 {
			if p.b.inList() {
				p.b.cont(rstInline(trimmed))
				continue
			}
			if len(p.b.para) == 0 {
				body, next := indentedBlock(lines, i, 0)
				p.b.add(model.Quote{Text: rstInline(strings.Join(strings.Fields(body), " "))})
				i = next - 1
				continue
			}
		}

		if strings.HasSuffix(trimmed, "::") {
			lead := strings.TrimSuffix(trimmed, "::")
			switch {
			case lead == "":
			case strings.HasSuffix(lead, " "):
				p.b.text(rstInline(strings.TrimSpace(lead)))
			default:
				p.b.text(rstInline(lead + ":"))
			}
			body, next := indentedBlock(lines, i+1, indentOf(line))
			if body != "" {
				p.b.add(model.Code{Code: body})
			}
			i = next - 1
			continue
		}

		p.b.text(rstInline(trimmed))
	}
	return p.b.done()
}

func (p *rstParser) isHeading(i int) bool {
	_, ok := p.b.blocks[i].(model.Heading)
	return ok
}

// level maps an adornment style to its section depth.
func (p *rstParser) level(style string) int {
	for i, s := range p.styles {
		if s == style {
			return i + 1
		}
	}
	p.styles = append(p.styles, style)
	return len(p.styles)
}

// directive renders the explicit markup block starting at line i and
// returns the index of its last line.
func (p *rstParser) directive(i int) int {
	line := p.lines[i]
	base := indentOf(line)
	body, next := indentedBlock(p.lines, i+1, base)

	m := rstDirective.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		// Comments, link targets and substitution definitions.
		return next - 1
	}
	name, arg := strings.ToLower(m[1]), strings.TrimSpace(m[2])
	options, content := splitDirectiveOptions(body)

	switch name {
	case "code", "code-block", "sourcecode":
		p.b.add(model.Code{Language: arg, Code: content})
	case "image", "figure":
		alt := options["alt"]
		p.b.add(model.RawMarkdown{Markdown: fmt.Sprintf("![%s](%s)", alt, arg)})
		if name == "figure" && content != "" {
			p.b.add(model.Text{Text: "*" + rstInline(strings.Join(strings.Fields(content), " ")) + "*"})
		}
	case "math":
		p.b.add(model.RawMarkdown{Markdown: "$$\n" + strings.TrimSpace(arg+"\n"+content) + "\n$$"})
	case "admonition":
		p.b.add(model.Quote{Text: "**" + arg + ":** " + rstInline(strings.Join(strings.Fields(content), " "))})
	default:
		if label, ok := rstAdmonitions[name]; ok {
			text := strings.TrimSpace(arg + " " + strings.Join(strings.Fields(content), " "))
			p.b.add(model.Quote{Text: "**" + label + ":** " + rstInline(text)})
		}
	}
	return next - 1
}

// splitDirectiveOptions separates a directive body's leading :key: value
// lines from its content.
func splitDirectiveOptions(body string) (map[string]string, string) {
	options := map[string]string{}
	lines := strings.Split(body, "\n")
	i := 0
	for ; i < len(lines); i++ {
		m := rstField.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			break
		}
		options[strings.ToLower(m[1])] = m[2]
	}
	return options, strings.Trim(strings.Join(lines[i:], "\n"), "\n")
}

// indentedBlock collects the lines from start that are blank or indented
// deeper than base, dedented by their common indent. It returns the block
// and the index of the first line after it.
func indentedBlock(lines []string, start, base int) (string, int) {
	end := start
	common := -1
	for end < len(lines) {
		l := lines[end]
		if strings.TrimSpace(l) == "" {
			end++
			continue
		}
		ind := indentOf(l)
		if ind <= base {
			break
		}
		if common < 0 || ind < common {
			common = ind
		}
		end++
	}
	// Trailing blank lines belong to whatever follows.
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	out := make([]string, 0, end-start)
	for _, l := range lines[start:end] {
		out = append(out, dedent(l, common))
	}
	return strings.Trim(strings.Join(out, "\n"), "\n"), end
}

func dedent(line string, n int) string {
	line = strings.ReplaceAll(line, "\t", "    ")
	if n <= 0 || len(line) < n {
		return strings.TrimLeft(line, " ")
	}
	return line[n:]
}

func isAdornment(s string) bool {
	if len(s) < 2 || !strings.ContainsRune("=-~^\"'`+*#:._", rune(s[0])) {
		return false
	}
	return strings.Count(s, s[:1]) == len(s)
}

func rstInline(s string) string {
	s = rstLiteral.ReplaceAllString(s, "`$1`")
	s = rstLink.ReplaceAllString(s, "[$1]($2)")
	s = rstRole.ReplaceAllStringFunc(s, func(m string) string {
		sub := rstRole.FindStringSubmatch(m)
		text := sub[2]
		switch sub[1] {
		case "code", "literal", "file", "command", "kbd", "samp":
			return "`" + text + "`"
		case "emphasis":
			return "*" + text + "*"
		case "strong":
			return "**" + text + "**"
		}
		if i := strings.Index(text, "<"); i > 0 {
			text = strings.TrimSpace(text[:i])
		}
		return text
	})
	return rstRef.ReplaceAllString(s, "$1")
}
