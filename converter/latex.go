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

// LaTeX converts LaTeX sources. Only the document body is rendered; the
// preamble contributes title, author and date.
type LaTeX struct{}

func (c *LaTeX) SupportedExtensions() []string { return []string{"tex", "latex", "ltx"} }

func (c *LaTeX) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

var texSections = []struct {
	cmd   string
	level int
}{
	{`\part`, 1},
	{`\chapter`, 1},
	{`\section`, 2},
	{`\subsection`, 3},
	{`\subsubsection`, 4},
	{`\paragraph`, 5},
	{`\subparagraph`, 6},
}

var (
	texBegin   = regexp.MustCompile(`^\\begin\{([^}]+)\}(?:\[[^\]]*\])?(?:\{([^}]*)\})?`)
	texEnd     = regexp.MustCompile(`^\\end\{([^}]+)\}`)
	texComment = regexp.MustCompile(`(^|[^\\])%.*$`)
	texItem    = regexp.MustCompile(`^\\item(?:\[([^\]]*)\])?\s*(.*)$`)
	texGraphic = regexp.MustCompile(`\\includegraphics(?:\[[^\]]*\])?\{([^}]+)\}`)
	texClass   = regexp.MustCompile(`\\documentclass(?:\[[^\]]*\])?\{([^}]+)\}`)
	texLang    = regexp.MustCompile(`language=(\w+)`)
	texRule    = regexp.MustCompile(`\\(?:hline|toprule|midrule|bottomrule|cline\{[^}]*\})`)

	texInline = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`\\textbf\{([^{}]*)\}`), "**$1**"},
		{regexp.MustCompile(`\\(?:textit|emph|textsl)\{([^{}]*)\}`), "*$1*"},
		{regexp.MustCompile(`\\texttt\{([^{}]*)\}`), "`$1`"},
		{regexp.MustCompile(`\\verb\|([^|]*)\|`), "`$1`"},
		{regexp.MustCompile(`\\href\{([^{}]*)\}\{([^{}]*)\}`), "[$2]($1)"},
		{regexp.MustCompile(`\\url\{([^{}]*)\}`), "<$1>"},
		{regexp.MustCompile(`\\(?:cite|citep|citet)(?:\[[^\]]*\])?\{([^{}]*)\}`), "[$1]"},
		{regexp.MustCompile(`\\footnote\{([^{}]*)\}`), " ($1)"},
		{regexp.MustCompile(`\\(?:label|index)\{[^{}]*\}`), ""},
		{regexp.MustCompile(`\\(?:ref|eqref|pageref)\{([^{}]*)\}`), "$1"},
		{regexp.MustCompile(`\\(?:textrm|textsf|textup|textnormal|mbox|text)\{([^{}]*)\}`), "$1"},
		{regexp.MustCompile(`\\(?:LaTeX)\b(?:\{\})?`), "LaTeX"},
		{regexp.MustCompile(`\\(?:TeX)\b(?:\{\})?`), "TeX"},
		{regexp.MustCompile(`\\ldots\b(?:\{\})?|\\dots\b(?:\{\})?`), "…"},
	}

	texEscapes = strings.NewReplacer(`\%`, "%", `\&`, "&", `\_`, "_", `\#`, "#", `\$`, "$",
		`\{`, "{", `\}`, "}", "---", "—", "--", "–", "``", "“", "''", "”", `\\`, " ", "~", " ")
)

var (
	texMath     = map[string]bool{"equation": true, "equation*": true, "align": true, "align*": true, "gather": true, "gather*": true, "math": true, "displaymath": true, "multline": true, "multline*": true}
	texVerbatim = map[string]bool{"verbatim": true, "lstlisting": true, "minted": true, "Verbatim": true}
	texQuote    = map[string]bool{"quote": true, "quotation": true, "verse": true, "abstract": true}
	texLists    = map[string]bool{"itemize": true, "enumerate": true, "description": true}
	texTables   = map[string]bool{"tabular": true, "tabular*": true, "tabularx": true, "longtable": true}
)

func (c *LaTeX) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	doc := &model.Document{}
	doc.Title = texInlineText(texArg(text, `\title`))
	var authors []string
	for _, a := range strings.Split(texArg(text, `\author`), `\and`) {
		if a = texInlineText(a); a != "" {
			authors = append(authors, a)
		}
	}
	doc.SetMeta("author", strings.Join(authors, ", "))
	doc.SetMeta("date", texInlineText(texArg(text, `\date`)))
	if m := texClass.FindStringSubmatch(text); m != nil {
		doc.SetMeta("document_class", m[1])
	}

	body := text
	if i := strings.Index(text, `\begin{document}`); i >= 0 {
		body = text[i+len(`\begin{document}`):]
		if j := strings.Index(body, `\end{document}`); j >= 0 {
			body = body[:j]
		}
	}

	doc.AddPage(texBlocks(strings.Split(body, "\n"))...)
	return doc, nil
}

func texBlocks(lines []string) []model.Block {
	var b blockBuilder
	var lists []string

	for i := 0; i < len(lines); i++ {
		raw := lines[i]
		line := strings.TrimSpace(texComment.ReplaceAllString(raw, "$1"))
		if line == "" {
			if len(lists) == 0 {
				b.flush()
			}
			continue
		}

		if m := texBegin.FindStringSubmatch(line); m != nil {
			env := m[1]
			switch {
			case texVerbatim[env]:
				content, next := texEnvBody(lines, i, env, false)
				lang := ""
				if env == "minted" {
					lang = m[2]
				} else if l := texLang.FindStringSubmatch(line); l != nil {
					lang = strings.ToLower(l[1])
				}
				b.add(model.Code{Language: lang, Code: content})
				i = next
				continue
			case texMath[env]:
				content, next := texEnvBody(lines, i, env, true)
				b.add(model.RawMarkdown{Markdown: "$$\n" + content + "\n$$"})
				i = next
				continue
			case texQuote[env]:
				content, next := texEnvBody(lines, i, env, true)
				if env == "abstract" {
					b.heading(2, "Abstract")
					for _, blk := range texBlocks(strings.Split(content, "\n")) {
						b.add(blk)
					}
				} else {
					b.add(model.Quote{Text: texInlineText(strings.Join(strings.Fields(content), " "))})
				}
				i = next
				continue
			case texTables[env]:
				content, next := texEnvBody(lines, i, env, true)
				if t := texTable(content); t.ColumnCount() > 0 {
					b.add(t)
				}
				i = next
				continue
			case texLists[env]:
				lists = append(lists, env)
				b.flush()
				continue
			}
			if rest := strings.TrimSpace(line[len(m[0]):]); rest != "" {
				b.text(texInlineText(rest))
			}
			continue
		}
		if m := texEnd.FindStringSubmatch(line); m != nil {
			if texLists[m[1]] && len(lists) > 0 {
				lists = lists[:len(lists)-1]
				b.flush()
			}
			continue
		}

		if m := texItem.FindStringSubmatch(line); m != nil && len(lists) > 0 {
			env := lists[len(lists)-1]
			text := texInlineText(m[2])
			if env == "description" && m[1] != "" {
				text = "**" + texInlineText(m[1]) + "** " + text
			}
			b.item(env == "enumerate", text)
			continue
		}

		if level, title, ok := texSection(line); ok {
			b.heading(level, texInlineText(title))
			continue
		}
		if m := texGraphic.FindStringSubmatch(line); m != nil {
			b.add(model.RawMarkdown{Markdown: fmt.Sprintf("![](%s)", m[1])})
			continue
		}
		if caption := texArg(line, `\caption`); caption != "" {
			b.add(model.Text{Text: "*" + texInlineText(caption) + "*"})
			continue
		}
		if texSkipLine(line) {
			continue
		}

		if len(lists) > 0 && b.inList() {
			b.cont(texInlineText(line))
			continue
		}
		b.text(texInlineText(line))
	}
	return b.done()
}

// texEnvBody returns the lines between \begin{env} on line start and the
// matching \end{env}, and the index of the \end line.
func texEnvBody(lines []string, start int, env string, trim bool) (string, int) {
	end := `\end{` + env + `}`
	first := lines[start]
	if i := strings.Index(first, `\begin{`+env+`}`); i >= 0 {
		first = first[i:]
	}
	if j := strings.Index(first, end); j >= 0 {
		inner := texBegin.ReplaceAllString(first[:j], "")
		return strings.TrimSpace(inner), start
	}
	var out []string
	i := start + 1
	for ; i < len(lines); i++ {
		if j := strings.Index(lines[i], end); j >= 0 {
			if pre := lines[i][:j]; strings.TrimSpace(pre) != "" {
				out = append(out, pre)
			}
			break
		}
		l := lines[i]
		if trim {
			l = strings.TrimSpace(texComment.ReplaceAllString(l, "$1"))
		}
		out = append(out, l)
	}
	return strings.Trim(strings.Join(out, "\n"), "\n"), i
}

func texTable(content string) model.Table {
	var rows [][]string
	for _, row := range strings.Split(content, `\\`) {
		row = texRule.ReplaceAllString(row, "")
		if strings.TrimSpace(row) == "" {
			continue
		}
		var cells []string
		for _, cell := range strings.Split(row, "&") {
			cells = append(cells, texInlineText(strings.Join(strings.Fields(cell), " ")))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return model.Table{}
	}
	return model.Table{Headers: rows[0], Rows: rows[1:]}
}

func texSection(line string) (int, string, bool) {
	for _, s := range texSections {
		if !strings.HasPrefix(line, s.cmd) {
			continue
		}
		rest := strings.TrimPrefix(line[len(s.cmd):], "*")
		if rest == "" || (rest[0] != '{' && rest[0] != '[') {
			continue
		}
		if title := texArg(line, s.cmd); title != "" {
			return s.level, title, true
		}
	}
	return 0, "", false
}

// texArg returns the brace-balanced first mandatory argument of cmd in s.
func texArg(s, cmd string) string {
	i := strings.Index(s, cmd)
	for i >= 0 {
		rest := s[i+len(cmd):]
		rest = strings.TrimPrefix(rest, "*")
		if strings.HasPrefix(rest, "[") {
			if j := strings.Index(rest, "]"); j >= 0 {
				rest = rest[j+1:]
			}
		}
		rest = strings.TrimLeft(rest, " ")
		if strings.HasPrefix(rest, "{") {
			depth := 0
			for k, r := range rest {
				switch r {
				case '{':
					depth++
				case '}':
					depth--
					if depth == 0 {
						return strings.TrimSpace(rest[1:k])
					}
				}
			}
			return ""
		}
		next := strings.Index(s[i+len(cmd):], cmd)
		if next < 0 {
			break
		}
		i += len(cmd) + next
	}
	return ""
}

func texSkipLine(line string) bool {
	for _, prefix := range []string{`\maketitle`, `\tableofcontents`, `\newpage`, `\clearpage`,
		`\title`, `\author`, `\date`, `\centering`, `\bibliographystyle`, `\bibliography`,
		`\usepackage`, `\documentclass`, `\newcommand`, `\renewcommand`, `\def`, `\setlength`,
		`\vspace`, `\hspace`, `\noindent`, `\label`, `\printbibliography`, `\appendix`} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func texInlineText(s string) string {
	if s == "" {
		return ""
	}
	// Two passes resolve one level of nesting such as \textbf{\emph{x}}.
	for range 2 {
		for _, r := range texInline {
			s = r.re.ReplaceAllString(s, r.repl)
		}
	}
	s = texEscapes.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
