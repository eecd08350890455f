package model

import (
	"fmt"
	"strings"
)

// Markdown serializes the document. Multi-page documents get a
// "---" / "## Page N" separator before each page.
func (d *Document) Markdown() string {
	var b strings.Builder
	if d.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", d.Title)
	}
	multi := len(d.Pages) > 1
	for _, p := range d.Pages {
		if multi {
			fmt.Fprintf(&b, "\n---\n\n## Page %d\n\n", p.Number)
		}
		b.WriteString(p.Markdown())
	}
	return b.String()
}

// Markdown renders the page's blocks separated by blank lines.
func (p Page) Markdown() string {
	parts := make([]string, 0, len(p.Blocks)+1)
	for _, blk := range p.Blocks {
		if s := BlockMarkdown(blk); s != "" {
			parts = append(parts, s)
		}
	}
	if p.RenderedImage != nil {
		parts = append(parts, fmt.Sprintf("![Page %d](%s)\n", p.Number, p.RenderedImage.FileName()))
	}
	return strings.Join(parts, "\n")
}

// BlockMarkdown renders one block, terminated by a newline.
func BlockMarkdown(blk Block) string {
	switch v := blk.(type) {
	case Text:
		if strings.TrimSpace(v.Text) == "" {
			return ""
		}
		return v.Text + "\n"
	case Heading:
		level := min(max(v.Level, 1), 6)
		return strings.Repeat("#", level) + " " + v.Text + "\n"
	case Image:
		alt := v.Image.AltText
		if alt == "" {
			alt = v.Image.ID
		}
		s := fmt.Sprintf("![%s](%s)\n", alt, v.Image.FileName())
		if v.Image.Description != "" {
			s += "\n*" + strings.TrimSpace(v.Image.Description) + "*\n"
		}
		return s
	case Table:
		return tableMarkdown(v)
	case List:
		var b strings.Builder
		for i, item := range v.Items {
			if v.Ordered {
				fmt.Fprintf(&b, "%d. %s\n", i+1, item)
			} else {
				fmt.Fprintf(&b, "- %s\n", item)
			}
		}
		return b.String()
	case Code:
		fence := "```"
		for strings.Contains(v.Code, fence) {
			fence += "`"
		}
		return fence + v.Language + "\n" + strings.TrimRight(v.Code, "\n") + "\n" + fence + "\n"
	case Quote:
		lines := strings.Split(strings.TrimRight(v.Text, "\n"), "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight("> "+l, " ")
		}
		return strings.Join(lines, "\n") + "\n"
	case RawMarkdown:
		if v.Markdown == "" {
			return ""
		}
		if strings.HasSuffix(v.Markdown, "\n") {
			return v.Markdown
		}
		return v.Markdown + "\n"
	}
	return ""
}

func tableMarkdown(t Table) string {
	cols := t.ColumnCount()
	if cols == 0 {
		return ""
	}
	headers := t.Headers
	rows := t.Rows
	if !t.HasHeaders() {
		// Pipe tables need a header row; promote an empty one.
		headers = make([]string, cols)
	}
	var b strings.Builder
	writeRow(&b, headers, cols)
	sep := make([]string, cols)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep, cols)
	for _, r := range rows {
		writeRow(&b, r, cols)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string, cols int) {
	b.WriteString("|")
	for i := 0; i < cols; i++ {
		cell := ""
		if i < len(cells) {
			cell = escapeCell(cells[i])
		}
		b.WriteString(" " + cell + " |")
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.TrimSpace(s)
}
