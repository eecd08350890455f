package pdf

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/docmark/model"
)

// run is one positioned text fragment, usually a single glyph.
type run struct {
	X, Y, W float64
	Size    float64
	S       string
}

type cell struct {
	x, end float64
	text   string
}

type line struct {
	y     float64
	size  float64
	cells []cell
}

func (l line) text() string {
	parts := make([]string, len(l.cells))
	for i, c := range l.cells {
		parts[i] = c.text
	}
	return strings.Join(parts, " ")
}

func (l line) texts() []string {
	out := make([]string, len(l.cells))
	for i, c := range l.cells {
		out[i] = c.text
	}
	return out
}

// groupLines clusters runs into lines by baseline, top to bottom, and
// splits each line into cells at gaps wider than two font sizes.
func groupLines(runs []run) []line {
	rs := make([]run, 0, len(runs))
	for _, r := range runs {
		if r.S != "" {
			rs = append(rs, r)
		}
	}
	if len(rs) == 0 {
		return nil
	}
	// PDF y grows upwards. buildLine restores x order within a line.
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Y > rs[j].Y })

	var lines []line
	var cur []run
	flush := func() {
		if len(cur) > 0 {
			if l, ok := buildLine(cur); ok {
				lines = append(lines, l)
			}
		}
		cur = nil
	}
	for _, r := range rs {
		if len(cur) > 0 && math.Abs(r.Y-cur[0].Y) > sameLine(cur[0], r) {
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	return lines
}

func sameLine(a, b run) float64 {
	return math.Max(math.Max(a.Size, b.Size), 1) * 0.4
}

func buildLine(rs []run) (line, bool) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].X < rs[j].X })
	l := line{y: rs[0].Y}
	var b strings.Builder
	var c cell
	prevEnd := math.Inf(-1)
	flush := func() {
		c.text = strings.Join(strings.Fields(b.String()), " ")
		if c.text != "" {
			l.cells = append(l.cells, c)
		}
		b.Reset()
	}
	for i, r := range rs {
		size := math.Max(r.Size, 1)
		l.size = math.Max(l.size, r.Size)
		gap := r.X - prevEnd
		switch {
		case i == 0:
			c = cell{x: r.X}
		case gap > size*2:
			flush()
			c = cell{x: r.X}
		case gap > size*0.15:
			b.WriteByte(' ')
		}
		b.WriteString(r.S)
		prevEnd = r.X + r.W
		c.end = prevEnd
	}
	flush()
	return l, len(l.cells) > 0
}

var (
	bulletPrefix  = regexp.MustCompile(`^[•◦▪‣·∙●○■□–\-*]\s*`)
	orderedPrefix = regexp.MustCompile(`^(\d{1,3}|[a-zA-Z])[.)]\s+`)
	sectionNumber = regexp.MustCompile(`^(\d+(?:\.\d+)+)\.?\s+\S`)
)

// layoutBlocks turns lines into model blocks: tables from aligned
// multi-cell lines, headings from font size or numbering, lists from
// bullet and number prefixes, and paragraphs from the rest.
func layoutBlocks(lines []line) []model.Block {
	body := bodySize(lines)
	var blocks []model.Block
	var para []line
	var items []string
	ordered := false

	flushPara := func() {
		if len(para) > 0 {
			blocks = append(blocks, model.Text{Text: joinParagraph(para)})
			para = nil
		}
	}
	flushList := func() {
		if len(items) > 0 {
			blocks = append(blocks, model.List{Ordered: ordered, Items: items})
			items = nil
		}
	}

	for i := 0; i < len(lines); {
		l := lines[i]

		if j := tableEnd(lines, i); j-i >= 2 {
			flushPara()
			flushList()
			rows := make([][]string, 0, j-i-1)
			for _, r := range lines[i+1 : j] {
				rows = append(rows, r.texts())
			}
			blocks = append(blocks, model.Table{Headers: l.texts(), Rows: rows})
			i = j
			continue
		}

		text := l.text()
		if level := headingLevel(l, text, body); level > 0 {
			flushPara()
			flushList()
			blocks = append(blocks, model.Heading{Level: level, Text: text})
			i++
			continue
		}

		if item, isOrdered, ok := listItem(text); ok {
			flushPara()
			if len(items) > 0 && isOrdered != ordered {
				flushList()
			}
			ordered = isOrdered
			items = append(items, item)
			i++
			continue
		}
		flushList()

		if len(para) > 0 && paragraphBreak(para[len(para)-1], l) {
			flushPara()
		}
		para = append(para, l)
		i++
	}
	flushPara()
	flushList()
	return blocks
}

// tableEnd returns the index after the run of lines aligned with lines[i].
func tableEnd(lines []line, i int) int {
	if len(lines[i].cells) < 2 {
		return i
	}
	j := i + 1
	for j < len(lines) && aligned(lines[i], lines[j]) {
		j++
	}
	return j
}

// aligned reports whether b has the same columns as a, matching each
// column by its left or right edge.
func aligned(a, b line) bool {
	if len(a.cells) != len(b.cells) {
		return false
	}
	tol := math.Max(math.Max(a.size, b.size), 1) * 2
	for k := range a.cells {
		ca, cb := a.cells[k], b.cells[k]
		if math.Abs(ca.x-cb.x) > tol && math.Abs(ca.end-cb.end) > tol {
			return false
		}
	}
	return true
}

func bodySize(lines []line) float64 {
	if len(lines) == 0 {
		return 0
	}
	sizes := make([]float64, len(lines))
	for i, l := range lines {
		sizes[i] = l.size
	}
	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}

// headingLevel returns 0 for body text.
func headingLevel(l line, text string, body float64) int {
	n := utf8.RuneCountInString(text)
	if n == 0 || n > 150 {
		return 0
	}
	if body > 0 && len(l.cells) == 1 {
		switch {
		case l.size >= body*1.4:
			return 1
		case l.size >= body*1.15:
			return 2
		}
	}
	if n > 100 {
		return 0
	}
	if m := sectionNumber.FindStringSubmatch(text); m != nil {
		return min(strings.Count(m[1], ".")+1, 6)
	}
	lower := strings.ToLower(text)
	for _, p := range []string{"chapter ", "section ", "part ", "article ", "appendix ", "annex ", "capítulo ", "sección ", "anexo "} {
		if strings.HasPrefix(lower, p) && len(lower) > len(p) && (unicode.IsDigit(rune(lower[len(p)])) || strings.ContainsRune("ivxlc", rune(lower[len(p)]))) {
			return 2
		}
	}
	if n >= 3 && n <= 80 && isAllCaps(text) && len(strings.Fields(text)) <= 12 {
		return 2
	}
	return 0
}

func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters >= 2
}

func listItem(text string) (string, bool, bool) {
	if m := orderedPrefix.FindString(text); m != "" && len(text) > len(m) {
		return text[len(m):], true, true
	}
	if m := bulletPrefix.FindString(text); m != "" && len(text) > len(m) {
		// "-5 degrees" is text, "- item" and "•item" are bullets.
		if m == "-" || m == "*" {
			return "", false, false
		}
		return text[len(m):], false, true
	}
	return "", false, false
}

// paragraphBreak reports a vertical gap larger than normal line spacing.
func paragraphBreak(prev, next line) bool {
	lead := math.Max(math.Max(prev.size, next.size), 1)
	return prev.y-next.y > lead*1.8
}

func joinParagraph(lines []line) string {
	var b strings.Builder
	for i, l := range lines {
		t := l.text()
		if i > 0 {
			prev := b.String()
			if strings.HasSuffix(prev, "-") && startsLower(t) {
				// Rejoin a word hyphenated across lines.
				s := prev[:len(prev)-1]
				b.Reset()
				b.WriteString(s)
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t)
	}
	return b.String()
}

func startsLower(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLower(r)
}
