package model

import "strings"

// BlockKind names a Block variant.
type BlockKind string

const (
	KindText     BlockKind = "text"
	KindHeading  BlockKind = "heading"
	KindImage    BlockKind = "image"
	KindTable    BlockKind = "table"
	KindList     BlockKind = "list"
	KindCode     BlockKind = "code"
	KindQuote    BlockKind = "quote"
	KindMarkdown BlockKind = "markdown"
)

// Block is one semantic unit of page content. The set of implementations
// is closed.
type Block interface {
	Kind() BlockKind
	block()
}

// Text is a plain paragraph.
type Text struct {
	Text string `json:"text"`
}

// Heading is a section heading; Level is 1-based.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Image references an extracted image.
type Image struct {
	Image ExtractedImage `json:"image"`
}

// Table is a header row plus a row matrix. Headers may be empty.
type Table struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// List is an ordered or unordered list of items.
type List struct {
	Ordered bool     `json:"ordered"`
	Items   []string `json:"items"`
}

// Code is a fenced code block.
type Code struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// Quote is a block quote.
type Quote struct {
	Text string `json:"text"`
}

// RawMarkdown is passed through to the output unchanged.
type RawMarkdown struct {
	Markdown string `json:"markdown"`
}

func (Text) Kind() BlockKind        { return KindText }
func (Heading) Kind() BlockKind     { return KindHeading }
func (Image) Kind() BlockKind       { return KindImage }
func (Table) Kind() BlockKind       { return KindTable }
func (List) Kind() BlockKind        { return KindList }
func (Code) Kind() BlockKind        { return KindCode }
func (Quote) Kind() BlockKind       { return KindQuote }
func (RawMarkdown) Kind() BlockKind { return KindMarkdown }

func (Text) block()        {}
func (Heading) block()     {}
func (Image) block()       {}
func (Table) block()       {}
func (List) block()        {}
func (Code) block()        {}
func (Quote) block()       {}
func (RawMarkdown) block() {}

// ColumnCount is the widest of the header row and every data row.
func (t Table) ColumnCount() int {
	n := len(t.Headers)
	for _, r := range t.Rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

// HasHeaders reports whether the table carries a non-blank header row.
func (t Table) HasHeaders() bool {
	for _, h := range t.Headers {
		if strings.TrimSpace(h) != "" {
			return true
		}
	}
	return false
}

func blockText(b Block) string {
	switch v := b.(type) {
	case Text:
		return v.Text
	case Heading:
		return v.Text
	case Image:
		if v.Image.Description != "" {
			return v.Image.Description
		}
		return v.Image.AltText
	case Table:
		var rows []string
		if v.HasHeaders() {
			rows = append(rows, strings.Join(v.Headers, " "))
		}
		for _, r := range v.Rows {
			rows = append(rows, strings.Join(r, " "))
		}
		return strings.Join(rows, "\n")
	case List:
		return strings.Join(v.Items, "\n")
	case Code:
		return v.Code
	case Quote:
		return v.Text
	case RawMarkdown:
		return v.Markdown
	}
	return ""
}
