package converter

import (
	"strings"

	"github.com/brunobiangulo/docmark/model"
)

// blockBuilder collects line-oriented markup into blocks. Consecutive text
// lines join into one paragraph and consecutive items into one list.
type blockBuilder struct {
	blocks  []model.Block
	para    []string
	items   []string
	ordered bool
}

func (b *blockBuilder) text(line string) {
	if len(b.items) > 0 {
		b.flushList()
	}
	if line = strings.TrimSpace(line); line != "" {
		b.para = append(b.para, line)
	}
}

// item starts a list item; continuation lines go through cont.
func (b *blockBuilder) item(ordered bool, text string) {
	b.flushPara()
	if len(b.items) > 0 && b.ordered != ordered {
		b.flushList()
	}
	b.ordered = ordered
	b.items = append(b.items, strings.TrimSpace(text))
}

// cont appends a wrapped line to the open list item or paragraph.
func (b *blockBuilder) cont(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if n := len(b.items); n > 0 {
		b.items[n-1] += " " + line
		return
	}
	b.para = append(b.para, line)
}

func (b *blockBuilder) inList() bool { return len(b.items) > 0 }

func (b *blockBuilder) add(blk model.Block) {
	b.flush()
	b.blocks = append(b.blocks, blk)
}

func (b *blockBuilder) heading(level int, text string) {
	b.add(model.Heading{Level: max(1, min(level, 6)), Text: strings.TrimSpace(text)})
}

func (b *blockBuilder) flushPara() {
	if len(b.para) > 0 {
		b.blocks = append(b.blocks, model.Text{Text: strings.Join(b.para, " ")})
		b.para = nil
	}
}

func (b *blockBuilder) flushList() {
	if len(b.items) > 0 {
		b.blocks = append(b.blocks, model.List{Ordered: b.ordered, Items: b.items})
		b.items = nil
	}
}

func (b *blockBuilder) flush() {
	b.flushPara()
	b.flushList()
}

func (b *blockBuilder) done() []model.Block {
	b.flush()
	return b.blocks
}

// leadingTitle splits off a level-1 heading that opens blocks.
func leadingTitle(blocks []model.Block) (string, []model.Block) {
	if len(blocks) > 0 {
		if h, ok := blocks[0].(model.Heading); ok && h.Level == 1 {
			return h.Text, blocks[1:]
		}
	}
	return "", blocks
}

// indentOf counts leading spaces, with tabs as four.
func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}
