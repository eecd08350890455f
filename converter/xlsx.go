package converter

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// XLSX converts workbooks with one page per sheet. Cells carry their
// cached, formatted values; formulas are not evaluated. A Template
// instance handles xltx.
type XLSX struct {
	Template bool
}

func (c *XLSX) SupportedExtensions() []string {
	if c.Template {
		return []string{"xltx"}
	}
	return []string{"xlsx", "xlsm"}
}

func (c *XLSX) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *XLSX) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, model.ParseError("xlsx", err)
	}
	defer f.Close()

	doc := &model.Document{}
	if props, err := f.GetDocProps(); err == nil {
		doc.Title = strings.TrimSpace(props.Title)
		doc.SetMeta("author", props.Creator)
		doc.SetMeta("subject", props.Subject)
	}
	if c.Template {
		doc.SetMeta("template", "true")
	}

	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, model.ParseError("xlsx", err)
		}
		blocks := []model.Block{model.Heading{Level: 2, Text: sheet}}
		if tbl, ok := sheetTable(rows); ok {
			blocks = append(blocks, tbl)
		}
		doc.AddPage(blocks...)
	}
	doc.SetMeta("sheet_count", strconv.Itoa(len(sheets)))
	return doc, nil
}

// sheetTable drops blank rows, pads ragged rows to the widest row and uses
// the first remaining row as the header.
func sheetTable(rows [][]string) (model.Table, bool) {
	var kept [][]string
	width := 0
	for _, row := range rows {
		last := -1
		for i, cell := range row {
			if strings.TrimSpace(cell) != "" {
				last = i
			}
		}
		if last < 0 {
			continue
		}
		row = row[:last+1]
		width = max(width, len(row))
		kept = append(kept, row)
	}
	if len(kept) == 0 {
		return model.Table{}, false
	}
	for i, row := range kept {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			kept[i] = padded
		}
	}
	return model.Table{Headers: kept[0], Rows: kept[1:]}, true
}
