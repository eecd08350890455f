package converter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// DefaultSQLiteRowLimit caps the rows rendered per table.
const DefaultSQLiteRowLimit = 1000

// SQLite converts a database file with one page per user table. The
// payload is staged in a temp file because the driver needs a path.
type SQLite struct {
	RowLimit int
}

func (c *SQLite) SupportedExtensions() []string { return []string{"sqlite", "sqlite3", "db"} }

func (c *SQLite) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *SQLite) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	if !strings.HasPrefix(string(data[:min(len(data), 16)]), "SQLite format 3") {
		return nil, model.ParseError("sqlite", fmt.Errorf("missing SQLite header"))
	}

	tmp, err := os.CreateTemp("", "docmark-*.sqlite")
	if err != nil {
		return nil, model.IOError(opts.Name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, model.IOError(opts.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, model.IOError(opts.Name, err)
	}

	db, err := sql.Open("sqlite3", "file:"+tmp.Name()+"?mode=ro&immutable=1")
	if err != nil {
		return nil, model.ParseError("sqlite", err)
	}
	defer db.Close()

	tables, err := sqliteTables(ctx, db)
	if err != nil {
		return nil, model.ParseError("sqlite", err)
	}

	limit := c.RowLimit
	if limit <= 0 {
		limit = DefaultSQLiteRowLimit
	}
	doc := &model.Document{}
	doc.SetMeta("table_count", strconv.Itoa(len(tables)))
	for _, name := range tables {
		blocks, err := sqliteTablePage(ctx, db, name, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, model.ParseError("sqlite", fmt.Errorf("table %s: %w", name, err))
		}
		doc.AddPage(blocks...)
	}
	return doc, nil
}

func sqliteTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func sqliteTablePage(ctx context.Context, db *sql.DB, name string, limit int) ([]model.Block, error) {
	quoted := `"` + strings.ReplaceAll(name, `"`, `""`) + `"`

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoted, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	table := model.Table{Headers: cols}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = sqliteValue(v)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	blocks := []model.Block{model.Heading{Level: 2, Text: name}, table}
	if total > limit {
		blocks = append(blocks, model.Text{Text: fmt.Sprintf("Showing %d of %d rows.", limit, total)})
	}
	return blocks, nil
}

func sqliteValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return fmt.Sprintf("<blob %d bytes>", len(x))
	default:
		return fmt.Sprint(x)
	}
}
