package converter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// CSV converts delimited text into one table. The first record is the
// header row.
type CSV struct{}

func (c *CSV) SupportedExtensions() []string { return []string{"csv", "tsv"} }

func (c *CSV) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *CSV) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if opts.Extension == "tsv" {
		r.Comma = '\t'
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, model.ParseError("csv", err)
	}
	if len(records) == 0 {
		return &model.Document{}, nil
	}
	table := model.Table{Headers: records[0], Rows: records[1:]}
	return model.NewDocument("", []model.Block{table}), nil
}

// JSON pretty-prints JSON and JSON Lines documents.
type JSON struct{}

func (c *JSON) SupportedExtensions() []string { return []string{"json", "jsonl", "ndjson"} }

func (c *JSON) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *JSON) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}

	if opts.Extension == "jsonl" || opts.Extension == "ndjson" {
		var out strings.Builder
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 64<<10), 16<<20)
		line := 0
		for sc.Scan() {
			line++
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			if !json.Valid(raw) {
				return nil, model.ParseError("jsonl", fmt.Errorf("line %d: invalid JSON", line))
			}
			out.Write(raw)
			out.WriteByte('\n')
		}
		if err := sc.Err(); err != nil {
			return nil, model.ParseError("jsonl", err)
		}
		return model.NewDocument("", []model.Block{model.Code{Language: "json", Code: out.String()}}), nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return nil, model.ParseError("json", err)
	}
	return model.NewDocument("", []model.Block{model.Code{Language: "json", Code: pretty.String()}}), nil
}

// YAML validates YAML (including multi-document streams) and emits it as a
// code block.
type YAML struct{}

func (c *YAML) SupportedExtensions() []string { return []string{"yaml", "yml"} }

func (c *YAML) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *YAML) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(strings.NewReader(text))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, model.ParseError("yaml", err)
		}
	}
	return model.NewDocument("", []model.Block{model.Code{Language: "yaml", Code: text}}), nil
}

// TOML validates TOML and emits it as a code block.
type TOML struct{}

func (c *TOML) SupportedExtensions() []string { return []string{"toml"} }

func (c *TOML) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

func (c *TOML) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	var v map[string]any
	if err := toml.Unmarshal([]byte(text), &v); err != nil {
		return nil, model.ParseError("toml", err)
	}
	return model.NewDocument("", []model.Block{model.Code{Language: "toml", Code: text}}), nil
}
