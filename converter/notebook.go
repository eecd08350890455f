package converter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// Notebook converts Jupyter notebooks: markdown cells pass through, code
// cells become fenced blocks followed by their text and image outputs.
type Notebook struct{}

func (c *Notebook) SupportedExtensions() []string { return []string{"ipynb"} }

func (c *Notebook) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

type notebook struct {
	Cells    []notebookCell `json:"cells"`
	Metadata struct {
		KernelSpec struct {
			Language    string `json:"language"`
			DisplayName string `json:"display_name"`
		} `json:"kernelspec"`
		LanguageInfo struct {
			Name string `json:"name"`
		} `json:"language_info"`
		Title string `json:"title"`
	} `json:"metadata"`
}

type notebookCell struct {
	CellType string           `json:"cell_type"`
	Source   multiline        `json:"source"`
	Outputs  []notebookOutput `json:"outputs"`
}

type notebookOutput struct {
	OutputType string               `json:"output_type"`
	Text       multiline            `json:"text"`
	Data       map[string]multiline `json:"data"`
	EName      string               `json:"ename"`
	EValue     string               `json:"evalue"`
}

// multiline accepts nbformat's string-or-array-of-strings encoding.
type multiline string

func (m *multiline) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = multiline(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	*m = multiline(strings.Join(parts, ""))
	return nil
}

func (c *Notebook) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return &model.Document{}, nil
	}
	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, model.ParseError("ipynb", err)
	}

	lang := nb.Metadata.LanguageInfo.Name
	if lang == "" {
		lang = nb.Metadata.KernelSpec.Language
	}

	doc := &model.Document{Title: nb.Metadata.Title}
	doc.SetMeta("kernel", nb.Metadata.KernelSpec.DisplayName)
	doc.SetMeta("language", lang)

	var blocks []model.Block
	images := 0
	for _, cell := range nb.Cells {
		src := strings.TrimRight(string(cell.Source), "\n")
		switch cell.CellType {
		case "markdown":
			if src != "" {
				blocks = append(blocks, model.RawMarkdown{Markdown: src})
			}
		case "code":
			if src != "" {
				blocks = append(blocks, model.Code{Language: lang, Code: src})
			}
			for _, out := range cell.Outputs {
				blk, ok := outputBlock(out, opts, &images)
				if ok {
					blocks = append(blocks, blk)
				}
			}
		default:
			if src != "" {
				blocks = append(blocks, model.Text{Text: src})
			}
		}
	}
	doc.AddPage(blocks...)
	return doc, nil
}

func outputBlock(out notebookOutput, opts model.Options, images *int) (model.Block, bool) {
	switch out.OutputType {
	case "stream":
		if out.Text == "" {
			return nil, false
		}
		return model.Code{Code: strings.TrimRight(string(out.Text), "\n")}, true
	case "error":
		return model.Quote{Text: fmt.Sprintf("%s: %s", out.EName, out.EValue)}, true
	case "execute_result", "display_data":
		for _, mime := range []string{"image/png", "image/jpeg"} {
			b64, ok := out.Data[mime]
			if !ok || !opts.ExtractImages {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b64)))
			if err != nil {
				continue
			}
			*images++
			w, h := imageSize(raw)
			return model.Image{Image: model.ExtractedImage{
				ID:       fmt.Sprintf("image_%d", *images),
				Data:     raw,
				MIMEType: mime,
				Width:    w,
				Height:   h,
			}}, true
		}
		if txt, ok := out.Data["text/markdown"]; ok {
			return model.RawMarkdown{Markdown: string(txt)}, true
		}
		if txt, ok := out.Data["text/plain"]; ok {
			return model.Code{Code: strings.TrimRight(string(txt), "\n")}, true
		}
	}
	return nil, false
}
