package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDocumentMarkdownSinglePage(t *testing.T) {
	doc := NewDocument("Report", []Block{
		Heading{Level: 2, Text: "Summary"},
		Text{Text: "All good."},
		List{Items: []string{"one", "two"}},
		List{Ordered: true, Items: []string{"first", "second"}},
		Code{Language: "go", Code: "fmt.Println(1)"},
		Quote{Text: "line a\nline b"},
	})

	got := doc.Markdown()
	want := "# Report\n\n" +
		"## Summary\n\n" +
		"All good.\n\n" +
		"- one\n- two\n\n" +
		"1. first\n2. second\n\n" +
		"```go\nfmt.Println(1)\n```\n\n" +
		"> line a\n> line b\n"
	if got != want {
		t.Errorf("Markdown() mismatch\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func TestDocumentMarkdownPageSeparators(t *testing.T) {
	doc := NewDocument("", []Block{Text{Text: "a"}}, []Block{Text{Text: "b"}})
	got := doc.Markdown()
	for _, want := range []string{"## Page 1\n\na\n", "## Page 2\n\nb\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("Markdown() = %q, missing %q", got, want)
		}
	}
	if strings.Count(got, "\n---\n") != 2 {
		t.Errorf("expected two separators, got %q", got)
	}
}

func TestTableMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		want  string
	}{
		{
			name:  "headers",
			table: Table{Headers: []string{"Name", "Age"}, Rows: [][]string{{"Ann", "31"}}},
			want:  "| Name | Age |\n| --- | --- |\n| Ann | 31 |\n",
		},
		{
			name:  "ragged rows padded",
			table: Table{Headers: []string{"A", "B"}, Rows: [][]string{{"1"}}},
			want:  "| A | B |\n| --- | --- |\n| 1 |  |\n",
		},
		{
			name:  "pipes escaped",
			table: Table{Headers: []string{"x"}, Rows: [][]string{{"a|b"}}},
			want:  "| x |\n| --- |\n| a\\|b |\n",
		},
		{
			name:  "no headers",
			table: Table{Rows: [][]string{{"1", "2"}}},
			want:  "|  |  |\n| --- | --- |\n| 1 | 2 |\n",
		},
		{
			name:  "empty",
			table: Table{},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BlockMarkdown(tt.table); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImageMarkdown(t *testing.T) {
	img := Image{Image: ExtractedImage{ID: "image_1", MIMEType: "image/png", Description: "A cat"}}
	got := BlockMarkdown(img)
	want := "![image_1](image_1.png)\n\n*A cat*\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCodeFenceEscalates(t *testing.T) {
	got := BlockMarkdown(Code{Code: "```inner```"})
	if !strings.HasPrefix(got, "````\n") {
		t.Errorf("expected longer fence, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		numbers []int
		wantErr bool
	}{
		{"empty", nil, false},
		{"sequential", []int{1, 2, 3}, false},
		{"gaps allowed", []int{1, 3}, false},
		{"starts at 2", []int{2, 3}, true},
		{"duplicate", []int{1, 1}, true},
		{"decreasing", []int{1, 3, 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &Document{}
			for _, n := range tt.numbers {
				doc.Pages = append(doc.Pages, Page{Number: n})
			}
			err := doc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddPageNumbersSequentially(t *testing.T) {
	doc := &Document{}
	doc.AddPage(Text{Text: "a"})
	doc.AddPage()
	doc.AddPage(Text{Text: "c"})
	for i, p := range doc.Pages {
		if p.Number != i+1 {
			t.Errorf("page %d numbered %d", i, p.Number)
		}
	}
}

func TestImagesIncludesRenderedSurrogates(t *testing.T) {
	doc := &Document{Pages: []Page{
		{Number: 1, Blocks: []Block{Image{Image: ExtractedImage{ID: "image_1"}}}},
		{Number: 2, RenderedImage: &ExtractedImage{ID: "page_2"}},
	}}
	imgs := doc.Images()
	if len(imgs) != 2 || imgs[0].ID != "image_1" || imgs[1].ID != "page_2" {
		t.Errorf("Images() = %+v", imgs)
	}
}

func TestReassignImageIDs(t *testing.T) {
	doc := &Document{Pages: []Page{
		{Number: 1, Blocks: []Block{Image{Image: ExtractedImage{ID: "image_1"}}, Text{Text: "x"}}},
		{Number: 2, Blocks: []Block{Image{Image: ExtractedImage{ID: "image_1"}}}, RenderedImage: &ExtractedImage{ID: "page_1"}},
	}}
	doc.ReassignImageIDs()

	var ids []string
	for _, img := range doc.Images() {
		ids = append(ids, img.ID)
	}
	if strings.Join(ids, ",") != "image_1,image_2,page_2" {
		t.Errorf("ids = %v", ids)
	}
}

func TestPageJSONTagsBlocks(t *testing.T) {
	p := Page{Number: 1, Blocks: []Block{Heading{Level: 1, Text: "T"}, Table{Headers: []string{"a"}}}}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out struct {
		Blocks []map[string]any `json:"blocks"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Blocks[0]["type"] != "heading" || out.Blocks[1]["type"] != "table" {
		t.Errorf("unexpected block tags: %s", data)
	}
}

func TestUnsupportedFormatError(t *testing.T) {
	err := error(&UnsupportedFormatError{Extension: "xyz", Sniff: "00 01"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Error("expected errors.Is(err, ErrUnsupportedFormat)")
	}
	if !strings.Contains(err.Error(), `"xyz"`) {
		t.Errorf("error %q lacks extension", err)
	}
}

func TestWrappedErrors(t *testing.T) {
	base := errors.New("boom")
	cases := map[error]error{
		ParseError("csv", base):      ErrParse,
		IOError("a.txt", base):       ErrIO,
		EncodingError("a.txt", base): ErrEncoding,
	}
	for err, sentinel := range cases {
		if !errors.Is(err, sentinel) || !errors.Is(err, base) {
			t.Errorf("%v does not wrap both %v and base", err, sentinel)
		}
	}
}
