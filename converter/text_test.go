package converter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/docmark/model"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    string
		wantErr error
	}{
		{"utf8", []byte("héllo"), "héllo", nil},
		{"utf8 bom", append([]byte{0xef, 0xbb, 0xbf}, "hi"...), "hi", nil},
		{"utf16le bom", []byte{0xff, 0xfe, 'h', 0, 'i', 0}, "hi", nil},
		{"utf16be bom", []byte{0xfe, 0xff, 0, 'h', 0, 'i'}, "hi", nil},
		{"latin1", []byte{'c', 'a', 'f', 0xe9}, "café", nil},
		{"binary", []byte{0x00, 0x01, 0xff, 0xfe, 0x80}, "", model.ErrEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText(tt.in, "f.txt")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextKeepsContentVerbatim(t *testing.T) {
	doc, err := (&Text{}).ConvertBytes(context.Background(), []byte("line one\n\nline two\n"), model.Options{})
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, []model.Block{model.Text{Text: "line one\n\nline two\n"}}, doc.Pages[0].Blocks)
}

func TestCodeLanguageTag(t *testing.T) {
	doc, err := (&Code{}).ConvertBytes(context.Background(), []byte("package main\n"), model.Options{Extension: "go"})
	require.NoError(t, err)
	assert.Equal(t, "```go\npackage main\n```", strings.TrimSpace(doc.Pages[0].Markdown()))
}

func TestCSVAndTSV(t *testing.T) {
	doc, err := (&CSV{}).ConvertBytes(context.Background(), []byte("Name,Age\nAlice,30\n\"Smith, J\",41\n"), model.Options{Extension: "csv"})
	require.NoError(t, err)
	assert.Equal(t, model.Table{
		Headers: []string{"Name", "Age"},
		Rows:    [][]string{{"Alice", "30"}, {"Smith, J", "41"}},
	}, doc.Pages[0].Blocks[0])

	doc, err = (&CSV{}).ConvertBytes(context.Background(), []byte("a\tb\n1\t2\n"), model.Options{Extension: "tsv"})
	require.NoError(t, err)
	assert.Equal(t, model.Table{Headers: []string{"a", "b"}, Rows: [][]string{{"1", "2"}}}, doc.Pages[0].Blocks[0])
}

func TestStructuredDataValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		conv BytesConverter
		ext  string
		in   string
		ok   bool
	}{
		{"json ok", &JSON{}, "json", `{"a":[1,2]}`, true},
		{"json bad", &JSON{}, "json", `{"a":`, false},
		{"jsonl ok", &JSON{}, "jsonl", "{\"a\":1}\n\n{\"b\":2}\n", true},
		{"jsonl bad", &JSON{}, "jsonl", "{\"a\":1}\nnope\n", false},
		{"yaml ok", &YAML{}, "yaml", "a: 1\n---\nb: [1, 2]\n", true},
		{"yaml bad", &YAML{}, "yaml", "a: [1, 2\n", false},
		{"toml ok", &TOML{}, "toml", "[server]\nport = 8080\n", true},
		{"toml bad", &TOML{}, "toml", "[server\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := tt.conv.ConvertBytes(ctx, []byte(tt.in), model.Options{Extension: tt.ext})
			if !tt.ok {
				assert.ErrorIs(t, err, model.ErrParse)
				return
			}
			require.NoError(t, err)
			code, ok := doc.Pages[0].Blocks[0].(model.Code)
			require.True(t, ok)
			assert.NotEmpty(t, code.Code)
		})
	}
}

func TestJSONPrettyPrints(t *testing.T) {
	doc, err := (&JSON{}).ConvertBytes(context.Background(), []byte(`{"a":1}`), model.Options{Extension: "json"})
	require.NoError(t, err)
	assert.Equal(t, model.Code{Language: "json", Code: "{\n  \"a\": 1\n}"}, doc.Pages[0].Blocks[0])
}

func TestNotebookCells(t *testing.T) {
	nb := `{
  "nbformat": 4,
  "metadata": {"language_info": {"name": "python"}},
  "cells": [
    {"cell_type": "markdown", "source": ["# Analysis\n", "Intro."]},
    {"cell_type": "code", "source": "print(1)", "outputs": [
      {"output_type": "stream", "text": ["1\n"]},
      {"output_type": "error", "ename": "ValueError", "evalue": "bad"}
    ]}
  ]
}`
	doc, err := (&Notebook{}).ConvertBytes(context.Background(), []byte(nb), model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []model.Block{
		model.RawMarkdown{Markdown: "# Analysis\nIntro."},
		model.Code{Language: "python", Code: "print(1)"},
		model.Code{Code: "1"},
		model.Quote{Text: "ValueError: bad"},
	}, doc.Pages[0].Blocks)
}

func TestHTMLTitleAndBody(t *testing.T) {
	page := `<html><head><title>Docs</title><meta name="author" content="Ann"></head>
<body><h2>Intro</h2><p>See <a href="/guide">the guide</a>.</p><script>alert(1)</script></body></html>`
	doc, err := NewHTML(nil).ConvertBytes(context.Background(), []byte(page), model.Options{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Docs", doc.Title)
	assert.Equal(t, "Ann", doc.Metadata["author"])

	md := doc.Pages[0].Markdown()
	assert.Contains(t, md, "## Intro")
	assert.Contains(t, md, "https://example.com/guide")
	assert.NotContains(t, md, "alert")
}

func TestFeedRSSAndAtom(t *testing.T) {
	rss := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>News</title><description>Daily</description>
<item><title>First</title><link>https://e.com/1</link><description>&lt;p&gt;Hello &lt;b&gt;world&lt;/b&gt;&lt;/p&gt;</description></item>
<item><title>Second</title></item>
</channel></rss>`
	doc, err := NewFeed(nil).ConvertBytes(context.Background(), []byte(rss), model.Options{Extension: "rss"})
	require.NoError(t, err)
	assert.Equal(t, "News", doc.Title)
	blocks := doc.Pages[0].Blocks
	assert.Equal(t, model.Text{Text: "Daily"}, blocks[0])
	assert.Equal(t, model.Heading{Level: 2, Text: "First"}, blocks[1])
	assert.Contains(t, doc.Markdown(), "Hello **world**")
	assert.Equal(t, model.Heading{Level: 2, Text: "Second"}, blocks[len(blocks)-1])

	atom := `<feed xmlns="http://www.w3.org/2005/Atom"><title>Blog</title>
<entry><title>Post</title><link href="https://e.com/p"/><content type="html">&lt;i&gt;hi&lt;/i&gt;</content></entry></feed>`
	doc, err = NewFeed(nil).ConvertBytes(context.Background(), []byte(atom), model.Options{Extension: "atom"})
	require.NoError(t, err)
	assert.Equal(t, "Blog", doc.Title)
	assert.Contains(t, doc.Markdown(), "## Post")
	assert.Contains(t, doc.Markdown(), "*hi*")
}

func TestFeedGenericXML(t *testing.T) {
	doc, err := NewFeed(nil).ConvertBytes(context.Background(), []byte(`<config><port>80</port></config>`), model.Options{Extension: "xml"})
	require.NoError(t, err)
	assert.Equal(t, model.Code{Language: "xml", Code: "<config><port>80</port></config>"}, doc.Pages[0].Blocks[0])
	assert.Equal(t, "config", doc.Metadata["root_element"])

	_, err = NewFeed(nil).ConvertBytes(context.Background(), []byte(`<config><port>`), model.Options{Extension: "xml"})
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestOPMLOutline(t *testing.T) {
	in := `<opml version="2.0"><head><title>Subs</title></head><body>
<outline text="Tech"><outline text="Go Blog" xmlUrl="https://go.dev/blog/feed.atom"/></outline>
</body></opml>`
	doc, err := (&OPML{}).ConvertBytes(context.Background(), []byte(in), model.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Subs", doc.Title)
	assert.Equal(t, model.RawMarkdown{Markdown: "- Tech\n  - [Go Blog](https://go.dev/blog/feed.atom)"}, doc.Pages[0].Blocks[0])
}

func TestEmailMultipart(t *testing.T) {
	msg := "From: Ann <ann@example.com>\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: =?UTF-8?Q?Caf=C3=A9_plans?=\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=XX\r\n\r\n" +
		"--XX\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\n" +
		"See you at 9=3D00.\r\n" +
		"--XX\r\nContent-Type: application/pdf; name=agenda.pdf\r\nContent-Disposition: attachment; filename=agenda.pdf\r\nContent-Transfer-Encoding: base64\r\n\r\n" +
		"JVBERi0xLjQK\r\n" +
		"--XX--\r\n"

	doc, err := NewEmail(nil).ConvertBytes(context.Background(), []byte(msg), model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Café plans", doc.Title)

	blocks := doc.Pages[0].Blocks
	headers, ok := blocks[0].(model.Table)
	require.True(t, ok)
	assert.Equal(t, []string{"From", "Ann <ann@example.com>"}, headers.Rows[0])
	assert.Equal(t, model.Text{Text: "See you at 9=00."}, blocks[1])
	assert.Equal(t, model.Heading{Level: 2, Text: "Attachments"}, blocks[2])
	assert.Equal(t, model.List{Items: []string{"agenda.pdf (application/pdf, 9 B)"}}, blocks[3])
}

func TestICalendarAndVCard(t *testing.T) {
	ics := "BEGIN:VCALENDAR\r\nX-WR-CALNAME:Team\r\nBEGIN:VEVENT\r\nSUMMARY:Standup\r\nDTSTART:20240102T090000Z\r\n" +
		"LOCATION:Room 1\\, East\r\nDESCRIPTION:Daily sync\r\n  across teams\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	doc, err := (&ICalendar{}).ConvertBytes(context.Background(), []byte(ics), model.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Team", doc.Title)
	assert.Equal(t, []model.Block{
		model.Heading{Level: 2, Text: "Standup"},
		model.Table{Headers: []string{"Field", "Value"}, Rows: [][]string{
			{"Start", "20240102T090000Z"},
			{"Location", "Room 1, East"},
		}},
		model.Text{Text: "Daily sync across teams"},
	}, doc.Pages[0].Blocks)

	vcf := "BEGIN:VCARD\nVERSION:3.0\nFN:Ann Lee\nitem1.EMAIL;TYPE=work:ann@example.com\nTEL:+1 555\nEND:VCARD\n"
	doc, err = (&VCard{}).ConvertBytes(context.Background(), []byte(vcf), model.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", doc.Title)
	assert.Equal(t, model.Table{Headers: []string{"Field", "Value"}, Rows: [][]string{
		{"Email", "ann@example.com"},
		{"Phone", "+1 555"},
	}}, doc.Pages[0].Blocks[1])

	_, err = (&VCard{}).ConvertBytes(context.Background(), []byte("hello"), model.Options{})
	assert.ErrorIs(t, err, model.ErrParse)
}
