package detect

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/brunobiangulo/docmark/model"
)

func zipWith(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestDetectExtensionFirst(t *testing.T) {
	d := New()
	docx := zipWith(t, map[string]string{"word/document.xml": "<w:document/>"})

	tests := []struct {
		ext  string
		data []byte
		want string
	}{
		{".PDF", nil, "pdf"},
		{"csv", []byte("a,b\n1,2\n"), "csv"},
		// Templates keep their own identity even though the container
		// sniffs as a plain document.
		{"dotx", docx, "dotx"},
		{"xltx", zipWith(t, map[string]string{"xl/workbook.xml": ""}), "xltx"},
		// Extension-first: a .csv holding PDF bytes is still csv.
		{"csv", []byte("%PDF-1.7"), "csv"},
		{"go", []byte("package main"), "go"},
		{"tar.gz", []byte{0x1f, 0x8b}, "tar.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, err := d.Detect(tt.ext, tt.data)
			if err != nil {
				t.Fatalf("Detect(%q) error: %v", tt.ext, err)
			}
			if got != tt.want {
				t.Errorf("Detect(%q) = %q, want %q", tt.ext, got, tt.want)
			}
		})
	}
}

func TestDetectContentWinsForGenericContainers(t *testing.T) {
	d := New()
	got, err := d.Detect("txt", []byte("%PDF-1.4\n..."))
	if err != nil {
		t.Fatal(err)
	}
	if got != "pdf" {
		t.Errorf("mislabeled .txt: got %q, want pdf", got)
	}

	// Non-confident sniff leaves the extension in place.
	got, err = d.Detect("txt", []byte("just words"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "txt" {
		t.Errorf("got %q, want txt", got)
	}
}

func TestDetectPrecedenceOverride(t *testing.T) {
	pdf := []byte("%PDF-1.4")

	got, _ := New().Detect("csv", pdf)
	if got != "csv" {
		t.Fatalf("default precedence: got %q", got)
	}
	got, _ = New(WithPrecedence("csv", PreferContent)).Detect("csv", pdf)
	if got != "pdf" {
		t.Errorf("content precedence: got %q, want pdf", got)
	}
}

func TestDetectAmbiguousXML(t *testing.T) {
	d := New()
	tests := []struct {
		name string
		data string
		want string
	}{
		{"rss", `<?xml version="1.0"?><rss version="2.0"><channel/></rss>`, "rss"},
		{"atom", `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`, "atom"},
		{"xhtml", `<?xml version="1.0"?><html><body/></html>`, "html"},
		{"fictionbook", `<?xml version="1.0"?><FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0"><body/></FictionBook>`, "fb2"},
		{"docbook 5", `<?xml version="1.0"?><article xmlns="http://docbook.org/ns/docbook" version="5.0"><title>T</title></article>`, "docbook"},
		{"docbook 4", `<?xml version="1.0"?><!DOCTYPE book PUBLIC "-//OASIS//DTD DocBook XML V4.5//EN" "docbookx.dtd"><book><title>T</title></book>`, "docbook"},
		{"plain article", `<?xml version="1.0"?><article><title>T</title></article>`, "xml"},
		{"not markup", "plain", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Detect("xml", []byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectNoExtension(t *testing.T) {
	d := New()
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.7"), "pdf"},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}, "png"},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, "jpg"},
		{"gzip", []byte{0x1f, 0x8b, 0x08}, "gz"},
		{"bzip2", []byte("BZh91AY"), "bz2"},
		{"xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0x00, 0}, "xz"},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0}, "zst"},
		{"7z", []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c, 0}, "7z"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp"},
		{"sqlite", []byte("SQLite format 3\x00rest"), "sqlite"},
		{"docx", zipWith(t, map[string]string{"[Content_Types].xml": "", "word/document.xml": ""}), "docx"},
		{"pptx", zipWith(t, map[string]string{"ppt/presentation.xml": ""}), "pptx"},
		{"epub", zipWith(t, map[string]string{"mimetype": "application/epub+zip"}), "epub"},
		{"plain zip", zipWith(t, map[string]string{"a.txt": "x"}), "zip"},
		{"html", []byte("<!DOCTYPE html><html></html>"), "html"},
		{"json", []byte(`{"a": 1}`), "json"},
		{"ipynb", []byte(`{"cells": [], "nbformat": 4}`), "ipynb"},
		{"ics", []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR"), "ics"},
		{"mail", []byte("From: a@b.c\nMessage-ID: <1@b>\nSubject: hi\n\nbody"), "eml"},
		{"text", []byte("hello world"), "txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Detect("", tt.data)
			if err != nil {
				t.Fatalf("Detect error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectTarMagic(t *testing.T) {
	data := make([]byte, 512)
	copy(data[257:], "ustar\x0000")
	got, err := New().Detect("", data)
	if err != nil {
		t.Fatal(err)
	}
	if got != "tar" {
		t.Errorf("got %q, want tar", got)
	}
}

func TestDetectUnsupported(t *testing.T) {
	d := New()
	tests := []struct {
		name string
		ext  string
		data []byte
	}{
		{"empty no extension", "", nil},
		{"binary unknown extension", "qqq", []byte{0x00, 0x01, 0x02, 0x03}},
		{"ole without name", "", []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Detect(tt.ext, tt.data)
			if !errors.Is(err, model.ErrUnsupportedFormat) {
				t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
			}
			var ufe *model.UnsupportedFormatError
			if !errors.As(err, &ufe) {
				t.Fatalf("expected *UnsupportedFormatError, got %T", err)
			}
			if ufe.Extension != tt.ext {
				t.Errorf("Extension = %q, want %q", ufe.Extension, tt.ext)
			}
			if ufe.Sniff == "" {
				t.Error("expected a sniff summary")
			}
		})
	}
}

func TestExtensionFromName(t *testing.T) {
	tests := map[string]string{
		"report.PDF":         "pdf",
		"dir/archive.tar.gz": "tar.gz",
		"backup.TAR.ZST":     "tar.zst",
		"notes":              "",
		"a.b.c.txt":          "txt",
		"/tmp/x.tgz":         "tgz",
	}
	for name, want := range tests {
		if got := ExtensionFromName(name); got != want {
			t.Errorf("ExtensionFromName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestLanguage(t *testing.T) {
	if got := Language(".PY"); got != "python" {
		t.Errorf("Language(.PY) = %q", got)
	}
	if got := Language("docx"); got != "" {
		t.Errorf("Language(docx) = %q, want empty", got)
	}
}
