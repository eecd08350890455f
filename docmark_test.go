package docmark

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/docmark/converter"
	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// mockVisionDescriber counts calls and answers with a fixed caption.
type mockVisionDescriber struct {
	caption string
	err     error
	calls   atomic.Int32
}

func (m *mockVisionDescriber) Describe(ctx context.Context, req model.DescribeRequest) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	return m.caption, nil
}

// docStub converts any payload into two pages whose tables continue
// across the break.
type docStub struct{}

func (docStub) SupportedExtensions() []string { return []string{"doc"} }

func (c docStub) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return converter.ReadAndConvert(ctx, c, store, path, opts)
}

func (docStub) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	cols := []string{"Name", "Age", "City"}
	return model.NewDocument("stub",
		[]model.Block{model.Table{Headers: cols, Rows: [][]string{{"Ann", "31", "Oslo"}}}},
		[]model.Block{model.Table{Headers: cols, Rows: [][]string{{"Bo", "42", "Rome"}}}},
	), nil
}

func newEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func zipBytes(t *testing.T, files map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))))
	return buf.Bytes()
}

func TestConvertThreeEntryZip(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	data := zipBytes(t, map[string][]byte{
		"a.txt": []byte("alpha"),
		"b.txt": []byte("bravo"),
		"c.txt": []byte("charlie"),
	}, "a.txt", "b.txt", "c.txt")

	doc, err := e.ConvertBytes(context.Background(), data, "bundle.zip")
	require.NoError(t, err)
	require.Len(t, doc.Pages, 3)
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		assert.Equal(t, []model.Block{model.Text{Text: want}}, doc.Pages[i].Blocks)
		assert.Equal(t, i+1, doc.Pages[i].Number)
	}
	assert.NotContains(t, doc.Markdown(), "Total entries")

	cfg := DefaultConfig()
	cfg.ArchiveSummary = true
	doc, err = newEngine(t, cfg).ConvertBytes(context.Background(), data, "bundle.zip")
	require.NoError(t, err)
	require.Len(t, doc.Pages, 4, "three entries plus the summary page")
	assert.Contains(t, doc.Markdown(), "Total entries: 3")
}

func TestConvertNoNestedArchives(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxArchiveDepth = NoNestedArchives

	inner := zipBytes(t, map[string][]byte{"inner.txt": []byte("hidden")}, "inner.txt")
	data := zipBytes(t, map[string][]byte{
		"top.txt":   []byte("visible"),
		"inner.zip": inner,
	}, "top.txt", "inner.zip")

	doc, err := newEngine(t, cfg).ConvertBytes(context.Background(), data, "outer.zip")
	require.NoError(t, err)
	md := doc.Markdown()
	assert.Contains(t, md, "visible")
	assert.NotContains(t, md, "hidden")
	assert.Contains(t, md, "Failed to convert inner.zip")
	assert.Contains(t, md, ErrRecursionLimitExceeded.Error())
}

func TestConvertNestedZipHonoursMaxDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxArchiveDepth = 2

	data := zipBytes(t, map[string][]byte{"note.txt": []byte("deepest")}, "note.txt")
	for i := 3; i >= 1; i-- {
		name := "level" + string(rune('0'+i)) + ".zip"
		data = zipBytes(t, map[string][]byte{name: data}, name)
	}

	doc, err := newEngine(t, cfg).ConvertBytes(context.Background(), data, "top.zip")
	require.NoError(t, err)
	md := doc.Markdown()
	assert.NotContains(t, md, "deepest")
	assert.Equal(t, 1, strings.Count(md, "Failed to convert"))
	assert.Contains(t, md, ErrRecursionLimitExceeded.Error())
}

func TestConvertFromStorage(t *testing.T) {
	mem := storage.NewMemory()
	require.NoError(t, mem.Put("docs/readme.md", []byte("# Title\n\nBody text.")))
	e := newEngine(t, DefaultConfig(), WithStorage(mem))

	doc, err := e.Convert(context.Background(), "docs/readme.md")
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown(), "Body text.")

	_, err = e.Convert(context.Background(), "docs/missing.md")
	assert.ErrorIs(t, err, ErrIO)
}

func TestConvertFromSQLiteStorage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "blobs.db")
	db, err := storage.OpenSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Put(context.Background(), "inbox/notes.txt", []byte("stored in sqlite")))
	require.NoError(t, db.Close())

	cfg := DefaultConfig()
	cfg.StorageDB = dbPath
	e := newEngine(t, cfg)

	doc, err := e.Convert(context.Background(), "inbox/notes.txt")
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown(), "stored in sqlite")

	_, err = e.Convert(context.Background(), "inbox/other.txt")
	assert.ErrorIs(t, err, ErrIO)
}

func TestConvertUnsupported(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	_, err := e.ConvertBytes(context.Background(), []byte{0x00, 0x01, 0x02, 0xff}, "blob.bin")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	var ufe *UnsupportedFormatError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, "bin", ufe.Extension)

	// Legacy Word files are recognized but have no built-in converter.
	_, err = e.ConvertBytes(context.Background(), []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}, "letter.doc")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRegisterConverterReachesArchives(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	assert.NotContains(t, e.Formats(), "doc")

	e.RegisterConverter(docStub{})
	assert.Contains(t, e.Formats(), "doc")

	data := zipBytes(t, map[string][]byte{"letter.doc": []byte("legacy")}, "letter.doc")
	doc, err := e.ConvertBytes(context.Background(), data, "mail.zip")
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown(), "| Ann | 31 | Oslo |")
}

func TestMergeTablesOption(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	e.RegisterConverter(docStub{})

	doc, err := e.ConvertBytes(context.Background(), []byte("x"), "t.doc")
	require.NoError(t, err)
	assert.Len(t, doc.Pages, 2)

	doc, err = e.ConvertBytes(context.Background(), []byte("x"), "t.doc", WithMergeTables(true))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, model.Table{
		Headers: []string{"Name", "Age", "City"},
		Rows:    [][]string{{"Ann", "31", "Oslo"}, {"Bo", "42", "Rome"}},
	}, doc.Pages[0].Blocks[0])
}

func TestDescribeImages(t *testing.T) {
	mock := &mockVisionDescriber{caption: "A blank rectangle"}
	cfg := DefaultConfig()
	cfg.DescribeImages = true
	e := newEngine(t, cfg, WithDescriber(mock))

	doc, err := e.ConvertBytes(context.Background(), pngBytes(t), "figure.png")
	require.NoError(t, err)
	assert.EqualValues(t, 1, mock.calls.Load())

	img := doc.Pages[0].Blocks[0].(model.Image)
	assert.Equal(t, "A blank rectangle", img.Image.Description)
	assert.Equal(t, 64, img.Image.Width)
	assert.Contains(t, doc.Markdown(), "*A blank rectangle*")
}

func TestDescribeImagesDisabled(t *testing.T) {
	mock := &mockVisionDescriber{caption: "should not be called"}
	e := newEngine(t, DefaultConfig(), WithDescriber(mock))

	doc, err := e.ConvertBytes(context.Background(), pngBytes(t), "figure.png")
	require.NoError(t, err)
	assert.Zero(t, mock.calls.Load())
	assert.Empty(t, doc.Pages[0].Blocks[0].(model.Image).Image.Description)
}

func TestDescribeImagesFailureBecomesWarning(t *testing.T) {
	mock := &mockVisionDescriber{err: errors.New("vision model offline")}
	cfg := DefaultConfig()
	cfg.DescribeImages = true
	e := newEngine(t, cfg, WithDescriber(mock))

	doc, err := e.ConvertBytes(context.Background(), pngBytes(t), "figure.png")
	require.NoError(t, err)
	require.Len(t, doc.Warnings, 1)
	assert.Contains(t, doc.Warnings[0], "vision model offline")
}

func TestDescribeImagesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := model.DescriberFunc(func(ctx context.Context, req model.DescribeRequest) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.DescribeImages = true
	e := newEngine(t, cfg, WithDescriber(d))

	_, err := e.ConvertBytes(ctx, pngBytes(t), "figure.png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxFileSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileSize = 4
	_, err := newEngine(t, cfg).ConvertBytes(context.Background(), []byte("too large"), "a.txt")
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, storage.ErrTooLarge)
}

func TestPrecedenceOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Precedence = map[string]string{"md": "content"}
	e := newEngine(t, cfg)

	format, err := e.Detect("notes.md", []byte("%PDF-1.7\n"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", format)

	format, err = newEngine(t, DefaultConfig()).Detect("notes.md", []byte("%PDF-1.7\n"))
	require.NoError(t, err)
	assert.Equal(t, "md", format)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Precedence = map[string]string{"md": "sometimes"}
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Vision.Provider = "doesnotexist"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestVisionConfigBuildsDescriber(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vision = LLMConfig{Provider: "ollama", Model: "llava"}
	e := newEngine(t, cfg)
	assert.NotNil(t, e.describer)

	assert.Nil(t, newEngine(t, DefaultConfig()).describer)
}
