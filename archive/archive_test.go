package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/docmark/converter"
	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// registryDispatcher lets the engine under test reach itself through the
// registry, as the top-level engine does.
type registryDispatcher struct {
	reg *converter.Registry
}

func (d *registryDispatcher) DispatchPath(ctx context.Context, format string, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return d.reg.DispatchPath(ctx, format, store, path, opts)
}

func newTestEngine(opts ...Option) *Engine {
	d := &registryDispatcher{}
	e := New(d, nil, opts...)
	d.reg = converter.NewRegistry(converter.Builtins()...).With(e)
	return e
}

type file struct {
	name string
	body []byte
}

func zipOf(t *testing.T, files ...file) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarGzOf(t *testing.T, files ...file) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, f := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func opts(name string) model.Options {
	o := model.DefaultOptions()
	o.Name = name
	o.Extension = "zip"
	return o
}

func TestZipOnePagePerTextEntry(t *testing.T) {
	data := zipOf(t,
		file{"a.txt", []byte("alpha")},
		file{"b.txt", []byte("beta")},
		file{"c.txt", []byte("gamma")},
	)
	doc, err := newTestEngine().ConvertBytes(context.Background(), data, opts("texts.zip"))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 3)
	for i, want := range []string{"alpha", "beta", "gamma"} {
		assert.Equal(t, i+1, doc.Pages[i].Number)
		assert.Equal(t, []model.Block{model.Text{Text: want}}, doc.Pages[i].Blocks)
	}
	require.NoError(t, doc.Validate())
}

func TestNestedZipStopsAtMaxDepth(t *testing.T) {
	const levels = 10
	var inner []byte
	for k := levels; k >= 1; k-- {
		files := []file{{fmt.Sprintf("note_%d.txt", k), []byte(fmt.Sprintf("note %d", k))}}
		if inner != nil {
			files = append(files, file{fmt.Sprintf("z%d.zip", k+1), inner})
		}
		inner = zipOf(t, files...)
	}

	doc, err := newTestEngine(WithMaxDepth(8), WithSummary(false)).ConvertBytes(context.Background(), inner, opts("z1.zip"))
	require.NoError(t, err)

	text := doc.PlainText()
	for k := 1; k <= 9; k++ {
		assert.Contains(t, text, fmt.Sprintf("note %d", k))
	}
	assert.NotContains(t, text, "note 10")
	assert.Equal(t, 1, strings.Count(text, "Failed to convert"))
	assert.Contains(t, text, "Failed to convert z10.zip")
	assert.Contains(t, text, model.ErrRecursionLimitExceeded.Error())
	require.NoError(t, doc.Validate())
}

func TestTopLevelDepthExceeded(t *testing.T) {
	o := opts("deep.zip")
	o.Depth = 3
	_, err := newTestEngine(WithMaxDepth(2)).ConvertBytes(context.Background(), zipOf(t, file{"a.txt", []byte("a")}), o)
	assert.ErrorIs(t, err, model.ErrRecursionLimitExceeded)
}

func TestSummaryAndBinaryPlaceholder(t *testing.T) {
	blob := []byte{0x00, 0x01, 0x02, 0x03, 0xfe, 0xff, 0x00, 0x9c}
	data := zipOf(t,
		file{"readme.md", []byte("# Hi")},
		file{"blob.bin", blob},
		file{"dir/", nil},
	)
	doc, err := newTestEngine(WithSummary(true)).ConvertBytes(context.Background(), data, opts("mixed.zip"))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 3)

	assert.Equal(t, []model.Block{
		model.Heading{Level: 3, Text: "blob.bin"},
		model.Text{Text: "[Binary data: 8 bytes]"},
	}, doc.Pages[1].Blocks)

	summary := doc.Pages[2].Blocks
	assert.Equal(t, model.Heading{Level: 2, Text: "Archive: mixed.zip"}, summary[0])
	assert.Equal(t, model.List{Items: []string{
		"Total entries: 2", "Converted: 1", "Skipped: 1", "Failed: 0",
	}}, summary[1])
	assert.Equal(t, model.Heading{Level: 3, Text: "Skipped Files"}, summary[2])
	assert.Contains(t, summary[3].(model.List).Items[0], "blob.bin")
	assert.Equal(t, "2", doc.Metadata["entries"])
}

func TestTarGz(t *testing.T) {
	data := tarGzOf(t,
		file{"docs/one.txt", []byte("first")},
		file{"docs/two.csv", []byte("a,b\n1,2\n")},
	)
	o := opts("bundle.tar.gz")
	o.Extension = "tar.gz"
	doc, err := newTestEngine(WithSummary(false)).ConvertBytes(context.Background(), data, o)
	require.NoError(t, err)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, model.Text{Text: "first"}, doc.Pages[0].Blocks[0])
	assert.Equal(t, model.Table{Headers: []string{"a", "b"}, Rows: [][]string{{"1", "2"}}}, doc.Pages[1].Blocks[0])
}

func TestSingleGzipStreamUsesInnerName(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("compressed text"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	o := opts("notes.txt.gz")
	o.Extension = "gz"
	doc, err := newTestEngine().ConvertBytes(context.Background(), buf.Bytes(), o)
	require.NoError(t, err)
	assert.Equal(t, model.Text{Text: "compressed text"}, doc.Pages[0].Blocks[0])
}

func TestOversizeEntryListedOnly(t *testing.T) {
	data := zipOf(t,
		file{"small.txt", []byte("ok")},
		file{"big.txt", bytes.Repeat([]byte("x"), 64)},
	)
	doc, err := newTestEngine(WithMaxEntrySize(16), WithSummary(true)).ConvertBytes(context.Background(), data, opts("sizes.zip"))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 2)
	assert.Contains(t, doc.Pages[1].Blocks[3].(model.List).Items[0], "exceeds maximum entry size")
}

func TestTotalSizeBudgetSkipsRemainingEntries(t *testing.T) {
	var files []file
	for i := range 24 {
		files = append(files, file{fmt.Sprintf("part_%02d.txt", i), bytes.Repeat([]byte("a"), 1024)})
	}
	data := zipOf(t, files...)

	e := newTestEngine(WithMaxTotalSize(8<<10), WithConcurrency(1), WithSummary(true))
	doc, err := e.ConvertBytes(context.Background(), data, opts("many.zip"))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 9)

	summary := doc.Pages[8].Blocks
	assert.Equal(t, model.List{Items: []string{
		"Total entries: 24", "Converted: 8", "Skipped: 16", "Failed: 0",
	}}, summary[1])
	skipped := summary[3].(model.List).Items
	require.Len(t, skipped, 16)
	assert.Contains(t, skipped[0], "part_08.txt")
	assert.Contains(t, skipped[0], "exceeds total archive size budget")
}

func TestTotalSizeBudgetSharedWithNestedArchives(t *testing.T) {
	inner := zipOf(t, file{"inner.txt", bytes.Repeat([]byte("b"), 600)})
	data := zipOf(t,
		file{"outer.txt", bytes.Repeat([]byte("a"), 600)},
		file{"nested.zip", inner},
	)

	e := newTestEngine(WithMaxTotalSize(1000), WithConcurrency(1), WithSummary(true))
	doc, err := e.ConvertBytes(context.Background(), data, opts("outer.zip"))
	require.NoError(t, err)

	text := doc.PlainText()
	assert.Contains(t, text, strings.Repeat("a", 600))
	assert.NotContains(t, text, strings.Repeat("b", 600))
	assert.Contains(t, text, "inner.txt")
	assert.Contains(t, text, "exceeds total archive size budget")
}

func TestTarEntryOverBudget(t *testing.T) {
	data := tarGzOf(t,
		file{"small.txt", []byte("fits")},
		file{"large.txt", bytes.Repeat([]byte("x"), 4096)},
	)
	o := opts("bundle.tgz")
	o.Extension = "tgz"
	doc, err := newTestEngine(WithMaxTotalSize(1024), WithSummary(true)).ConvertBytes(context.Background(), data, o)
	require.NoError(t, err)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, model.Text{Text: "fits"}, doc.Pages[0].Blocks[0])
	assert.Contains(t, doc.Pages[1].Blocks[3].(model.List).Items[0], "large.txt")
}

func TestMalformedArchive(t *testing.T) {
	_, err := newTestEngine().ConvertBytes(context.Background(), []byte("PK\x03\x04 truncated"), opts("bad.zip"))
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine().ConvertBytes(ctx, zipOf(t, file{"a.txt", []byte("a")}), opts("a.zip"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanEntryName(t *testing.T) {
	tests := map[string]string{
		"a/b.txt":        "a/b.txt",
		"../../etc/pass": "etc/pass",
		`dir\file.txt`:   "dir/file.txt",
		"/abs.txt":       "abs.txt",
		"./":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanEntryName(in), in)
	}
}
