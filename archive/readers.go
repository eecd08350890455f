package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/brunobiangulo/docmark/detect"
	"github.com/brunobiangulo/docmark/model"
)

// entry is one archive member. Members of random-access containers (zip,
// 7z) carry open and are read by the goroutine converting them; members of
// streams are read during extraction into data. skip is set when the
// member is not converted (too large, encrypted, over budget).
type entry struct {
	name string
	size int64
	data []byte
	open func() (io.ReadCloser, error)
	skip string
}

// archiveKind trusts a declared archive extension and otherwise falls back
// to magic numbers.
func archiveKind(ext string, data []byte) string {
	switch ext = detect.Normalize(ext); ext {
	case "zip", "tar", "tgz", "tar.gz", "tar.bz2", "tbz2", "tar.xz", "txz", "tar.zst", "gz", "bz2", "xz", "zst", "7z":
		return ext
	}
	switch f := detect.Sniff(data).Format; f {
	case "tar", "gz", "bz2", "xz", "zst", "7z":
		return f
	}
	return "zip"
}

func (e *Engine) extract(kind string, data []byte, opts model.Options, b *budget) ([]entry, error) {
	switch kind {
	case "zip":
		return e.readZip(data)
	case "7z":
		return e.read7z(data)
	case "tar":
		return e.readTar(bytes.NewReader(data), b)
	}

	stream, header, err := decompress(kind, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	switch kind {
	case "tgz", "tar.gz", "tbz2", "tar.bz2", "txz", "tar.xz", "tar.zst":
		return e.readTar(stream, b)
	}

	// A single compressed stream: a tarball if the ustar magic is present,
	// otherwise one member.
	br := bufio.NewReaderSize(stream, 4096)
	if head, _ := br.Peek(262); len(head) == 262 && string(head[257:262]) == "ustar" {
		return e.readTar(br, b)
	}
	name := header
	if name == "" {
		name = strippedName(opts.Name, kind)
	}
	ent := entry{name: cleanEntryName(name)}
	if ent.name == "" {
		ent.name = "data"
	}
	ent.data, ent.size, ent.skip, err = e.readLimited(br, -1, b)
	if err != nil {
		return nil, err
	}
	return []entry{ent}, nil
}

type readCloser struct {
	io.Reader
	close func()
}

func (r readCloser) Close() error {
	if r.close != nil {
		r.close()
	}
	return nil
}

// decompress wraps r in the decoder for kind and returns the original file
// name when the format records one (gzip).
func decompress(kind string, r io.Reader) (io.ReadCloser, string, error) {
	switch kind {
	case "gz", "tgz", "tar.gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, "", fmt.Errorf("gzip: %w", err)
		}
		return zr, zr.Name, nil
	case "bz2", "tbz2", "tar.bz2":
		return io.NopCloser(bzip2.NewReader(r)), "", nil
	case "xz", "txz", "tar.xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, "", fmt.Errorf("xz: %w", err)
		}
		return io.NopCloser(xr), "", nil
	case "zst", "tar.zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, "", fmt.Errorf("zstd: %w", err)
		}
		return readCloser{Reader: zr, close: zr.Close}, "", nil
	}
	return nil, "", fmt.Errorf("unknown compression %q", kind)
}

// readLimited reads at most maxEntrySize bytes, charging them to b.
// declared is the size the container reports, or -1 when unknown. Bytes of
// a member that ends up skipped are given back to b.
func (e *Engine) readLimited(r io.Reader, declared int64, b *budget) ([]byte, int64, string, error) {
	if declared > e.maxEntrySize {
		return nil, declared, "exceeds maximum entry size", nil
	}
	if declared > b.remaining.Load() {
		return nil, declared, errBudgetExhausted.Error(), nil
	}
	br := &budgetReader{r: io.LimitReader(r, e.maxEntrySize+1), b: b}
	data, err := io.ReadAll(br)
	switch {
	case errors.Is(err, errBudgetExhausted):
		b.release(br.charged)
		return nil, max(declared, br.charged), errBudgetExhausted.Error(), nil
	case err != nil:
		b.release(br.charged)
		return nil, 0, "", err
	case int64(len(data)) > e.maxEntrySize:
		b.release(br.charged)
		return nil, int64(len(data)), "exceeds maximum entry size", nil
	}
	return data, int64(len(data)), "", nil
}

// load reads a random-access member on demand.
func (e *Engine) load(ent entry, b *budget) ([]byte, int64, string) {
	rc, err := ent.open()
	if err != nil {
		return nil, ent.size, err.Error()
	}
	defer rc.Close()
	data, size, skip, err := e.readLimited(rc, ent.size, b)
	if err != nil {
		return nil, ent.size, err.Error()
	}
	return data, size, skip
}

func (e *Engine) readZip(data []byte) ([]entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := cleanEntryName(f.Name)
		if name == "" {
			continue
		}
		ent := entry{name: name, size: int64(f.UncompressedSize64)}
		switch {
		case f.Flags&0x1 != 0:
			ent.skip = "encrypted"
		case ent.size > e.maxEntrySize:
			ent.skip = "exceeds maximum entry size"
		default:
			ent.open = f.Open
		}
		out = append(out, ent)
	}
	return out, nil
}

func (e *Engine) readTar(r io.Reader, b *budget) ([]entry, error) {
	tr := tar.NewReader(r)
	var out []entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
			continue
		}
		name := cleanEntryName(hdr.Name)
		if name == "" {
			continue
		}
		ent := entry{name: name, size: hdr.Size}
		ent.data, ent.size, ent.skip, err = e.readLimited(tr, hdr.Size, b)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
}

func (e *Engine) read7z(data []byte) ([]entry, error) {
	zr, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, f := range zr.File {
		info := f.FileInfo()
		if info.IsDir() {
			continue
		}
		name := cleanEntryName(f.Name)
		if name == "" {
			continue
		}
		ent := entry{name: name, size: info.Size()}
		if ent.size > e.maxEntrySize {
			ent.skip = "exceeds maximum entry size"
		} else {
			ent.open = f.Open
		}
		out = append(out, ent)
	}
	return out, nil
}

// cleanEntryName normalizes separators and drops any leading "/" or ".."
// so names cannot escape the staging store.
func cleanEntryName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "." {
		return ""
	}
	return name
}

// strippedName removes the compression suffix from an archive name:
// "notes.txt.gz" becomes "notes.txt".
func strippedName(name, kind string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(base), "."+kind) {
		return base[:len(base)-len(kind)-1]
	}
	return base
}
