package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PageRenderer rasterizes one page (numbered from 1) of a PDF to PNG.
type PageRenderer interface {
	RenderPage(ctx context.Context, src []byte, page int) ([]byte, error)
}

// DefaultDPI is the render resolution used when none is configured.
const DefaultDPI = 150

// PopplerRenderer shells out to pdftoppm.
type PopplerRenderer struct {
	// Path to the pdftoppm binary; "pdftoppm" is looked up in PATH when
	// empty.
	Path string
	DPI  int
}

// ErrRendererUnavailable is returned when pdftoppm cannot be found.
var ErrRendererUnavailable = errors.New("pdf: pdftoppm not available")

func (p *PopplerRenderer) binary() (string, error) {
	name := p.Path
	if name == "" {
		name = "pdftoppm"
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRendererUnavailable, err)
	}
	return bin, nil
}

// Available reports whether pdftoppm can be executed.
func (p *PopplerRenderer) Available() bool {
	_, err := p.binary()
	return err == nil
}

func (p *PopplerRenderer) RenderPage(ctx context.Context, src []byte, page int) ([]byte, error) {
	bin, err := p.binary()
	if err != nil {
		return nil, err
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	dir, err := os.MkdirTemp("", "docmark-render-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, src, 0o600); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", n,
		"-l", n,
		"-singlefile",
		in, prefix)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}
	return os.ReadFile(prefix + ".png")
}
