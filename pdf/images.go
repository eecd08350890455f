package pdf

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"

	"github.com/brunobiangulo/docmark/model"
)

func init() {
	// pdfcpu otherwise creates a config directory under the user's home.
	api.DisableConfigDir()
}

// pageImages holds the embedded image XObjects of every page.
type pageImages struct {
	counts map[int]int
	images map[int][]model.ExtractedImage
}

// minImageSide drops spacer and bullet images.
const minImageSide = 32

// readImages counts image XObjects per page with pdfcpu and, when extract
// is set, decodes them. Panics inside pdfcpu are reported as errors.
func readImages(data []byte, extract bool) (out pageImages, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()

	out = pageImages{counts: map[int]int{}, images: map[int][]model.ExtractedImage{}}
	conf := pdfmodel.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return out, fmt.Errorf("pdfcpu read: %w", err)
	}

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		nrs := pdfcpu.ImageObjNrs(ctx, pageNr)
		out.counts[pageNr] = len(nrs)
		if !extract || len(nrs) == 0 {
			continue
		}
		imgs, err := pdfcpu.ExtractPageImages(ctx, pageNr, false)
		if err != nil {
			return out, fmt.Errorf("page %d images: %w", pageNr, err)
		}
		objs := make([]int, 0, len(imgs))
		for nr := range imgs {
			objs = append(objs, nr)
		}
		sort.Ints(objs)
		for _, nr := range objs {
			img := imgs[nr]
			raw, err := io.ReadAll(img)
			if err != nil || len(raw) == 0 {
				continue
			}
			ext := model.MIMEForExtension(img.FileType)
			if ext == "" {
				continue
			}
			ei := model.ExtractedImage{Data: raw, MIMEType: ext, AltText: img.Name}
			if cfg, _, err := image.DecodeConfig(bytes.NewReader(raw)); err == nil {
				if cfg.Width < minImageSide && cfg.Height < minImageSide {
					continue
				}
				ei.Width, ei.Height = cfg.Width, cfg.Height
			}
			out.images[pageNr] = append(out.images[pageNr], ei)
		}
	}
	return out, nil
}
