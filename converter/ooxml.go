package converter

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/brunobiangulo/docmark/model"
)

// maxPartSize bounds a single decompressed part of an OOXML/ODF/EPUB
// container.
const maxPartSize = 128 << 20

// zipPackage indexes the parts of a zip-based document container.
type zipPackage struct {
	files map[string]*zip.File
	order []string
}

func openZipPackage(data []byte) (*zipPackage, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	pkg := &zipPackage{files: make(map[string]*zip.File, len(r.File))}
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "/")
		pkg.files[name] = f
		pkg.order = append(pkg.order, name)
	}
	return pkg, nil
}

func (p *zipPackage) has(name string) bool {
	_, ok := p.files[name]
	return ok
}

func (p *zipPackage) read(name string) ([]byte, error) {
	f := p.files[name]
	if f == nil {
		return nil, fmt.Errorf("%s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(data) > maxPartSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, maxPartSize)
	}
	return data, nil
}

type relationships struct {
	XMLName xml.Name       `xml:"Relationships"`
	Rels    []relationship `xml:"Relationship"`
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Target     string `xml:"Target,attr"`
	Type       string `xml:"Type,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// rels returns the relationship targets of part, keyed by rId and resolved
// to package paths. External targets (hyperlinks) are kept verbatim.
func (p *zipPackage) rels(part string) map[string]string {
	dir, file := path.Split(part)
	data, err := p.read(dir + "_rels/" + file + ".rels")
	if err != nil {
		return nil
	}
	var rels relationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}
	out := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		if rel.TargetMode == "External" {
			out[rel.ID] = rel.Target
			continue
		}
		out[rel.ID] = resolvePart(dir, rel.Target)
	}
	return out
}

// relsOfType returns resolved targets whose relationship type ends in
// suffix, in document order.
func (p *zipPackage) relsOfType(part, suffix string) []string {
	dir, file := path.Split(part)
	data, err := p.read(dir + "_rels/" + file + ".rels")
	if err != nil {
		return nil
	}
	var rels relationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}
	var out []string
	for _, rel := range rels.Rels {
		if strings.HasSuffix(rel.Type, suffix) {
			out = append(out, resolvePart(dir, rel.Target))
		}
	}
	return out
}

func resolvePart(dir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return strings.TrimPrefix(path.Clean(dir+target), "/")
}

// image loads an embedded media part. Parts that are not raster images or
// are smaller than 32px on a side (bullets, spacers) are dropped.
func (p *zipPackage) image(part string) (model.ExtractedImage, bool) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(part)), ".")
	mime := model.MIMEForExtension(ext)
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		return model.ExtractedImage{}, false
	}
	data, err := p.read(part)
	if err != nil {
		slog.Debug("ooxml: image part unreadable", "path", part, "error", err)
		return model.ExtractedImage{}, false
	}
	w, h := imageSize(data)
	if w != 0 && h != 0 && (w < 32 || h < 32) {
		return model.ExtractedImage{}, false
	}
	return model.ExtractedImage{
		Data:     data,
		MIMEType: mime,
		Width:    w,
		Height:   h,
		AltText:  path.Base(part),
	}, true
}

type coreProperties struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
	Subject string `xml:"subject"`
	Created string `xml:"created"`
}

// applyCoreProperties copies docProps/core.xml into doc.
func (p *zipPackage) applyCoreProperties(doc *model.Document) {
	data, err := p.read("docProps/core.xml")
	if err != nil {
		return
	}
	var props coreProperties
	if err := xml.Unmarshal(data, &props); err != nil {
		return
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSpace(props.Title)
	}
	doc.SetMeta("author", props.Creator)
	doc.SetMeta("subject", props.Subject)
	doc.SetMeta("created", props.Created)
}

// attr returns the value of the first attribute with the given local name.
func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
