// Package detect maps a declared extension and a content prefix to a
// format identifier. Format identifiers are canonical lower-case
// extensions ("pdf", "docx", "tar.gz") and are the keys the converter
// registry is built on.
package detect

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brunobiangulo/docmark/model"
)

// Precedence decides which signal wins when the declared extension and the
// sniffed content disagree.
type Precedence int

const (
	// PreferExtension trusts a known extension without inspecting content.
	PreferExtension Precedence = iota
	// PreferContent lets a confident content match override the extension.
	PreferContent
)

func (p Precedence) String() string {
	if p == PreferContent {
		return "content"
	}
	return "extension"
}

// ParsePrecedence accepts "extension" or "content".
func ParsePrecedence(s string) (Precedence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "extension", "ext":
		return PreferExtension, nil
	case "content", "sniff":
		return PreferContent, nil
	}
	return PreferExtension, fmt.Errorf("unknown precedence %q", s)
}

// SniffLen is the prefix length inspected by magic-byte matching. ZIP
// refinement looks at the full buffer when it is available.
const SniffLen = 4096

// defaultPrecedence lists generic containers whose extension says little
// about the payload. Everything else prefers the extension.
var defaultPrecedence = map[string]Precedence{
	"txt":  PreferContent,
	"text": PreferContent,
	"dat":  PreferContent,
	"bin":  PreferContent,
	"xml":  PreferContent,
	"gz":   PreferContent,
	"bz2":  PreferContent,
	"xz":   PreferContent,
	"zst":  PreferContent,
}

// Detector resolves format identifiers. It is immutable after New and safe
// for concurrent use.
type Detector struct {
	precedence map[string]Precedence
}

// Option configures a Detector.
type Option func(*Detector)

// WithPrecedence overrides the precedence rule for one format.
func WithPrecedence(format string, p Precedence) Option {
	return func(d *Detector) { d.precedence[Normalize(format)] = p }
}

// New returns a Detector using the built-in precedence table plus overrides.
func New(opts ...Option) *Detector {
	d := &Detector{precedence: make(map[string]Precedence, len(defaultPrecedence))}
	for k, v := range defaultPrecedence {
		d.precedence[k] = v
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Precedence reports the rule applied to format.
func (d *Detector) Precedence(format string) Precedence {
	return d.precedence[format]
}

// Detect resolves a format from a declared extension (may be empty) and the
// content. Only the first SniffLen bytes are matched against signatures.
func (d *Detector) Detect(ext string, data []byte) (string, error) {
	ext = Normalize(ext)
	entry, known := extensions[ext]

	if known && !entry.ambiguous && d.Precedence(ext) == PreferExtension {
		return ext, nil
	}

	s := Sniff(data)
	switch {
	case known && !entry.ambiguous:
		if s.Format != "" && s.Confident && s.Format != ext {
			return s.Format, nil
		}
		return ext, nil
	case known:
		if s.Format != "" && (s.Confident || entry.accepts(s.Format)) {
			return s.Format, nil
		}
		return entry.fallback, nil
	case s.Format != "":
		return s.Format, nil
	}

	return "", &model.UnsupportedFormatError{Extension: ext, Sniff: s.Summary(data)}
}

// DetectName is Detect with the extension derived from a file name.
func (d *Detector) DetectName(name string, data []byte) (string, error) {
	return d.Detect(ExtensionFromName(name), data)
}

// Normalize strips a leading dot and lower-cases ext.
func Normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// compound lists multi-part extensions checked before filepath.Ext.
var compound = []string{"tar.gz", "tar.bz2", "tar.xz", "tar.zst"}

// ExtensionFromName returns the normalized extension of name, recognising
// compound tar extensions.
func ExtensionFromName(name string) string {
	lower := strings.ToLower(filepath.Base(name))
	for _, c := range compound {
		if strings.HasSuffix(lower, "."+c) {
			return c
		}
	}
	return Normalize(filepath.Ext(lower))
}

// Known returns every extension the detector recognizes, sorted.
func Known() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// IsKnown reports whether ext is in the extension table.
func IsKnown(ext string) bool {
	_, ok := extensions[Normalize(ext)]
	return ok
}
