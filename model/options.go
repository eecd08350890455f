package model

import (
	"context"
	"path/filepath"
	"strings"
)

// Purpose selects the prompt a describer uses.
type Purpose int

const (
	// PurposeImage asks for a description of a standalone image.
	PurposeImage Purpose = iota
	// PurposePage asks for a Markdown transcription of a rendered page.
	PurposePage
)

func (p Purpose) String() string {
	if p == PurposePage {
		return "page"
	}
	return "image"
}

// DescribeRequest is the payload handed to a VisualDescriber.
type DescribeRequest struct {
	Data     []byte
	MIMEType string
	Purpose  Purpose
}

// VisualDescriber turns an image into descriptive text. Implementations
// may call remote services and must honour ctx.
type VisualDescriber interface {
	Describe(ctx context.Context, req DescribeRequest) (string, error)
}

// DescriberFunc adapts a function to VisualDescriber.
type DescriberFunc func(ctx context.Context, req DescribeRequest) (string, error)

func (f DescriberFunc) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	return f(ctx, req)
}

// Options configures a single conversion call. It is passed by value and
// never retained by converters.
type Options struct {
	// Extension overrides the extension derived from the source name.
	Extension string
	// URL is the declared source location, used to resolve relative links.
	URL string
	// Name is the source file name, used for titles and diagnostics.
	Name string

	Describer VisualDescriber

	// ForceOCR sends every PDF page through render-and-describe.
	ForceOCR      bool
	ExtractImages bool
	MergeTables   bool

	// Depth is the archive nesting level of the current call. The archive
	// engine increments it on every re-entry.
	Depth int
}

// DefaultOptions returns options with image extraction enabled.
func DefaultOptions() Options {
	return Options{ExtractImages: true}
}

// BaseName returns the source name without directory or extension, or
// fallback when no name is known.
func (o Options) BaseName(fallback string) string {
	if o.Name == "" {
		return fallback
	}
	base := filepath.Base(o.Name)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}
