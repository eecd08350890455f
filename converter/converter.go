// Package converter defines the converter contract, the immutable registry
// that dispatches format identifiers to converters, and the built-in leaf
// converters.
package converter

import (
	"context"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// Converter turns one format into a Document.
type Converter interface {
	// Convert reads path from store and converts it. Most converters
	// delegate to ConvertBytes through ReadAndConvert.
	Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error)

	// ConvertBytes converts an in-memory payload.
	ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error)

	// SupportedExtensions lists the format identifiers the converter
	// registers under.
	SupportedExtensions() []string
}

// BytesConverter is the byte-oriented half of Converter.
type BytesConverter interface {
	ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error)
}

// ReadAndConvert reads path from store and hands the bytes to c. Storage
// failures are reported as model.ErrIO; cancellation is returned as is.
func ReadAndConvert(ctx context.Context, c BytesConverter, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	data, err := store.ReadAll(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.IOError(path, err)
	}
	if opts.Name == "" {
		opts.Name = path
	}
	return c.ConvertBytes(ctx, data, opts)
}
