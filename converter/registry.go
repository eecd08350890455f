package converter

import (
	"context"
	"sort"

	"github.com/brunobiangulo/docmark/detect"
	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// Registry maps format identifiers to converters. A Registry is never
// modified after construction; With returns an extended copy. Dispatch is
// therefore safe from any number of goroutines without locking.
type Registry struct {
	converters map[string]Converter
}

// NewRegistry registers convs in order. Within one extension the last
// registration wins.
func NewRegistry(convs ...Converter) *Registry {
	r := &Registry{converters: make(map[string]Converter)}
	r.add(convs...)
	return r
}

// With returns a new registry holding r's converters plus convs.
func (r *Registry) With(convs ...Converter) *Registry {
	next := &Registry{converters: make(map[string]Converter, len(r.converters))}
	for k, v := range r.converters {
		next.converters[k] = v
	}
	next.add(convs...)
	return next
}

func (r *Registry) add(convs ...Converter) {
	for _, c := range convs {
		for _, ext := range c.SupportedExtensions() {
			r.converters[detect.Normalize(ext)] = c
		}
	}
}

// Get returns the converter registered for format.
func (r *Registry) Get(format string) (Converter, error) {
	c, ok := r.converters[detect.Normalize(format)]
	if !ok {
		return nil, &model.UnsupportedFormatError{Extension: format, Sniff: "no converter registered"}
	}
	return c, nil
}

// Has reports whether a converter is registered for format.
func (r *Registry) Has(format string) bool {
	_, ok := r.converters[detect.Normalize(format)]
	return ok
}

// Formats returns the registered format identifiers, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.converters))
	for k := range r.converters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch converts data with the converter registered for format.
// Converter errors are returned unchanged.
func (r *Registry) Dispatch(ctx context.Context, format string, data []byte, opts model.Options) (*model.Document, error) {
	c, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	if opts.Extension == "" {
		opts.Extension = detect.Normalize(format)
	}
	return c.ConvertBytes(ctx, data, opts)
}

// DispatchPath converts path from store with the converter registered for
// format.
func (r *Registry) DispatchPath(ctx context.Context, format string, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	c, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	if opts.Extension == "" {
		opts.Extension = detect.Normalize(format)
	}
	return c.Convert(ctx, store, path, opts)
}
