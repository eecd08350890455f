// Package storage provides the byte sources converters read from. The
// conversion core only depends on the Storage interface, never on a local
// filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Storage reads bytes at logical paths and lists directory-like children.
// Implementations must be safe for concurrent reads.
type Storage interface {
	// ReadAll returns the full content at p. Missing paths wrap
	// fs.ErrNotExist.
	ReadAll(ctx context.Context, p string) ([]byte, error)

	// List returns the immediate children of prefix. Children that have
	// descendants of their own end in "/".
	List(ctx context.Context, prefix string) ([]string, error)
}

// DefaultMaxSize bounds a single read.
const DefaultMaxSize = 512 << 20

var (
	// ErrPathTraversal is returned when a path escapes the storage root.
	ErrPathTraversal = errors.New("storage: path traversal detected")

	// ErrTooLarge is returned when content exceeds the read limit.
	ErrTooLarge = errors.New("storage: content exceeds size limit")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("storage: store is closed")
)

// LimitedReadAll reads at most maxBytes from r, failing with ErrTooLarge
// when more is available.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// cleanKey normalizes a logical path: forward slashes, no leading slash,
// no "." or ".." segments escaping the root.
func cleanKey(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, p)
		}
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p, nil
}

// children reduces keys under prefix to their first path segment.
func children(keys []string, prefix string) []string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) || k == prefix {
			continue
		}
		rest := k[len(prefix):]
		child := rest
		if i := strings.Index(rest, "/"); i >= 0 {
			child = rest[:i+1]
		}
		if !seen[child] {
			seen[child] = true
			out = append(out, prefix+child)
		}
	}
	sort.Strings(out)
	return out
}
