package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local reads from the host filesystem. With a non-empty Root every path is
// resolved under it and traversal outside is rejected.
type Local struct {
	Root    string
	MaxSize int64
}

// NewLocal returns a Local store confined to root. An empty root allows
// any path the process can read.
func NewLocal(root string) *Local {
	return &Local{Root: root, MaxSize: DefaultMaxSize}
}

func (l *Local) resolve(p string) (string, error) {
	if l.Root == "" {
		return filepath.Clean(p), nil
	}
	if strings.Contains(p, "..") {
		return "", ErrPathTraversal
	}
	base := filepath.Clean(l.Root)
	cleaned := filepath.Join(base, filepath.Clean("/"+p))
	if cleaned != base && !strings.HasPrefix(cleaned, base+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ReadAll reads the file at p.
func (l *Local) ReadAll(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	limit := l.MaxSize
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	return LimitedReadAll(f, limit)
}

// List returns the entries of directory prefix, joined with prefix.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := filepath.ToSlash(filepath.Join(prefix, e.Name()))
		if e.IsDir() {
			name += "/"
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
