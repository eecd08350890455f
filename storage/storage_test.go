package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestMemoryReadAndList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, p := range []string{"a.txt", "dir/b.txt", "dir/sub/c.txt", "/dir/d.txt"} {
		if err := m.Put(p, []byte(p)); err != nil {
			t.Fatalf("Put(%q): %v", p, err)
		}
	}

	data, err := m.ReadAll(ctx, "dir/b.txt")
	if err != nil || string(data) != "dir/b.txt" {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}

	got, err := m.List(ctx, "dir")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"dir/b.txt", "dir/d.txt", "dir/sub/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List(dir) = %v, want %v", got, want)
	}

	root, _ := m.List(ctx, "")
	if !reflect.DeepEqual(root, []string{"a.txt", "dir/"}) {
		t.Errorf("List(\"\") = %v", root)
	}
}

func TestMemoryNotFound(t *testing.T) {
	_, err := NewMemory().ReadAll(context.Background(), "missing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	if err := m.Put("a/b.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	m.Delete("a/b.txt")
	m.Delete("a/missing.txt")
	if m.Len() != 0 {
		t.Errorf("Len = %d after delete, want 0", m.Len())
	}
	if _, err := m.ReadAll(context.Background(), "a/b.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestMemoryRejectsTraversal(t *testing.T) {
	if err := NewMemory().Put("../etc/passwd", nil); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("expected ErrPathTraversal, got %v", err)
	}
}

func TestMemoryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	m.Put("x", []byte("y"))
	if _, err := m.ReadAll(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLocalConfinedToRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("# A"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLocal(root)
	data, err := l.ReadAll(ctx, "docs/a.md")
	if err != nil || string(data) != "# A" {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}

	if _, err := l.ReadAll(ctx, "../outside"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("expected ErrPathTraversal, got %v", err)
	}

	if _, err := l.ReadAll(ctx, "docs/missing.md"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}

	list, err := l.List(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(list, []string{"docs/a.md"}) {
		t.Errorf("List = %v", list)
	}
}

func TestLocalSizeLimit(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "big"), []byte(strings.Repeat("x", 100)), 0644)

	l := &Local{Root: root, MaxSize: 10}
	if _, err := l.ReadAll(context.Background(), "big"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}
