package docmark

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "docmark.yaml", `
vision:
  provider: openrouter
  model: qwen/qwen2.5-vl-72b-instruct
  api_key: sk-test
  timeout: 30s
describe_images: true
merge_tables: true
max_archive_depth: 3
precedence:
  txt: extension
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Vision.Provider != "openrouter" || cfg.Vision.APIKey != "sk-test" {
		t.Errorf("vision = %+v", cfg.Vision)
	}
	if cfg.Vision.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Vision.Timeout)
	}
	if !cfg.DescribeImages || !cfg.MergeTables || cfg.MaxArchiveDepth != 3 {
		t.Errorf("flags not loaded: %+v", cfg)
	}
	if !cfg.ExtractImages {
		t.Error("ExtractImages default lost")
	}
	if cfg.PDFRenderDPI != DefaultConfig().PDFRenderDPI {
		t.Errorf("PDFRenderDPI = %d, want default", cfg.PDFRenderDPI)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeFile(t, "docmark.json", `{"force_ocr": true, "describe_concurrency": 0, "log_level": "debug"}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.ForceOCR || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DescribeConcurrency != 4 {
		t.Errorf("DescribeConcurrency = %d, want default 4", cfg.DescribeConcurrency)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadConfig(writeFile(t, "bad.yaml", "vision: [unclosed")); err == nil {
		t.Error("expected error for malformed yaml")
	}
	if _, err := LoadConfig(writeFile(t, "prec.yaml", "precedence:\n  md: maybe\n")); err == nil {
		t.Error("expected error for unknown precedence")
	}
}

func TestDefaultsFillZeroValues(t *testing.T) {
	var cfg Config
	cfg.defaults()
	d := DefaultConfig()
	if cfg.MaxArchiveDepth != d.MaxArchiveDepth || cfg.PDFConcurrency != d.PDFConcurrency || cfg.MaxFileSize != d.MaxFileSize {
		t.Errorf("defaults() = %+v", cfg)
	}
}

func TestArchiveDepthSentinel(t *testing.T) {
	cases := []struct {
		in, stored, depth int
	}{
		{0, DefaultConfig().MaxArchiveDepth, DefaultConfig().MaxArchiveDepth},
		{3, 3, 3},
		{NoNestedArchives, NoNestedArchives, 0},
		{-7, NoNestedArchives, 0},
	}
	for _, c := range cases {
		cfg := Config{MaxArchiveDepth: c.in}
		cfg.defaults()
		if cfg.MaxArchiveDepth != c.stored || cfg.archiveDepth() != c.depth {
			t.Errorf("MaxArchiveDepth %d: stored %d depth %d, want %d and %d",
				c.in, cfg.MaxArchiveDepth, cfg.archiveDepth(), c.stored, c.depth)
		}
	}

	path := writeFile(t, "flat.yaml", "max_archive_depth: -1\narchive_summary: true\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.archiveDepth() != 0 || !cfg.ArchiveSummary {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (Config{LogLevel: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
