package docmark

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/docmark/archive"
	"github.com/brunobiangulo/docmark/detect"
	"github.com/brunobiangulo/docmark/pdf"
	"github.com/brunobiangulo/docmark/storage"
)

// Config holds all configuration for the docmark engine.
type Config struct {
	// Vision configures the LLM used to describe images and convert
	// rendered PDF pages. Leave Provider empty to run without one.
	Vision LLMConfig `json:"vision" yaml:"vision"`

	// OCR uses the local Tesseract engine as describer when no vision LLM
	// is configured. Requires a build with -tags ocr.
	OCR          bool   `json:"ocr" yaml:"ocr"`
	OCRLanguages string `json:"ocr_languages" yaml:"ocr_languages"` // "+" separated, e.g. "eng+deu"

	// Image description
	DescribeImages      bool `json:"describe_images" yaml:"describe_images"`           // Describe extracted images through the describer
	DescribeConcurrency int  `json:"describe_concurrency" yaml:"describe_concurrency"` // Max parallel describer calls (default 4)

	// Per-call defaults
	ForceOCR      bool `json:"force_ocr" yaml:"force_ocr"`
	ExtractImages bool `json:"extract_images" yaml:"extract_images"`
	MergeTables   bool `json:"merge_tables" yaml:"merge_tables"`

	// Archives. MaxArchiveDepth 0 takes the default; NoNestedArchives
	// converts the top-level archive but none inside it.
	MaxArchiveDepth     int   `json:"max_archive_depth" yaml:"max_archive_depth"`
	ArchiveConcurrency  int   `json:"archive_concurrency" yaml:"archive_concurrency"`
	MaxEntrySize        int64 `json:"max_entry_size" yaml:"max_entry_size"`
	MaxArchiveTotalSize int64 `json:"max_archive_total_size" yaml:"max_archive_total_size"` // decompressed bytes per top-level archive
	ArchiveSummary      bool  `json:"archive_summary" yaml:"archive_summary"`               // append a page counting converted, skipped and failed entries

	// PDF rendering
	PDFRenderDPI   int    `json:"pdf_render_dpi" yaml:"pdf_render_dpi"`
	PDFConcurrency int    `json:"pdf_concurrency" yaml:"pdf_concurrency"`
	PdftoppmPath   string `json:"pdftoppm_path" yaml:"pdftoppm_path"`

	// Precedence overrides the detector's per-format tie-break, mapping a
	// format to "extension" or "content".
	Precedence map[string]string `json:"precedence,omitempty" yaml:"precedence,omitempty"`

	// StorageRoot confines path-based conversions to a directory. Empty
	// allows any readable path.
	StorageRoot string `json:"storage_root" yaml:"storage_root"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size"`

	// StorageDB switches path-based conversions to a SQLite blob store at
	// this path; StorageRoot is then ignored.
	StorageDB string `json:"storage_db" yaml:"storage_db"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

// NoNestedArchives is the MaxArchiveDepth that stops at the top-level
// archive.
const NoNestedArchives = -1

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider  string        `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model     string        `json:"model" yaml:"model"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	APIKey    string        `json:"api_key" yaml:"api_key"`
	MaxTokens int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a Config that converts offline: no describer,
// image extraction on, table merging off.
func DefaultConfig() Config {
	return Config{
		DescribeConcurrency: 4,
		ExtractImages:       true,
		MaxArchiveDepth:     archive.DefaultMaxDepth,
		ArchiveConcurrency:  runtime.GOMAXPROCS(0),
		MaxEntrySize:        archive.DefaultMaxEntrySize,
		MaxArchiveTotalSize: archive.DefaultMaxTotalSize,
		PDFRenderDPI:        pdf.DefaultDPI,
		PDFConcurrency:      4,
		MaxFileSize:         storage.DefaultMaxSize,
		LogLevel:            "info",
	}
}

// defaults fills zero values. Booleans are left alone; DefaultConfig
// carries their defaults.
func (c *Config) defaults() {
	d := DefaultConfig()
	if c.DescribeConcurrency <= 0 {
		c.DescribeConcurrency = d.DescribeConcurrency
	}
	switch {
	case c.MaxArchiveDepth == 0:
		c.MaxArchiveDepth = d.MaxArchiveDepth
	case c.MaxArchiveDepth < 0:
		c.MaxArchiveDepth = NoNestedArchives
	}
	if c.ArchiveConcurrency <= 0 {
		c.ArchiveConcurrency = d.ArchiveConcurrency
	}
	if c.MaxEntrySize <= 0 {
		c.MaxEntrySize = d.MaxEntrySize
	}
	if c.MaxArchiveTotalSize <= 0 {
		c.MaxArchiveTotalSize = d.MaxArchiveTotalSize
	}
	if c.PDFRenderDPI <= 0 {
		c.PDFRenderDPI = d.PDFRenderDPI
	}
	if c.PDFConcurrency <= 0 {
		c.PDFConcurrency = d.PDFConcurrency
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// validate rejects values defaults cannot repair.
func (c *Config) validate() error {
	for format, p := range c.Precedence {
		if _, err := detect.ParsePrecedence(p); err != nil {
			return fmt.Errorf("%w: precedence for %s: %v", ErrInvalidConfig, format, err)
		}
	}
	return nil
}

// archiveDepth is the archive converter's max depth: the top-level input
// sits at depth 0.
func (c *Config) archiveDepth() int {
	if c.MaxArchiveDepth < 0 {
		return 0
	}
	return c.MaxArchiveDepth
}

// detectorOptions turns the precedence overrides into detector options.
func (c *Config) detectorOptions() []detect.Option {
	var opts []detect.Option
	for format, p := range c.Precedence {
		prec, err := detect.ParsePrecedence(p)
		if err != nil {
			continue
		}
		opts = append(opts, detect.WithPrecedence(detect.Normalize(format), prec))
	}
	return opts
}

// LoadConfig reads a YAML or JSON config file, chosen by extension, on top
// of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	cfg.defaults()
	return cfg, cfg.validate()
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
