package pdf

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/docmark/model"
)

// Strategy is the terminal state chosen for a page.
type Strategy int

const (
	// TextExtraction keeps the extracted text runs, tables and images.
	TextExtraction Strategy = iota
	// RenderAndDescribe rasterizes the page and asks the describer for its
	// content.
	RenderAndDescribe
)

func (s Strategy) String() string {
	if s == RenderAndDescribe {
		return "render_and_describe"
	}
	return "text_extraction"
}

// Trigger names the condition that moved a page to RenderAndDescribe.
type Trigger string

const (
	TriggerNone             Trigger = ""
	TriggerLowWordCount     Trigger = "low_word_count"
	TriggerLowAlphanumeric  Trigger = "low_alphanumeric_ratio"
	TriggerLowUnstructured  Trigger = "low_unstructured_text"
	TriggerImagesWithLittle Trigger = "images_with_little_text"
	TriggerForced           Trigger = "forced"
)

// Thresholds are the fallback limits. All comparisons are strict.
type Thresholds struct {
	MinWords             int
	MinAlphanumericRatio float64
	MinUnstructuredChars int
	// ImageWordLimit applies to pages with at least one embedded image.
	ImageWordLimit int
}

// DefaultThresholds returns the standard limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinWords:             10,
		MinAlphanumericRatio: 0.5,
		MinUnstructuredChars: 50,
		ImageWordLimit:       350,
	}
}

// Signals are computed from a page's text-extraction result.
type Signals struct {
	WordCount int
	// AlphanumericRatio is alphanumeric runes over non-whitespace runes,
	// or 0 for a page without text.
	AlphanumericRatio float64
	// UnstructuredChars counts runes of plain text not attributed to a
	// heading, list or table cell.
	UnstructuredChars int
	EmbeddedImages    int
}

// Measure computes the signals for blocks produced by text extraction.
func Measure(blocks []model.Block, embeddedImages int) Signals {
	page := &model.Document{Pages: []model.Page{{Blocks: blocks}}}
	text := page.PlainText()

	s := Signals{
		WordCount:      len(strings.Fields(text)),
		EmbeddedImages: embeddedImages,
	}
	var alnum, visible int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if visible > 0 {
		s.AlphanumericRatio = float64(alnum) / float64(visible)
	}
	for _, b := range blocks {
		if t, ok := b.(model.Text); ok {
			s.UnstructuredChars += utf8.RuneCountInString(strings.TrimSpace(t.Text))
		}
	}
	return s
}

// Decide evaluates the fallback conditions in order and reports the first
// one that holds. It has no side effects.
func Decide(s Signals, t Thresholds) (Strategy, Trigger) {
	switch {
	case s.WordCount < t.MinWords:
		return RenderAndDescribe, TriggerLowWordCount
	case s.AlphanumericRatio < t.MinAlphanumericRatio:
		return RenderAndDescribe, TriggerLowAlphanumeric
	case s.UnstructuredChars < t.MinUnstructuredChars:
		return RenderAndDescribe, TriggerLowUnstructured
	case s.EmbeddedImages > 0 && s.WordCount < t.ImageWordLimit:
		return RenderAndDescribe, TriggerImagesWithLittle
	}
	return TextExtraction, TriggerNone
}
