package pdf

import (
	"strings"
	"testing"

	"github.com/brunobiangulo/docmark/model"
)

// healthy is a page signal set that triggers nothing.
var healthy = Signals{WordCount: 500, AlphanumericRatio: 0.9, UnstructuredChars: 2000}

func TestDecideBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Signals)
		strategy Strategy
		trigger  Trigger
	}{
		{"healthy page", func(*Signals) {}, TextExtraction, TriggerNone},
		{"9 words", func(s *Signals) { s.WordCount = 9 }, RenderAndDescribe, TriggerLowWordCount},
		{"10 words", func(s *Signals) { s.WordCount = 10 }, TextExtraction, TriggerNone},
		{"5 words", func(s *Signals) { s.WordCount = 5 }, RenderAndDescribe, TriggerLowWordCount},
		{"ratio 0.5", func(s *Signals) { s.AlphanumericRatio = 0.5 }, TextExtraction, TriggerNone},
		{"ratio 0.49", func(s *Signals) { s.AlphanumericRatio = 0.49 }, RenderAndDescribe, TriggerLowAlphanumeric},
		{"50 unstructured", func(s *Signals) { s.UnstructuredChars = 50 }, TextExtraction, TriggerNone},
		{"49 unstructured", func(s *Signals) { s.UnstructuredChars = 49 }, RenderAndDescribe, TriggerLowUnstructured},
		{"image with 349 words", func(s *Signals) { s.EmbeddedImages, s.WordCount = 1, 349 }, RenderAndDescribe, TriggerImagesWithLittle},
		{"image with 350 words", func(s *Signals) { s.EmbeddedImages, s.WordCount = 1, 350 }, TextExtraction, TriggerNone},
		{"349 words without image", func(s *Signals) { s.WordCount = 349 }, TextExtraction, TriggerNone},
		{
			"first condition reported",
			func(s *Signals) { s.WordCount, s.AlphanumericRatio, s.UnstructuredChars = 3, 0.1, 0 },
			RenderAndDescribe, TriggerLowWordCount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := healthy
			tt.mutate(&s)
			strategy, trigger := Decide(s, DefaultThresholds())
			if strategy != tt.strategy || trigger != tt.trigger {
				t.Errorf("Decide(%+v) = %v/%q, want %v/%q", s, strategy, trigger, tt.strategy, tt.trigger)
			}
		})
	}
}

func TestMeasure(t *testing.T) {
	blocks := []model.Block{
		model.Heading{Level: 1, Text: "Title here"},
		model.Text{Text: "ab cd!"},
		model.List{Items: []string{"x1"}},
		model.Table{Headers: []string{"h"}, Rows: [][]string{{"v"}}},
	}
	s := Measure(blocks, 2)
	if s.WordCount != 7 {
		t.Errorf("WordCount = %d, want 7", s.WordCount)
	}
	if s.UnstructuredChars != 6 {
		t.Errorf("UnstructuredChars = %d, want 6", s.UnstructuredChars)
	}
	// 17 alphanumeric of 18 visible runes; "!" is the only symbol.
	if want := 17.0 / 18.0; s.AlphanumericRatio != want {
		t.Errorf("AlphanumericRatio = %v, want %v", s.AlphanumericRatio, want)
	}
	if s.EmbeddedImages != 2 {
		t.Errorf("EmbeddedImages = %d", s.EmbeddedImages)
	}
}

func TestMeasureEmptyPage(t *testing.T) {
	s := Measure(nil, 0)
	if s != (Signals{}) {
		t.Errorf("Measure(nil) = %+v", s)
	}
	if strategy, trigger := Decide(s, DefaultThresholds()); strategy != RenderAndDescribe || trigger != TriggerLowWordCount {
		t.Errorf("empty page decided %v/%q", strategy, trigger)
	}
}

func TestMeasureGarbage(t *testing.T) {
	s := Measure([]model.Block{model.Text{Text: strings.Repeat("@#$% ", 20) + "ok"}}, 0)
	if s.AlphanumericRatio >= 0.5 {
		t.Errorf("ratio = %v, want < 0.5", s.AlphanumericRatio)
	}
}
