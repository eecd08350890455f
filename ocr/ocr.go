//go:build ocr

// Package ocr provides an offline visual describer backed by Tesseract.
//
// It wraps the Tesseract engine via gosseract and needs Tesseract
// installed on the system (apt-get install tesseract-ocr, brew install
// tesseract). Build with -tags ocr to enable it.
package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/brunobiangulo/docmark/model"
)

// Tesseract recognises the text in page renders and images. It is safe
// for concurrent use; recognition calls are serialised.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New creates a Tesseract describer for the given languages, joined with
// "+" (for example "eng+deu"). An empty languages defaults to "eng".
// The describer should be closed when no longer needed.
func New(languages string) (*Tesseract, error) {
	client := gosseract.NewClient()
	if languages == "" {
		languages = "eng"
	}
	if err := client.SetLanguage(strings.Split(languages, "+")...); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set language %q: %w", languages, err)
	}
	return &Tesseract{client: client}, nil
}

// Close releases Tesseract resources.
func (t *Tesseract) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

// Describe returns the recognised text. Page renders are segmented as a
// full page; standalone images as sparse text.
func (t *Tesseract) Describe(ctx context.Context, req model.DescribeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	mode := gosseract.PSM_AUTO
	if req.Purpose == model.PurposeImage {
		mode = gosseract.PSM_SPARSE_TEXT
	}
	if err := t.client.SetPageSegMode(mode); err != nil {
		return "", fmt.Errorf("%w: ocr: %v", model.ErrExternalCapability, err)
	}
	if err := t.client.SetImageFromBytes(req.Data); err != nil {
		return "", fmt.Errorf("%w: ocr: failed to set image: %v", model.ErrExternalCapability, err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("%w: ocr failed: %v", model.ErrExternalCapability, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: ocr found no text", model.ErrExternalCapability)
	}
	return text, nil
}
