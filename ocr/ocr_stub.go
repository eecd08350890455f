//go:build !ocr

// Package ocr provides an offline visual describer backed by Tesseract.
//
// This is the stub used when the "ocr" build tag is not set. Every call
// returns ErrOCRNotEnabled. Rebuild with -tags ocr to enable it.
package ocr

import (
	"context"
	"errors"

	"github.com/brunobiangulo/docmark/model"
)

// ErrOCRNotEnabled is returned when OCR support was not compiled in.
var ErrOCRNotEnabled = errors.New("OCR support not enabled; rebuild with -tags ocr")

// Tesseract is a stub describer.
type Tesseract struct{}

// New returns ErrOCRNotEnabled.
func New(languages string) (*Tesseract, error) {
	return nil, ErrOCRNotEnabled
}

// Close is a no-op. It is safe to call on a nil describer.
func (t *Tesseract) Close() error { return nil }

// Describe returns ErrOCRNotEnabled wrapped as an external capability failure.
func (t *Tesseract) Describe(ctx context.Context, req model.DescribeRequest) (string, error) {
	return "", errors.Join(model.ErrExternalCapability, ErrOCRNotEnabled)
}
