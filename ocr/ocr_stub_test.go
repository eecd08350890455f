//go:build !ocr

package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/brunobiangulo/docmark/model"
)

func TestNewReturnsError(t *testing.T) {
	d, err := New("eng")
	if !errors.Is(err, ErrOCRNotEnabled) {
		t.Errorf("Expected ErrOCRNotEnabled, got: %v", err)
	}
	if d != nil {
		t.Error("Expected nil describer when OCR is disabled")
	}
}

func TestStubDescribe(t *testing.T) {
	var d *Tesseract
	if err := d.Close(); err != nil {
		t.Errorf("Close on nil describer should not error: %v", err)
	}
	_, err := d.Describe(context.Background(), model.DescribeRequest{Data: []byte{1}})
	if !errors.Is(err, model.ErrExternalCapability) || !errors.Is(err, ErrOCRNotEnabled) {
		t.Errorf("Describe error = %v", err)
	}
}
