package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when neither the detector nor the
	// registry can resolve a converter for the input.
	ErrUnsupportedFormat = errors.New("docmark: unsupported document format")

	// ErrParse is returned for malformed content in a recognized format.
	ErrParse = errors.New("docmark: parse error")

	// ErrIO is returned when reading from storage fails.
	ErrIO = errors.New("docmark: io error")

	// ErrEncoding is returned when text cannot be decoded.
	ErrEncoding = errors.New("docmark: encoding error")

	// ErrRecursionLimitExceeded is returned when archives nest deeper than
	// the configured maximum.
	ErrRecursionLimitExceeded = errors.New("docmark: archive recursion limit exceeded")

	// ErrExternalCapability is returned when the visual-description
	// capability fails.
	ErrExternalCapability = errors.New("docmark: visual description failed")
)

// UnsupportedFormatError carries the attempted extension and a summary of
// the sniffed content prefix.
type UnsupportedFormatError struct {
	Extension string
	Sniff     string
}

func (e *UnsupportedFormatError) Error() string {
	ext := e.Extension
	if ext == "" {
		ext = "<none>"
	}
	if e.Sniff == "" {
		return fmt.Sprintf("%v: extension %q", ErrUnsupportedFormat, ext)
	}
	return fmt.Sprintf("%v: extension %q, content %s", ErrUnsupportedFormat, ext, e.Sniff)
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// ParseError wraps err as a parse failure for the named format.
func ParseError(format string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrParse, format, err)
}

// IOError wraps err as a storage failure for path.
func IOError(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, path, err)
}

// EncodingError wraps err as a decoding failure.
func EncodingError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEncoding, name, err)
}
