package docmark

import (
	"errors"

	"github.com/brunobiangulo/docmark/model"
)

var (
	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = model.ErrUnsupportedFormat

	// ErrParse is returned when a recognized format is malformed.
	ErrParse = model.ErrParse

	// ErrIO is returned when reading the input fails.
	ErrIO = model.ErrIO

	// ErrEncoding is returned when text cannot be decoded.
	ErrEncoding = model.ErrEncoding

	// ErrRecursionLimitExceeded is returned when archives nest too deeply.
	ErrRecursionLimitExceeded = model.ErrRecursionLimitExceeded

	// ErrExternalCapability is returned when the describer fails.
	ErrExternalCapability = model.ErrExternalCapability

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("docmark: invalid configuration")
)

// UnsupportedFormatError carries the attempted extension and a content
// summary. It matches ErrUnsupportedFormat under errors.Is.
type UnsupportedFormatError = model.UnsupportedFormatError
