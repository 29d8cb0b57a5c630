package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDecodeFailure     = errors.New("failed to decode image")
	ErrInvalidDimension  = errors.New("invalid dimension")
	ErrEncodeFailure     = errors.New("failed to encode image")
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported output format", ErrEncodeFailure)
	ErrInvalidSource     = errors.New("invalid image source")
	ErrNotFound          = errors.New("file not found")
)

const (
	DefaultOutputFormat = JPG
	DefaultJPEGQuality  = 100

	// DefaultMaxInputPixels matches the decompression bomb threshold of common imaging stacks.
	DefaultMaxInputPixels = 178956970
)
