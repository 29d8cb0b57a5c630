package port

import (
	"image"
	"imgmerge/internal/core/domain"
)

type ImageCodec interface {
	// Decode turns raw image bytes into a raster image, failing with domain.ErrDecodeFailure for anything that is not
	// a supported image format.
	Decode(data []byte) (image.Image, error)
	// Encode serializes img in the given output format, failing with domain.ErrEncodeFailure.
	Encode(img image.Image, format domain.Format) ([]byte, error)
}
