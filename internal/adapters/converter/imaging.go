package converter

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"imgmerge/internal/core/domain"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	// formats imaging does not register on its own
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	MinQuality = 1
	MaxQuality = 100
)

// ImagingConverter decodes and encodes images with the imaging library.
type ImagingConverter struct {
	jpegQuality int
	maxPixels   int64
}

// NewImagingConverter returns a converter that refuses to decode inputs declaring more than maxPixels pixels.
func NewImagingConverter(jpegQuality int, maxPixels int64) (*ImagingConverter, error) {
	if jpegQuality < MinQuality || jpegQuality > MaxQuality {
		return nil, fmt.Errorf("jpeg quality must be between %d and %d, got %d", MinQuality, MaxQuality, jpegQuality)
	}

	if maxPixels < 1 {
		return nil, fmt.Errorf("max input pixels must be positive, got %d", maxPixels)
	}

	return &ImagingConverter{jpegQuality: jpegQuality, maxPixels: maxPixels}, nil
}

func (c *ImagingConverter) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", domain.ErrDecodeFailure)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(data)).Msg("reading image header failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrDecodeFailure, err)
	}

	// the header is checked before any pixel buffer gets allocated
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > c.maxPixels {
		log.Warn().Str("format", format).Int("width", cfg.Width).Int("height", cfg.Height).
			Msg("rejecting oversized image")
		return nil, fmt.Errorf("%w: %s image of %dx%d exceeds the limit of %d pixels",
			domain.ErrDecodeFailure, format, cfg.Width, cfg.Height, c.maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(data)).Msg("decode failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrDecodeFailure, err)
	}

	return img, nil
}

func (c *ImagingConverter) Encode(img image.Image, format domain.Format) ([]byte, error) {
	var opts []imaging.EncodeOption
	var target imaging.Format

	switch format {
	case domain.JPG:
		target = imaging.JPEG
		opts = append(opts, imaging.JPEGQuality(c.jpegQuality))
	case domain.PNG:
		target = imaging.PNG
		opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, target, opts...); err != nil {
		log.Error().Err(err).Str("format", string(format)).Msg("encode failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrEncodeFailure, err)
	}

	return buf.Bytes(), nil
}
