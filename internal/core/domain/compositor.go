package domain

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

var White = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// ScaledWidth returns the width an image of width x height gets when scaled to targetHeight,
// rounded to the nearest pixel and never below 1.
func ScaledWidth(width, height, targetHeight int) int {
	if height < 1 {
		return 1
	}

	w := (2*int64(width)*int64(targetHeight) + int64(height)) / (2 * int64(height))
	if w < 1 {
		return 1
	}

	return int(w)
}

// ScaleToHeight resizes img to targetHeight keeping its aspect ratio, using Lanczos resampling in both
// directions.
func ScaleToHeight(img image.Image, targetHeight int) (*image.NRGBA, error) {
	if targetHeight < 1 {
		return nil, fmt.Errorf("%w: target height must be at least 1, got %d", ErrInvalidDimension, targetHeight)
	}

	b := img.Bounds()
	if b.Dy() < 1 || b.Dx() < 1 {
		return nil, fmt.Errorf("%w: source image is %dx%d", ErrInvalidDimension, b.Dx(), b.Dy())
	}

	width := ScaledWidth(b.Dx(), b.Dy(), targetHeight)
	if width == b.Dx() && targetHeight == b.Dy() {
		return imaging.Clone(img), nil
	}

	return imaging.Resize(img, width, targetHeight, imaging.Lanczos), nil
}

// Flatten converts img into an opaque RGB image by compositing it onto bg. Grayscale, paletted and CMYK
// sources are expanded on the way.
func Flatten(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), opaque(bg))

	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// Merge scales model and product to a common height and places them side by side, model on the left.
func Merge(model, product image.Image, opts MergeOptions) (*image.NRGBA, error) {
	bg := opaque(opts.Background)

	targetHeight := max(model.Bounds().Dy(), product.Bounds().Dy())
	if opts.TargetHeight != nil {
		targetHeight = *opts.TargetHeight
	}

	if targetHeight < 1 {
		return nil, fmt.Errorf("%w: target height must be at least 1, got %d", ErrInvalidDimension, targetHeight)
	}

	left, err := ScaleToHeight(Flatten(model, bg), targetHeight)
	if err != nil {
		return nil, fmt.Errorf("scaling model image: %w", err)
	}

	right, err := ScaleToHeight(Flatten(product, bg), targetHeight)
	if err != nil {
		return nil, fmt.Errorf("scaling product image: %w", err)
	}

	leftWidth := left.Bounds().Dx()
	canvas := imaging.New(leftWidth+right.Bounds().Dx(), targetHeight, bg)
	canvas = imaging.Paste(canvas, left, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, right, image.Pt(leftWidth, 0))

	return canvas, nil
}

func opaque(c color.Color) color.NRGBA {
	if c == nil {
		return White
	}

	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = 255

	return n
}
