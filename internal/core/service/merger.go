package service

import (
	"context"
	"fmt"
	"image/color"
	"imgmerge/internal/core/domain"
	"imgmerge/internal/core/port"

	"github.com/rs/zerolog/log"
)

type MergeService struct {
	codec      port.ImageCodec
	outputs    port.FileStore
	background color.Color
}

func NewMergeService(codec port.ImageCodec, outputs port.FileStore, background color.Color) *MergeService {
	return &MergeService{codec: codec, outputs: outputs, background: background}
}

func (s *MergeService) Merge(ctx context.Context, req domain.MergeRequest) (*domain.MergeResult, error) {
	format := req.Format
	if format == "" {
		format = domain.DefaultOutputFormat
	}

	l := log.Ctx(ctx).With().Str("format", string(format)).Logger()

	model, err := s.codec.Decode(req.ModelImage)
	if err != nil {
		return nil, fmt.Errorf("model image: %w", err)
	}

	product, err := s.codec.Decode(req.ProductImage)
	if err != nil {
		return nil, fmt.Errorf("product image: %w", err)
	}

	l.Debug().
		Stringer("model", model.Bounds().Size()).
		Stringer("product", product.Bounds().Size()).
		Msg("decoded inputs")

	merged, err := domain.Merge(model, product, domain.MergeOptions{
		TargetHeight: req.TargetHeight,
		Background:   s.background,
	})
	if err != nil {
		return nil, err
	}

	data, err := s.codec.Encode(merged, format)
	if err != nil {
		return nil, err
	}

	dims := domain.Dimensions{Width: merged.Bounds().Dx(), Height: merged.Bounds().Dy()}
	l.Debug().Int("width", dims.Width).Int("height", dims.Height).Int("bytes", len(data)).Msg("merged images")

	return &domain.MergeResult{Data: data, Dimensions: dims, Format: format}, nil
}

func (s *MergeService) MergeAndStore(ctx context.Context, req domain.MergeRequest) (*domain.StoredResult, error) {
	result, err := s.Merge(ctx, req)
	if err != nil {
		return nil, err
	}

	name, err := s.outputs.Save(ctx, result.Data, result.Format.Extension())
	if err != nil {
		return nil, fmt.Errorf("storing merged image: %w", err)
	}

	log.Ctx(ctx).Info().Str("filename", name).Msg("stored merged image")

	return &domain.StoredResult{Filename: name, Dimensions: result.Dimensions, Format: result.Format}, nil
}
