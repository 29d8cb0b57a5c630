package main

import (
	"errors"
	"fmt"
	"imgmerge/internal/adapters/converter"
	"imgmerge/internal/config"
	"imgmerge/internal/core/domain"
	"imgmerge/internal/core/service"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultOutput = "merged_output.jpg"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgmerge <model_image> <product_image> [output_path] [target_height]",
		Short: "Merge a model image and a product image side by side",
		Long: `Scales both images to a common height, keeping their aspect ratio, and places the model image
on the left and the product image on the right. The output format follows the output extension
(.png for PNG, anything else is written as JPEG). Target height defaults to the taller input.`,
		Example:      "  imgmerge model.jpg product.png output.jpg 1200",
		Args:         cobra.RangeArgs(2, 4),
		SilenceUsage: true,
		RunE:         runMerge,
	}

	cmd.Flags().Int("quality", domain.DefaultJPEGQuality, "JPEG quality (1-100)")
	cmd.Flags().String("background", "#ffffff", "Background colour for transparent areas")
	cmd.Flags().Int64("max-pixels", domain.DefaultMaxInputPixels, "Refuse inputs with more pixels than this")
	cmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")

	return cmd
}

func runMerge(cmd *cobra.Command, args []string) error {
	quality, _ := cmd.Flags().GetInt("quality")
	background, _ := cmd.Flags().GetString("background")
	verbose, _ := cmd.Flags().GetBool("verbose")
	maxPixels, _ := cmd.Flags().GetInt64("max-pixels")

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	modelPath, productPath := args[0], args[1]
	outputPath := defaultOutput
	if len(args) > 2 {
		outputPath = args[2]
	}

	var targetHeight *int
	if len(args) > 3 {
		h, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("%w: target height must be an integer, got %q", domain.ErrInvalidDimension, args[3])
		}
		targetHeight = domain.Pixels(h)
	}

	bg, err := config.ParseHexColor(background)
	if err != nil {
		return err
	}

	codec, err := converter.NewImagingConverter(quality, maxPixels)
	if err != nil {
		return err
	}

	modelData, err := readInput("model", modelPath)
	if err != nil {
		return err
	}

	productData, err := readInput("product", productPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Merging images...")
	fmt.Fprintf(out, "  Model: %s\n", modelPath)
	fmt.Fprintf(out, "  Product: %s\n", productPath)

	format := formatFor(outputPath)
	result, err := service.NewMergeService(codec, nil, bg).Merge(cmd.Context(), domain.MergeRequest{
		ModelImage:   modelData,
		ProductImage: productData,
		TargetHeight: targetHeight,
		Format:       format,
	})
	if err != nil {
		return err
	}

	if err := writeOutput(outputPath, result.Data); err != nil {
		return fmt.Errorf("error saving image: %w", err)
	}

	printResult(out, outputPath, result)

	return nil
}

func readInput(kind, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s image not found: %s", kind, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s image %s: %w", kind, path, err)
	}

	return data, nil
}

// writeOutput writes through a temporary file in the target directory so a failed write never leaves a
// truncated image behind.
func writeOutput(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".imgmerge-*")
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}

	if err := os.Chmod(f.Name(), 0o644); err != nil {
		os.Remove(f.Name())
		return err
	}

	return os.Rename(f.Name(), path)
}

func formatFor(path string) domain.Format {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return domain.PNG
	}

	return domain.JPG
}

func printResult(out io.Writer, path string, result *domain.MergeResult) {
	fmt.Fprintf(out, "Merged image saved to: %s\n", path)
	fmt.Fprintf(out, "  Output size: %dx%d\n", result.Dimensions.Width, result.Dimensions.Height)
	fmt.Fprintf(out, "  Format: %s\n", result.Format)
}
