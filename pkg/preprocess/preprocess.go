// Package preprocess prepares raw scans for estimation. It crops the scanner
// margins, masks an existing scale bar with a white window and stamps a red
// square of known size at the top left corner.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"leafarea/internal/imageio"
	"leafarea/internal/logger"
	"leafarea/pkg/batch"
	"leafarea/pkg/resolution"
)

// ErrOutOfBounds is returned when an operation reaches beyond the image
var ErrOutOfBounds = errors.New("operation exceeds the image bounds")

// JPEGQuality is used for every JPEG written
const JPEGQuality = 95

// Options describes the pre-processing operations, all sizes in pixels.
// Zero disables an operation.
type Options struct {
	// Crop is removed from each of the four margins. Cropping happens first
	// so the other operations work on the cropped image.
	Crop int

	// RedScale is the side of the red square placed at the top left
	RedScale int

	// MaskScale is the side of the white window painted over an existing scale
	MaskScale int

	// MaskOffsetX and MaskOffsetY position the masking window from the top left
	MaskOffsetX int
	MaskOffsetY int

	// Format is the output format, "jpg" or "png". PNG keeps the resolution.
	Format string
}

func (o Options) format() string {
	if o.Format == "" {
		return "jpg"
	}
	return o.Format
}

// Validate checks o against an image of the given size without touching it
func (o Options) Validate(width, height int) error {
	if o.Crop < 0 || o.RedScale < 0 || o.MaskScale < 0 || o.MaskOffsetX < 0 || o.MaskOffsetY < 0 {
		return fmt.Errorf("%w: sizes and offsets must not be negative", ErrOutOfBounds)
	}
	if f := o.format(); f != "jpg" && f != "png" {
		return fmt.Errorf("unsupported output format %q", o.Format)
	}

	if 2*o.Crop >= width || 2*o.Crop >= height {
		return fmt.Errorf("%w: cannot crop %d pixels from each margin of a %dx%d image", ErrOutOfBounds, o.Crop, width, height)
	}
	width -= 2 * o.Crop
	height -= 2 * o.Crop

	if o.MaskScale > 0 && (o.MaskOffsetX+o.MaskScale > width || o.MaskOffsetY+o.MaskScale > height) {
		return fmt.Errorf("%w: masking window of %d at (%d,%d) on a %dx%d image", ErrOutOfBounds, o.MaskScale, o.MaskOffsetX, o.MaskOffsetY, width, height)
	}
	if o.RedScale > width || o.RedScale > height {
		return fmt.Errorf("%w: red scale of %d on a %dx%d image", ErrOutOfBounds, o.RedScale, width, height)
	}
	return nil
}

// Apply runs crop, mask and red scale on a copy of img
func Apply(img image.Image, o Options) (*image.NRGBA, error) {
	b := img.Bounds()
	if err := o.Validate(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}

	var out *image.NRGBA
	if o.Crop > 0 {
		rect := image.Rect(b.Min.X+o.Crop, b.Min.Y+o.Crop, b.Max.X-o.Crop, b.Max.Y-o.Crop)
		out = imaging.Crop(img, rect)
	} else {
		out = imaging.Clone(img)
	}

	if o.MaskScale > 0 {
		window := image.Rect(o.MaskOffsetX, o.MaskOffsetY, o.MaskOffsetX+o.MaskScale, o.MaskOffsetY+o.MaskScale)
		draw.Draw(out, window, image.NewUniform(color.White), image.Point{}, draw.Src)
	}

	if o.RedScale > 0 {
		scale := image.Rect(0, 0, o.RedScale, o.RedScale)
		draw.Draw(out, scale, image.NewUniform(color.NRGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	}

	return out, nil
}

// OutputPath returns where the pre-processed version of path is written
func OutputPath(path, outDir string, o Options) string {
	return filepath.Join(outDir, imageio.Stem(path)+"."+o.format())
}

// ProcessFile pre-processes the scan at path into outDir and returns the
// path written. PNG output carries the source resolution when it is known.
func ProcessFile(path, outDir string, o Options) (string, error) {
	img, err := imageio.Decode(path)
	if err != nil {
		return "", err
	}

	out, err := Apply(img, o)
	if err != nil {
		return "", fmt.Errorf("failed to pre-process %s: %w", path, err)
	}

	dest := OutputPath(path, outDir, o)
	switch o.format() {
	case "png":
		// A scan without resolution metadata is written without a pHYs chunk
		dpi, err := resolution.Resolve(path, 0)
		if err != nil {
			dpi = 0
		}
		err = imageio.WritePNG(dest, out, dpi)
		if err != nil {
			return "", err
		}
	default:
		if err := imageio.WriteJPEG(dest, out, JPEGQuality); err != nil {
			return "", err
		}
	}
	return dest, nil
}

// ProcessAll pre-processes every scan named by paths into outDir in
// parallel and returns the written paths in input order. The first failure
// stops the batch.
func ProcessAll(ctx context.Context, paths []string, outDir string, o Options, workers int, log zerolog.Logger) ([]string, error) {
	log = logger.Component(log, "preprocess")

	if _, err := os.Stat(outDir); err != nil {
		return nil, fmt.Errorf("output directory unavailable: %w", err)
	}
	if err := batch.UniqueStems(paths, imageio.Stem); err != nil {
		return nil, err
	}

	items, err := batch.Map(ctx, paths, workers, batch.FailFast, func(path string) (string, error) {
		dest, err := ProcessFile(path, outDir, o)
		if err == nil {
			log.Debug().Str("file", path).Str("output", dest).Msg("Pre-processed scan")
		}
		return dest, err
	})
	if err != nil {
		log.Error().Err(err).Msg("Pre-processing aborted")
		return nil, err
	}

	written := make([]string, len(items))
	for i, item := range items {
		written[i] = item.Value
	}
	log.Info().Int("images", len(written)).Str("output", outDir).Msg("Pre-processing completed")
	return written, nil
}
