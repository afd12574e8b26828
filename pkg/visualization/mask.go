// Package visualization writes the visual by-products of an estimation run:
// the classified leaf masks and a chart of the measured areas.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"leafarea/internal/imageio"
	"leafarea/pkg/segmentation"
)

// MaskPath returns where the mask of source is written inside dir.
// Masks are always PNG so that the resolution survives in the pHYs chunk.
func MaskPath(dir, source string) string {
	return filepath.Join(dir, imageio.Stem(source)+".png")
}

// SaveMask writes the binary mask of source into dir, tagged with dpi,
// and returns the path written
func SaveMask(mask *image.Gray, dir, source string, dpi float64) (string, error) {
	if mask == nil {
		return "", fmt.Errorf("no mask to save for %s", source)
	}
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("mask directory unavailable: %w", err)
	}

	path := MaskPath(dir, source)
	if err := imageio.WritePNG(path, mask, dpi); err != nil {
		return "", fmt.Errorf("failed to save mask for %s: %w", source, err)
	}
	return path, nil
}

// LabelsPath returns where the coloured label view of source is written inside dir
func LabelsPath(dir, source string) string {
	return filepath.Join(dir, imageio.Stem(source)+"_labels.png")
}

// SaveLabels writes the components of lm listed in keep, each in its own
// colour, into dir tagged with dpi, and returns the path written
func SaveLabels(lm *segmentation.LabelMap, keep map[int]bool, dir, source string, dpi float64) (string, error) {
	if lm == nil {
		return "", fmt.Errorf("no labels to save for %s", source)
	}
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("labels directory unavailable: %w", err)
	}

	path := LabelsPath(dir, source)
	if err := imageio.WritePNG(path, ColorizeLabels(lm, keep), dpi); err != nil {
		return "", fmt.Errorf("failed to save labels for %s: %w", source, err)
	}
	return path, nil
}

// palette cycles through distinguishable colours for labelled leaves
var palette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 240, B: 240, A: 255},
	{R: 240, G: 50, B: 230, A: 255},
	{R: 128, G: 128, B: 0, A: 255},
}

// ColorizeLabels paints every labelled component of lm in its own colour on
// a white background. Only labels present in keep are painted; a nil keep
// paints them all.
func ColorizeLabels(lm *segmentation.LabelMap, keep map[int]bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, lm.Width, lm.Height))
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}

	for y := 0; y < lm.Height; y++ {
		for x := 0; x < lm.Width; x++ {
			label := lm.At(x, y)
			if label == 0 || (keep != nil && !keep[label]) {
				img.SetRGBA(x, y, white)
				continue
			}
			img.SetRGBA(x, y, palette[(label-1)%len(palette)])
		}
	}
	return img
}
