// Package area turns labelled components into calibrated leaf areas in cm².
package area

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"leafarea/pkg/segmentation"
)

// CentimetersPerInch converts DPI to pixels per centimetre.
const CentimetersPerInch = 2.54

var (
	// ErrInvalidCutOff is returned for a negative minimum component size.
	ErrInvalidCutOff = errors.New("cut-off for small specks must not be negative")

	// ErrInvalidResolution is returned for a non-positive resolution.
	ErrInvalidResolution = errors.New("resolution must be positive")
)

// Component is a connected region that survived filtering.
type Component struct {
	Label  int
	Pixels int
	Area   float64 // cm²
}

// PixelsToArea converts a pixel count to cm² at the given resolution in DPI.
func PixelsToArea(pixels int, dpi float64) float64 {
	res := dpi / CentimetersPerInch // pixels per cm
	res = res * res                 // pixels per cm²
	return float64(pixels) / res
}

// Filter drops the background label and every component smaller than
// cutOff pixels, and converts the survivors to cm². Components are returned
// in label order.
func Filter(lm *segmentation.LabelMap, cutOff int, dpi float64) ([]Component, error) {
	if cutOff < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCutOff, cutOff)
	}
	if dpi <= 0 {
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidResolution, dpi)
	}

	hist := lm.Histogram()
	components := make([]Component, 0, len(hist))
	for label, pixels := range hist {
		if label == 0 || pixels < cutOff {
			continue
		}
		components = append(components, Component{
			Label:  label,
			Pixels: pixels,
			Area:   PixelsToArea(pixels, dpi),
		})
	}
	return components, nil
}

// Areas extracts the area of every component.
func Areas(components []Component) []float64 {
	areas := make([]float64, len(components))
	for i, c := range components {
		areas[i] = c.Area
	}
	return areas
}

// Combine sums areas into a single total. An empty set sums to zero.
func Combine(areas []float64) float64 {
	return floats.Sum(areas)
}

// FilterAndConvert filters lm and returns the surviving areas, or a single
// element holding their sum when combine is set.
func FilterAndConvert(lm *segmentation.LabelMap, cutOff int, dpi float64, combine bool) ([]float64, error) {
	components, err := Filter(lm, cutOff, dpi)
	if err != nil {
		return nil, err
	}
	areas := Areas(components)
	if combine {
		return []float64{Combine(areas)}, nil
	}
	return areas, nil
}
