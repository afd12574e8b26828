// Package segmentation separates leaves from the scanner background.
//
// A scan is reduced to 8-bit luminance, classified with a binary inverse
// threshold (dark leaf on a light background) and the resulting foreground
// is split into connected components. Components are 8-connected: pixels
// touching at a corner belong to the same leaf.
package segmentation

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/theodesp/unionfind"
)

// Foreground and Background are the pixel values of a binary mask.
const (
	Foreground uint8 = 255
	Background uint8 = 0
)

// ErrInvalidThreshold is returned for thresholds outside [0, 255].
var ErrInvalidThreshold = errors.New("threshold must be an integer between 0 and 255")

// LabelMap assigns every pixel of a mask to a connected component.
type LabelMap struct {
	Width  int
	Height int

	// Labels holds one label per pixel in row-major order. 0 is background,
	// components are numbered 1..Count in order of their first pixel.
	Labels []int32

	// Count is the number of foreground components.
	Count int
}

// At returns the label of pixel (x, y).
func (m *LabelMap) At(x, y int) int {
	return int(m.Labels[y*m.Width+x])
}

// Histogram returns the pixel count of every label, background included.
// The counts always sum to Width*Height.
func (m *LabelMap) Histogram() []int {
	counts := make([]int, m.Count+1)
	for _, l := range m.Labels {
		counts[l]++
	}
	return counts
}

// ValidateThreshold checks that t is a valid 8-bit intensity.
func ValidateThreshold(t int) error {
	if t < 0 || t > 255 {
		return fmt.Errorf("%w (got %d)", ErrInvalidThreshold, t)
	}
	return nil
}

// Grayscale converts img to a zero-origin 8-bit luminance image. Gray input
// is copied unchanged; anything else goes through imaging's
// 0.299R + 0.587G + 0.114B reduction.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			srcOff := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+b.Dx()], src.Pix[srcOff:srcOff+b.Dx()])
		}
		return gray
	}

	// imaging.Grayscale sets R, G and B to the same luminance value
	nrgba := imaging.Grayscale(img)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Pix[y*gray.Stride+x] = nrgba.Pix[y*nrgba.Stride+x*4]
		}
	}
	return gray
}

// Threshold classifies every pixel of gray. Intensities strictly below t
// become Foreground, everything at or above t becomes Background.
func Threshold(gray *image.Gray, t int) (*image.Gray, error) {
	if err := ValidateThreshold(t); err != nil {
		return nil, err
	}

	b := gray.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[gray.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < b.Dx(); x++ {
			if int(row[x]) < t {
				mask.Pix[y*mask.Stride+x] = Foreground
			} else {
				mask.Pix[y*mask.Stride+x] = Background
			}
		}
	}
	return mask, nil
}

// Label runs two-pass 8-connected component labelling over the non-zero
// pixels of mask.
func Label(mask *image.Gray) *LabelMap {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	lm := &LabelMap{
		Width:  w,
		Height: h,
		Labels: make([]int32, w*h),
	}

	isForeground := func(x, y int) bool {
		return mask.Pix[mask.PixOffset(b.Min.X+x, b.Min.Y+y)] != Background
	}

	// Every foreground pixel may start a provisional label in the worst case
	provisional := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if isForeground(x, y) {
				provisional++
			}
		}
	}
	if provisional == 0 {
		return lm
	}
	uf := unionfind.NewThreadSafeUnionFind(provisional + 1)

	// First pass: provisional labels from the already visited neighbours
	// (west, north-west, north, north-east), recording equivalences.
	next := int32(1)
	neighbours := [4][2]int{{-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !isForeground(x, y) {
				continue
			}

			var current int32
			for _, d := range neighbours {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || nx >= w || ny < 0 {
					continue
				}
				l := lm.Labels[ny*w+nx]
				if l == 0 {
					continue
				}
				if current == 0 {
					current = l
				} else if l != current {
					uf.Union(int(current), int(l))
				}
			}

			if current == 0 {
				current = next
				next++
			}
			lm.Labels[y*w+x] = current
		}
	}

	// Second pass: resolve equivalences and renumber by first appearance
	final := make([]int32, next)
	count := int32(0)
	for i, l := range lm.Labels {
		if l == 0 {
			continue
		}
		root := uf.Root(int(l))
		if final[root] == 0 {
			count++
			final[root] = count
		}
		lm.Labels[i] = final[root]
	}
	lm.Count = int(count)

	return lm
}

// Segment reduces img to luminance, thresholds it and labels the
// foreground. The binary mask is returned alongside the label map.
func Segment(img image.Image, threshold int) (*LabelMap, *image.Gray, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, nil, err
	}

	mask, err := Threshold(Grayscale(img), threshold)
	if err != nil {
		return nil, nil, err
	}
	return Label(mask), mask, nil
}
