// Package resolution determines the physical scale of a scan in dots per inch,
// either from an explicit override or from the metadata embedded in the file.
package resolution

import (
	"errors"
	"fmt"
	"os"

	"github.com/rwcarlsen/goexif/exif"

	"leafarea/internal/imageio"
)

var (
	// ErrMissingResolution is returned when a scan carries no usable resolution metadata.
	ErrMissingResolution = errors.New("image of unknown resolution, specify the resolution in dpi")

	// ErrInconsistentResolution is returned when horizontal and vertical resolution differ.
	ErrInconsistentResolution = errors.New("x and y resolutions differ, this is unusual and may indicate a problem")
)

// EXIF ResolutionUnit values
const (
	unitInch       = 2
	unitCentimeter = 3
)

// Metadata is the raw resolution information stored in an image file.
type Metadata struct {
	HasMetadata bool
	XDPI        float64
	YDPI        float64
}

// MetadataReader extracts resolution metadata from an image file.
type MetadataReader interface {
	ReadResolution(path string) (Metadata, error)
}

// Resolver resolves the DPI of scans using a MetadataReader.
type Resolver struct {
	reader MetadataReader
}

// NewResolver returns a Resolver backed by reader. A nil reader selects FileReader.
func NewResolver(reader MetadataReader) *Resolver {
	if reader == nil {
		reader = FileReader{}
	}
	return &Resolver{reader: reader}
}

// Resolve returns override unchanged when it is positive. Otherwise the
// resolution is read from the file's metadata, which must be present and
// equal in both directions.
func (r *Resolver) Resolve(path string, override float64) (float64, error) {
	if override > 0 {
		return override, nil
	}

	meta, err := r.reader.ReadResolution(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read resolution of %s: %w", path, err)
	}
	if !meta.HasMetadata || meta.XDPI <= 0 || meta.YDPI <= 0 {
		return 0, fmt.Errorf("%s: %w", path, ErrMissingResolution)
	}
	if meta.XDPI != meta.YDPI {
		return 0, fmt.Errorf("%s (%v x %v dpi): %w", path, meta.XDPI, meta.YDPI, ErrInconsistentResolution)
	}
	return meta.XDPI, nil
}

// Resolve resolves path with the default FileReader.
func Resolve(path string, override float64) (float64, error) {
	return NewResolver(nil).Resolve(path, override)
}

// FileReader reads resolution metadata from PNG pHYs chunks and from the
// EXIF/TIFF tags of every other format.
type FileReader struct{}

// ReadResolution implements MetadataReader.
func (FileReader) ReadResolution(path string) (Metadata, error) {
	isPNG, err := imageio.IsPNG(path)
	if err != nil {
		return Metadata{}, err
	}
	if isPNG {
		return readPNG(path)
	}
	return readEXIF(path)
}

func readPNG(path string) (Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer file.Close()

	x, y, ok, err := imageio.ReadPNGResolution(file)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{HasMetadata: ok, XDPI: x, YDPI: y}, nil
}

func readEXIF(path string) (Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		// No EXIF block at all
		return Metadata{}, nil
	}

	xres, xok := rationalTag(x, exif.XResolution)
	yres, yok := rationalTag(x, exif.YResolution)
	if !xok || !yok {
		return Metadata{}, nil
	}

	// Resolution is in inches unless the file says centimetres
	unit := unitInch
	if tag, err := x.Get(exif.ResolutionUnit); err == nil {
		if v, err := tag.Int(0); err == nil {
			unit = v
		}
	}
	if unit == unitCentimeter {
		xres *= 2.54
		yres *= 2.54
	}

	return Metadata{HasMetadata: true, XDPI: xres, YDPI: yres}, nil
}

func rationalTag(x *exif.Exif, name exif.FieldName) (float64, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, false
	}
	rat, err := tag.Rat(0)
	if err != nil {
		return 0, false
	}
	v, _ := rat.Float64()
	return v, true
}
