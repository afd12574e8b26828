// Package imageio reads and writes scans. Decoding goes through imaging with
// the TIFF and BMP decoders from x/image registered, since flatbed scanners
// commonly produce those formats. PNG output can carry the scan resolution in
// a pHYs chunk so that written masks keep their physical scale.
package imageio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

const metersPerInch = 0.0254

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ErrNotPNG is returned when a PNG-only operation is given another format.
var ErrNotPNG = errors.New("not a PNG file")

// SupportedFormats returns the file extensions treated as scans.
func SupportedFormats() []string {
	return []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp"}
}

// IsSupportedFormat checks if the given path has a supported image extension.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Decode loads the image stored at path.
func Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// EncodePNG writes img to w as PNG. A positive dpi is stored in a pHYs chunk.
func EncodePNG(w io.Writer, img image.Image, dpi float64) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return err
	}
	data := buf.Bytes()
	if dpi <= 0 {
		_, err := w.Write(data)
		return err
	}

	// IHDR is always the first chunk: 8 byte signature + 4 length + 4 type + 13 data + 4 crc.
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	if len(data) < ihdrEnd || string(data[12:16]) != "IHDR" {
		return errors.New("unexpected PNG layout from encoder")
	}
	if _, err := w.Write(data[:ihdrEnd]); err != nil {
		return err
	}
	if _, err := w.Write(physChunk(dpi)); err != nil {
		return err
	}
	_, err := w.Write(data[ihdrEnd:])
	return err
}

// WritePNG saves img to path as PNG, recording dpi when it is positive.
func WritePNG(path string, img image.Image, dpi float64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := EncodePNG(file, img, dpi); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return file.Close()
}

// WriteJPEG saves img to path as a JPEG of the given quality.
func WriteJPEG(path string, img image.Image, quality int) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func physChunk(dpi float64) []byte {
	ppm := uint32(math.Round(dpi / metersPerInch))

	chunk := make([]byte, 4+4+9+4)
	binary.BigEndian.PutUint32(chunk[0:4], 9)
	copy(chunk[4:8], "pHYs")
	binary.BigEndian.PutUint32(chunk[8:12], ppm)
	binary.BigEndian.PutUint32(chunk[12:16], ppm)
	chunk[16] = 1 // unit: metre
	binary.BigEndian.PutUint32(chunk[17:21], crc32.ChecksumIEEE(chunk[4:17]))
	return chunk
}

// IsPNG reports whether the file at path starts with the PNG signature.
func IsPNG(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(file, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(header, pngSignature), nil
}

// ReadPNGResolution returns the horizontal and vertical resolution in DPI
// recorded in the pHYs chunk of a PNG stream. ok is false when the chunk is
// absent or does not use metres as its unit.
func ReadPNGResolution(r io.Reader) (xdpi, ydpi float64, ok bool, err error) {
	br := bufio.NewReader(r)

	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, header); err != nil {
		return 0, 0, false, ErrNotPNG
	}
	if !bytes.Equal(header, pngSignature) {
		return 0, 0, false, ErrNotPNG
	}

	chunkHeader := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, chunkHeader); err != nil {
			return 0, 0, false, fmt.Errorf("truncated PNG: %w", err)
		}
		length := binary.BigEndian.Uint32(chunkHeader[0:4])
		kind := string(chunkHeader[4:8])

		switch kind {
		case "pHYs":
			if length != 9 {
				return 0, 0, false, fmt.Errorf("malformed pHYs chunk of length %d", length)
			}
			data := make([]byte, 9)
			if _, err := io.ReadFull(br, data); err != nil {
				return 0, 0, false, fmt.Errorf("truncated pHYs chunk: %w", err)
			}
			if data[8] != 1 {
				return 0, 0, false, nil
			}
			x := binary.BigEndian.Uint32(data[0:4])
			y := binary.BigEndian.Uint32(data[4:8])
			return ppmToDPI(x), ppmToDPI(y), true, nil
		case "IDAT", "IEND":
			// pHYs must precede the image data
			return 0, 0, false, nil
		}

		if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
			return 0, 0, false, fmt.Errorf("truncated PNG chunk %s: %w", kind, err)
		}
	}
}

// ppmToDPI converts pixels per metre to DPI, rounded to tenths. Storing
// whole pixels per metre shifts a DPI by at most 0.0127, so any DPI given to
// EncodePNG with at most one decimal reads back unchanged.
func ppmToDPI(ppm uint32) float64 {
	dpi := float64(ppm) * metersPerInch
	return math.Round(dpi*10) / 10
}
