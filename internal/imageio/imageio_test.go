package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func testGray(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x * 7) + (y * 3))})
		}
	}
	return img
}

// TestPNGResolutionRoundTrip verifies that the DPI written with EncodePNG reads back unchanged
func TestPNGResolutionRoundTrip(t *testing.T) {
	for _, dpi := range []float64{72, 75, 96, 100, 150, 200, 254, 300, 400, 600, 720, 1200, 2400, 4800, 299.5} {
		var buf bytes.Buffer
		if err := EncodePNG(&buf, testGray(8, 5), dpi); err != nil {
			t.Fatalf("Failed to encode PNG at %v dpi: %v", dpi, err)
		}

		x, y, ok, err := ReadPNGResolution(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("Failed to read resolution: %v", err)
		}
		if !ok {
			t.Fatalf("Expected a pHYs chunk for %v dpi", dpi)
		}
		if x != dpi || y != dpi {
			t.Errorf("Expected %v dpi, got %v x %v", dpi, x, y)
		}

		// The chunk must not corrupt the image itself
		decoded, err := png.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("Encoded PNG does not decode: %v", err)
		}
		if decoded.Bounds().Dx() != 8 || decoded.Bounds().Dy() != 5 {
			t.Errorf("Expected 8x5 image, got %v", decoded.Bounds())
		}
	}
}

// TestPNGWithoutResolution verifies that a PNG without pHYs reports no metadata
func TestPNGWithoutResolution(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, testGray(4, 4), 0); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}

	_, _, ok, err := ReadPNGResolution(&buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Expected no resolution for a PNG without pHYs")
	}
}

func TestReadPNGResolutionRejectsOtherFormats(t *testing.T) {
	_, _, _, err := ReadPNGResolution(bytes.NewReader([]byte("GIF89a....")))
	if err != ErrNotPNG {
		t.Errorf("Expected ErrNotPNG, got %v", err)
	}
}

// TestWritePNGAndDecode verifies file based writing and decoding, including pixel values
func TestWritePNGAndDecode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mask.png")
	src := testGray(6, 6)

	if err := WritePNG(path, src, 300); err != nil {
		t.Fatalf("Failed to write PNG: %v", err)
	}

	isPNG, err := IsPNG(path)
	if err != nil || !isPNG {
		t.Fatalf("Expected %s to be a PNG (err=%v)", path, err)
	}

	img, err := Decode(path)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("Expected *image.Gray, got %T", img)
	}
	for i := range src.Pix {
		if gray.Pix[i] != src.Pix[i] {
			t.Fatalf("Pixel %d differs: expected %d, got %d", i, src.Pix[i], gray.Pix[i])
		}
	}
}

func TestIsPNGOnShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8}, 0644); err != nil {
		t.Fatal(err)
	}
	isPNG, err := IsPNG(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if isPNG {
		t.Error("Expected a two byte file not to be a PNG")
	}
}

func TestIsSupportedFormat(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"scan.jpg", true},
		{"scan.JPEG", true},
		{"dir/scan.tif", true},
		{"scan.tiff", true},
		{"scan.png", true},
		{"scan.bmp", true},
		{"notes.txt", false},
		{"scan", false},
	}

	for _, tc := range testCases {
		if got := IsSupportedFormat(tc.path); got != tc.expected {
			t.Errorf("IsSupportedFormat(%q): expected %v, got %v", tc.path, tc.expected, got)
		}
	}
}

func TestStem(t *testing.T) {
	if got := Stem("/tmp/scans/BEL-T20-B1S-L10.jpg"); got != "BEL-T20-B1S-L10" {
		t.Errorf("Expected BEL-T20-B1S-L10, got %s", got)
	}
	if got := Stem("leaf"); got != "leaf" {
		t.Errorf("Expected leaf, got %s", got)
	}
}
