package main

import (
	"context"
	"encoding/csv"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"leafarea/internal/imageio"
	"leafarea/internal/workspace"
	"leafarea/pkg/config"
	"leafarea/pkg/estimation"
)

// createScanDir writes two tagged scans with one square leaf each into a new directory
func createScanDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scans")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"a.png", "b.png"} {
		img := image.NewGray(image.Rect(0, 0, 40, 40))
		for p := range img.Pix {
			img.Pix[p] = 250
		}
		side := 10 + 5*i
		for y := 5; y < 5+side; y++ {
			for x := 5; x < 5+side; x++ {
				img.SetGray(x, y, color.Gray{Y: 30})
			}
		}
		if err := imageio.WritePNG(filepath.Join(dir, name), img, 300); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// TestRunEstimate runs the estimate command end to end
func TestRunEstimate(t *testing.T) {
	scans := createScanDir(t)
	tmpDir := t.TempDir()
	csvPath := filepath.Join(tmpDir, "areas.csv")
	masks := filepath.Join(tmpDir, "masks")

	err := runEstimate(context.Background(), []string{
		"-cut_off", "50",
		"-workers", "2",
		"-csv", csvPath,
		"-output_dir", masks,
		scans,
	})
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header and 2 rows, got %d", len(records))
	}
	if records[1][3] != "100" || records[2][3] != "225" {
		t.Errorf("Expected 100 and 225 pixels, got %s and %s", records[1][3], records[2][3])
	}

	for _, name := range []string{"a.png", "b.png"} {
		if _, err := os.Stat(filepath.Join(masks, name)); err != nil {
			t.Errorf("Expected mask %s: %v", name, err)
		}
	}
}

// TestRunEstimateOutputDirRules verifies existing and input directories are refused
func TestRunEstimateOutputDirRules(t *testing.T) {
	scans := createScanDir(t)

	err := runEstimate(context.Background(), []string{"-output_dir", t.TempDir(), scans})
	if !errors.Is(err, workspace.ErrOutputExists) {
		t.Errorf("Expected ErrOutputExists, got %v", err)
	}

	err = runEstimate(context.Background(), []string{"-output_dir", scans, filepath.Join(scans, "a.png")})
	if !errors.Is(err, workspace.ErrOutputExists) && !errors.Is(err, workspace.ErrSameDirectory) {
		t.Errorf("Expected the input directory to be refused, got %v", err)
	}
}

// TestRunEstimatePrecedence verifies flags override the file and the environment
func TestRunEstimatePrecedence(t *testing.T) {
	scans := createScanDir(t)
	cfgPath := filepath.Join(t.TempDir(), "leafarea.yaml")

	cfg := config.DefaultConfig()
	cfg.Estimate.Threshold = 300
	if err := config.SaveConfig(cfg, cfgPath); err != nil {
		t.Fatal(err)
	}

	err := runEstimate(context.Background(), []string{"-config", cfgPath, scans})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected the file threshold to be rejected, got %v", err)
	}

	err = runEstimate(context.Background(), []string{"-config", cfgPath, "-threshold", "120", "-cut_off", "0", scans})
	if err != nil {
		t.Errorf("Expected the flag to override the file, got %v", err)
	}

	t.Setenv("LEAFAREA_THRESHOLD", "-5")
	err = runEstimate(context.Background(), []string{scans})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected the environment threshold to be rejected, got %v", err)
	}
}

// TestRunEstimateNoImages verifies an input without scans leaves no output directory behind
func TestRunEstimateNoImages(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.Mkdir(empty, 0755); err != nil {
		t.Fatal(err)
	}
	masks := filepath.Join(t.TempDir(), "masks")

	err := runEstimate(context.Background(), []string{"-output_dir", masks, empty})
	if !errors.Is(err, estimation.ErrNoImages) {
		t.Errorf("Expected ErrNoImages, got %v", err)
	}
	if _, err := os.Stat(masks); !os.IsNotExist(err) {
		t.Errorf("Expected %s not to be created, got %v", masks, err)
	}
}

// TestRunEstimateLabels verifies -labels writes a colour view next to each mask
func TestRunEstimateLabels(t *testing.T) {
	scans := createScanDir(t)
	masks := filepath.Join(t.TempDir(), "masks")

	err := runEstimate(context.Background(), []string{"-cut_off", "50", "-labels", "-output_dir", masks, scans})
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	for _, name := range []string{"a_labels.png", "b_labels.png"} {
		img, err := imageio.Decode(filepath.Join(masks, name))
		if err != nil {
			t.Fatalf("Expected %s to be written: %v", name, err)
		}
		r, g, b, _ := img.At(7, 7).RGBA()
		if r == 0xffff && g == 0xffff && b == 0xffff {
			t.Errorf("Expected the leaf in %s to be coloured", name)
		}
		r, g, b, _ = img.At(35, 35).RGBA()
		if r != 0xffff || g != 0xffff || b != 0xffff {
			t.Errorf("Expected white background in %s", name)
		}
	}

	if err := runEstimate(context.Background(), []string{"-labels", scans}); err == nil {
		t.Error("Expected -labels without -output_dir to be refused")
	}
}

func TestRunEstimateMissingResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "untagged.png")
	if err := imageio.WritePNG(path, image.NewGray(image.Rect(0, 0, 8, 8)), 0); err != nil {
		t.Fatal(err)
	}

	if err := runEstimate(context.Background(), []string{path}); err == nil {
		t.Error("Expected an error for a scan without resolution")
	}
	if err := runEstimate(context.Background(), []string{"-res", "300", path}); err != nil {
		t.Errorf("Expected the override to be used, got %v", err)
	}
}

func TestRunPreprocess(t *testing.T) {
	scans := createScanDir(t)
	out := filepath.Join(t.TempDir(), "prepared")

	err := runPreprocess(context.Background(), []string{
		"-output_dir", out,
		"-crop", "2",
		"-red_scale", "4",
		"-format", "png",
		scans,
	})
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}

	for _, name := range []string{"a.png", "b.png"} {
		img, err := imageio.Decode(filepath.Join(out, name))
		if err != nil {
			t.Fatalf("Expected %s to be written: %v", name, err)
		}
		if b := img.Bounds(); b.Dx() != 36 || b.Dy() != 36 {
			t.Errorf("Expected 36x36, got %dx%d", b.Dx(), b.Dy())
		}
	}

	if err := runPreprocess(context.Background(), []string{scans}); err == nil {
		t.Error("Expected an error without an output directory")
	}
}

func TestRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leafarea.yaml")
	if err := runConfig([]string{path}); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Estimate.Threshold != 120 {
		t.Errorf("Expected the default threshold, got %d", cfg.Estimate.Threshold)
	}

	if err := runConfig([]string{path}); err == nil {
		t.Error("Expected an existing file to be refused")
	}
}
