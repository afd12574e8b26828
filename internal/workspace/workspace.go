// Package workspace applies the rules for directories that receive output
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutputExists is returned when the output directory is already present
	ErrOutputExists = errors.New("output directory already exists; output files may overwrite existing files, please choose a different output directory")

	// ErrSameDirectory is returned when output would land next to the inputs
	ErrSameDirectory = errors.New("output directory must differ from the input directory")
)

// ExpandHome replaces a leading ~ with the home directory of the current user
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// InputDir returns the directory that holds the inputs named by input:
// the directory itself, the parent of a file, or the directory part of a
// glob pattern
func InputDir(input string) string {
	if info, err := os.Stat(input); err == nil && info.IsDir() {
		return filepath.Clean(input)
	}
	return filepath.Dir(input)
}

// PrepareOutputDir checks that outputDir is a fresh directory distinct
// from the directory holding input, creates it and returns its cleaned path.
// An empty outputDir is left alone.
func PrepareOutputDir(input, outputDir string) (string, error) {
	if outputDir == "" {
		return "", nil
	}

	outputDir, err := ExpandHome(outputDir)
	if err != nil {
		return "", err
	}
	outputDir = filepath.Clean(outputDir)

	if _, err := os.Stat(outputDir); err == nil {
		return "", fmt.Errorf("%s: %w", outputDir, ErrOutputExists)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check output directory: %w", err)
	}

	same, err := samePath(InputDir(input), outputDir)
	if err != nil {
		return "", err
	}
	if same {
		return "", fmt.Errorf("%s: %w", outputDir, ErrSameDirectory)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return outputDir, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
