package estimation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"leafarea/internal/imageio"
	"leafarea/internal/logger"
	"leafarea/internal/models"
	"leafarea/pkg/area"
	"leafarea/pkg/batch"
	"leafarea/pkg/resolution"
	"leafarea/pkg/segmentation"
	"leafarea/pkg/visualization"
)

// ErrNoImages is returned when a directory or pattern matches no scans
var ErrNoImages = errors.New("no supported images found")

// Params holds the estimation parameters.
// Params is passed by value and never changed by the Estimator, so one
// Estimator can serve many concurrent files.
type Params struct {
	// Threshold is the intensity between 0 (black) and 255 (white) below
	// which a pixel is classified as leaf. Leaves are expected to be darker
	// than the scanner background.
	Threshold int

	// CutOff is the minimum number of pixels a connected component must
	// have to count as a leaf. Smaller components are treated as specks of
	// dirt. It is compared against the pixel count, not the area.
	CutOff int

	// Combine reports the summed area of every leaf in a scan instead of
	// one area per leaf.
	Combine bool

	// Resolution overrides the scan resolution in DPI. When it is 0 the
	// resolution is read from the image metadata.
	Resolution float64

	// OutputDir is where binary masks are written. Masks are not written
	// when it is empty. The directory must already exist.
	OutputDir string

	// Labels also writes a colour view of the leaves that survived the
	// cut-off, one colour per leaf, next to each mask. It requires OutputDir.
	Labels bool

	// Workers is the number of scans processed in parallel.
	Workers int

	// Resilient keeps a batch going when a scan fails, recording the error
	// on its result. By default the first failure aborts the batch.
	Resilient bool
}

// DefaultParams returns the parameters used when nothing is configured
func DefaultParams() Params {
	return Params{
		Threshold: 120,
		CutOff:    10000,
		Workers:   batch.DefaultWorkers(),
	}
}

// Validate checks every parameter before any image is touched
func (p Params) Validate() error {
	if err := segmentation.ValidateThreshold(p.Threshold); err != nil {
		return err
	}
	if p.CutOff < 0 {
		return fmt.Errorf("%w (got %d)", area.ErrInvalidCutOff, p.CutOff)
	}
	if p.Resolution < 0 {
		return fmt.Errorf("%w (got %v)", area.ErrInvalidResolution, p.Resolution)
	}
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}
	if p.Labels && p.OutputDir == "" {
		return errors.New("writing labels requires an output directory")
	}
	return nil
}

// Estimator measures leaf areas on flatbed scans.
//
// Every scan goes through the same steps:
// 1. Resolving the scan resolution from the override or the metadata
// 2. Classifying leaf pixels with an inverse binary threshold
// 3. Labelling connected components
// 4. Dropping specks below the cut-off and converting pixels to cm²
// 5. Optionally writing the binary mask and the coloured leaves
type Estimator struct {
	// params stores the estimation configuration
	params Params

	// resolver finds the DPI of each scan
	resolver *resolution.Resolver

	// log receives progress for each scan
	log zerolog.Logger
}

// NewEstimator validates params and creates an Estimator. A nil resolver
// reads resolution from the image files.
func NewEstimator(params Params, resolver *resolution.Resolver, log zerolog.Logger) (*Estimator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid estimation parameters: %w", err)
	}
	if params.OutputDir != "" {
		info, err := os.Stat(params.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("output directory unavailable: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("output path %s is not a directory", params.OutputDir)
		}
	}
	if resolver == nil {
		resolver = resolution.NewResolver(nil)
	}

	return &Estimator{
		params:   params,
		resolver: resolver,
		log:      logger.Component(log, "estimation"),
	}, nil
}

// Params returns the parameters the Estimator was created with
func (e *Estimator) Params() Params {
	return e.params
}

// EstimateFile measures the leaves in a single scan
func (e *Estimator) EstimateFile(path string) (*models.Result, error) {
	start := time.Now()

	// Step 1: Resolve the resolution before decoding so bad scans fail cheaply
	dpi, err := e.resolver.Resolve(path, e.params.Resolution)
	if err != nil {
		return nil, err
	}

	// Step 2: Load and segment the scan
	img, err := imageio.Decode(path)
	if err != nil {
		return nil, err
	}

	lm, mask, err := segmentation.Segment(img, e.params.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to segment %s: %w", path, err)
	}

	// Step 3: Filter specks and convert to cm²
	components, err := area.Filter(lm, e.params.CutOff, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to measure %s: %w", path, err)
	}

	result := &models.Result{
		Filename:     path,
		Resolution:   dpi,
		Threshold:    e.params.Threshold,
		Measurements: measurements(path, components, e.params.Combine),
	}

	// Step 4: Save the classified image
	if e.params.OutputDir != "" {
		maskPath, err := visualization.SaveMask(mask, e.params.OutputDir, path, dpi)
		if err != nil {
			return nil, err
		}
		result.MaskPath = maskPath

		if e.params.Labels {
			keep := make(map[int]bool, len(components))
			for _, c := range components {
				keep[c.Label] = true
			}
			labelsPath, err := visualization.SaveLabels(lm, keep, e.params.OutputDir, path, dpi)
			if err != nil {
				return nil, err
			}
			result.LabelsPath = labelsPath
		}
	}

	e.log.Debug().
		Str("file", path).
		Float64("dpi", dpi).
		Int("components", lm.Count).
		Int("leaves", len(components)).
		Float64("area", result.TotalArea()).
		Dur("elapsed", time.Since(start)).
		Msg("Estimated leaf area")

	return result, nil
}

// measurements converts surviving components into result rows
func measurements(path string, components []area.Component, combine bool) []models.Measurement {
	if combine {
		pixels := 0
		for _, c := range components {
			pixels += c.Pixels
		}
		return []models.Measurement{{
			Filename:  path,
			Component: 0,
			Pixels:    pixels,
			Area:      area.Combine(area.Areas(components)),
		}}
	}

	rows := make([]models.Measurement, len(components))
	for i, c := range components {
		rows[i] = models.Measurement{
			Filename:  path,
			Component: c.Label,
			Pixels:    c.Pixels,
			Area:      c.Area,
		}
	}
	return rows
}

// EstimateFiles measures every scan in paths in parallel. Results are in
// the order of paths. Unless the Estimator is resilient the first failure
// cancels the remaining scans and is returned naming the failing file.
func (e *Estimator) EstimateFiles(ctx context.Context, paths []string) ([]*models.Result, error) {
	if e.params.OutputDir != "" {
		if err := batch.UniqueStems(paths, imageio.Stem); err != nil {
			return nil, err
		}
		if e.params.Labels {
			if err := labelsCollide(paths); err != nil {
				return nil, err
			}
		}
	}

	mode := batch.FailFast
	if e.params.Resilient {
		mode = batch.ContinueOnError
	}

	workers := batch.ClampWorkers(e.params.Workers, len(paths))
	e.log.Info().Int("images", len(paths)).Int("workers", workers).Msg("Processing batch")

	start := time.Now()
	items, err := batch.Map(ctx, paths, workers, mode, e.EstimateFile)
	if err != nil {
		e.log.Error().Err(err).Msg("Batch aborted")
		return nil, err
	}

	results := make([]*models.Result, len(items))
	failed := 0
	for i, item := range items {
		if item.Err != nil {
			failed++
			e.log.Error().Err(item.Err).Str("file", item.Input).Msg("Failed to estimate leaf area")
			results[i] = &models.Result{
				Filename:  item.Input,
				Threshold: e.params.Threshold,
				Err:       item.Err,
			}
			continue
		}
		results[i] = item.Value
	}

	e.log.Info().
		Int("images", len(results)).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("Batch completed")

	return results, nil
}

// labelsCollide reports a scan whose label view would overwrite the mask
// of another scan, such as leaf.png and leaf_labels.png
func labelsCollide(paths []string) error {
	masks := make(map[string]string, len(paths))
	for _, p := range paths {
		masks[visualization.MaskPath("", p)] = p
	}
	for _, p := range paths {
		if other, ok := masks[visualization.LabelsPath("", p)]; ok {
			return fmt.Errorf("%w: labels of %s and mask of %s", batch.ErrDuplicateName, p, other)
		}
	}
	return nil
}

// Estimate measures the scans named by input. A file yields one result, a
// directory yields one result per supported image directly inside it and
// anything else is treated as a glob pattern.
func (e *Estimator) Estimate(ctx context.Context, input string) ([]*models.Result, error) {
	info, err := os.Stat(input)
	if err == nil && !info.IsDir() {
		result, err := e.EstimateFile(input)
		if err != nil {
			return nil, err
		}
		return []*models.Result{result}, nil
	}

	paths, err := ListImages(input)
	if err != nil {
		return nil, err
	}
	return e.EstimateFiles(ctx, paths)
}

// ListImages returns the supported scans in a directory, or matching a glob
// pattern, sorted by name. Subdirectories are not searched.
func ListImages(input string) ([]string, error) {
	var candidates []string

	info, err := os.Stat(input)
	switch {
	case err == nil && info.IsDir():
		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, fmt.Errorf("failed to read input directory: %w", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				candidates = append(candidates, filepath.Join(input, entry.Name()))
			}
		}
	case err == nil:
		candidates = []string{input}
	default:
		matches, globErr := filepath.Glob(input)
		if globErr != nil {
			return nil, fmt.Errorf("invalid input pattern %q: %w", input, globErr)
		}
		if len(matches) == 0 && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to access input: %w", err)
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
				candidates = append(candidates, m)
			}
		}
	}

	var images []string
	for _, c := range candidates {
		if imageio.IsSupportedFormat(c) {
			images = append(images, c)
		}
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%s: %w", input, ErrNoImages)
	}

	sort.Strings(images)
	return images, nil
}
