package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sfomuseum/go-flags/flagset"

	"leafarea/internal/logger"
	"leafarea/internal/models"
	"leafarea/internal/workspace"
	"leafarea/pkg/config"
	"leafarea/pkg/estimation"
	"leafarea/pkg/preprocess"
	"leafarea/pkg/report"
	"leafarea/pkg/visualization"
)

const envPrefix = "LEAFAREA"

// parseFlags sets fs from the environment, then from args, so that
// explicit flags win over environment variables
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := flagset.SetFlagsFromEnvVars(fs, envPrefix); err != nil {
		return fmt.Errorf("error reading flags from environment: %w", err)
	}
	return fs.Parse(args)
}

// loadConfig reads the configuration file and lets every flag that was set
// override it through apply
func loadConfig(fs *flag.FlagSet, path string, apply func(cfg *config.Config, name string)) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		apply(cfg, f.Name)
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// singleInput returns the one positional argument of fs
func singleInput(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		fs.Usage()
		return "", errors.New("expected exactly one input: a scan, a directory or a glob pattern")
	}
	return workspace.ExpandHome(fs.Arg(0))
}

func runEstimate(ctx context.Context, args []string) error {
	defaults := config.DefaultConfig()

	fs := flagset.NewFlagSet("estimate")
	threshold := fs.Int("threshold", defaults.Estimate.Threshold, "Intensity (0 black - 255 white) below which a pixel is leaf")
	cutOff := fs.Int("cut_off", defaults.Estimate.CutOff, "Minimum number of pixels for a region to count as a leaf")
	combine := fs.Bool("combine", defaults.Estimate.Combine, "Report the summed area of all leaves in a scan")
	res := fs.Float64("res", defaults.Estimate.Resolution, "Scan resolution in DPI; 0 reads it from the image metadata")
	outputDir := fs.String("output_dir", "", "Directory to save the classified images in; must not exist yet")
	labels := fs.Bool("labels", defaults.Estimate.Labels, "Also save the measured leaves in colour next to each mask; requires -output_dir")
	workers := fs.Int("workers", defaults.Processing.Workers, "Number of scans processed in parallel")
	resilient := fs.Bool("resilient", defaults.Processing.Resilient, "Keep going when a scan fails")
	csvPath := fs.String("csv", "", "Write the results to this CSV file")
	jsonPath := fs.String("json", "", "Write the results to this JSON file")
	chartPath := fs.String("chart", "", "Write a bar chart of the areas to this PNG file")
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	verbose := fs.Bool("verbose", defaults.Output.Verbose, "Log every scan")

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, *configPath, func(cfg *config.Config, name string) {
		switch name {
		case "threshold":
			cfg.Estimate.Threshold = *threshold
		case "cut_off":
			cfg.Estimate.CutOff = *cutOff
		case "combine":
			cfg.Estimate.Combine = *combine
		case "res":
			cfg.Estimate.Resolution = *res
		case "labels":
			cfg.Estimate.Labels = *labels
		case "workers":
			cfg.Processing.Workers = *workers
		case "resilient":
			cfg.Processing.Resilient = *resilient
		case "csv":
			cfg.Output.CSV = *csvPath
		case "json":
			cfg.Output.JSON = *jsonPath
		case "chart":
			cfg.Output.Chart = *chartPath
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})
	if err != nil {
		return err
	}

	input, err := singleInput(fs)
	if err != nil {
		return err
	}

	if cfg.Estimate.Labels && *outputDir == "" {
		return errors.New("-labels requires -output_dir")
	}

	log := logger.NewConsole(cfg.Output.Verbose)

	// List before creating anything so a bad input leaves no directory behind
	paths, err := estimation.ListImages(input)
	if err != nil {
		return err
	}

	masks, err := workspace.PrepareOutputDir(input, *outputDir)
	if err != nil {
		return err
	}
	if masks != "" {
		log.Info().Str("dir", masks).Msg("Created output directory")
	}

	params := estimation.Params{
		Threshold:  cfg.Estimate.Threshold,
		CutOff:     cfg.Estimate.CutOff,
		Combine:    cfg.Estimate.Combine,
		Resolution: cfg.Estimate.Resolution,
		OutputDir:  masks,
		Labels:     cfg.Estimate.Labels,
		Workers:    cfg.Processing.Workers,
		Resilient:  cfg.Processing.Resilient,
	}

	estimator, err := estimation.NewEstimator(params, nil, log)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := estimator.EstimateFiles(ctx, paths)
	if err != nil {
		return err
	}

	if err := report.WriteTable(os.Stdout, results); err != nil {
		return err
	}
	if err := writeOutputs(cfg, results); err != nil {
		return err
	}

	summary := report.Summarize(results)
	log.Info().
		Int("images", summary.Images).
		Int("failed", summary.Failed).
		Int("measurements", summary.Rows).
		Float64("total", summary.Total).
		Float64("mean", summary.Mean).
		Float64("stddev", summary.StdDev).
		Dur("elapsed", time.Since(start)).
		Msg("Estimation completed")

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d images could not be measured", summary.Failed, summary.Images)
	}
	return nil
}

// writeOutputs writes the optional result files named in cfg
func writeOutputs(cfg *config.Config, results []*models.Result) error {
	if cfg.Output.CSV != "" {
		if err := writeFile(cfg.Output.CSV, func(w io.Writer) error { return report.WriteCSV(w, results) }); err != nil {
			return err
		}
	}
	if cfg.Output.JSON != "" {
		if err := writeFile(cfg.Output.JSON, func(w io.Writer) error { return report.WriteJSON(w, results) }); err != nil {
			return err
		}
	}
	if cfg.Output.Chart != "" {
		if err := writeFile(cfg.Output.Chart, func(w io.Writer) error {
			return visualization.RenderAreaChart(results, "Leaf area", w)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func runPreprocess(ctx context.Context, args []string) error {
	defaults := config.DefaultConfig()

	fs := flagset.NewFlagSet("preprocess")
	outputDir := fs.String("output_dir", "", "Directory to save the pre-processed scans in; must not exist yet (required)")
	crop := fs.Int("crop", defaults.Preprocess.Crop, "Pixels removed from every margin before the other operations")
	redScale := fs.Int("red_scale", defaults.Preprocess.RedScale, "Side in pixels of the red scale added at the top left")
	maskScale := fs.Int("mask_scale", defaults.Preprocess.MaskScale, "Side in pixels of the white window masking an existing scale")
	maskOffsetX := fs.Int("mask_offset_x", defaults.Preprocess.MaskOffsetX, "Horizontal offset in pixels of the masking window")
	maskOffsetY := fs.Int("mask_offset_y", defaults.Preprocess.MaskOffsetY, "Vertical offset in pixels of the masking window")
	format := fs.String("format", defaults.Preprocess.Format, "Output format, jpg or png")
	workers := fs.Int("workers", defaults.Processing.Workers, "Number of scans processed in parallel")
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	verbose := fs.Bool("verbose", defaults.Output.Verbose, "Log every scan")

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, *configPath, func(cfg *config.Config, name string) {
		switch name {
		case "crop":
			cfg.Preprocess.Crop = *crop
		case "red_scale":
			cfg.Preprocess.RedScale = *redScale
		case "mask_scale":
			cfg.Preprocess.MaskScale = *maskScale
		case "mask_offset_x":
			cfg.Preprocess.MaskOffsetX = *maskOffsetX
		case "mask_offset_y":
			cfg.Preprocess.MaskOffsetY = *maskOffsetY
		case "format":
			cfg.Preprocess.Format = *format
		case "workers":
			cfg.Processing.Workers = *workers
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})
	if err != nil {
		return err
	}

	if *outputDir == "" {
		fs.Usage()
		return errors.New("an output directory is required")
	}
	input, err := singleInput(fs)
	if err != nil {
		return err
	}

	log := logger.NewConsole(cfg.Output.Verbose)

	paths, err := estimation.ListImages(input)
	if err != nil {
		return err
	}

	out, err := workspace.PrepareOutputDir(input, *outputDir)
	if err != nil {
		return err
	}

	opts := preprocess.Options{
		Crop:        cfg.Preprocess.Crop,
		RedScale:    cfg.Preprocess.RedScale,
		MaskScale:   cfg.Preprocess.MaskScale,
		MaskOffsetX: cfg.Preprocess.MaskOffsetX,
		MaskOffsetY: cfg.Preprocess.MaskOffsetY,
		Format:      cfg.Preprocess.Format,
	}

	written, err := preprocess.ProcessAll(ctx, paths, out, opts, cfg.Processing.Workers, log)
	if err != nil {
		return err
	}
	for _, p := range written {
		fmt.Println(p)
	}
	return nil
}

func runConfig(args []string) error {
	fs := flagset.NewFlagSet("config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected the path of the configuration file to write")
	}

	path, err := workspace.ExpandHome(fs.Arg(0))
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", path)
	return nil
}
