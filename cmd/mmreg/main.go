package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mmreg/internal/models"
	"mmreg/pkg/config"
	"mmreg/pkg/logging"
	"mmreg/pkg/registration"
	"mmreg/pkg/resources"
	"mmreg/pkg/visualization"
	"mmreg/pkg/volumeio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line arguments
	configPath := flag.String("config", "", "YAML configuration file (defaults are used when empty or missing)")
	fixedFile := flag.String("fixed", "", "Fixed volume (.nii, .nii.gz or .npy)")
	movingFile := flag.String("moving", "", "Moving volume (.nii, .nii.gz or .npy)")
	outFile := flag.String("out", "", "Output checkerboard volume")
	diffFile := flag.String("diff", "", "Output difference volume")
	workers := flag.Int("workers", 0, "Number of worker goroutines (default: all logical cores)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	extractSlices := flag.Bool("extract-slices", false, "Save every checkerboard slice along all axes")
	slicesDir := flag.String("slices-dir", "checkerboard_slices", "Directory to save extracted slices")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this file and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			return 1
		}
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return 0
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Command line flags override the file
	if *fixedFile != "" {
		cfg.IO.FixedFile = *fixedFile
	}
	if *movingFile != "" {
		cfg.IO.MovingFile = *movingFile
	}
	if *outFile != "" {
		cfg.IO.CheckerboardFile = *outFile
	}
	if *diffFile != "" {
		cfg.IO.DifferenceFile = *diffFile
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		return 1
	}
	log := logging.NewConsole(level)
	if cfg.Logging.JSON {
		log = logging.New(os.Stderr, level)
	}

	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}

	pipeline := registration.NewPipeline(cfg, log)
	host := pipeline.Host()
	effectiveWorkers := cfg.Processing.NumWorkers
	if effectiveWorkers <= 0 {
		effectiveWorkers = host.DefaultWorkers()
	}
	log.Info("host", map[string]interface{}{
		"cpu":     host.CPUBrand,
		"cores":   host.PhysicalCores,
		"threads": host.LogicalCores,
		"memory":  resources.FormatBytes(host.TotalMemory),
		"workers": effectiveWorkers,
	})

	fmt.Println("================================")
	fmt.Println("MULTIMODAL 3D REGISTRATION BY MUTUAL INFORMATION")
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline.SetLoadObserver(func(role, path string, v *models.Volume) {
		fmt.Printf("Load image (%s)... Success\n", path)
		label := "Fixed"
		if role == "moving" {
			label = "Moving"
		}
		fmt.Printf("%s image size: %s\n", label, volumeio.SizeString(v))
	})

	startTime := time.Now()
	if err := pipeline.Process(ctx); err != nil {
		log.Error(err, nil)
		fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
		return 1
	}

	result := pipeline.Result()
	fmt.Printf("Finished after %d iterations\n", result.Iterations)
	fmt.Printf("Translation: [%.4f, %.4f, %.4f] mm\n", result.Parameters[0], result.Parameters[1], result.Parameters[2])
	fmt.Printf("Metric value: %.6f\n", result.FinalValue)

	fmt.Printf("Writing file to %s\n", cfg.IO.CheckerboardFile)
	fmt.Printf("Writing file to %s\n", cfg.IO.DifferenceFile)

	if m := pipeline.Metrics(); m != nil {
		fmt.Printf("\nQuality Metrics:\n")
		fmt.Printf("=======================================\n")
		fmt.Printf("Mutual Information: %.4f -> %.4f\n", m.MutualInformationBefore, m.MutualInformationAfter)
		fmt.Printf("Correlation: %.4f -> %.4f\n", m.CorrelationBefore, m.CorrelationAfter)
		fmt.Printf("Overlap: %.2f%% -> %.2f%%\n", 100*m.OverlapBefore, 100*m.OverlapAfter)
	}
	if cfg.Output.SavePreviews {
		fmt.Printf("\nPreviews saved to: %s\n", cfg.Output.PreviewDir)
		for _, path := range pipeline.Previews() {
			fmt.Printf("- %s\n", path)
		}
	}
	if cfg.Output.SaveIntermediaryResults {
		fmt.Printf("Intermediary results saved to: %s\n", cfg.Output.IntermediaryDir)
	}

	if *extractSlices {
		fmt.Println("\nExtracting checkerboard slices along all axes...")
		viewer := visualization.NewViewer(pipeline.Checkerboard(), visualization.Grayscale)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir, cfg.Output.PreviewFormat); err != nil {
				log.Warning("failed to save slices", map[string]interface{}{"axis": axis, "error": err.Error()})
			}
		}
	}

	fmt.Printf("\nCompleted in %.2f seconds\n", time.Since(startTime).Seconds())
	return 0
}
