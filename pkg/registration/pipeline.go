// Package registration implements translation-only multimodal registration
// of 3D volumes driven by mutual information, and the end-to-end pipeline
// that produces checkerboard and difference volumes for visual assessment.
//
// The pipeline consists of several steps:
// 1. Loading the fixed and moving volumes
// 2. Normalizing and Gaussian smoothing both volumes
// 3. Optimizing a translation with gradient descent on mutual information
// 4. Resampling the unfiltered moving volume onto the fixed grid
// 5. Composing a checkerboard and a difference with the fixed volume
// 6. Writing the results, and optionally quality metrics and previews
package registration

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"mmreg/internal/models"
	"mmreg/pkg/config"
	"mmreg/pkg/filters"
	"mmreg/pkg/logging"
	"mmreg/pkg/metric"
	"mmreg/pkg/optimizer"
	"mmreg/pkg/resources"
	"mmreg/pkg/transform"
	"mmreg/pkg/visualization"
	"mmreg/pkg/volumeio"
)

// Pipeline runs a complete registration as configured
type Pipeline struct {
	// cfg stores the pipeline configuration
	cfg *config.Config

	log  *logging.Logger
	host resources.Host

	// inputs as read from disk
	fixed  *models.Volume
	moving *models.Volume

	// normalized and smoothed copies seen by the metric
	fixedPrepared  *models.Volume
	movingPrepared *models.Volume

	result       *Result
	registered   *models.Volume
	checkerboard *models.Volume
	difference   *models.Volume

	metrics  *QualityMetrics
	previews []string

	onLoad LoadObserver
}

// LoadObserver is called after each input volume is read, with role
// "fixed" or "moving"
type LoadObserver func(role, path string, v *models.Volume)

// NewPipeline creates a pipeline. A nil logger discards all output.
func NewPipeline(cfg *config.Config, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Nop()
	}
	return &Pipeline{
		cfg:  cfg,
		log:  log.Component("pipeline"),
		host: resources.Detect(),
	}
}

// SetLoadObserver installs a callback run as soon as each input is loaded
func (p *Pipeline) SetLoadObserver(o LoadObserver) {
	p.onLoad = o
}

// Process runs the complete registration pipeline
func (p *Pipeline) Process(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	start := time.Now()

	p.log.Info("Step 1: loading input volumes", nil)
	if err := p.loadVolumes(); err != nil {
		return err
	}

	p.log.Info("Step 2: normalizing and smoothing", nil)
	if err := p.prefilter(); err != nil {
		return err
	}

	p.log.Info("Step 3: optimizing translation", nil)
	if err := p.register(ctx); err != nil {
		return err
	}

	p.log.Info("Step 4: resampling moving volume onto fixed grid", nil)
	if err := p.resample(); err != nil {
		return err
	}

	p.log.Info("Step 5: composing checkerboard and difference", nil)
	if err := p.compose(); err != nil {
		return err
	}

	p.log.Info("Step 6: writing results", nil)
	if err := p.writeOutputs(); err != nil {
		return err
	}

	if p.cfg.Output.ComputeQualityMetrics {
		if err := p.computeQualityMetrics(); err != nil {
			return err
		}
	}
	if p.cfg.Output.SavePreviews {
		if err := p.savePreviews(); err != nil {
			return err
		}
	}
	if p.cfg.Output.ReportFile != "" {
		if err := p.writeReport(); err != nil {
			return err
		}
	}

	p.log.Info("pipeline finished", map[string]interface{}{"elapsed": time.Since(start).String()})
	return nil
}

// loadVolumes reads both inputs and checks that the run fits in memory
func (p *Pipeline) loadVolumes() error {
	var err error
	if p.fixed, err = volumeio.Read(p.cfg.IO.FixedFile); err != nil {
		return fmt.Errorf("failed to load fixed volume: %w", err)
	}
	p.log.Info("loaded fixed volume", map[string]interface{}{
		"file": p.cfg.IO.FixedFile, "size": volumeio.SizeString(p.fixed), "spacing": p.fixed.Spacing,
	})
	if p.onLoad != nil {
		p.onLoad("fixed", p.cfg.IO.FixedFile, p.fixed)
	}

	if p.moving, err = volumeio.Read(p.cfg.IO.MovingFile); err != nil {
		return fmt.Errorf("failed to load moving volume: %w", err)
	}
	p.log.Info("loaded moving volume", map[string]interface{}{
		"file": p.cfg.IO.MovingFile, "size": volumeio.SizeString(p.moving), "spacing": p.moving.Spacing,
	})
	if p.onLoad != nil {
		p.onLoad("moving", p.cfg.IO.MovingFile, p.moving)
	}

	need := resources.PipelineFootprint(p.fixed.NumVoxels(), p.moving.NumVoxels())
	if err := p.host.CheckFootprint(need); err != nil {
		p.log.Warning(err.Error(), nil)
	}
	return nil
}

// prefilter normalizes and smooths both volumes for the metric
func (p *Pipeline) prefilter() error {
	gp := filters.GaussianParams{
		Variance:           p.cfg.Prefilter.GaussianVariance,
		MaximumKernelWidth: p.cfg.Prefilter.MaximumKernelWidth,
		MaximumError:       p.cfg.Prefilter.MaximumError,
		Workers:            p.workers(),
	}

	prepare := func(name string, v *models.Volume) (*models.Volume, error) {
		normalized, err := filters.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize %s volume: %w", name, err)
		}
		smoothed, err := filters.DiscreteGaussian(normalized, gp)
		if err != nil {
			return nil, fmt.Errorf("failed to smooth %s volume: %w", name, err)
		}
		return smoothed, nil
	}

	var err error
	if p.fixedPrepared, err = prepare("fixed", p.fixed); err != nil {
		return err
	}
	if p.movingPrepared, err = prepare("moving", p.moving); err != nil {
		return err
	}

	p.saveIntermediaryResult("01_fixed_prefiltered", p.fixedPrepared)
	p.saveIntermediaryResult("02_moving_prefiltered", p.movingPrepared)
	return nil
}

// register optimizes a translation between the prefiltered volumes
func (p *Pipeline) register(ctx context.Context) error {
	opt := optimizer.NewGradientDescent(
		p.cfg.Optimizer.LearningRate,
		p.cfg.Optimizer.NumberOfIterations,
		p.cfg.Optimizer.Maximize,
	)
	tr := transform.NewTranslation()
	method := NewMethod(p.fixedPrepared, p.movingPrepared, tr, opt, p.metricParams())
	method.SetFixedRegion(p.fixedPrepared.Region())
	method.SetInitialParameters(make([]float64, tr.NumberOfParameters()))
	method.SetLogger(p.log.Component("optimizer"), p.cfg.Optimizer.ReportEvery)

	result, err := method.Run(ctx)
	p.result = result
	if err != nil {
		return err
	}

	p.log.Info("registration finished", map[string]interface{}{
		"iterations":  result.Iterations,
		"value":       result.FinalValue,
		"translation": result.Parameters,
		"stop":        result.StopCondition.String(),
	})
	return nil
}

// resample maps the unfiltered moving volume onto the fixed grid
func (p *Pipeline) resample() error {
	final, err := p.finalTransform()
	if err != nil {
		return err
	}

	p.registered, err = filters.Resample(p.moving, final, p.fixed.Grid,
		float32(p.cfg.Resample.DefaultPixelValue), p.workers())
	if err != nil {
		return fmt.Errorf("failed to resample moving volume: %w", err)
	}

	p.saveIntermediaryResult("03_registered", p.registered)
	return nil
}

// compose builds the checkerboard and difference volumes
func (p *Pipeline) compose() error {
	var err error
	if p.checkerboard, err = filters.CheckerBoard(p.fixed, p.registered, p.cfg.Checkerboard.Pattern); err != nil {
		return err
	}
	if p.difference, err = filters.Subtract(p.fixed, p.registered); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) writeOutputs() error {
	if err := volumeio.Write(p.cfg.IO.CheckerboardFile, p.checkerboard); err != nil {
		return err
	}
	p.log.Info("wrote checkerboard", map[string]interface{}{"file": p.cfg.IO.CheckerboardFile})

	if err := volumeio.Write(p.cfg.IO.DifferenceFile, p.difference); err != nil {
		return err
	}
	p.log.Info("wrote difference", map[string]interface{}{"file": p.cfg.IO.DifferenceFile})
	return nil
}

// computeQualityMetrics compares fixed and moving before and after registration
func (p *Pipeline) computeQualityMetrics() error {
	nan := float32(math.NaN())

	before, err := filters.Resample(p.moving, transform.NewTranslation(), p.fixed.Grid, nan, p.workers())
	if err != nil {
		return fmt.Errorf("failed to resample for quality metrics: %w", err)
	}
	final, err := p.finalTransform()
	if err != nil {
		return err
	}
	after, err := filters.Resample(p.moving, final, p.fixed.Grid, nan, p.workers())
	if err != nil {
		return fmt.Errorf("failed to resample for quality metrics: %w", err)
	}

	offset := final.Offset()
	m := &QualityMetrics{Translation: offset[:]}
	m.MutualInformationBefore, m.CorrelationBefore, m.OverlapBefore = compareVolumes(p.fixed, before)
	m.MutualInformationAfter, m.CorrelationAfter, m.OverlapAfter = compareVolumes(p.fixed, after)
	m.TranslationMagnitude = math.Sqrt(offset[0]*offset[0] + offset[1]*offset[1] + offset[2]*offset[2])
	p.metrics = m

	p.log.Info("quality metrics", map[string]interface{}{
		"miBefore":   m.MutualInformationBefore,
		"miAfter":    m.MutualInformationAfter,
		"corrBefore": m.CorrelationBefore,
		"corrAfter":  m.CorrelationAfter,
		"overlap":    m.OverlapAfter,
	})
	return nil
}

// savePreviews renders the central slices of inputs and results
func (p *Pipeline) savePreviews() error {
	dir := p.cfg.Output.PreviewDir
	format := p.cfg.Output.PreviewFormat

	views := []struct {
		name     string
		volume   *models.Volume
		colormap visualization.Colormap
	}{
		{"fixed", p.fixed, visualization.Grayscale},
		{"registered", p.registered, visualization.Grayscale},
		{"checkerboard", p.checkerboard, visualization.Grayscale},
		{"difference", p.difference, visualization.Diverging},
	}

	p.previews = nil
	for _, view := range views {
		written, err := visualization.NewViewer(view.volume, view.colormap).SaveMidSlices(dir, view.name, format)
		p.previews = append(p.previews, written...)
		if err != nil {
			return fmt.Errorf("failed to save %s preview: %w", view.name, err)
		}
	}
	p.log.Info("saved previews", map[string]interface{}{"dir": dir, "count": len(p.previews)})
	return nil
}

// report is the YAML document written to Output.ReportFile
type report struct {
	FixedFile     string          `yaml:"fixedFile"`
	MovingFile    string          `yaml:"movingFile"`
	Iterations    int             `yaml:"iterations"`
	FinalValue    float64         `yaml:"finalValue"`
	StopCondition string          `yaml:"stopCondition"`
	Parameters    []float64       `yaml:"parameters"`
	Quality       *QualityMetrics `yaml:"quality,omitempty"`
}

func (p *Pipeline) writeReport() error {
	r := report{
		FixedFile:     p.cfg.IO.FixedFile,
		MovingFile:    p.cfg.IO.MovingFile,
		Iterations:    p.result.Iterations,
		FinalValue:    p.result.FinalValue,
		StopCondition: p.result.StopCondition.String(),
		Parameters:    p.result.Parameters,
		Quality:       p.metrics,
	}
	data, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	path := p.cfg.Output.ReportFile
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// saveIntermediaryResult writes a volume into the intermediary directory when enabled.
// Failures are logged and do not stop the pipeline.
func (p *Pipeline) saveIntermediaryResult(stage string, v *models.Volume) {
	if !p.cfg.Output.SaveIntermediaryResults {
		return
	}
	path := filepath.Join(p.cfg.Output.IntermediaryDir, stage+".nii.gz")
	if err := volumeio.Write(path, v); err != nil {
		p.log.Warning("failed to save intermediary result", map[string]interface{}{"stage": stage, "error": err.Error()})
	}
}

func (p *Pipeline) finalTransform() (*transform.Translation, error) {
	final := transform.NewTranslation()
	if err := final.SetParameters(p.result.Parameters); err != nil {
		return nil, err
	}
	return final, nil
}

func (p *Pipeline) metricParams() metric.Params {
	mp := metric.DefaultParams()
	mp.FixedImageStandardDeviation = p.cfg.Metric.FixedImageStandardDeviation
	mp.MovingImageStandardDeviation = p.cfg.Metric.MovingImageStandardDeviation
	mp.NumberOfSpatialSamples = p.cfg.Metric.NumberOfSpatialSamples
	mp.Seed = p.cfg.Metric.Seed
	return mp
}

func (p *Pipeline) workers() int {
	if p.cfg.Processing.NumWorkers > 0 {
		return p.cfg.Processing.NumWorkers
	}
	return p.host.DefaultWorkers()
}

// Result returns the registration outcome, nil before step 3
func (p *Pipeline) Result() *Result { return p.result }

// Checkerboard returns the checkerboard composite
func (p *Pipeline) Checkerboard() *models.Volume { return p.checkerboard }

// Metrics returns the quality metrics, nil when they were not computed
func (p *Pipeline) Metrics() *QualityMetrics { return p.metrics }

// Previews returns the preview image paths written by the last run
func (p *Pipeline) Previews() []string { return p.previews }

// Host returns the detected machine resources
func (p *Pipeline) Host() resources.Host { return p.host }
