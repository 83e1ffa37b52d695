package registration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mmreg/internal/models"
)

// qualityBins is the number of histogram bins per intensity axis
const qualityBins = 64

// QualityMetrics compares the fixed volume with the moving volume before and
// after registration. Only voxels where the moving volume is defined count.
type QualityMetrics struct {
	// MutualInformation of the joint intensity histogram, in nats
	MutualInformationBefore float64 `yaml:"mutualInformationBefore"`
	MutualInformationAfter  float64 `yaml:"mutualInformationAfter"`

	// Correlation is Pearson's r between fixed and moving intensities
	CorrelationBefore float64 `yaml:"correlationBefore"`
	CorrelationAfter  float64 `yaml:"correlationAfter"`

	// Overlap is the fraction of fixed voxels covered by the moving volume
	OverlapBefore float64 `yaml:"overlapBefore"`
	OverlapAfter  float64 `yaml:"overlapAfter"`

	// Translation is the found offset in mm and its length
	Translation          []float64 `yaml:"translation"`
	TranslationMagnitude float64   `yaml:"translationMagnitude"`
}

// compareVolumes returns histogram mutual information, correlation and the
// overlap fraction of two volumes on the same grid. NaN voxels in moving mark
// positions outside the moving field of view.
func compareVolumes(fixed, moving *models.Volume) (mi, corr, overlap float64) {
	var xs, ys []float64
	for i, m := range moving.Data {
		if math.IsNaN(float64(m)) {
			continue
		}
		xs = append(xs, float64(fixed.Data[i]))
		ys = append(ys, float64(m))
	}
	if len(xs) == 0 {
		return 0, 0, 0
	}

	overlap = float64(len(xs)) / float64(len(fixed.Data))
	corr = stat.Correlation(xs, ys, nil)
	if math.IsNaN(corr) {
		corr = 0
	}
	return histogramMutualInformation(xs, ys, qualityBins), corr, overlap
}

// histogramMutualInformation estimates H(X) + H(Y) - H(X,Y) from a joint histogram
func histogramMutualInformation(xs, ys []float64, bins int) float64 {
	xMin, xMax := floats.Min(xs), floats.Max(xs)
	yMin, yMax := floats.Min(ys), floats.Max(ys)

	joint := make([]float64, bins*bins)
	px := make([]float64, bins)
	py := make([]float64, bins)
	n := float64(len(xs))

	for i := range xs {
		bx := bin(xs[i], xMin, xMax, bins)
		by := bin(ys[i], yMin, yMax, bins)
		joint[bx*bins+by] += 1 / n
		px[bx] += 1 / n
		py[by] += 1 / n
	}

	mi := stat.Entropy(px) + stat.Entropy(py) - stat.Entropy(joint)
	if mi < 0 {
		return 0
	}
	return mi
}

func bin(v, lo, hi float64, bins int) int {
	if hi <= lo {
		return 0
	}
	b := int((v - lo) / (hi - lo) * float64(bins))
	if b >= bins {
		b = bins - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}
