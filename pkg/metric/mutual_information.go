// Package metric implements the Viola-Wells mutual information similarity
// measure between a fixed and a transformed moving volume.
//
// Both marginal and joint densities are estimated with Gaussian Parzen
// windows over two random sample sets A and B drawn from the fixed region.
// Set A builds the densities, set B evaluates the entropies. A new pair of
// sets is drawn on every evaluation, so the value is a stochastic estimate
// and gradient ascent on it behaves as a stochastic approximation.
package metric

import (
	"errors"
	"fmt"
	"math"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"

	"mmreg/internal/models"
	"mmreg/pkg/interpolation"
	"mmreg/pkg/transform"
)

var (
	// ErrAllSamplesOutside is returned when no sample maps into the moving volume
	ErrAllSamplesOutside = errors.New("all the sampled points mapped outside the moving image")

	// ErrStandardDeviationTooSmall is returned when a Parzen density collapses
	ErrStandardDeviationTooSmall = errors.New("standard deviation is too small")

	// ErrEmptyRegion is returned when the fixed region has no voxels inside the fixed volume
	ErrEmptyRegion = errors.New("fixed region is empty")
)

// Params configures MutualInformation
type Params struct {
	// FixedImageStandardDeviation is the Parzen window width on fixed intensities
	FixedImageStandardDeviation float64

	// MovingImageStandardDeviation is the Parzen window width on moving intensities
	MovingImageStandardDeviation float64

	// NumberOfSpatialSamples is the size of each of the two sample sets
	NumberOfSpatialSamples int

	// MinProbability keeps the density sums away from zero
	MinProbability float64

	// Seed initializes the sampling generator
	Seed uint32
}

// DefaultParams returns the toolkit defaults with 0.4 kernel widths
func DefaultParams() Params {
	return Params{
		FixedImageStandardDeviation:  0.4,
		MovingImageStandardDeviation: 0.4,
		NumberOfSpatialSamples:       50,
		MinProbability:               0.0001,
		Seed:                         121212,
	}
}

type spatialSample struct {
	fixedPoint  [3]float64
	fixedValue  float64
	movingValue float64
}

// MutualInformation evaluates the similarity of a fixed volume and a moving
// volume seen through a transform. It is not safe for concurrent use.
type MutualInformation struct {
	params      Params
	fixed       *models.Volume
	fixedMapper *models.IndexMapper
	region      models.Region
	moving      *interpolation.Linear
	transform   transform.Transform
	rng         fastrand.RNG

	setA, setB []spatialSample
	derivA     [][]float64
	derivB     []float64
}

// NewMutualInformation builds the metric over the whole fixed volume
func NewMutualInformation(fixed, moving *models.Volume, tr transform.Transform, params Params) (*MutualInformation, error) {
	if params.FixedImageStandardDeviation <= 0 || params.MovingImageStandardDeviation <= 0 {
		return nil, fmt.Errorf("%w: fixed %g, moving %g", ErrStandardDeviationTooSmall,
			params.FixedImageStandardDeviation, params.MovingImageStandardDeviation)
	}
	if params.NumberOfSpatialSamples < 1 {
		return nil, fmt.Errorf("number of spatial samples must be positive, got %d", params.NumberOfSpatialSamples)
	}
	if params.MinProbability <= 0 {
		params.MinProbability = DefaultParams().MinProbability
	}
	if err := fixed.Validate(); err != nil {
		return nil, fmt.Errorf("fixed image: %w", err)
	}
	fixedMapper, err := fixed.Mapper()
	if err != nil {
		return nil, fmt.Errorf("fixed image: %w", err)
	}
	interp, err := interpolation.NewLinear(moving)
	if err != nil {
		return nil, fmt.Errorf("moving image: %w", err)
	}

	n := params.NumberOfSpatialSamples
	m := &MutualInformation{
		params:      params,
		fixed:       fixed,
		fixedMapper: fixedMapper,
		region:      fixed.Region(),
		moving:      interp,
		transform:   tr,
		setA:        make([]spatialSample, n),
		setB:        make([]spatialSample, n),
		derivA:      make([][]float64, n),
		derivB:      make([]float64, tr.NumberOfParameters()),
	}
	for i := range m.derivA {
		m.derivA[i] = make([]float64, tr.NumberOfParameters())
	}
	m.rng.Seed(params.Seed)
	return m, nil
}

// SetFixedRegion restricts sampling to a box of the fixed volume
func (m *MutualInformation) SetFixedRegion(r models.Region) error {
	for d := 0; d < 3; d++ {
		if r.Size[d] < 1 || r.Index[d] < 0 || r.Index[d]+r.Size[d] > m.fixed.Size[d] {
			return fmt.Errorf("%w: region %+v in volume of size %v", ErrEmptyRegion, r, m.fixed.Size)
		}
	}
	m.region = r
	return nil
}

// NumberOfParameters returns the transform's parameter count
func (m *MutualInformation) NumberOfParameters() int {
	return m.transform.NumberOfParameters()
}

// Value estimates the mutual information at the given transform parameters
func (m *MutualInformation) Value(params []float64) (float64, error) {
	if err := m.transform.SetParameters(params); err != nil {
		return 0, err
	}
	if err := m.sampleFixedImageDomain(m.setA); err != nil {
		return 0, err
	}
	if err := m.sampleFixedImageDomain(m.setB); err != nil {
		return 0, err
	}

	var logSumFixed, logSumMoving, logSumJoint float64
	for _, b := range m.setB {
		sumFixed := m.params.MinProbability
		sumMoving := m.params.MinProbability
		sumJoint := m.params.MinProbability
		for _, a := range m.setA {
			valueFixed, valueMoving := m.kernels(b, a)
			sumFixed += valueFixed
			sumMoving += valueMoving
			sumJoint += valueFixed * valueMoving
		}
		logSumFixed -= math.Log(sumFixed)
		logSumMoving -= math.Log(sumMoving)
		logSumJoint -= math.Log(sumJoint)
	}

	return m.finish(logSumFixed, logSumMoving, logSumJoint)
}

// ValueAndDerivative estimates the mutual information and its gradient with
// respect to the transform parameters. Both use the same sample sets.
func (m *MutualInformation) ValueAndDerivative(params []float64) (float64, []float64, error) {
	if err := m.transform.SetParameters(params); err != nil {
		return 0, nil, err
	}
	if err := m.sampleFixedImageDomain(m.setA); err != nil {
		return 0, nil, err
	}
	if err := m.sampleFixedImageDomain(m.setB); err != nil {
		return 0, nil, err
	}

	for i, a := range m.setA {
		m.sampleDerivative(a.fixedPoint, m.derivA[i])
	}

	derivative := make([]float64, m.transform.NumberOfParameters())
	var logSumFixed, logSumMoving, logSumJoint float64
	for _, b := range m.setB {
		sumFixed := m.params.MinProbability
		denominatorMoving := m.params.MinProbability
		denominatorJoint := m.params.MinProbability
		for _, a := range m.setA {
			valueFixed, valueMoving := m.kernels(b, a)
			sumFixed += valueFixed
			denominatorMoving += valueMoving
			denominatorJoint += valueFixed * valueMoving
		}
		logSumFixed -= math.Log(sumFixed)
		logSumMoving -= math.Log(denominatorMoving)
		logSumJoint -= math.Log(denominatorJoint)

		m.sampleDerivative(b.fixedPoint, m.derivB)

		totalWeight := 0.0
		for i, a := range m.setA {
			valueFixed, valueMoving := m.kernels(b, a)
			weightMoving := valueMoving / denominatorMoving
			weightJoint := valueMoving * valueFixed / denominatorJoint
			weight := (weightMoving - weightJoint) * (b.movingValue - a.movingValue)
			totalWeight += weight
			floats.AddScaled(derivative, -weight, m.derivA[i])
		}
		floats.AddScaled(derivative, totalWeight, m.derivB)
	}

	value, err := m.finish(logSumFixed, logSumMoving, logSumJoint)
	if err != nil {
		return 0, nil, err
	}

	nsamp := float64(m.params.NumberOfSpatialSamples)
	floats.Scale(1/(nsamp*m.params.MovingImageStandardDeviation*m.params.MovingImageStandardDeviation), derivative)
	return value, derivative, nil
}

// finish turns the accumulated log sums into the entropy-based estimate
func (m *MutualInformation) finish(logSumFixed, logSumMoving, logSumJoint float64) (float64, error) {
	nsamp := float64(m.params.NumberOfSpatialSamples)
	threshold := -0.5 * nsamp * math.Log(m.params.MinProbability)
	if logSumMoving > threshold || logSumFixed > threshold || logSumJoint > threshold {
		return 0, ErrStandardDeviationTooSmall
	}

	value := (logSumFixed + logSumMoving - logSumJoint) / nsamp
	return value + math.Log(nsamp), nil
}

func (m *MutualInformation) kernels(b, a spatialSample) (float64, float64) {
	return gaussianKernel((b.fixedValue - a.fixedValue) / m.params.FixedImageStandardDeviation),
		gaussianKernel((b.movingValue - a.movingValue) / m.params.MovingImageStandardDeviation)
}

// sampleFixedImageDomain fills samples with random fixed-region voxels and
// the moving intensity at their mapped positions. Samples mapping outside the
// moving volume keep a moving value of zero.
func (m *MutualInformation) sampleFixedImageDomain(samples []spatialSample) error {
	r := m.region
	total := uint32(r.NumVoxels())
	allOutside := true

	for s := range samples {
		n := int(m.rng.Uint32n(total))
		i := r.Index[0] + n%r.Size[0]
		j := r.Index[1] + (n/r.Size[0])%r.Size[1]
		k := r.Index[2] + n/(r.Size[0]*r.Size[1])

		p := m.fixedMapper.IndexToPhysical([3]float64{float64(i), float64(j), float64(k)})
		samples[s].fixedPoint = p
		samples[s].fixedValue = float64(m.fixed.At(i, j, k))

		ci := m.moving.ContinuousIndex(m.transform.TransformPoint(p))
		if m.moving.IsInsideBuffer(ci) {
			samples[s].movingValue = m.moving.EvaluateAtContinuousIndex(ci)
			allOutside = false
		} else {
			samples[s].movingValue = 0
		}
	}

	if allOutside {
		return ErrAllSamplesOutside
	}
	return nil
}

// sampleDerivative writes J^T * grad(moving) at the mapped point into out
func (m *MutualInformation) sampleDerivative(p [3]float64, out []float64) {
	for i := range out {
		out[i] = 0
	}
	ci := m.moving.ContinuousIndex(m.transform.TransformPoint(p))
	if !m.moving.IsInsideBuffer(ci) {
		return
	}

	gradient := m.moving.Gradient(ci)
	jacobian := m.transform.Jacobian(p)
	for dim := 0; dim < 3; dim++ {
		floats.AddScaled(out, gradient[dim], jacobian[dim])
	}
}

var invSqrtTwoPi = 1 / math.Sqrt(2*math.Pi)

func gaussianKernel(u float64) float64 {
	return invSqrtTwoPi * math.Exp(-0.5*u*u)
}
