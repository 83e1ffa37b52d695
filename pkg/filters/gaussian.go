package filters

import (
	"math"

	"mmreg/internal/models"
)

// GaussianParams configures DiscreteGaussian
type GaussianParams struct {
	// Variance of the kernel in physical units (mm^2)
	Variance float64

	// MaximumKernelWidth caps the kernel width in voxels
	MaximumKernelWidth int

	// MaximumError is the kernel tail mass that may be dropped
	MaximumError float64

	// Workers is the number of goroutines; 0 means all CPUs
	Workers int
}

// DiscreteGaussian smooths v with a separable sampled Gaussian kernel.
// The variance is converted to voxel units per axis through the spacing, and
// samples outside the volume are replaced by the nearest border voxel.
func DiscreteGaussian(v *models.Volume, params GaussianParams) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	out := v.Clone()
	if params.Variance <= 0 {
		return out, nil
	}

	scratch := models.NewVolumeLike(v)
	for axis := 0; axis < 3; axis++ {
		sigma := math.Sqrt(params.Variance) / v.Spacing[axis]
		kernel := gaussianKernel(sigma, params.MaximumError, params.MaximumKernelWidth)
		if len(kernel) <= 1 || v.Size[axis] == 1 {
			continue
		}
		convolveAxis(out, scratch, axis, kernel, params.Workers)
		out, scratch = scratch, out
	}
	return out, nil
}

// gaussianKernel returns a normalized, symmetric kernel of odd length.
// The radius grows until the dropped tail mass falls below maxError or the
// kernel reaches maxWidth.
func gaussianKernel(sigma, maxError float64, maxWidth int) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	if maxError <= 0 {
		maxError = 0.01
	}
	maxRadius := (maxWidth - 1) / 2
	if maxRadius < 1 {
		return []float64{1}
	}

	weight := func(x int) float64 {
		return math.Exp(-float64(x*x) / (2 * sigma * sigma))
	}

	// total mass of the continuous kernel sampled on the integers
	total := 0.0
	for x := -maxRadius * 4; x <= maxRadius*4; x++ {
		total += weight(x)
	}

	radius := 0
	kept := weight(0)
	for radius < maxRadius && 1-kept/total > maxError {
		radius++
		kept += 2 * weight(radius)
	}

	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for x := -radius; x <= radius; x++ {
		kernel[x+radius] = weight(x)
		sum += kernel[x+radius]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func convolveAxis(in, out *models.Volume, axis int, kernel []float64, workers int) {
	size := in.Size
	radius := len(kernel) / 2

	stride := [3]int{1, size[0], size[0] * size[1]}[axis]
	n := size[axis]

	forEachSlab(size[2], workers, func(z0, z1 int) {
		for k := z0; k < z1; k++ {
			for j := 0; j < size[1]; j++ {
				for i := 0; i < size[0]; i++ {
					pos := [3]int{i, j, k}[axis]
					base := in.Offset(i, j, k) - pos*stride

					acc := 0.0
					for t := -radius; t <= radius; t++ {
						s := pos + t
						if s < 0 {
							s = 0
						} else if s >= n {
							s = n - 1
						}
						acc += kernel[t+radius] * float64(in.Data[base+s*stride])
					}
					out.Data[in.Offset(i, j, k)] = float32(acc)
				}
			}
		}
	})
}
