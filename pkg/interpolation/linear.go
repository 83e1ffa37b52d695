package interpolation

import (
	"math"

	"mmreg/internal/models"
)

// Linear evaluates a volume between voxel centres by trilinear interpolation.
// Points are accepted inside the buffer extended by half a voxel on each side;
// neighbours beyond the last voxel are clamped.
type Linear struct {
	volume *models.Volume
	mapper *models.IndexMapper
}

// NewLinear prepares an interpolator for v
func NewLinear(v *models.Volume) (*Linear, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	mapper, err := v.Mapper()
	if err != nil {
		return nil, err
	}
	return &Linear{volume: v, mapper: mapper}, nil
}

// ContinuousIndex maps a physical point into the volume's index space
func (l *Linear) ContinuousIndex(p [3]float64) [3]float64 {
	return l.mapper.PhysicalToIndex(p)
}

// IsInsideBuffer reports whether a continuous index can be interpolated
func (l *Linear) IsInsideBuffer(ci [3]float64) bool {
	for d := 0; d < 3; d++ {
		if !(ci[d] >= -0.5 && ci[d] < float64(l.volume.Size[d])-0.5) {
			return false
		}
	}
	return true
}

// Evaluate interpolates at a physical point. The second result is false when
// the point falls outside the buffer.
func (l *Linear) Evaluate(p [3]float64) (float64, bool) {
	ci := l.mapper.PhysicalToIndex(p)
	if !l.IsInsideBuffer(ci) {
		return 0, false
	}
	return l.EvaluateAtContinuousIndex(ci), true
}

// EvaluateAtContinuousIndex interpolates at ci, which must be inside the buffer
func (l *Linear) EvaluateAtContinuousIndex(ci [3]float64) float64 {
	size := l.volume.Size
	var base, next [3]int
	var frac [3]float64
	for d := 0; d < 3; d++ {
		f := math.Floor(ci[d])
		base[d] = int(f)
		frac[d] = ci[d] - f
		next[d] = base[d] + 1
		if base[d] < 0 {
			base[d] = 0
		}
		if next[d] > size[d]-1 {
			next[d] = size[d] - 1
		}
		if base[d] > size[d]-1 {
			base[d] = size[d] - 1
		}
	}

	data := l.volume.Data
	at := func(i, j, k int) float64 {
		return float64(data[l.volume.Offset(i, j, k)])
	}

	c00 := at(base[0], base[1], base[2])*(1-frac[0]) + at(next[0], base[1], base[2])*frac[0]
	c10 := at(base[0], next[1], base[2])*(1-frac[0]) + at(next[0], next[1], base[2])*frac[0]
	c01 := at(base[0], base[1], next[2])*(1-frac[0]) + at(next[0], base[1], next[2])*frac[0]
	c11 := at(base[0], next[1], next[2])*(1-frac[0]) + at(next[0], next[1], next[2])*frac[0]

	c0 := c00*(1-frac[1]) + c10*frac[1]
	c1 := c01*(1-frac[1]) + c11*frac[1]

	return c0*(1-frac[2]) + c1*frac[2]
}

// Gradient returns the physical-space intensity gradient at the voxel nearest
// to ci using central differences. Along an axis where the nearest voxel lies
// on the border the derivative is zero.
func (l *Linear) Gradient(ci [3]float64) [3]float64 {
	v := l.volume
	var idx [3]int
	for d := 0; d < 3; d++ {
		idx[d] = int(math.Floor(ci[d] + 0.5))
		if idx[d] < 0 {
			idx[d] = 0
		}
		if idx[d] > v.Size[d]-1 {
			idx[d] = v.Size[d] - 1
		}
	}

	var g [3]float64
	for d := 0; d < 3; d++ {
		if idx[d] == 0 || idx[d] == v.Size[d]-1 {
			continue
		}
		lo, hi := idx, idx
		lo[d]--
		hi[d]++
		g[d] = (float64(v.At(hi[0], hi[1], hi[2])) - float64(v.At(lo[0], lo[1], lo[2]))) / (2 * v.Spacing[d])
	}

	return v.RotateToPhysical(g)
}
