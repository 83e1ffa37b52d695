package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"mmreg/internal/models"
)

type shift [3]float64

func (s shift) TransformPoint(p [3]float64) [3]float64 {
	return [3]float64{p[0] + s[0], p[1] + s[1], p[2] + s[2]}
}

func patternVolume(size [3]int) *models.Volume {
	v := models.NewVolume(size)
	for k := 0; k < size[2]; k++ {
		for j := 0; j < size[1]; j++ {
			for i := 0; i < size[0]; i++ {
				v.Set(i, j, k, float32(i+10*j+100*k))
			}
		}
	}
	return v
}

func TestNormalize(t *testing.T) {
	v := patternVolume([3]int{4, 3, 2})
	out, err := Normalize(v)
	require.NoError(t, err)

	mean, std := stat.MeanStdDev(out.Float64(), nil)
	assert.InDelta(t, 0, mean, 1e-5)
	assert.InDelta(t, 1, std, 1e-5)
	assert.True(t, models.SameGrid(v.Grid, out.Grid))
}

func TestNormalizeConstant(t *testing.T) {
	v := models.NewVolume([3]int{3, 3, 3})
	for i := range v.Data {
		v.Data[i] = 7
	}
	_, err := Normalize(v)
	assert.ErrorIs(t, err, ErrZeroVariance)
}

func TestGaussianKernel(t *testing.T) {
	k := gaussianKernel(1.5, 0.01, 32)
	require.Equal(t, 1, len(k)%2)
	sum := 0.0
	for i, w := range k {
		sum += w
		assert.InDelta(t, w, k[len(k)-1-i], 1e-12, "kernel must be symmetric")
	}
	assert.InDelta(t, 1, sum, 1e-12)

	assert.LessOrEqual(t, len(gaussianKernel(50, 0.001, 9)), 9)
	assert.Equal(t, []float64{1}, gaussianKernel(0, 0.01, 32))
}

func TestDiscreteGaussianPreservesConstant(t *testing.T) {
	v := models.NewVolume([3]int{8, 7, 6})
	for i := range v.Data {
		v.Data[i] = 3
	}
	out, err := DiscreteGaussian(v, GaussianParams{Variance: 2, MaximumKernelWidth: 32, MaximumError: 0.01, Workers: 3})
	require.NoError(t, err)
	for _, val := range out.Data {
		assert.InDelta(t, 3, val, 1e-5)
	}
}

func TestDiscreteGaussianSpreadsImpulse(t *testing.T) {
	v := models.NewVolume([3]int{11, 11, 11})
	v.Set(5, 5, 5, 1000)

	out, err := DiscreteGaussian(v, GaussianParams{Variance: 1, MaximumKernelWidth: 32, MaximumError: 0.001, Workers: 4})
	require.NoError(t, err)

	total := 0.0
	for _, val := range out.Data {
		total += float64(val)
	}
	assert.InDelta(t, 1000, total, 1e-2, "mass is conserved away from the border")
	assert.Less(t, out.At(5, 5, 5), float32(1000))
	assert.Greater(t, out.At(6, 5, 5), float32(0))
	assert.InDelta(t, out.At(6, 5, 5), out.At(5, 4, 5), 1e-4)
	assert.InDelta(t, out.At(5, 5, 6), out.At(4, 5, 5), 1e-4)
}

func TestDiscreteGaussianZeroVarianceCopies(t *testing.T) {
	v := patternVolume([3]int{3, 3, 3})
	out, err := DiscreteGaussian(v, GaussianParams{MaximumKernelWidth: 32, MaximumError: 0.01})
	require.NoError(t, err)
	assert.Equal(t, v.Data, out.Data)
	out.Data[0] = -1
	assert.NotEqual(t, v.Data[0], out.Data[0])
}

func TestResampleIdentity(t *testing.T) {
	v := patternVolume([3]int{5, 4, 3})
	out, err := Resample(v, shift{}, v.Grid, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, v.Data, out.Data)
}

func TestResampleShiftAndDefault(t *testing.T) {
	v := patternVolume([3]int{6, 6, 6})
	out, err := Resample(v, shift{1, 0, 0}, v.Grid, 100, 3)
	require.NoError(t, err)

	// output voxel i samples input voxel i+1
	assert.Equal(t, v.At(3, 2, 1), out.At(2, 2, 1))
	// the last column maps to x=6, outside the input
	assert.Equal(t, float32(100), out.At(5, 0, 0))
}

func TestResampleOntoDifferentGrid(t *testing.T) {
	v := patternVolume([3]int{6, 6, 6})
	ref := models.NewGrid([3]int{3, 3, 3})
	ref.Spacing = [3]float64{2, 2, 2}
	ref.Origin = [3]float64{0.5, 0, 0}

	out, err := Resample(v, shift{}, ref, -1, 1)
	require.NoError(t, err)
	assert.Equal(t, ref.Size, out.Size)
	// physical x = 0.5 + 2i
	assert.InDelta(t, 2.5, out.At(1, 0, 0), 1e-5)
	assert.InDelta(t, 4.5+10*2+100*4, out.At(2, 1, 2), 1e-3)
}

func TestCheckerBoard(t *testing.T) {
	a := models.NewVolume([3]int{4, 4, 4})
	b := models.NewVolumeLike(a)
	for i := range a.Data {
		a.Data[i] = 1
		b.Data[i] = 2
	}

	out, err := CheckerBoard(a, b, [3]int{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, float32(1), out.At(0, 0, 0))
	assert.Equal(t, float32(2), out.At(2, 0, 0))
	assert.Equal(t, float32(1), out.At(2, 2, 0))
	assert.Equal(t, float32(2), out.At(3, 3, 3))
	assert.Equal(t, float32(1), out.At(1, 3, 2))

	ones := 0
	for _, val := range out.Data {
		if val == 1 {
			ones++
		}
	}
	assert.Equal(t, len(out.Data)/2, ones)
}

func TestCheckerBoardSmallerThanPattern(t *testing.T) {
	a := models.NewVolume([3]int{2, 1, 1})
	b := models.NewVolumeLike(a)
	b.Data[0], b.Data[1] = 5, 5
	out, err := CheckerBoard(a, b, DefaultCheckerPattern)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 5}, out.Data)
}

func TestCheckerBoardUnevenSize(t *testing.T) {
	a := models.NewVolume([3]int{10, 1, 1})
	b := models.NewVolumeLike(a)
	for i := range b.Data {
		b.Data[i] = 1
	}
	out, err := CheckerBoard(a, b, DefaultCheckerPattern)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 1, 0, 0, 1, 1, 0, 0}, out.Data)
}

func TestSubtract(t *testing.T) {
	a := patternVolume([3]int{3, 2, 2})
	b := patternVolume([3]int{3, 2, 2})
	b.Data[4] = 0

	out, err := Subtract(a, b)
	require.NoError(t, err)
	for i, val := range out.Data {
		if i == 4 {
			assert.Equal(t, a.Data[4], val)
			continue
		}
		assert.Zero(t, val)
	}
}

func TestGridMismatch(t *testing.T) {
	a := models.NewVolume([3]int{3, 3, 3})
	b := models.NewVolume([3]int{3, 3, 2})
	_, err := Subtract(a, b)
	assert.ErrorIs(t, err, models.ErrGridMismatch)

	c := models.NewVolumeLike(a)
	c.Spacing[0] = 2
	_, err = CheckerBoard(a, c, DefaultCheckerPattern)
	assert.ErrorIs(t, err, models.ErrGridMismatch)
}

func TestForEachSlabCoversAll(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 7, 64} {
		seen := make([]int32, 10)
		forEachSlab(10, workers, func(z0, z1 int) {
			for z := z0; z < z1; z++ {
				seen[z]++
			}
		})
		for z, n := range seen {
			assert.Equal(t, int32(1), n, "workers=%d z=%d", workers, z)
		}
	}
}
