package filters

import (
	"fmt"

	"mmreg/internal/models"
	"mmreg/pkg/interpolation"
)

// PointTransform maps output (fixed) space points into input (moving) space
type PointTransform interface {
	TransformPoint(p [3]float64) [3]float64
}

// Resample builds a volume on the reference grid whose voxels are the input
// linearly interpolated at the transformed voxel centres. Voxels that map
// outside the input receive defaultValue.
func Resample(input *models.Volume, tr PointTransform, reference models.Grid, defaultValue float32, workers int) (*models.Volume, error) {
	interp, err := interpolation.NewLinear(input)
	if err != nil {
		return nil, fmt.Errorf("resample input: %w", err)
	}
	mapper, err := reference.Mapper()
	if err != nil {
		return nil, fmt.Errorf("resample reference: %w", err)
	}

	out := models.NewVolumeOnGrid(reference)
	size := reference.Size

	forEachSlab(size[2], workers, func(z0, z1 int) {
		for k := z0; k < z1; k++ {
			for j := 0; j < size[1]; j++ {
				for i := 0; i < size[0]; i++ {
					p := mapper.IndexToPhysical([3]float64{float64(i), float64(j), float64(k)})
					value, ok := interp.Evaluate(tr.TransformPoint(p))
					if !ok {
						out.Data[out.Offset(i, j, k)] = defaultValue
						continue
					}
					out.Data[out.Offset(i, j, k)] = float32(value)
				}
			}
		}
	})

	return out, nil
}
