package filters

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"mmreg/internal/models"
)

// Normalize shifts and scales v to zero mean and unit standard deviation
func Normalize(v *models.Volume) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	mean, std := stat.MeanStdDev(v.Float64(), nil)
	if std == 0 || math.IsNaN(std) {
		return nil, fmt.Errorf("cannot normalize: %w", ErrZeroVariance)
	}

	out := models.NewVolumeLike(v)
	for i, val := range v.Data {
		out.Data[i] = float32((float64(val) - mean) / std)
	}
	return out, nil
}
