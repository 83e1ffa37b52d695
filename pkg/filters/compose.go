package filters

import (
	"fmt"

	"mmreg/internal/models"
)

// DefaultCheckerPattern is the number of checker cells per axis
var DefaultCheckerPattern = [3]int{4, 4, 4}

// CheckerBoard interleaves two volumes on the same grid in a 3D checker
// pattern: cells whose index sum is even come from a, the others from b.
func CheckerBoard(a, b *models.Volume, pattern [3]int) (*models.Volume, error) {
	if err := requireSameGrid(a, b); err != nil {
		return nil, fmt.Errorf("checkerboard: %w", err)
	}
	for d := 0; d < 3; d++ {
		if pattern[d] < 1 {
			return nil, fmt.Errorf("checkerboard: pattern %v must be positive", pattern)
		}
	}

	out := models.NewVolumeLike(a)
	size := a.Size
	var cell [3]int
	for d := 0; d < 3; d++ {
		// integer cell size; any remainder forms extra cells at the far edge
		cell[d] = max(1, size[d]/pattern[d])
	}

	for k := 0; k < size[2]; k++ {
		for j := 0; j < size[1]; j++ {
			for i := 0; i < size[0]; i++ {
				idx := a.Offset(i, j, k)
				if (i/cell[0]+j/cell[1]+k/cell[2])%2 == 0 {
					out.Data[idx] = a.Data[idx]
				} else {
					out.Data[idx] = b.Data[idx]
				}
			}
		}
	}
	return out, nil
}

// Subtract returns a - b voxel by voxel
func Subtract(a, b *models.Volume) (*models.Volume, error) {
	if err := requireSameGrid(a, b); err != nil {
		return nil, fmt.Errorf("subtract: %w", err)
	}

	out := models.NewVolumeLike(a)
	for i := range a.Data {
		out.Data[i] = a.Data[i] - b.Data[i]
	}
	return out, nil
}

func requireSameGrid(a, b *models.Volume) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if !models.SameGrid(a.Grid, b.Grid) {
		return models.ErrGridMismatch
	}
	return nil
}
