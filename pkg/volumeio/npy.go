package volumeio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kshedden/gonpy"

	"mmreg/internal/models"
)

// readNumPy loads a C-ordered (z, y, x) array. NumPy files carry no
// geometry, so the volume gets unit spacing at the origin.
func readNumPy(path string) (*models.Volume, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, err
	}

	size, err := npyShapeToSize(r.Shape)
	if err != nil {
		return nil, err
	}
	if r.ColumnMajor {
		return nil, fmt.Errorf("%w: fortran-ordered arrays are not supported", ErrMalformedHeader)
	}

	v := models.NewVolume(size)
	switch r.Dtype {
	case "f4":
		data, err := r.GetFloat32()
		if err != nil {
			return nil, err
		}
		copy(v.Data, data)
	case "f8":
		data, err := r.GetFloat64()
		if err != nil {
			return nil, err
		}
		for i, val := range data {
			v.Data[i] = float32(val)
		}
	default:
		return nil, fmt.Errorf("%w: numpy dtype %q", ErrUnsupportedFormat, r.Dtype)
	}

	return v, nil
}

func writeNumPy(path string, v *models.Volume) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return err
	}
	w.Shape = []int{v.Size[2], v.Size[1], v.Size[0]}
	return w.WriteFloat32(v.Data)
}

func npyShapeToSize(shape []int) ([3]int, error) {
	switch len(shape) {
	case 2:
		return [3]int{shape[1], shape[0], 1}, nil
	case 3:
		return [3]int{shape[2], shape[1], shape[0]}, nil
	}
	return [3]int{}, fmt.Errorf("%w: numpy shape %v is not 2D or 3D", ErrMalformedHeader, shape)
}
