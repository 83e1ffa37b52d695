// Package volumeio reads and writes 3D scalar volumes.
//
// Supported formats are single-file NIfTI-1 (.nii, optionally gzipped as
// .nii.gz) and NumPy arrays (.npy). Every reader returns float32 voxels;
// integer data is converted and NIfTI intensity scaling is applied.
package volumeio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"mmreg/internal/models"
)

var (
	// ErrUnsupportedFormat is returned for file extensions without a codec
	ErrUnsupportedFormat = errors.New("unsupported volume format")

	// ErrMalformedHeader is returned when a header cannot describe a 3D scalar volume
	ErrMalformedHeader = errors.New("malformed volume header")
)

// Format identifies an on-disk volume encoding
type Format int

const (
	FormatUnknown Format = iota
	FormatNIfTI
	FormatNIfTIGzip
	FormatNumPy
)

// FormatOf infers the format from the file name
func FormatOf(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".nii.gz"):
		return FormatNIfTIGzip
	case strings.HasSuffix(name, ".nii"):
		return FormatNIfTI
	case strings.HasSuffix(name, ".npy"):
		return FormatNumPy
	}
	return FormatUnknown
}

// Read loads a volume, picking the codec from the file extension
func Read(path string) (*models.Volume, error) {
	var (
		v   *models.Volume
		err error
	)
	switch FormatOf(path) {
	case FormatNIfTI:
		v, err = readNIfTI(path, false)
	case FormatNIfTIGzip:
		v, err = readNIfTI(path, true)
	case FormatNumPy:
		v, err = readNumPy(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v, nil
}

// Write stores a volume, picking the codec from the file extension.
// Parent directories are created as needed.
func Write(path string, v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	var err error
	switch FormatOf(path) {
	case FormatNIfTI:
		err = writeNIfTI(path, v, false)
	case FormatNIfTIGzip:
		err = writeNIfTI(path, v, true)
	case FormatNumPy:
		err = writeNumPy(path, v)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SizeString renders the voxel dimensions as "(x, y, z)"
func SizeString(v *models.Volume) string {
	return fmt.Sprintf("(%d, %d, %d)", v.Size[0], v.Size[1], v.Size[2])
}
