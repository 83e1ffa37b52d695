package models

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptyVolume is returned for volumes without voxels
	ErrEmptyVolume = errors.New("volume has no voxels")

	// ErrGridMismatch is returned when two volumes are expected to share a grid
	ErrGridMismatch = errors.New("volumes do not share the same grid")

	// ErrInvalidGeometry is returned for non-positive spacing or a singular direction
	ErrInvalidGeometry = errors.New("invalid volume geometry")
)

// IdentityDirection is the direction cosine matrix of an axis-aligned volume
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Grid describes the physical sampling of a 3D volume
type Grid struct {
	// Size is the number of voxels along x, y and z
	Size [3]int

	// Spacing is the physical distance between voxel centres in mm
	Spacing [3]float64

	// Origin is the physical position of voxel (0, 0, 0)
	Origin [3]float64

	// Direction holds the direction cosines in row-major order
	Direction [9]float64
}

// Volume is a scalar 3D image stored x-fastest
type Volume struct {
	Grid

	// Data holds Size[0]*Size[1]*Size[2] voxels
	Data []float32
}

// NewGrid returns an axis-aligned grid with unit spacing at the origin
func NewGrid(size [3]int) Grid {
	return Grid{
		Size:      size,
		Spacing:   [3]float64{1, 1, 1},
		Direction: IdentityDirection,
	}
}

// NewVolume allocates a zero-filled volume on a default grid
func NewVolume(size [3]int) *Volume {
	return NewVolumeOnGrid(NewGrid(size))
}

// NewVolumeOnGrid allocates a zero-filled volume on the given grid
func NewVolumeOnGrid(g Grid) *Volume {
	return &Volume{
		Grid: g,
		Data: make([]float32, g.NumVoxels()),
	}
}

// NewVolumeLike allocates a zero-filled volume sharing v's grid
func NewVolumeLike(v *Volume) *Volume {
	return NewVolumeOnGrid(v.Grid)
}

// NumVoxels returns the number of voxels of the grid
func (g Grid) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// Offset returns the linear index of voxel (i, j, k)
func (g Grid) Offset(i, j, k int) int {
	return (k*g.Size[1]+j)*g.Size[0] + i
}

// Region returns the buffered region of the grid as start index and size
func (g Grid) Region() Region {
	return Region{Size: g.Size}
}

// At returns the voxel value at (i, j, k)
func (v *Volume) At(i, j, k int) float32 {
	return v.Data[v.Offset(i, j, k)]
}

// Set stores a voxel value at (i, j, k)
func (v *Volume) Set(i, j, k int, value float32) {
	v.Data[v.Offset(i, j, k)] = value
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	out := NewVolumeLike(v)
	copy(out.Data, v.Data)
	return out
}

// Float64 returns the voxel data widened to float64
func (v *Volume) Float64() []float64 {
	out := make([]float64, len(v.Data))
	for i, val := range v.Data {
		out[i] = float64(val)
	}
	return out
}

// Validate checks that the grid and the data buffer are consistent
func (v *Volume) Validate() error {
	if v == nil || v.NumVoxels() <= 0 {
		return ErrEmptyVolume
	}
	for d := 0; d < 3; d++ {
		if v.Size[d] <= 0 {
			return ErrEmptyVolume
		}
	}
	if len(v.Data) != v.NumVoxels() {
		return fmt.Errorf("%w: %d voxels for size %v", ErrInvalidGeometry, len(v.Data), v.Size)
	}
	if _, err := v.Mapper(); err != nil {
		return err
	}
	return nil
}

// SameGrid reports whether two grids sample the same physical space
func SameGrid(a, b Grid) bool {
	const tol = 1e-6
	if a.Size != b.Size {
		return false
	}
	for d := 0; d < 3; d++ {
		if math.Abs(a.Spacing[d]-b.Spacing[d]) > tol || math.Abs(a.Origin[d]-b.Origin[d]) > tol {
			return false
		}
	}
	for i := range a.Direction {
		if math.Abs(a.Direction[i]-b.Direction[i]) > tol {
			return false
		}
	}
	return true
}

// Region is a box of voxel indices
type Region struct {
	Index [3]int
	Size  [3]int
}

// NumVoxels returns the number of voxels in the region
func (r Region) NumVoxels() int {
	return r.Size[0] * r.Size[1] * r.Size[2]
}

// IndexMapper converts between voxel indices and physical points.
// It caches direction·spacing and its inverse so that per-voxel
// conversions do not touch gonum.
type IndexMapper struct {
	origin  [3]float64
	toPhys  [9]float64
	toIndex [9]float64
}

// Mapper builds the index/physical conversion matrices of the grid
func (g Grid) Mapper() (*IndexMapper, error) {
	for d := 0; d < 3; d++ {
		if g.Spacing[d] <= 0 {
			return nil, fmt.Errorf("%w: spacing %v", ErrInvalidGeometry, g.Spacing)
		}
	}

	direction := mat.NewDense(3, 3, g.Direction[:])
	scale := mat.NewDiagDense(3, g.Spacing[:])

	var toPhys mat.Dense
	toPhys.Mul(direction, scale)

	var toIndex mat.Dense
	if err := toIndex.Inverse(&toPhys); err != nil {
		return nil, fmt.Errorf("%w: singular direction: %v", ErrInvalidGeometry, err)
	}

	m := &IndexMapper{origin: g.Origin}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.toPhys[r*3+c] = toPhys.At(r, c)
			m.toIndex[r*3+c] = toIndex.At(r, c)
		}
	}
	return m, nil
}

// IndexToPhysical maps a (continuous) index to a physical point
func (m *IndexMapper) IndexToPhysical(idx [3]float64) [3]float64 {
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = m.origin[r] + m.toPhys[r*3]*idx[0] + m.toPhys[r*3+1]*idx[1] + m.toPhys[r*3+2]*idx[2]
	}
	return p
}

// PhysicalToIndex maps a physical point to a continuous index
func (m *IndexMapper) PhysicalToIndex(p [3]float64) [3]float64 {
	d := [3]float64{p[0] - m.origin[0], p[1] - m.origin[1], p[2] - m.origin[2]}
	var idx [3]float64
	for r := 0; r < 3; r++ {
		idx[r] = m.toIndex[r*3]*d[0] + m.toIndex[r*3+1]*d[1] + m.toIndex[r*3+2]*d[2]
	}
	return idx
}

// RotateToPhysical applies the direction cosines to an axis-aligned vector
func (g Grid) RotateToPhysical(v [3]float64) [3]float64 {
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = g.Direction[r*3]*v[0] + g.Direction[r*3+1]*v[1] + g.Direction[r*3+2]*v[2]
	}
	return p
}
