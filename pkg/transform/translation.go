// Package transform holds the spatial transforms a registration can optimize.
package transform

import (
	"errors"
	"fmt"
)

// ErrParameterCount is returned when a parameter vector has the wrong length
var ErrParameterCount = errors.New("wrong number of transform parameters")

// Transform maps points of the fixed image space into the moving image space
type Transform interface {
	// TransformPoint maps a physical point
	TransformPoint(p [3]float64) [3]float64

	// NumberOfParameters is the length of the optimizable parameter vector
	NumberOfParameters() int

	// Parameters returns a copy of the current parameter vector
	Parameters() []float64

	// SetParameters replaces the parameter vector
	SetParameters(params []float64) error

	// FixedParameters returns the parameters that are not optimized
	FixedParameters() []float64

	// Jacobian returns d TransformPoint / d parameters at p, one row per
	// output dimension
	Jacobian(p [3]float64) [3][]float64
}

// Translation shifts every point by a fixed offset in physical units
type Translation struct {
	offset [3]float64
}

// NewTranslation returns the identity translation
func NewTranslation() *Translation {
	return &Translation{}
}

// TransformPoint returns p + offset
func (t *Translation) TransformPoint(p [3]float64) [3]float64 {
	return [3]float64{p[0] + t.offset[0], p[1] + t.offset[1], p[2] + t.offset[2]}
}

// NumberOfParameters returns 3
func (t *Translation) NumberOfParameters() int { return 3 }

// Parameters returns the offset
func (t *Translation) Parameters() []float64 {
	return []float64{t.offset[0], t.offset[1], t.offset[2]}
}

// SetParameters sets the offset
func (t *Translation) SetParameters(params []float64) error {
	if len(params) != 3 {
		return fmt.Errorf("%w: translation needs 3, got %d", ErrParameterCount, len(params))
	}
	copy(t.offset[:], params)
	return nil
}

// FixedParameters is empty for a translation
func (t *Translation) FixedParameters() []float64 { return nil }

// Offset returns the current translation vector
func (t *Translation) Offset() [3]float64 { return t.offset }

// Jacobian is the identity for every point
func (t *Translation) Jacobian(_ [3]float64) [3][]float64 {
	return [3][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}
