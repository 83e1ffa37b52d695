package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslationStartsAtIdentity(t *testing.T) {
	tr := NewTranslation()
	assert.Equal(t, []float64{0, 0, 0}, tr.Parameters())
	assert.Equal(t, [3]float64{1, 2, 3}, tr.TransformPoint([3]float64{1, 2, 3}))
	assert.Empty(t, tr.FixedParameters())
}

func TestTranslationSetParameters(t *testing.T) {
	tr := NewTranslation()
	require.NoError(t, tr.SetParameters([]float64{1.5, -2, 4}))
	assert.Equal(t, [3]float64{2.5, 0, 7}, tr.TransformPoint([3]float64{1, 2, 3}))

	params := tr.Parameters()
	params[0] = 99
	assert.Equal(t, 1.5, tr.Offset()[0], "Parameters must return a copy")

	err := tr.SetParameters([]float64{1, 2})
	assert.ErrorIs(t, err, ErrParameterCount)
}

func TestTranslationJacobianIsIdentity(t *testing.T) {
	j := NewTranslation().Jacobian([3]float64{5, 5, 5})
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			want := 0.0
			if r == c {
				want = 1
			}
			assert.Equal(t, want, j[r][c])
		}
	}
}

var _ Transform = (*Translation)(nil)
