package layers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberml/ember/tensor"
)

func TestConstraintByName(t *testing.T) {
	c, err := ConstraintByName("")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = ConstraintByName("non_neg")
	require.NoError(t, err)
	assert.Equal(t, "non_neg", c.Name())

	c, err = ConstraintByName("max_norm")
	require.NoError(t, err)
	assert.Equal(t, "max_norm", c.Name())

	c, err = ConstraintByName("unit_norm")
	require.NoError(t, err)
	assert.Equal(t, "unit_norm", c.Name())

	_, err = ConstraintByName("bogus")
	assert.Error(t, err)
}

func TestNonNeg(t *testing.T) {
	w, err := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{-1, 2, -3, 4})
	require.NoError(t, err)

	out, err := (&NonNeg{}).Apply(w)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 0, 4}, out.Data.([]float32))

	// The input is untouched.
	assert.Equal(t, []float32{-1, 2, -3, 4}, w.Data.([]float32))
}

func TestMaxNorm(t *testing.T) {
	w, err := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{
		3, 4, // norm 5, clipped
		0.3, 0.4, // norm 0.5, untouched
	})
	require.NoError(t, err)

	out, err := (&MaxNorm{MaxValue: 1}).Apply(w)
	require.NoError(t, err)

	data := out.Data.([]float32)
	assert.InDelta(t, 0.6, data[0], 1e-6)
	assert.InDelta(t, 0.8, data[1], 1e-6)
	assert.InDelta(t, 0.3, data[2], 1e-6)
	assert.InDelta(t, 0.4, data[3], 1e-6)
}

func TestMaxNormValidation(t *testing.T) {
	w, _ := tensor.Zeros([]int{4}, tensor.Float32, tensor.CPU)
	_, err := (&MaxNorm{MaxValue: 1}).Apply(w)
	assert.Error(t, err)

	w2, _ := tensor.Zeros([]int{2, 2}, tensor.Float32, tensor.CPU)
	_, err = (&MaxNorm{MaxValue: 0}).Apply(w2)
	assert.Error(t, err)
}

func TestUnitNorm(t *testing.T) {
	w, err := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{
		3, 4,
		0, 0, // zero row stays zero
	})
	require.NoError(t, err)

	out, err := (&UnitNorm{}).Apply(w)
	require.NoError(t, err)

	data := out.Data.([]float32)
	norm := math.Sqrt(float64(data[0])*float64(data[0]) + float64(data[1])*float64(data[1]))
	assert.InDelta(t, 1.0, norm, 1e-6)
	assert.Zero(t, data[2])
	assert.Zero(t, data[3])
}
