package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberml/ember/tensor"
)

func TestMSELossForward(t *testing.T) {
	loss := NewMSELoss()
	assert.Equal(t, "mse", loss.Name())

	pred, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, 2, 3, 4})
	target, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, 2, 3, 6})

	val, err := loss.Forward(pred, target)
	require.NoError(t, err)
	// Single error of 2, squared, averaged over 4 elements.
	assert.InDelta(t, 1.0, float64(val), 1e-6)

	loss.Reduction = ReductionSum
	val, err = loss.Forward(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, float64(val), 1e-6)
}

func TestMSELossBackward(t *testing.T) {
	loss := NewMSELoss()

	pred, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{3, 1})
	target, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, 1})

	grad, err := loss.Backward(pred, target)
	require.NoError(t, err)

	// 2*(pred-target)/N
	data := grad.Data.([]float32)
	assert.InDelta(t, 2.0, float64(data[0]), 1e-6)
	assert.InDelta(t, 0.0, float64(data[1]), 1e-6)
}

func TestMSELossShapeMismatch(t *testing.T) {
	loss := NewMSELoss()
	pred, _ := tensor.Zeros([]int{2}, tensor.Float32, tensor.CPU)
	target, _ := tensor.Zeros([]int{3}, tensor.Float32, tensor.CPU)

	_, err := loss.Forward(pred, target)
	assert.Error(t, err)
}

func TestCrossEntropyForward(t *testing.T) {
	loss := NewCrossEntropyLoss()
	assert.Equal(t, "cross_entropy", loss.Name())

	pred, _ := tensor.NewTensor([]int{2, 3}, tensor.Float32, tensor.CPU, []float32{
		0.5, 0.25, 0.25,
		0.1, 0.8, 0.1,
	})
	target, _ := tensor.NewTensor([]int{2}, tensor.Int32, tensor.CPU, []int32{0, 1})

	val, err := loss.Forward(pred, target)
	require.NoError(t, err)

	expected := -(math.Log(0.5) + math.Log(0.8)) / 2
	assert.InDelta(t, expected, float64(val), 1e-5)
}

func TestCrossEntropyBackward(t *testing.T) {
	loss := NewCrossEntropyLoss()

	pred, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{0.25, 0.75})
	target, _ := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{0})

	grad, err := loss.Backward(pred, target)
	require.NoError(t, err)

	// -1/p at the target class, zero elsewhere.
	data := grad.Data.([]float32)
	assert.InDelta(t, -4.0, float64(data[0]), 1e-5)
	assert.Zero(t, data[1])
}

func TestCrossEntropyClassOutOfRange(t *testing.T) {
	loss := NewCrossEntropyLoss()

	pred, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{0.5, 0.5})
	target, _ := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{2})

	_, err := loss.Forward(pred, target)
	assert.ErrorContains(t, err, "out of range")
}

func TestCrossEntropySequenceTargets(t *testing.T) {
	loss := NewCrossEntropyLoss()

	// (batch, seq, classes) predictions with (batch, seq) targets.
	pred, _ := tensor.NewTensor([]int{1, 2, 2}, tensor.Float32, tensor.CPU, []float32{
		0.9, 0.1,
		0.2, 0.8,
	})
	target, _ := tensor.NewTensor([]int{1, 2}, tensor.Int32, tensor.CPU, []int32{0, 1})

	val, err := loss.Forward(pred, target)
	require.NoError(t, err)

	expected := -(math.Log(0.9) + math.Log(0.8)) / 2
	assert.InDelta(t, expected, float64(val), 1e-5)
}
