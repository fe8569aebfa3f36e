package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberml/ember/tensor"
)

func TestSGDConfigValidation(t *testing.T) {
	_, err := NewSGDOptimizer(SGDConfig{LearningRate: 0})
	assert.Error(t, err)

	_, err = NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 1})
	assert.Error(t, err)

	_, err = NewSGDOptimizer(SGDConfig{LearningRate: 0.1, WeightDecay: -1})
	assert.Error(t, err)

	_, err = NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Nesterov: true})
	assert.Error(t, err)
}

func TestSGDStep(t *testing.T) {
	opt, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1})
	require.NoError(t, err)
	assert.Equal(t, SGD, opt.Type())

	w, err := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, 2})
	require.NoError(t, err)
	g, err := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{10, -10})
	require.NoError(t, err)

	require.NoError(t, opt.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}))

	data := w.Data.([]float32)
	assert.InDelta(t, 0.0, data[0], 1e-6)
	assert.InDelta(t, 3.0, data[1], 1e-6)
	assert.Equal(t, uint64(1), opt.GetStepCount())
}

func TestSGDMomentumAccumulates(t *testing.T) {
	opt, err := NewSGDOptimizer(SGDConfig{LearningRate: 1, Momentum: 0.5})
	require.NoError(t, err)

	w, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{0})
	g, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{1})

	// step 1: v = 1, w = -1
	require.NoError(t, opt.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}))
	assert.InDelta(t, -1.0, w.Data.([]float32)[0], 1e-6)

	// step 2: v = 1.5, w = -2.5
	require.NoError(t, opt.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}))
	assert.InDelta(t, -2.5, w.Data.([]float32)[0], 1e-6)
}

func TestSGDWeightDecay(t *testing.T) {
	opt, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, WeightDecay: 0.5})
	require.NoError(t, err)

	w, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{2})
	g, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{0})

	// effective gradient = 0 + 0.5*2 = 1
	require.NoError(t, opt.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}))
	assert.InDelta(t, 1.9, w.Data.([]float32)[0], 1e-6)
}

func TestSGDStepArgValidation(t *testing.T) {
	opt, err := NewSGDOptimizer(DefaultSGDConfig())
	require.NoError(t, err)

	w, _ := tensor.Zeros([]int{2}, tensor.Float32, tensor.CPU)
	g, _ := tensor.Zeros([]int{3}, tensor.Float32, tensor.CPU)

	assert.Error(t, opt.Step([]*tensor.Tensor{w}, nil))
	assert.Error(t, opt.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}))
}

func TestSGDStateRoundTrip(t *testing.T) {
	opt, err := NewSGDOptimizer(SGDConfig{LearningRate: 1, Momentum: 0.9})
	require.NoError(t, err)

	w, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, 1})
	g, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{0.5, 0.25})
	require.NoError(t, opt.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}))

	state, err := opt.GetState()
	require.NoError(t, err)
	assert.Equal(t, "SGD", state.Type)
	require.Len(t, state.StateData, 1)
	assert.Equal(t, "momentum_0", state.StateData[0].Name)

	restored, err := NewSGDOptimizer(SGDConfig{LearningRate: 1, Momentum: 0.9})
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(state))
	assert.Equal(t, opt.GetStepCount(), restored.GetStepCount())

	// Both optimizers evolve identically from here.
	w2, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, w.Data.([]float32))
	w2c, _ := w2.Clone()
	require.NoError(t, opt.Step([]*tensor.Tensor{w2}, []*tensor.Tensor{g}))
	require.NoError(t, restored.Step([]*tensor.Tensor{w2c}, []*tensor.Tensor{g}))
	diff, err := tensor.MaxAbsDiff(w2, w2c)
	require.NoError(t, err)
	assert.Zero(t, diff)
}

func TestSGDLoadStateTypeMismatch(t *testing.T) {
	opt, err := NewSGDOptimizer(DefaultSGDConfig())
	require.NoError(t, err)

	adam, err := NewAdamOptimizer(DefaultAdamConfig())
	require.NoError(t, err)
	state, err := adam.GetState()
	require.NoError(t, err)

	assert.Error(t, opt.LoadState(state))
}

func TestUpdateLearningRate(t *testing.T) {
	opt, err := NewSGDOptimizer(DefaultSGDConfig())
	require.NoError(t, err)

	opt.UpdateLearningRate(0.5)
	assert.Equal(t, float32(0.5), opt.GetLearningRate())
}
