package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberml/ember/layers"
	"github.com/emberml/ember/tensor"
)

func embeddingModel(t *testing.T, maskZero bool) (*Sequential, *layers.Embedding) {
	t.Helper()
	embedding, err := layers.NewEmbedding(layers.EmbeddingConfig{
		InputDim:  20,
		OutputDim: 4,
		MaskZero:  maskZero,
		Name:      "embed",
	})
	require.NoError(t, err)
	dense, err := layers.NewDense(layers.DenseConfig{OutputSize: 3, UseBias: true, Name: "fc"})
	require.NoError(t, err)

	m := NewSequential("test").Add(embedding).Add(dense)
	return m, embedding
}

func TestSequentialBuild(t *testing.T) {
	m, _ := embeddingModel(t, false)
	require.NoError(t, m.Build([]int{2, 5}))

	assert.True(t, m.Built())
	assert.Equal(t, []int{2, 5}, m.InputShape())
	for _, l := range m.Layers() {
		assert.True(t, l.Built())
	}
}

func TestSequentialBuildEmpty(t *testing.T) {
	m := NewSequential("empty")
	assert.Error(t, m.Build([]int{1}))
}

func TestSequentialPredict(t *testing.T) {
	m, _ := embeddingModel(t, false)

	x, err := tensor.NewTensor([]int{2, 5}, tensor.Int32, tensor.CPU,
		[]int32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, err)

	// Predict builds on first use.
	out, err := m.Predict(x)
	require.NoError(t, err)
	assert.True(t, m.Built())
	assert.Equal(t, []int{2, 5, 3}, out.Shape)
}

func TestSequentialPredictSparse(t *testing.T) {
	m, _ := embeddingModel(t, false)

	sp, err := tensor.NewSparseTensor([][]int{{0, 1}, {1, 3}}, []int32{4, 7}, []int{2, 5})
	require.NoError(t, err)

	out, err := m.PredictSparse(sp)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 3}, out.Shape)
}

func TestSequentialPredictSparseUnsupported(t *testing.T) {
	dense, err := layers.NewDense(layers.DenseConfig{InputSize: 4, OutputSize: 2})
	require.NoError(t, err)
	m := NewSequential("dense-first").Add(dense)

	sp, err := tensor.NewSparseTensor([][]int{{0, 0}}, []int32{1}, []int{2, 4})
	require.NoError(t, err)

	_, err = m.PredictSparse(sp)
	assert.ErrorContains(t, err, "does not support sparse input")
}

func TestSequentialComputeMask(t *testing.T) {
	m, _ := embeddingModel(t, true)
	require.NoError(t, m.Build([]int{1, 4}))

	x, err := tensor.NewTensor([]int{1, 4}, tensor.Int32, tensor.CPU, []int32{3, 0, 1, 0})
	require.NoError(t, err)

	mask, err := m.ComputeMask(x)
	require.NoError(t, err)
	require.NotNil(t, mask)
	assert.Equal(t, []bool{true, false, true, false}, mask.Data.([]bool))
}

func TestSequentialComputeMaskNil(t *testing.T) {
	m, _ := embeddingModel(t, false)
	require.NoError(t, m.Build([]int{1, 4}))

	x, err := tensor.NewTensor([]int{1, 4}, tensor.Int32, tensor.CPU, []int32{3, 0, 1, 0})
	require.NoError(t, err)

	mask, err := m.ComputeMask(x)
	require.NoError(t, err)
	assert.Nil(t, mask)
}

func TestSequentialWeightPartition(t *testing.T) {
	m, embedding := embeddingModel(t, false)
	require.NoError(t, m.Build([]int{2, 5}))

	// Plain: table + dense weight + dense bias, all trainable.
	assert.Len(t, m.Weights(), 3)
	assert.Len(t, m.TrainableWeights(), 3)
	assert.Empty(t, m.NonTrainableWeights())

	require.NoError(t, embedding.EnableLora(2))
	assert.Len(t, m.Weights(), 5)
	assert.Len(t, m.TrainableWeights(), 4)
	assert.Len(t, m.NonTrainableWeights(), 1)
}

func TestSequentialForwardCollect(t *testing.T) {
	m, _ := embeddingModel(t, false)

	x, err := tensor.NewTensor([]int{1, 3}, tensor.Int32, tensor.CPU, []int32{1, 2, 3})
	require.NoError(t, err)

	inputs, out, err := m.ForwardCollect(x)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, x, inputs[0])
	assert.Equal(t, []int{1, 3, 4}, inputs[1].Shape)
	assert.Equal(t, []int{1, 3, 3}, out.Shape)
}

func TestSpecRequiresBuild(t *testing.T) {
	m, _ := embeddingModel(t, false)
	_, err := m.Spec()
	assert.ErrorContains(t, err, "not built")
}

func TestFromSpecRoundTrip(t *testing.T) {
	m, _ := embeddingModel(t, true)
	require.NoError(t, m.Build([]int{2, 5}))

	spec, err := m.Spec()
	require.NoError(t, err)

	restored, err := FromSpec(spec)
	require.NoError(t, err)
	assert.True(t, restored.Built())
	require.Len(t, restored.Layers(), 2)

	embedding, ok := restored.Layers()[0].(*layers.Embedding)
	require.True(t, ok)
	assert.Equal(t, 20, embedding.InputDim())
	assert.Equal(t, 4, embedding.OutputDim())
	assert.True(t, embedding.MaskZero())

	restoredSpec, err := restored.Spec()
	require.NoError(t, err)
	assert.Equal(t, spec.TotalParameters, restoredSpec.TotalParameters)
	assert.Equal(t, spec.OutputShape, restoredSpec.OutputShape)
}

func TestFromSpecLoraRank(t *testing.T) {
	embedding, err := layers.NewEmbedding(layers.EmbeddingConfig{
		InputDim:  10,
		OutputDim: 4,
		LoraRank:  2,
		Name:      "embed",
	})
	require.NoError(t, err)
	m := NewSequential("lora").Add(embedding)
	require.NoError(t, m.Build([]int{1, 3}))

	spec, err := m.Spec()
	require.NoError(t, err)

	restored, err := FromSpec(spec)
	require.NoError(t, err)

	e, ok := restored.Layers()[0].(*layers.Embedding)
	require.True(t, ok)
	assert.True(t, e.LoraEnabled())
}
