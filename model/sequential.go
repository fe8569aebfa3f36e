// Package model provides an executable sequential container over layers,
// the CPU counterpart of a compiled model engine.
package model

import (
	"fmt"

	"github.com/emberml/ember/layers"
	"github.com/emberml/ember/tensor"
)

// Sequential is an ordered stack of layers executed front to back.
type Sequential struct {
	name       string
	layers     []layers.Layer
	inputShape []int
	built      bool
}

// NewSequential creates an empty model.
func NewSequential(name string) *Sequential {
	if name == "" {
		name = "sequential"
	}
	return &Sequential{name: name}
}

func (m *Sequential) Name() string { return m.name }

// Add appends a layer to the stack.
func (m *Sequential) Add(l layers.Layer) *Sequential {
	m.layers = append(m.layers, l)
	m.built = false
	return m
}

// Layers returns the layer stack in execution order.
func (m *Sequential) Layers() []layers.Layer { return m.layers }

// Built reports whether every layer has been built.
func (m *Sequential) Built() bool { return m.built }

// InputShape returns the shape the model was built with.
func (m *Sequential) InputShape() []int { return m.inputShape }

// Build builds every layer, threading output shapes through the stack.
// The input shape includes the batch dimension.
func (m *Sequential) Build(inputShape []int) error {
	if len(m.layers) == 0 {
		return fmt.Errorf("cannot build empty model")
	}
	if len(inputShape) == 0 {
		return fmt.Errorf("model must specify input shape")
	}

	currentShape := inputShape
	for i, l := range m.layers {
		if err := l.Build(currentShape); err != nil {
			return fmt.Errorf("failed to build layer %d (%s): %v", i, l.Name(), err)
		}
		next, err := l.OutputShape(currentShape)
		if err != nil {
			return fmt.Errorf("failed to compute output shape for layer %d (%s): %v", i, l.Name(), err)
		}
		currentShape = next
	}

	m.inputShape = make([]int, len(inputShape))
	copy(m.inputShape, inputShape)
	m.built = true
	return nil
}

// Predict runs a forward pass, building the model from the input shape if
// needed.
func (m *Sequential) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !m.built {
		if err := m.Build(x.Shape); err != nil {
			return nil, err
		}
	}

	out := x
	for i, l := range m.layers {
		var err error
		out, err = l.Call(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s) forward failed: %v", i, l.Name(), err)
		}
	}
	return out, nil
}

// PredictSparse runs a forward pass with sparse COO input. The first
// layer must accept sparse input; subsequent layers run densely.
func (m *Sequential) PredictSparse(sp *tensor.SparseTensor) (*tensor.Tensor, error) {
	if len(m.layers) == 0 {
		return nil, fmt.Errorf("cannot predict with empty model")
	}
	if !m.built {
		if err := m.Build(sp.DenseShape); err != nil {
			return nil, err
		}
	}

	sparseLayer, ok := m.layers[0].(layers.SparseCaller)
	if !ok {
		return nil, fmt.Errorf("layer %s does not support sparse input", m.layers[0].Name())
	}

	out, err := sparseLayer.CallSparse(sp)
	if err != nil {
		return nil, fmt.Errorf("layer 0 (%s) sparse forward failed: %v", m.layers[0].Name(), err)
	}
	for i, l := range m.layers[1:] {
		out, err = l.Call(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s) forward failed: %v", i+1, l.Name(), err)
		}
	}
	return out, nil
}

// ForwardCollect runs a forward pass and returns the input seen by each
// layer alongside the final output. Trainers use the per-layer inputs to
// drive backward passes.
func (m *Sequential) ForwardCollect(x *tensor.Tensor) ([]*tensor.Tensor, *tensor.Tensor, error) {
	if !m.built {
		if err := m.Build(x.Shape); err != nil {
			return nil, nil, err
		}
	}

	inputs := make([]*tensor.Tensor, len(m.layers))
	out := x
	for i, l := range m.layers {
		inputs[i] = out
		var err error
		out, err = l.Call(out)
		if err != nil {
			return nil, nil, fmt.Errorf("layer %d (%s) forward failed: %v", i, l.Name(), err)
		}
	}
	return inputs, out, nil
}

// ComputeMask asks the first layer for a mask over the given input.
// Models whose first layer does no masking return nil.
func (m *Sequential) ComputeMask(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(m.layers) == 0 {
		return nil, nil
	}
	masker, ok := m.layers[0].(layers.Masker)
	if !ok {
		return nil, nil
	}
	return masker.ComputeMask(x)
}

// Weights returns every parameter in the model, in layer order.
func (m *Sequential) Weights() []*layers.Weight {
	var ws []*layers.Weight
	for _, l := range m.layers {
		ws = append(ws, l.Weights()...)
	}
	return ws
}

// TrainableWeights returns the parameters updated by optimizers.
func (m *Sequential) TrainableWeights() []*layers.Weight {
	var ws []*layers.Weight
	for _, l := range m.layers {
		ws = append(ws, layers.TrainableOf(l)...)
	}
	return ws
}

// NonTrainableWeights returns the frozen parameters.
func (m *Sequential) NonTrainableWeights() []*layers.Weight {
	var ws []*layers.Weight
	for _, l := range m.layers {
		ws = append(ws, layers.NonTrainableOf(l)...)
	}
	return ws
}

// Spec compiles the model into a ModelSpec. The model must be built so
// the input shape is known.
func (m *Sequential) Spec() (*layers.ModelSpec, error) {
	if !m.built {
		return nil, fmt.Errorf("model not built - call Build() or Predict() first")
	}

	builder := layers.NewModelBuilder(m.inputShape)
	for _, l := range m.layers {
		builder.AddLayer(l.Spec())
	}
	return builder.Compile()
}

// FromSpec reconstructs an executable model from a compiled spec. Weights
// are freshly initialized; use the checkpoints package to restore saved
// values.
func FromSpec(spec *layers.ModelSpec) (*Sequential, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model spec: %v", err)
	}

	m := NewSequential("sequential")
	for i, ls := range spec.Layers {
		layer, err := layerFromSpec(ls)
		if err != nil {
			return nil, fmt.Errorf("failed to create layer %d (%s): %v", i, ls.Name, err)
		}
		m.Add(layer)
	}

	if err := m.Build(spec.InputShape); err != nil {
		return nil, err
	}
	return m, nil
}

func layerFromSpec(ls layers.LayerSpec) (layers.Layer, error) {
	switch ls.Type {
	case layers.LayerEmbedding:
		constraint, err := layers.ConstraintByName(
			layers.GetStringParam(ls.Parameters, "embeddings_constraint", ""))
		if err != nil {
			return nil, err
		}
		return layers.NewEmbedding(layers.EmbeddingConfig{
			InputDim:   layers.GetIntParam(ls.Parameters, "input_dim", 0),
			OutputDim:  layers.GetIntParam(ls.Parameters, "output_dim", 0),
			MaskZero:   layers.GetBoolParam(ls.Parameters, "mask_zero", false),
			LoraRank:   layers.GetIntParam(ls.Parameters, "lora_rank", 0),
			Constraint: constraint,
			Name:       ls.Name,
		})
	case layers.LayerDense:
		return layers.NewDense(layers.DenseConfig{
			InputSize:  layers.GetIntParam(ls.Parameters, "input_size", 0),
			OutputSize: layers.GetIntParam(ls.Parameters, "output_size", 0),
			UseBias:    layers.GetBoolParam(ls.Parameters, "use_bias", true),
			Name:       ls.Name,
		})
	case layers.LayerReLU:
		return layers.NewReLU(ls.Name), nil
	case layers.LayerSoftmax:
		return layers.NewSoftmax(ls.Name), nil
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", ls.Type.String())
	}
}
