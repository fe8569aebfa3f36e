package layers

import (
	"fmt"

	"github.com/emberml/ember/tensor"
)

// DenseConfig holds configuration for a Dense layer.
type DenseConfig struct {
	InputSize  int // 0 means infer from the input shape at build time
	OutputSize int
	UseBias    bool
	Name       string
}

// Dense is a fully connected layer contracting the trailing input axis:
// y = x.W + b. Leading axes pass through unchanged.
type Dense struct {
	inputSize  int
	outputSize int
	useBias    bool
	name       string

	built  bool
	weight *tensor.Tensor // (inputSize, outputSize)
	bias   *tensor.Tensor // (outputSize), nil when useBias is false
}

// NewDense creates an unbuilt Dense layer.
func NewDense(config DenseConfig) (*Dense, error) {
	if config.OutputSize <= 0 {
		return nil, fmt.Errorf("output_size must be positive, got %d", config.OutputSize)
	}
	if config.InputSize < 0 {
		return nil, fmt.Errorf("input_size cannot be negative, got %d", config.InputSize)
	}

	name := config.Name
	if name == "" {
		name = "dense"
	}

	return &Dense{
		inputSize:  config.InputSize,
		outputSize: config.OutputSize,
		useBias:    config.UseBias,
		name:       name,
	}, nil
}

func (d *Dense) Name() string { return d.name }

func (d *Dense) Built() bool { return d.built }

// Build allocates the weight matrix, inferring the input size from the
// trailing input axis when the config left it unset.
func (d *Dense) Build(inputShape []int) error {
	if d.built {
		return nil
	}

	if d.inputSize == 0 {
		if len(inputShape) < 2 {
			return fmt.Errorf("dense layer requires at least 2D input to infer input size")
		}
		d.inputSize = inputShape[len(inputShape)-1]
	}

	w, err := tensor.GlorotUniform([]int{d.inputSize, d.outputSize}, d.inputSize, d.outputSize, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize dense weight: %v", err)
	}
	d.weight = w

	if d.useBias {
		b, err := tensor.Zeros([]int{d.outputSize}, tensor.Float32, tensor.CPU)
		if err != nil {
			return fmt.Errorf("failed to initialize dense bias: %v", err)
		}
		d.bias = b
	}

	d.built = true
	return nil
}

// Call computes x.W + b over the trailing axis.
func (d *Dense) Call(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.built {
		return nil, fmt.Errorf("layer %s is not built", d.name)
	}
	if input.DType != tensor.Float32 {
		return nil, fmt.Errorf("dense input must be Float32, got %s", input.DType)
	}
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("dense layer requires at least 2D input, got shape %v", input.Shape)
	}
	if input.Shape[len(input.Shape)-1] != d.inputSize {
		return nil, fmt.Errorf("dense input width %d does not match layer input size %d",
			input.Shape[len(input.Shape)-1], d.inputSize)
	}

	rows := input.NumElems / d.inputSize
	flat, err := tensor.Reshape(input, []int{rows, d.inputSize})
	if err != nil {
		return nil, err
	}

	out, err := tensor.MatMul(flat, d.weight)
	if err != nil {
		return nil, err
	}

	if d.useBias {
		outData := out.Data.([]float32)
		biasData := d.bias.Data.([]float32)
		for i := 0; i < rows; i++ {
			row := outData[i*d.outputSize : (i+1)*d.outputSize]
			for j := range row {
				row[j] += biasData[j]
			}
		}
	}

	outputShape := make([]int, len(input.Shape))
	copy(outputShape, input.Shape)
	outputShape[len(outputShape)-1] = d.outputSize
	return tensor.Reshape(out, outputShape)
}

// OutputShape replaces the trailing axis with the output size.
func (d *Dense) OutputShape(inputShape []int) ([]int, error) {
	if len(inputShape) < 2 {
		return nil, fmt.Errorf("dense layer requires at least 2D input")
	}
	out := make([]int, len(inputShape))
	copy(out, inputShape)
	out[len(out)-1] = d.outputSize
	return out, nil
}

// Weight returns the weight matrix.
func (d *Dense) Weight() *tensor.Tensor { return d.weight }

// Bias returns the bias vector, nil when the layer has no bias.
func (d *Dense) Bias() *tensor.Tensor { return d.bias }

// Weights lists the layer's parameters.
func (d *Dense) Weights() []*Weight {
	if !d.built {
		return nil
	}
	ws := []*Weight{
		{Name: d.name + ".weight", Type: "weight", Trainable: true, Value: d.weight},
	}
	if d.useBias {
		ws = append(ws, &Weight{Name: d.name + ".bias", Type: "bias", Trainable: true, Value: d.bias})
	}
	return ws
}

// Backward computes dL/dW = x^T.g, dL/db = colsum(g) and dL/dx = g.W^T.
func (d *Dense) Backward(input, gradOut *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error) {
	if !d.built {
		return nil, nil, fmt.Errorf("layer %s is not built", d.name)
	}

	rows := input.NumElems / d.inputSize
	flatIn, err := tensor.Reshape(input, []int{rows, d.inputSize})
	if err != nil {
		return nil, nil, err
	}
	flatGrad, err := tensor.Reshape(gradOut, []int{rows, d.outputSize})
	if err != nil {
		return nil, nil, err
	}

	inT, err := tensor.Transpose(flatIn)
	if err != nil {
		return nil, nil, err
	}
	gradW, err := tensor.MatMul(inT, flatGrad)
	if err != nil {
		return nil, nil, err
	}

	wT, err := tensor.Transpose(d.weight)
	if err != nil {
		return nil, nil, err
	}
	gradInFlat, err := tensor.MatMul(flatGrad, wT)
	if err != nil {
		return nil, nil, err
	}
	gradIn, err := tensor.Reshape(gradInFlat, input.Shape)
	if err != nil {
		return nil, nil, err
	}

	grads := []*tensor.Tensor{gradW}
	if d.useBias {
		gradB, err := tensor.Zeros([]int{d.outputSize}, tensor.Float32, tensor.CPU)
		if err != nil {
			return nil, nil, err
		}
		gradBData := gradB.Data.([]float32)
		gradData := flatGrad.Data.([]float32)
		for i := 0; i < rows; i++ {
			for j := 0; j < d.outputSize; j++ {
				gradBData[j] += gradData[i*d.outputSize+j]
			}
		}
		grads = append(grads, gradB)
	}

	return gradIn, grads, nil
}

// Spec returns the layer's configuration.
func (d *Dense) Spec() LayerSpec {
	return LayerSpec{
		Type: LayerDense,
		Name: d.name,
		Parameters: map[string]interface{}{
			"input_size":  d.inputSize,
			"output_size": d.outputSize,
			"use_bias":    d.useBias,
		},
	}
}
