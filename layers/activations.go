package layers

import (
	"fmt"
	"math"

	"github.com/emberml/ember/tensor"
)

// ReLU is the rectified linear activation.
type ReLU struct {
	name  string
	built bool
}

// NewReLU creates a ReLU activation layer.
func NewReLU(name string) *ReLU {
	if name == "" {
		name = "relu"
	}
	return &ReLU{name: name}
}

func (r *ReLU) Name() string { return r.name }

func (r *ReLU) Built() bool { return r.built }

func (r *ReLU) Build(inputShape []int) error {
	r.built = true
	return nil
}

func (r *ReLU) Call(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.DType != tensor.Float32 {
		return nil, fmt.Errorf("relu input must be Float32, got %s", input.DType)
	}

	result, err := input.Clone()
	if err != nil {
		return nil, err
	}
	data := result.Data.([]float32)
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
	return result, nil
}

func (r *ReLU) OutputShape(inputShape []int) ([]int, error) {
	out := make([]int, len(inputShape))
	copy(out, inputShape)
	return out, nil
}

func (r *ReLU) Weights() []*Weight { return nil }

func (r *ReLU) Backward(input, gradOut *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error) {
	gradIn, err := gradOut.Clone()
	if err != nil {
		return nil, nil, err
	}
	inData := input.Data.([]float32)
	gradData := gradIn.Data.([]float32)
	for i, v := range inData {
		if v <= 0 {
			gradData[i] = 0
		}
	}
	return gradIn, nil, nil
}

func (r *ReLU) Spec() LayerSpec {
	return LayerSpec{
		Type:       LayerReLU,
		Name:       r.name,
		Parameters: map[string]interface{}{},
	}
}

// Softmax normalizes the trailing axis to a probability distribution.
// Only the last axis is supported (axis -1).
type Softmax struct {
	name  string
	built bool
}

// NewSoftmax creates a Softmax activation layer over the trailing axis.
func NewSoftmax(name string) *Softmax {
	if name == "" {
		name = "softmax"
	}
	return &Softmax{name: name}
}

func (s *Softmax) Name() string { return s.name }

func (s *Softmax) Built() bool { return s.built }

func (s *Softmax) Build(inputShape []int) error {
	s.built = true
	return nil
}

func (s *Softmax) Call(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.DType != tensor.Float32 {
		return nil, fmt.Errorf("softmax input must be Float32, got %s", input.DType)
	}
	if len(input.Shape) < 1 {
		return nil, fmt.Errorf("softmax requires at least 1D input")
	}

	result, err := input.Clone()
	if err != nil {
		return nil, err
	}

	width := input.Shape[len(input.Shape)-1]
	rows := input.NumElems / width
	data := result.Data.([]float32)

	for i := 0; i < rows; i++ {
		row := data[i*width : (i+1)*width]

		// Shift by the row max for numerical stability.
		max := row[0]
		for _, v := range row {
			if v > max {
				max = v
			}
		}

		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - max))
			row[j] = float32(e)
			sum += e
		}
		for j := range row {
			row[j] = float32(float64(row[j]) / sum)
		}
	}

	return result, nil
}

func (s *Softmax) OutputShape(inputShape []int) ([]int, error) {
	out := make([]int, len(inputShape))
	copy(out, inputShape)
	return out, nil
}

func (s *Softmax) Weights() []*Weight { return nil }

// Backward computes the softmax Jacobian-vector product rowwise:
// gradIn = y * (g - sum(g*y)).
func (s *Softmax) Backward(input, gradOut *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error) {
	y, err := s.Call(input)
	if err != nil {
		return nil, nil, err
	}

	gradIn, err := gradOut.Clone()
	if err != nil {
		return nil, nil, err
	}

	width := input.Shape[len(input.Shape)-1]
	rows := input.NumElems / width
	yData := y.Data.([]float32)
	gData := gradIn.Data.([]float32)

	for i := 0; i < rows; i++ {
		yRow := yData[i*width : (i+1)*width]
		gRow := gData[i*width : (i+1)*width]

		var dot float64
		for j := range yRow {
			dot += float64(gRow[j]) * float64(yRow[j])
		}
		for j := range gRow {
			gRow[j] = yRow[j] * (gRow[j] - float32(dot))
		}
	}

	return gradIn, nil, nil
}

func (s *Softmax) Spec() LayerSpec {
	return LayerSpec{
		Type: LayerSoftmax,
		Name: s.name,
		Parameters: map[string]interface{}{
			"axis": -1,
		},
	}
}
