// Package training provides loss functions, a model trainer and trainer
// configuration loading.
package training

import (
	"fmt"
	"math"

	"github.com/emberml/ember/tensor"
)

// Reduction selects how per-element losses combine into a scalar.
type Reduction int

const (
	ReductionMean Reduction = iota
	ReductionSum
)

// Loss is a differentiable training objective.
type Loss interface {
	Name() string
	// Forward computes the scalar loss.
	Forward(pred, target *tensor.Tensor) (float32, error)
	// Backward computes the loss gradient with respect to pred.
	Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error)
}

// MSELoss is mean squared error over Float32 predictions and targets of
// the same shape.
type MSELoss struct {
	Reduction Reduction
}

// NewMSELoss creates an MSE loss with mean reduction.
func NewMSELoss() *MSELoss {
	return &MSELoss{Reduction: ReductionMean}
}

func (l *MSELoss) Name() string { return "mse" }

func (l *MSELoss) Forward(pred, target *tensor.Tensor) (float32, error) {
	predData, targetData, err := checkRegressionArgs(pred, target)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i := range predData {
		d := float64(predData[i] - targetData[i])
		sum += d * d
	}
	if l.Reduction == ReductionMean {
		sum /= float64(len(predData))
	}
	return float32(sum), nil
}

func (l *MSELoss) Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	predData, targetData, err := checkRegressionArgs(pred, target)
	if err != nil {
		return nil, err
	}

	grad, err := tensor.Zeros(pred.Shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	gradData := grad.Data.([]float32)

	scale := float32(2)
	if l.Reduction == ReductionMean {
		scale = 2 / float32(len(predData))
	}
	for i := range predData {
		gradData[i] = scale * (predData[i] - targetData[i])
	}
	return grad, nil
}

// CrossEntropyLoss is negative log likelihood over probability
// predictions and Int32 class targets. Predictions carry class
// probabilities on the trailing axis (softmax output); targets hold one
// class index per leading position.
type CrossEntropyLoss struct {
	Reduction Reduction
}

// NewCrossEntropyLoss creates a cross-entropy loss with mean reduction.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{Reduction: ReductionMean}
}

func (l *CrossEntropyLoss) Name() string { return "cross_entropy" }

const probFloor = 1e-12

func (l *CrossEntropyLoss) Forward(pred, target *tensor.Tensor) (float32, error) {
	predData, targetData, width, err := checkClassificationArgs(pred, target)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i, cls := range targetData {
		p := float64(predData[i*width+int(cls)])
		if p < probFloor {
			p = probFloor
		}
		sum += -math.Log(p)
	}
	if l.Reduction == ReductionMean {
		sum /= float64(len(targetData))
	}
	return float32(sum), nil
}

func (l *CrossEntropyLoss) Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	predData, targetData, width, err := checkClassificationArgs(pred, target)
	if err != nil {
		return nil, err
	}

	grad, err := tensor.Zeros(pred.Shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	gradData := grad.Data.([]float32)

	scale := float32(1)
	if l.Reduction == ReductionMean {
		scale = 1 / float32(len(targetData))
	}
	for i, cls := range targetData {
		p := predData[i*width+int(cls)]
		if p < probFloor {
			p = probFloor
		}
		gradData[i*width+int(cls)] = -scale / p
	}
	return grad, nil
}

func checkRegressionArgs(pred, target *tensor.Tensor) ([]float32, []float32, error) {
	if pred.DType != tensor.Float32 || target.DType != tensor.Float32 {
		return nil, nil, fmt.Errorf("mse requires Float32 tensors, got %s and %s", pred.DType, target.DType)
	}
	if !tensor.ShapesEqual(pred.Shape, target.Shape) {
		return nil, nil, fmt.Errorf("prediction shape %v does not match target shape %v", pred.Shape, target.Shape)
	}
	if pred.NumElems == 0 {
		return nil, nil, fmt.Errorf("cannot compute loss over empty tensors")
	}
	return pred.Data.([]float32), target.Data.([]float32), nil
}

func checkClassificationArgs(pred, target *tensor.Tensor) ([]float32, []int32, int, error) {
	if pred.DType != tensor.Float32 {
		return nil, nil, 0, fmt.Errorf("cross entropy predictions must be Float32, got %s", pred.DType)
	}
	if target.DType != tensor.Int32 {
		return nil, nil, 0, fmt.Errorf("cross entropy targets must be Int32, got %s", target.DType)
	}
	if len(pred.Shape) < 2 {
		return nil, nil, 0, fmt.Errorf("cross entropy predictions require at least 2D shape, got %v", pred.Shape)
	}

	width := pred.Shape[len(pred.Shape)-1]
	rows := pred.NumElems / width
	if target.NumElems != rows {
		return nil, nil, 0, fmt.Errorf("target count %d does not match prediction rows %d", target.NumElems, rows)
	}

	predData := pred.Data.([]float32)
	targetData := target.Data.([]int32)
	for _, cls := range targetData {
		if cls < 0 || int(cls) >= width {
			return nil, nil, 0, fmt.Errorf("class index %d out of range [0, %d)", cls, width)
		}
	}
	return predData, targetData, width, nil
}
