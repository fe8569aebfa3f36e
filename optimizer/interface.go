// Package optimizer provides gradient-based parameter update rules.
// Optimizers operate on parallel weight and gradient slices; the training
// package keeps the two aligned.
package optimizer

import (
	"fmt"

	"github.com/emberml/ember/checkpoints"
	"github.com/emberml/ember/tensor"
)

// Type identifies an optimizer algorithm.
type Type int

const (
	SGD Type = iota
	Adam
)

func (t Type) String() string {
	switch t {
	case SGD:
		return "SGD"
	case Adam:
		return "Adam"
	default:
		return "Unknown"
	}
}

// Optimizer updates parameters in place from their gradients. State
// buffers (momentum, moment estimates) are keyed by parameter position,
// so callers must pass the same parameter ordering on every step.
type Optimizer interface {
	// Step applies one update. weights[i] is updated from grads[i]; the
	// two slices must have equal length and matching shapes.
	Step(weights []*tensor.Tensor, grads []*tensor.Tensor) error

	// GetState exports the optimizer's state for checkpointing.
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores previously exported state.
	LoadState(state *checkpoints.OptimizerState) error

	GetStepCount() uint64
	GetLearningRate() float32
	UpdateLearningRate(lr float32)
	Type() Type
}

func checkStepArgs(weights, grads []*tensor.Tensor) error {
	if len(weights) != len(grads) {
		return fmt.Errorf("weight count %d does not match gradient count %d", len(weights), len(grads))
	}
	for i := range weights {
		if !tensor.ShapesEqual(weights[i].Shape, grads[i].Shape) {
			return fmt.Errorf("parameter %d: weight shape %v does not match gradient shape %v",
				i, weights[i].Shape, grads[i].Shape)
		}
	}
	return nil
}
