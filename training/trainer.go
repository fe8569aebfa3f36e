package training

import (
	"fmt"
	"time"

	"github.com/emberml/ember/layers"
	"github.com/emberml/ember/model"
	"github.com/emberml/ember/optimizer"
	"github.com/emberml/ember/tensor"
)

// TrainerConfig holds the training hyperparameters. Fields map onto the
// YAML config files read by LoadTrainerConfig.
type TrainerConfig struct {
	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float32 `yaml:"learning_rate"`

	OptimizerType optimizer.Type `yaml:"-"`

	// SGD
	Momentum float32 `yaml:"momentum"`
	Nesterov bool    `yaml:"nesterov"`

	// Adam
	Beta1   float32 `yaml:"beta1"`
	Beta2   float32 `yaml:"beta2"`
	Epsilon float32 `yaml:"epsilon"`

	WeightDecay float32 `yaml:"weight_decay"`
}

// DefaultTrainerConfig returns SGD training defaults.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		BatchSize:     32,
		Epochs:        1,
		LearningRate:  0.01,
		OptimizerType: optimizer.SGD,
		Beta1:         0.9,
		Beta2:         0.999,
		Epsilon:       1e-8,
	}
}

func (c TrainerConfig) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %f", c.LearningRate)
	}
	return nil
}

// buildOptimizer constructs the optimizer named by the config.
func (c TrainerConfig) buildOptimizer() (optimizer.Optimizer, error) {
	switch c.OptimizerType {
	case optimizer.SGD:
		return optimizer.NewSGDOptimizer(optimizer.SGDConfig{
			LearningRate: c.LearningRate,
			Momentum:     c.Momentum,
			WeightDecay:  c.WeightDecay,
			Nesterov:     c.Nesterov,
		})
	case optimizer.Adam:
		return optimizer.NewAdamOptimizer(optimizer.AdamConfig{
			LearningRate: c.LearningRate,
			Beta1:        c.Beta1,
			Beta2:        c.Beta2,
			Epsilon:      c.Epsilon,
			WeightDecay:  c.WeightDecay,
		})
	default:
		return nil, fmt.Errorf("unsupported optimizer type: %s", c.OptimizerType.String())
	}
}

// TrainResult reports metrics for a single training step.
type TrainResult struct {
	Loss      float32
	StepTime  time.Duration
	BatchRate float64 // samples per second
}

// ModelTrainer runs gradient descent over a sequential model.
type ModelTrainer struct {
	model     *model.Sequential
	config    TrainerConfig
	optimizer optimizer.Optimizer
	loss      Loss

	stepCount int
}

// NewModelTrainer creates a trainer for a built model.
func NewModelTrainer(m *model.Sequential, lossFn Loss, config TrainerConfig) (*ModelTrainer, error) {
	if m == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if !m.Built() {
		return nil, fmt.Errorf("model must be built before training")
	}
	if lossFn == nil {
		return nil, fmt.Errorf("loss function cannot be nil")
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid trainer config: %v", err)
	}

	opt, err := config.buildOptimizer()
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %v", err)
	}

	return &ModelTrainer{
		model:     m,
		config:    config,
		optimizer: opt,
		loss:      lossFn,
	}, nil
}

// Optimizer returns the trainer's optimizer, for state export.
func (mt *ModelTrainer) Optimizer() optimizer.Optimizer { return mt.optimizer }

// StepCount returns the number of completed training steps.
func (mt *ModelTrainer) StepCount() int { return mt.stepCount }

// TrainBatch runs one forward/backward/update cycle on a batch.
func (mt *ModelTrainer) TrainBatch(x, y *tensor.Tensor) (*TrainResult, error) {
	start := time.Now()

	inputs, out, err := mt.model.ForwardCollect(x)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	lossVal, err := mt.loss.Forward(out, y)
	if err != nil {
		return nil, fmt.Errorf("loss computation failed: %v", err)
	}
	grad, err := mt.loss.Backward(out, y)
	if err != nil {
		return nil, fmt.Errorf("loss gradient failed: %v", err)
	}

	// Backward pass, output to input. Each layer's weight gradients align
	// with its trainable weights in forward order.
	stack := mt.model.Layers()
	weightGrads := make([][]*tensor.Tensor, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		bp, ok := stack[i].(layers.Backprop)
		if !ok {
			return nil, fmt.Errorf("layer %s does not support training", stack[i].Name())
		}
		gradIn, grads, err := bp.Backward(inputs[i], grad)
		if err != nil {
			return nil, fmt.Errorf("backward pass failed at layer %s: %v", stack[i].Name(), err)
		}
		weightGrads[i] = grads
		if gradIn == nil && i > 0 {
			return nil, fmt.Errorf("layer %s produced no input gradient", stack[i].Name())
		}
		grad = gradIn
	}

	// Flatten weights and gradients into the optimizer's parameter order.
	var params []*tensor.Tensor
	var grads []*tensor.Tensor
	for i, l := range stack {
		trainable := layers.TrainableOf(l)
		if len(trainable) != len(weightGrads[i]) {
			return nil, fmt.Errorf("layer %s returned %d gradients for %d trainable weights",
				l.Name(), len(weightGrads[i]), len(trainable))
		}
		for j, w := range trainable {
			params = append(params, w.Value)
			grads = append(grads, weightGrads[i][j])
		}
	}

	if err := mt.optimizer.Step(params, grads); err != nil {
		return nil, fmt.Errorf("optimizer step failed: %v", err)
	}

	// Constraints re-apply after every update.
	for _, l := range stack {
		if ca, ok := l.(layers.ConstraintApplier); ok {
			if err := ca.ApplyConstraint(); err != nil {
				return nil, fmt.Errorf("constraint application failed at layer %s: %v", l.Name(), err)
			}
		}
	}

	mt.stepCount++
	elapsed := time.Since(start)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(x.Shape[0]) / elapsed.Seconds()
	}

	return &TrainResult{
		Loss:      lossVal,
		StepTime:  elapsed,
		BatchRate: rate,
	}, nil
}

// EpochResult aggregates per-batch results over one pass of the data.
type EpochResult struct {
	Epoch    int
	Batches  int
	MeanLoss float32
}

// Fit trains for the configured number of epochs, slicing x and y into
// batches along the leading axis. A trailing partial batch is used as is.
func (mt *ModelTrainer) Fit(x, y *tensor.Tensor) ([]EpochResult, error) {
	if len(x.Shape) == 0 || len(y.Shape) == 0 {
		return nil, fmt.Errorf("training data must have a batch axis")
	}
	if x.Shape[0] != y.Shape[0] {
		return nil, fmt.Errorf("sample count %d does not match target count %d", x.Shape[0], y.Shape[0])
	}

	n := x.Shape[0]
	results := make([]EpochResult, 0, mt.config.Epochs)

	for epoch := 0; epoch < mt.config.Epochs; epoch++ {
		var lossSum float64
		batches := 0

		for start := 0; start < n; start += mt.config.BatchSize {
			end := start + mt.config.BatchSize
			if end > n {
				end = n
			}

			xb, err := tensor.SliceDim0(x, start, end)
			if err != nil {
				return nil, err
			}
			yb, err := tensor.SliceDim0(y, start, end)
			if err != nil {
				return nil, err
			}

			res, err := mt.TrainBatch(xb, yb)
			if err != nil {
				return nil, fmt.Errorf("epoch %d batch %d: %v", epoch, batches, err)
			}
			lossSum += float64(res.Loss)
			batches++
		}

		results = append(results, EpochResult{
			Epoch:    epoch,
			Batches:  batches,
			MeanLoss: float32(lossSum / float64(batches)),
		})
	}

	return results, nil
}
