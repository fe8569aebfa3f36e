package optimizer

import (
	"fmt"
	"math"

	"github.com/emberml/ember/checkpoints"
	"github.com/emberml/ember/tensor"
)

// AdamConfig holds configuration parameters for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32 // first moment decay
	Beta2        float32 // second moment decay
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns sensible defaults for Adam
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// AdamOptimizer implements the Adam algorithm with bias-corrected moment
// estimates.
type AdamOptimizer struct {
	config AdamConfig

	// First and second moment buffers, one per parameter.
	m [][]float32
	v [][]float32

	stepCount uint64
}

// NewAdamOptimizer creates an Adam optimizer.
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizer, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative, got %f", config.WeightDecay)
	}

	return &AdamOptimizer{
		config: config,
	}, nil
}

func (adam *AdamOptimizer) Type() Type { return Adam }

// Step applies one Adam update to every parameter.
func (adam *AdamOptimizer) Step(weights []*tensor.Tensor, grads []*tensor.Tensor) error {
	if err := checkStepArgs(weights, grads); err != nil {
		return err
	}

	if adam.m == nil {
		adam.m = make([][]float32, len(weights))
		adam.v = make([][]float32, len(weights))
	}
	if len(adam.m) != len(weights) {
		return fmt.Errorf("parameter count changed from %d to %d between steps", len(adam.m), len(weights))
	}

	adam.stepCount++
	t := float64(adam.stepCount)
	biasCorr1 := 1 - math.Pow(float64(adam.config.Beta1), t)
	biasCorr2 := 1 - math.Pow(float64(adam.config.Beta2), t)

	for i := range weights {
		wData, err := weights[i].Float32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}
		gData, err := grads[i].Float32Data()
		if err != nil {
			return fmt.Errorf("gradient %d: %v", i, err)
		}

		if adam.m[i] == nil {
			adam.m[i] = make([]float32, len(wData))
			adam.v[i] = make([]float32, len(wData))
		}
		mBuf := adam.m[i]
		vBuf := adam.v[i]

		for j := range wData {
			g := gData[j] + adam.config.WeightDecay*wData[j]

			mBuf[j] = adam.config.Beta1*mBuf[j] + (1-adam.config.Beta1)*g
			vBuf[j] = adam.config.Beta2*vBuf[j] + (1-adam.config.Beta2)*g*g

			mHat := float64(mBuf[j]) / biasCorr1
			vHat := float64(vBuf[j]) / biasCorr2

			wData[j] -= float32(float64(adam.config.LearningRate) * mHat / (math.Sqrt(vHat) + float64(adam.config.Epsilon)))
		}
	}

	return nil
}

func (adam *AdamOptimizer) GetStepCount() uint64 { return adam.stepCount }

func (adam *AdamOptimizer) GetLearningRate() float32 { return adam.config.LearningRate }

// UpdateLearningRate changes the learning rate (useful for schedules)
func (adam *AdamOptimizer) UpdateLearningRate(lr float32) {
	adam.config.LearningRate = lr
}

// GetState exports moment buffers and hyperparameters for checkpointing.
func (adam *AdamOptimizer) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: Adam.String(),
		Parameters: map[string]interface{}{
			"learning_rate": adam.config.LearningRate,
			"beta1":         adam.config.Beta1,
			"beta2":         adam.config.Beta2,
			"epsilon":       adam.config.Epsilon,
			"weight_decay":  adam.config.WeightDecay,
			"step_count":    adam.stepCount,
		},
	}

	for i := range adam.m {
		if adam.m[i] == nil {
			continue
		}
		mData := make([]float32, len(adam.m[i]))
		copy(mData, adam.m[i])
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("m_%d", i),
			Shape:     []int{len(mData)},
			Data:      mData,
			StateType: "m",
		})

		vData := make([]float32, len(adam.v[i]))
		copy(vData, adam.v[i])
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("v_%d", i),
			Shape:     []int{len(vData)},
			Data:      vData,
			StateType: "v",
		})
	}

	return state, nil
}

// LoadState restores moment buffers from a checkpoint.
func (adam *AdamOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != Adam.String() {
		return fmt.Errorf("cannot load %s state into Adam optimizer", state.Type)
	}

	if v, ok := state.Parameters["step_count"]; ok {
		switch n := v.(type) {
		case uint64:
			adam.stepCount = n
		case float64:
			adam.stepCount = uint64(n)
		}
	}

	maxIdx := -1
	for _, st := range state.StateData {
		idx, err := extractBufferIndex(st.Name)
		if err != nil {
			return err
		}
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if maxIdx < 0 {
		return nil
	}

	adam.m = make([][]float32, maxIdx+1)
	adam.v = make([][]float32, maxIdx+1)
	for _, st := range state.StateData {
		idx, _ := extractBufferIndex(st.Name)
		buf := make([]float32, len(st.Data))
		copy(buf, st.Data)
		switch st.StateType {
		case "m":
			adam.m[idx] = buf
		case "v":
			adam.v[idx] = buf
		default:
			return fmt.Errorf("unexpected state tensor type %q for Adam", st.StateType)
		}
	}

	return nil
}
