package optimizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emberml/ember/checkpoints"
	"github.com/emberml/ember/tensor"
)

// SGDConfig holds configuration parameters for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32 // 0 disables momentum
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // requires Momentum > 0
}

// DefaultSGDConfig returns sensible defaults for SGD
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGDOptimizer implements stochastic gradient descent with optional
// momentum, Nesterov acceleration and weight decay.
type SGDOptimizer struct {
	config SGDConfig

	// One velocity buffer per parameter, allocated on first use.
	velocity  [][]float32
	stepCount uint64
}

// NewSGDOptimizer creates an SGD optimizer.
func NewSGDOptimizer(config SGDConfig) (*SGDOptimizer, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative, got %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	return &SGDOptimizer{
		config: config,
	}, nil
}

func (sgd *SGDOptimizer) Type() Type { return SGD }

// Step applies one SGD update to every parameter.
func (sgd *SGDOptimizer) Step(weights []*tensor.Tensor, grads []*tensor.Tensor) error {
	if err := checkStepArgs(weights, grads); err != nil {
		return err
	}

	if sgd.velocity == nil && sgd.config.Momentum > 0 {
		sgd.velocity = make([][]float32, len(weights))
	}
	if sgd.velocity != nil && len(sgd.velocity) != len(weights) {
		return fmt.Errorf("parameter count changed from %d to %d between steps", len(sgd.velocity), len(weights))
	}

	for i := range weights {
		wData, err := weights[i].Float32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}
		gData, err := grads[i].Float32Data()
		if err != nil {
			return fmt.Errorf("gradient %d: %v", i, err)
		}

		if sgd.config.Momentum > 0 {
			if sgd.velocity[i] == nil {
				sgd.velocity[i] = make([]float32, len(wData))
			}
			vel := sgd.velocity[i]
			for j := range wData {
				g := gData[j] + sgd.config.WeightDecay*wData[j]
				vel[j] = sgd.config.Momentum*vel[j] + g
				if sgd.config.Nesterov {
					g = g + sgd.config.Momentum*vel[j]
				} else {
					g = vel[j]
				}
				wData[j] -= sgd.config.LearningRate * g
			}
		} else {
			for j := range wData {
				g := gData[j] + sgd.config.WeightDecay*wData[j]
				wData[j] -= sgd.config.LearningRate * g
			}
		}
	}

	sgd.stepCount++
	return nil
}

func (sgd *SGDOptimizer) GetStepCount() uint64 { return sgd.stepCount }

func (sgd *SGDOptimizer) GetLearningRate() float32 { return sgd.config.LearningRate }

// UpdateLearningRate changes the learning rate (useful for schedules)
func (sgd *SGDOptimizer) UpdateLearningRate(lr float32) {
	sgd.config.LearningRate = lr
}

// GetState exports momentum buffers and hyperparameters for checkpointing.
func (sgd *SGDOptimizer) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: SGD.String(),
		Parameters: map[string]interface{}{
			"learning_rate": sgd.config.LearningRate,
			"momentum":      sgd.config.Momentum,
			"weight_decay":  sgd.config.WeightDecay,
			"nesterov":      sgd.config.Nesterov,
			"step_count":    sgd.stepCount,
		},
	}

	for i, vel := range sgd.velocity {
		if vel == nil {
			continue
		}
		data := make([]float32, len(vel))
		copy(data, vel)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("momentum_%d", i),
			Shape:     []int{len(vel)},
			Data:      data,
			StateType: "momentum",
		})
	}

	return state, nil
}

// LoadState restores momentum buffers from a checkpoint.
func (sgd *SGDOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != SGD.String() {
		return fmt.Errorf("cannot load %s state into SGD optimizer", state.Type)
	}

	if v, ok := state.Parameters["step_count"]; ok {
		switch n := v.(type) {
		case uint64:
			sgd.stepCount = n
		case float64:
			sgd.stepCount = uint64(n)
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

	sgd.velocity = make([][]float32, maxIdx+1)
	for _, st := range state.StateData {
		if st.StateType != "momentum" {
			return fmt.Errorf("unexpected state tensor type %q for SGD", st.StateType)
		}
		idx, _ := extractBufferIndex(st.Name)
		buf := make([]float32, len(st.Data))
		copy(buf, st.Data)
		sgd.velocity[idx] = buf
	}

	return nil
}

// extractBufferIndex parses the parameter index from a state tensor name
// like "momentum_3" or "v_0".
func extractBufferIndex(name string) (int, error) {
	idx := strings.LastIndex(name, "_")
	if idx < 0 || idx == len(name)-1 {
		return 0, fmt.Errorf("malformed state tensor name %q", name)
	}
	n, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed state tensor name %q: %v", name, err)
	}
	return n, nil
}
