package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/emberml/ember/layers"
	"github.com/emberml/ember/model"
	"github.com/emberml/ember/tensor"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatONNX
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// Checkpoint represents a complete model state including weights, optimizer state, and training metadata
type Checkpoint struct {
	// Model architecture and weights
	ModelSpec *layers.ModelSpec `json:"model_spec,omitempty"`
	Weights   []WeightTensor    `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "embeddings", "weight", "bias", etc.
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float32 `json:"learning_rate"`
	BestLoss     float32 `json:"best_loss"`
	TotalSteps   int     `json:"total_steps"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", etc.
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v", etc.
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatONNX:
		return cs.saveONNX(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatONNX:
		return cs.loadONNX(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// saveJSON saves checkpoint in JSON format
func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	// Ensure metadata is set
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "ember"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}
	if checkpoint.Metadata.ID == "" {
		checkpoint.Metadata.ID = uuid.NewString()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ") // Pretty print JSON

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// loadJSON loads checkpoint from JSON format
func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// saveONNX saves checkpoint in ONNX format
func (cs *CheckpointSaver) saveONNX(checkpoint *Checkpoint, path string) error {
	exporter := NewONNXExporter()
	return exporter.ExportToONNX(checkpoint, path)
}

// loadONNX loads checkpoint from ONNX format
func (cs *CheckpointSaver) loadONNX(path string) (*Checkpoint, error) {
	importer := NewONNXImporter()
	return importer.ImportFromONNX(path)
}

// ExtractWeights pulls serializable weight tensors out of an executable
// model. Layers implementing WeightSaver control their own serialized
// set; the Embedding layer uses this to fold LoRA factors into a plain
// table, so checkpoints never carry factor tensors.
func ExtractWeights(m *model.Sequential) ([]WeightTensor, error) {
	var weights []WeightTensor

	for _, l := range m.Layers() {
		var ws []*layers.Weight
		var err error

		if saver, ok := l.(layers.WeightSaver); ok {
			ws, err = saver.SaveWeights()
			if err != nil {
				return nil, fmt.Errorf("failed to extract weights for layer %s: %v", l.Name(), err)
			}
		} else {
			ws = l.Weights()
		}

		for _, w := range ws {
			data, err := w.Value.Float32Data()
			if err != nil {
				return nil, fmt.Errorf("failed to extract weight %s: %v", w.Name, err)
			}
			shape := make([]int, len(w.Value.Shape))
			copy(shape, w.Value.Shape)
			dataCopy := make([]float32, len(data))
			copy(dataCopy, data)

			weights = append(weights, WeightTensor{
				Name:  w.Name,
				Shape: shape,
				Data:  dataCopy,
				Layer: l.Name(),
				Type:  w.Type,
			})
		}
	}

	return weights, nil
}

// LoadWeightsInto restores serialized weights into an executable model,
// matching by layer name. Layers implementing WeightSaver decide how the
// serialized set maps onto their parameters, which is what lets a plain
// checkpoint load into a LoRA-enabled layer and vice versa.
func LoadWeightsInto(weights []WeightTensor, m *model.Sequential) error {
	byLayer := make(map[string][]WeightTensor)
	for _, w := range weights {
		byLayer[w.Layer] = append(byLayer[w.Layer], w)
	}

	for _, l := range m.Layers() {
		stored, ok := byLayer[l.Name()]
		if !ok {
			if len(l.Weights()) > 0 {
				return fmt.Errorf("no stored weights for layer %s", l.Name())
			}
			continue
		}

		converted := make([]*layers.Weight, 0, len(stored))
		for _, w := range stored {
			t, err := tensorFromWeight(w)
			if err != nil {
				return err
			}
			converted = append(converted, &layers.Weight{
				Name:  w.Name,
				Type:  w.Type,
				Value: t,
			})
		}

		if saver, ok := l.(layers.WeightSaver); ok {
			if err := saver.LoadWeights(converted); err != nil {
				return fmt.Errorf("failed to load weights into layer %s: %v", l.Name(), err)
			}
			continue
		}

		// Default path: match stored tensors to live parameters by type.
		live := l.Weights()
		for _, w := range converted {
			matched := false
			for _, lw := range live {
				if lw.Type == w.Type {
					if err := lw.Value.CopyFrom(w.Value); err != nil {
						return fmt.Errorf("failed to load weight %s: %v", w.Name, err)
					}
					matched = true
					break
				}
			}
			if !matched {
				return fmt.Errorf("layer %s has no parameter of type %q", l.Name(), w.Type)
			}
		}
	}

	return nil
}

func tensorFromWeight(w WeightTensor) (*tensor.Tensor, error) {
	data := make([]float32, len(w.Data))
	copy(data, w.Data)
	t, err := tensor.NewTensor(w.Shape, tensor.Float32, tensor.CPU, data)
	if err != nil {
		return nil, fmt.Errorf("invalid stored weight %s: %v", w.Name, err)
	}
	return t, nil
}
