package checkpoints

import (
	"fmt"

	"github.com/emberml/ember/model"
)

// SaveModel writes a full-model checkpoint: the compiled spec plus every
// weight. A model containing a LoRA-enabled embedding is saved with the
// adaptation folded into a plain table, so reloading yields an
// unadapted layer with identical predictions.
func SaveModel(m *model.Sequential, path string) error {
	spec, err := m.Spec()
	if err != nil {
		return fmt.Errorf("failed to compile model spec: %v", err)
	}

	weights, err := ExtractWeights(m)
	if err != nil {
		return fmt.Errorf("failed to extract weights: %v", err)
	}

	checkpoint := &Checkpoint{
		ModelSpec: spec,
		Weights:   weights,
	}

	saver := NewCheckpointSaver(FormatJSON)
	return saver.SaveCheckpoint(checkpoint, path)
}

// LoadModel reconstructs an executable model from a full-model
// checkpoint written by SaveModel.
func LoadModel(path string) (*model.Sequential, error) {
	saver := NewCheckpointSaver(FormatJSON)
	checkpoint, err := saver.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if checkpoint.ModelSpec == nil {
		return nil, fmt.Errorf("checkpoint %s carries no model spec - use LoadWeights for weights-only checkpoints", path)
	}

	m, err := model.FromSpec(checkpoint.ModelSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild model: %v", err)
	}

	if err := LoadWeightsInto(checkpoint.Weights, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveWeights writes a weights-only checkpoint for an already-built
// model. LoRA factors fold into the base table exactly as in SaveModel.
func SaveWeights(m *model.Sequential, path string) error {
	weights, err := ExtractWeights(m)
	if err != nil {
		return fmt.Errorf("failed to extract weights: %v", err)
	}

	checkpoint := &Checkpoint{
		Weights: weights,
	}

	saver := NewCheckpointSaver(FormatJSON)
	return saver.SaveCheckpoint(checkpoint, path)
}

// LoadWeights restores a weights-only checkpoint into a built model with
// a matching layer layout. The target's layers may differ in adaptation
// state from the source: plain weights load into LoRA-enabled layers and
// folded LoRA weights load into plain layers, either way reproducing the
// saved predictions.
func LoadWeights(m *model.Sequential, path string) error {
	saver := NewCheckpointSaver(FormatJSON)
	checkpoint, err := saver.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	return LoadWeightsInto(checkpoint.Weights, m)
}
