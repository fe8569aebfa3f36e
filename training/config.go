package training

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/emberml/ember/optimizer"
)

// trainerConfigFile mirrors TrainerConfig for YAML decoding, with the
// optimizer selected by name.
type trainerConfigFile struct {
	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float32 `yaml:"learning_rate"`
	Optimizer    string  `yaml:"optimizer"`
	Momentum     float32 `yaml:"momentum"`
	Nesterov     bool    `yaml:"nesterov"`
	Beta1        float32 `yaml:"beta1"`
	Beta2        float32 `yaml:"beta2"`
	Epsilon      float32 `yaml:"epsilon"`
	WeightDecay  float32 `yaml:"weight_decay"`
}

// LoadTrainerConfig reads a YAML trainer configuration. Unset fields fall
// back to DefaultTrainerConfig values.
func LoadTrainerConfig(path string) (TrainerConfig, error) {
	config := DefaultTrainerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %v", err)
	}

	var file trainerConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return config, fmt.Errorf("failed to parse config file: %v", err)
	}

	if file.BatchSize != 0 {
		config.BatchSize = file.BatchSize
	}
	if file.Epochs != 0 {
		config.Epochs = file.Epochs
	}
	if file.LearningRate != 0 {
		config.LearningRate = file.LearningRate
	}
	if file.Optimizer != "" {
		optType, err := OptimizerTypeByName(file.Optimizer)
		if err != nil {
			return config, err
		}
		config.OptimizerType = optType
	}
	if file.Momentum != 0 {
		config.Momentum = file.Momentum
	}
	config.Nesterov = file.Nesterov
	if file.Beta1 != 0 {
		config.Beta1 = file.Beta1
	}
	if file.Beta2 != 0 {
		config.Beta2 = file.Beta2
	}
	if file.Epsilon != 0 {
		config.Epsilon = file.Epsilon
	}
	if file.WeightDecay != 0 {
		config.WeightDecay = file.WeightDecay
	}

	if err := config.validate(); err != nil {
		return config, fmt.Errorf("invalid trainer config: %v", err)
	}
	return config, nil
}

// OptimizerTypeByName maps a config file optimizer name to its type.
func OptimizerTypeByName(name string) (optimizer.Type, error) {
	switch strings.ToLower(name) {
	case "sgd":
		return optimizer.SGD, nil
	case "adam":
		return optimizer.Adam, nil
	default:
		return 0, fmt.Errorf("unknown optimizer %q", name)
	}
}
