package layers

import (
	"fmt"

	"github.com/emberml/ember/tensor"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	LayerEmbedding LayerType = iota
	LayerDense
	LayerReLU
	LayerSoftmax
)

func (lt LayerType) String() string {
	switch lt {
	case LayerEmbedding:
		return "Embedding"
	case LayerDense:
		return "Dense"
	case LayerReLU:
		return "ReLU"
	case LayerSoftmax:
		return "Softmax"
	default:
		return "Unknown"
	}
}

// Weight is a named layer parameter. Type distinguishes the role of the
// parameter within its layer ("embeddings", "lora_embeddings_a", "weight",
// "bias", ...).
type Weight struct {
	Name      string
	Type      string
	Trainable bool
	Value     *tensor.Tensor
}

// Layer is an executable network layer.
type Layer interface {
	Name() string
	Built() bool
	Build(inputShape []int) error
	Call(input *tensor.Tensor) (*tensor.Tensor, error)
	OutputShape(inputShape []int) ([]int, error)
	Weights() []*Weight
	Spec() LayerSpec
}

// Backprop is implemented by layers that participate in training. Backward
// receives the layer's forward input and the gradient of the loss with
// respect to its output, and returns the gradient with respect to the
// input (nil for integer inputs) plus one gradient per trainable weight,
// in the same order Weights() lists them.
type Backprop interface {
	Layer
	Backward(input, gradOut *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error)
}

// Masker is implemented by layers that can derive a mask from their input.
type Masker interface {
	ComputeMask(input *tensor.Tensor) (*tensor.Tensor, error)
}

// SparseCaller is implemented by layers that accept sparse COO input.
type SparseCaller interface {
	CallSparse(input *tensor.SparseTensor) (*tensor.Tensor, error)
}

// WeightSaver lets a layer control its serialized weight set independently
// of its in-memory parameters. The Embedding layer uses this to fold LoRA
// factors into the base table on save.
type WeightSaver interface {
	SaveWeights() ([]*Weight, error)
	LoadWeights(ws []*Weight) error
}

// ConstraintApplier is implemented by layers carrying a weight constraint
// that must be re-applied after each optimizer step.
type ConstraintApplier interface {
	ApplyConstraint() error
}

// TrainableOf filters a layer's weights down to the trainable ones.
func TrainableOf(l Layer) []*Weight {
	var out []*Weight
	for _, w := range l.Weights() {
		if w.Trainable {
			out = append(out, w)
		}
	}
	return out
}

// NonTrainableOf filters a layer's weights down to the frozen ones.
func NonTrainableOf(l Layer) []*Weight {
	var out []*Weight
	for _, w := range l.Weights() {
		if !w.Trainable {
			out = append(out, w)
		}
	}
	return out
}

// LayerSpec defines layer configuration for model compilation and
// checkpointing. This is pure configuration - no execution logic.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation).
	// ParameterShapes and ParameterCount cover trainable parameters only;
	// frozen parameters (the LoRA base table) are tracked like running
	// statistics and excluded from the count.
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete neural network model as layer configuration
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder helps construct model specifications
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
	compiled   bool
}

// NewModelBuilder creates a new model builder
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: inputShape,
		compiled:   false,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	mb.compiled = false // Invalidate compilation
	return mb
}

// AddEmbedding adds an embedding layer to the model.
// loraRank 0 means no low-rank adaptation.
func (mb *ModelBuilder) AddEmbedding(inputDim, outputDim int, maskZero bool, loraRank int, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: LayerEmbedding,
		Name: name,
		Parameters: map[string]interface{}{
			"input_dim":  inputDim,
			"output_dim": outputDim,
			"mask_zero":  maskZero,
			"lora_rank":  loraRank,
		},
	}
	return mb.AddLayer(layer)
}

// AddDense adds a dense layer to the model
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	// Input size will be computed during compilation
	layer := LayerSpec{
		Type: LayerDense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	}
	return mb.AddLayer(layer)
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	layer := LayerSpec{
		Type:       LayerReLU,
		Name:       name,
		Parameters: map[string]interface{}{},
	}
	return mb.AddLayer(layer)
}

// AddSoftmax adds a Softmax activation to the model
func (mb *ModelBuilder) AddSoftmax(axis int, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: LayerSoftmax,
		Name: name,
		Parameters: map[string]interface{}{
			"axis": axis,
		},
	}
	return mb.AddLayer(layer)
}

// Compile compiles the model and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
		Compiled:   false,
	}

	copy(model.Layers, mb.layers)

	currentShape := mb.inputShape
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]

		layer.InputShape = make([]int, len(currentShape))
		copy(layer.InputShape, currentShape)

		outputShape, paramShapes, paramCount, err := mb.computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += paramCount

		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allParameterShapes
	model.TotalParameters = totalParams
	model.Compiled = true
	mb.compiled = true

	return model, nil
}

// computeLayerInfo computes output shape and parameter information for a layer
func (mb *ModelBuilder) computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case LayerEmbedding:
		return mb.computeEmbeddingInfo(layer, inputShape)
	case LayerDense:
		return mb.computeDenseInfo(layer, inputShape)
	case LayerReLU, LayerSoftmax:
		return mb.computeActivationInfo(layer, inputShape)
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

// computeEmbeddingInfo computes embedding layer information. The input is
// an integer index tensor of any rank; the output appends the embedding
// width as a trailing axis.
func (mb *ModelBuilder) computeEmbeddingInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 1 {
		return nil, nil, 0, fmt.Errorf("embedding layer requires at least 1D input")
	}

	inputDim := GetIntParam(layer.Parameters, "input_dim", 0)
	outputDim := GetIntParam(layer.Parameters, "output_dim", 0)
	if inputDim <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid input_dim parameter")
	}
	if outputDim <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid output_dim parameter")
	}

	loraRank := GetIntParam(layer.Parameters, "lora_rank", 0)
	if loraRank < 0 {
		return nil, nil, 0, fmt.Errorf("lora_rank cannot be negative: %d", loraRank)
	}

	outputShape := make([]int, 0, len(inputShape)+1)
	outputShape = append(outputShape, inputShape...)
	outputShape = append(outputShape, outputDim)

	var paramShapes [][]int
	paramCount := int64(0)

	if loraRank > 0 {
		// Frozen base table plus two trainable low-rank factors; only the
		// factors count as parameters.
		paramShapes = append(paramShapes, []int{inputDim, loraRank})
		paramShapes = append(paramShapes, []int{loraRank, outputDim})
		paramCount = int64(inputDim*loraRank + loraRank*outputDim)
	} else {
		paramShapes = append(paramShapes, []int{inputDim, outputDim})
		paramCount = int64(inputDim * outputDim)
	}

	return outputShape, paramShapes, paramCount, nil
}

// computeDenseInfo computes dense layer information
func (mb *ModelBuilder) computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("dense layer requires at least 2D input")
	}

	outputSize := GetIntParam(layer.Parameters, "output_size", 0)
	if outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid output_size parameter")
	}

	useBias := GetBoolParam(layer.Parameters, "use_bias", true)

	// The dense layer contracts the trailing axis only; leading axes pass
	// through unchanged.
	inputSize := inputShape[len(inputShape)-1]
	layer.Parameters["input_size"] = inputSize

	outputShape := make([]int, len(inputShape))
	copy(outputShape, inputShape)
	outputShape[len(outputShape)-1] = outputSize

	var paramShapes [][]int
	paramCount := int64(0)

	weightShape := []int{inputSize, outputSize}
	paramShapes = append(paramShapes, weightShape)
	paramCount += int64(inputSize * outputSize)

	if useBias {
		biasShape := []int{outputSize}
		paramShapes = append(paramShapes, biasShape)
		paramCount += int64(outputSize)
	}

	return outputShape, paramShapes, paramCount, nil
}

func (mb *ModelBuilder) computeActivationInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	// Activation layers don't change shape and have no parameters
	outputShape := make([]int, len(inputShape))
	copy(outputShape, inputShape)

	return outputShape, [][]int{}, 0, nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	summary := fmt.Sprintf("Model Summary:\n")
	summary += fmt.Sprintf("Input Shape: %v\n", ms.InputShape)
	summary += fmt.Sprintf("Output Shape: %v\n", ms.OutputShape)
	summary += fmt.Sprintf("Total Parameters: %d\n", ms.TotalParameters)
	summary += fmt.Sprintf("Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		summary += fmt.Sprintf("Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		summary += fmt.Sprintf("  Input:  %v\n", layer.InputShape)
		summary += fmt.Sprintf("  Output: %v\n", layer.OutputShape)
		summary += fmt.Sprintf("  Params: %d\n", layer.ParameterCount)

		if len(layer.Parameters) > 0 {
			summary += fmt.Sprintf("  Config: %v\n", layer.Parameters)
		}
		summary += "\n"
	}

	return summary
}

// Validate checks that a compiled spec is internally consistent.
func (ms *ModelSpec) Validate() error {
	if !ms.Compiled {
		return fmt.Errorf("model not compiled")
	}
	if len(ms.Layers) == 0 {
		return fmt.Errorf("empty model")
	}
	if len(ms.InputShape) == 0 {
		return fmt.Errorf("model must specify input shape")
	}

	for i, layer := range ms.Layers {
		if err := validateLayerSpec(layer); err != nil {
			return fmt.Errorf("layer %d (%s): %v", i, layer.Name, err)
		}
	}
	return nil
}

func validateLayerSpec(layer LayerSpec) error {
	switch layer.Type {
	case LayerEmbedding:
		if GetIntParam(layer.Parameters, "input_dim", 0) <= 0 {
			return fmt.Errorf("embedding layer missing input_dim parameter")
		}
		if GetIntParam(layer.Parameters, "output_dim", 0) <= 0 {
			return fmt.Errorf("embedding layer missing output_dim parameter")
		}
	case LayerDense:
		if GetIntParam(layer.Parameters, "output_size", 0) <= 0 {
			return fmt.Errorf("dense layer missing output_size parameter")
		}
	case LayerReLU, LayerSoftmax:
		// Activation layers don't require specific parameters
	default:
		return fmt.Errorf("unsupported layer type: %v", layer.Type)
	}
	return nil
}

// Parameter extraction helpers. JSON round-trips decode numbers as
// float64, so integer parameters accept both representations.

func GetIntParam(params map[string]interface{}, key string, defaultValue int) int {
	if val, exists := params[key]; exists {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return defaultValue
}

func GetBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, exists := params[key]; exists {
		if boolVal, ok := val.(bool); ok {
			return boolVal
		}
	}
	return defaultValue
}

func GetFloatParam(params map[string]interface{}, key string, defaultValue float32) float32 {
	if val, exists := params[key]; exists {
		switch v := val.(type) {
		case float32:
			return v
		case float64:
			return float32(v)
		}
	}
	return defaultValue
}

func GetStringParam(params map[string]interface{}, key string, defaultValue string) string {
	if val, exists := params[key]; exists {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultValue
}
