package layers

import (
	"fmt"
	"math"

	"github.com/emberml/ember/tensor"
)

// EmbeddingConfig holds configuration for an Embedding layer.
type EmbeddingConfig struct {
	InputDim   int        // vocabulary size
	OutputDim  int        // embedding width
	MaskZero   bool       // treat index 0 as padding when deriving masks
	Constraint Constraint // optional table constraint, incompatible with LoRA
	LoraRank   int        // >0 enables low-rank adaptation at build time
	Name       string
}

// Embedding maps nonnegative integer indices to dense vectors via table
// lookup. With LoRA enabled the effective table is the frozen base plus
// the product of two trainable low-rank factors.
type Embedding struct {
	inputDim   int
	outputDim  int
	maskZero   bool
	constraint Constraint
	name       string

	// lora_rank from the constructor; preserved for spec round-trips even
	// though EnableLora can also be called after build.
	configLoraRank int

	built      bool
	embeddings *tensor.Tensor // (inputDim, outputDim)

	loraEnabled bool
	loraRank    int
	loraA       *tensor.Tensor // (inputDim, rank)
	loraB       *tensor.Tensor // (rank, outputDim)
}

// NewEmbedding creates an unbuilt Embedding layer.
func NewEmbedding(config EmbeddingConfig) (*Embedding, error) {
	if config.InputDim <= 0 {
		return nil, fmt.Errorf("input_dim must be positive, got %d", config.InputDim)
	}
	if config.OutputDim <= 0 {
		return nil, fmt.Errorf("output_dim must be positive, got %d", config.OutputDim)
	}
	if config.LoraRank < 0 {
		return nil, fmt.Errorf("lora_rank cannot be negative, got %d", config.LoraRank)
	}
	if config.LoraRank > 0 && config.Constraint != nil {
		return nil, fmt.Errorf("lora is incompatible with embedding constraints")
	}

	name := config.Name
	if name == "" {
		name = "embedding"
	}

	return &Embedding{
		inputDim:       config.InputDim,
		outputDim:      config.OutputDim,
		maskZero:       config.MaskZero,
		constraint:     config.Constraint,
		configLoraRank: config.LoraRank,
		name:           name,
	}, nil
}

func (e *Embedding) Name() string { return e.name }

func (e *Embedding) Built() bool { return e.built }

// InputDim returns the vocabulary size.
func (e *Embedding) InputDim() int { return e.inputDim }

// OutputDim returns the embedding width.
func (e *Embedding) OutputDim() int { return e.outputDim }

// MaskZero reports whether index 0 is treated as padding.
func (e *Embedding) MaskZero() bool { return e.maskZero }

// LoraEnabled reports whether low-rank adaptation is active.
func (e *Embedding) LoraEnabled() bool { return e.loraEnabled }

// Constraint returns the table constraint, if any.
func (e *Embedding) Constraint() Constraint { return e.constraint }

// Build allocates the embedding table. The input shape is not needed for
// parameter allocation and may be nil. Building a layer constructed with
// a positive LoraRank also enables LoRA.
func (e *Embedding) Build(inputShape []int) error {
	if e.built {
		return nil
	}

	scale := float32(1.0 / math.Sqrt(float64(e.outputDim)))
	table, err := tensor.RandomUniform([]int{e.inputDim, e.outputDim}, -scale, scale, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding table: %v", err)
	}
	e.embeddings = table
	e.built = true

	if e.configLoraRank > 0 {
		if err := e.EnableLora(e.configLoraRank); err != nil {
			return err
		}
	}
	return nil
}

// EnableLora freezes the base table and adds two trainable low-rank
// factors whose product augments it at lookup time. The A factor starts
// random and B starts at zero, so enabling LoRA does not change the
// layer's output until training moves the factors.
func (e *Embedding) EnableLora(rank int) error {
	if !e.built {
		return fmt.Errorf("cannot enable lora on a layer that isn't yet built")
	}
	if e.loraEnabled {
		return fmt.Errorf("lora is already enabled")
	}
	if e.constraint != nil {
		return fmt.Errorf("lora is incompatible with embedding constraints")
	}
	if rank <= 0 {
		return fmt.Errorf("lora rank must be positive, got %d", rank)
	}

	a, err := tensor.GlorotUniform([]int{e.inputDim, rank}, e.inputDim, rank, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize lora factor a: %v", err)
	}
	b, err := tensor.Zeros([]int{rank, e.outputDim}, tensor.Float32, tensor.CPU)
	if err != nil {
		return fmt.Errorf("failed to initialize lora factor b: %v", err)
	}

	e.loraA = a
	e.loraB = b
	e.loraRank = rank
	e.loraEnabled = true
	return nil
}

// effectiveTable returns the table lookups read from: the base table, or
// base + A.B when LoRA is enabled.
func (e *Embedding) effectiveTable() (*tensor.Tensor, error) {
	if !e.loraEnabled {
		return e.embeddings, nil
	}
	delta, err := tensor.MatMul(e.loraA, e.loraB)
	if err != nil {
		return nil, fmt.Errorf("failed to compute lora delta: %v", err)
	}
	return tensor.Add(e.embeddings, delta)
}

// EffectiveEmbeddings returns a copy of the table the layer looks up
// from, with any LoRA contribution folded in.
func (e *Embedding) EffectiveEmbeddings() (*tensor.Tensor, error) {
	if !e.built {
		return nil, fmt.Errorf("layer %s is not built", e.name)
	}
	table, err := e.effectiveTable()
	if err != nil {
		return nil, err
	}
	if table == e.embeddings {
		return e.embeddings.Clone()
	}
	return table, nil
}

// Call looks up rows for an Int32 index tensor of any rank. The result
// has the input shape with the embedding width appended.
func (e *Embedding) Call(indices *tensor.Tensor) (*tensor.Tensor, error) {
	if !e.built {
		return nil, fmt.Errorf("layer %s is not built", e.name)
	}
	if indices.DType != tensor.Int32 {
		return nil, fmt.Errorf("embedding input must be Int32, got %s", indices.DType)
	}

	table, err := e.effectiveTable()
	if err != nil {
		return nil, err
	}
	return tensor.GatherRows(table, indices)
}

// CallSparse looks up rows for a sparse COO index tensor. Output rows at
// positions with no stored entry are zero; the stored positions match the
// dense path exactly.
func (e *Embedding) CallSparse(sp *tensor.SparseTensor) (*tensor.Tensor, error) {
	if !e.built {
		return nil, fmt.Errorf("layer %s is not built", e.name)
	}

	table, err := e.effectiveTable()
	if err != nil {
		return nil, err
	}
	tableData, err := table.Float32Data()
	if err != nil {
		return nil, err
	}

	outputShape := make([]int, 0, len(sp.DenseShape)+1)
	outputShape = append(outputShape, sp.DenseShape...)
	outputShape = append(outputShape, e.outputDim)

	result, err := tensor.Zeros(outputShape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	resultData := result.Data.([]float32)

	offsets := sp.FlatOffsets()
	for i, idx := range sp.Values {
		if idx < 0 || int(idx) >= e.inputDim {
			return nil, fmt.Errorf("gather index %d out of range [0, %d)", idx, e.inputDim)
		}
		dst := offsets[i] * e.outputDim
		src := int(idx) * e.outputDim
		copy(resultData[dst:dst+e.outputDim], tableData[src:src+e.outputDim])
	}

	return result, nil
}

// ComputeMask derives the padding mask for an index tensor: nil when
// mask_zero is off, otherwise a Bool tensor true wherever the index is
// nonzero.
func (e *Embedding) ComputeMask(indices *tensor.Tensor) (*tensor.Tensor, error) {
	if !e.maskZero {
		return nil, nil
	}
	return tensor.NotEqualScalar(indices, 0)
}

// OutputShape appends the embedding width to the input shape.
func (e *Embedding) OutputShape(inputShape []int) ([]int, error) {
	if len(inputShape) < 1 {
		return nil, fmt.Errorf("embedding layer requires at least 1D input")
	}
	out := make([]int, 0, len(inputShape)+1)
	out = append(out, inputShape...)
	out = append(out, e.outputDim)
	return out, nil
}

// SetEmbeddings overwrites the base table.
func (e *Embedding) SetEmbeddings(data *tensor.Tensor) error {
	if !e.built {
		return fmt.Errorf("layer %s is not built", e.name)
	}
	return e.embeddings.CopyFrom(data)
}

// Embeddings returns the base table (excluding any LoRA contribution).
func (e *Embedding) Embeddings() *tensor.Tensor { return e.embeddings }

// LoraA returns the first LoRA factor, nil when LoRA is off.
func (e *Embedding) LoraA() *tensor.Tensor { return e.loraA }

// LoraB returns the second LoRA factor, nil when LoRA is off.
func (e *Embedding) LoraB() *tensor.Tensor { return e.loraB }

// Weights lists the layer's parameters. A plain layer owns one trainable
// table; a LoRA layer owns a frozen table plus two trainable factors.
func (e *Embedding) Weights() []*Weight {
	if !e.built {
		return nil
	}
	if e.loraEnabled {
		return []*Weight{
			{Name: e.name + ".embeddings", Type: "embeddings", Trainable: false, Value: e.embeddings},
			{Name: e.name + ".lora_embeddings_a", Type: "lora_embeddings_a", Trainable: true, Value: e.loraA},
			{Name: e.name + ".lora_embeddings_b", Type: "lora_embeddings_b", Trainable: true, Value: e.loraB},
		}
	}
	return []*Weight{
		{Name: e.name + ".embeddings", Type: "embeddings", Trainable: true, Value: e.embeddings},
	}
}

// TrainableWeights returns the weights updated by the optimizer.
func (e *Embedding) TrainableWeights() []*Weight { return TrainableOf(e) }

// NonTrainableWeights returns the frozen weights.
func (e *Embedding) NonTrainableWeights() []*Weight { return NonTrainableOf(e) }

// Backward computes gradients for one lookup. gradOut carries the loss
// gradient with the input shape plus a trailing embedding axis. The
// returned slice aligns with TrainableWeights: the table gradient for a
// plain layer, the A and B factor gradients for a LoRA layer. Index
// input carries no gradient, so the input gradient is always nil.
func (e *Embedding) Backward(indices, gradOut *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error) {
	if !e.built {
		return nil, nil, fmt.Errorf("layer %s is not built", e.name)
	}

	// Scatter-add the output gradients back onto table rows; repeated
	// indices accumulate.
	gradTable, err := tensor.ScatterAddRows(indices, gradOut, e.inputDim)
	if err != nil {
		return nil, nil, err
	}

	if !e.loraEnabled {
		return nil, []*tensor.Tensor{gradTable}, nil
	}

	// d/dA (base + A.B) = gradTable . B^T ; d/dB = A^T . gradTable
	bT, err := tensor.Transpose(e.loraB)
	if err != nil {
		return nil, nil, err
	}
	gradA, err := tensor.MatMul(gradTable, bT)
	if err != nil {
		return nil, nil, err
	}
	aT, err := tensor.Transpose(e.loraA)
	if err != nil {
		return nil, nil, err
	}
	gradB, err := tensor.MatMul(aT, gradTable)
	if err != nil {
		return nil, nil, err
	}

	return nil, []*tensor.Tensor{gradA, gradB}, nil
}

// ApplyConstraint re-applies the table constraint after an update.
func (e *Embedding) ApplyConstraint() error {
	if e.constraint == nil || !e.built {
		return nil
	}
	constrained, err := e.constraint.Apply(e.embeddings)
	if err != nil {
		return err
	}
	return e.embeddings.CopyFrom(constrained)
}

// SaveWeights serializes the layer with any LoRA contribution folded into
// a single plain table, so checkpoints never carry factor tensors.
func (e *Embedding) SaveWeights() ([]*Weight, error) {
	if !e.built {
		return nil, fmt.Errorf("layer %s is not built", e.name)
	}
	folded, err := e.EffectiveEmbeddings()
	if err != nil {
		return nil, err
	}
	return []*Weight{
		{Name: e.name + ".embeddings", Type: "embeddings", Trainable: !e.loraEnabled, Value: folded},
	}, nil
}

// LoadWeights restores the layer from a serialized (folded) table. When
// LoRA is enabled both factors are reset to zero so the restored layer
// reproduces the checkpoint's predictions exactly.
func (e *Embedding) LoadWeights(ws []*Weight) error {
	if !e.built {
		return fmt.Errorf("layer %s is not built", e.name)
	}

	var table *tensor.Tensor
	for _, w := range ws {
		if w.Type == "embeddings" {
			table = w.Value
			break
		}
	}
	if table == nil {
		return fmt.Errorf("no embeddings weight found for layer %s", e.name)
	}

	if err := e.embeddings.CopyFrom(table); err != nil {
		return fmt.Errorf("failed to load embeddings for layer %s: %v", e.name, err)
	}
	if e.loraEnabled {
		e.loraA.Zero()
		e.loraB.Zero()
	}
	return nil
}

// Spec returns the layer's configuration. The spec records the
// constructor's lora_rank; adaptation enabled after build is a runtime
// state that folds away on save.
func (e *Embedding) Spec() LayerSpec {
	constraintName := ""
	if e.constraint != nil {
		constraintName = e.constraint.Name()
	}
	return LayerSpec{
		Type: LayerEmbedding,
		Name: e.name,
		Parameters: map[string]interface{}{
			"input_dim":             e.inputDim,
			"output_dim":            e.outputDim,
			"mask_zero":             e.maskZero,
			"lora_rank":             e.configLoraRank,
			"embeddings_constraint": constraintName,
		},
	}
}
