package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/emberml/ember/layers"
	"github.com/emberml/ember/model"
	"github.com/emberml/ember/tensor"
)

func TestONNXRoundTrip(t *testing.T) {
	m, _ := buildTestModel(t, 0)

	spec, err := m.Spec()
	if err != nil {
		t.Fatalf("Failed to compile spec: %v", err)
	}
	weights, err := ExtractWeights(m)
	if err != nil {
		t.Fatalf("Failed to extract weights: %v", err)
	}

	checkpoint := &Checkpoint{ModelSpec: spec, Weights: weights}

	path := filepath.Join(t.TempDir(), "model.onnx")
	saver := NewCheckpointSaver(FormatONNX)
	if err := saver.SaveCheckpoint(checkpoint, path); err != nil {
		t.Fatalf("Failed to save ONNX checkpoint: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load ONNX checkpoint: %v", err)
	}

	if loaded.ModelSpec == nil {
		t.Fatal("imported checkpoint missing model spec")
	}
	if len(loaded.ModelSpec.Layers) != len(spec.Layers) {
		t.Fatalf("layer count changed: %d vs %d", len(loaded.ModelSpec.Layers), len(spec.Layers))
	}
	if !tensor.ShapesEqual(loaded.ModelSpec.InputShape, spec.InputShape) {
		t.Errorf("input shape changed: %v vs %v", loaded.ModelSpec.InputShape, spec.InputShape)
	}
	if len(loaded.Weights) != len(weights) {
		t.Fatalf("weight count changed: %d vs %d", len(loaded.Weights), len(weights))
	}

	// Restoring the imported graph reproduces the original predictions.
	restored, err := model.FromSpec(loaded.ModelSpec)
	if err != nil {
		t.Fatalf("Failed to rebuild model: %v", err)
	}
	if err := LoadWeightsInto(loaded.Weights, restored); err != nil {
		t.Fatalf("Failed to restore weights: %v", err)
	}

	x := testInput(t)
	want, err := m.Predict(x)
	if err != nil {
		t.Fatalf("Prediction failed: %v", err)
	}
	got, err := restored.Predict(x)
	if err != nil {
		t.Fatalf("Restored prediction failed: %v", err)
	}

	diff, err := tensor.MaxAbsDiff(want, got)
	if err != nil {
		t.Fatalf("Failed to compare predictions: %v", err)
	}
	if diff > 1e-5 {
		t.Errorf("predictions differ after ONNX round trip: max diff %g", diff)
	}
}

func TestONNXRoundTripWithActivations(t *testing.T) {
	embedding, err := layers.NewEmbedding(layers.EmbeddingConfig{
		InputDim: 10, OutputDim: 4, Name: "embed",
	})
	if err != nil {
		t.Fatalf("Failed to create embedding: %v", err)
	}
	dense, err := layers.NewDense(layers.DenseConfig{OutputSize: 3, UseBias: false, Name: "fc"})
	if err != nil {
		t.Fatalf("Failed to create dense layer: %v", err)
	}

	m := model.NewSequential("onnx-test").
		Add(embedding).
		Add(dense).
		Add(layers.NewReLU("relu")).
		Add(layers.NewSoftmax("probs"))
	if err := m.Build([]int{2, 3}); err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}

	spec, err := m.Spec()
	if err != nil {
		t.Fatalf("Failed to compile spec: %v", err)
	}
	weights, err := ExtractWeights(m)
	if err != nil {
		t.Fatalf("Failed to extract weights: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.onnx")
	saver := NewCheckpointSaver(FormatONNX)
	if err := saver.SaveCheckpoint(&Checkpoint{ModelSpec: spec, Weights: weights}, path); err != nil {
		t.Fatalf("Failed to save ONNX checkpoint: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load ONNX checkpoint: %v", err)
	}

	// The bias-free dense layer must import with use_bias off.
	denseSpec := loaded.ModelSpec.Layers[1]
	if layers.GetBoolParam(denseSpec.Parameters, "use_bias", true) {
		t.Error("use_bias should be false after round trip")
	}

	types := []layers.LayerType{
		layers.LayerEmbedding, layers.LayerDense, layers.LayerReLU, layers.LayerSoftmax,
	}
	for i, want := range types {
		if loaded.ModelSpec.Layers[i].Type != want {
			t.Errorf("layer %d: expected %s, got %s",
				i, want.String(), loaded.ModelSpec.Layers[i].Type.String())
		}
	}
}

func TestONNXExportRequiresModelSpec(t *testing.T) {
	m, _ := buildTestModel(t, 0)
	weights, err := ExtractWeights(m)
	if err != nil {
		t.Fatalf("Failed to extract weights: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.onnx")
	saver := NewCheckpointSaver(FormatONNX)
	err = saver.SaveCheckpoint(&Checkpoint{Weights: weights}, path)
	if err == nil {
		t.Error("expected error exporting weights-only checkpoint")
	}
}
