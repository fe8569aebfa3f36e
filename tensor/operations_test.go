package tensor

import (
	"strings"
	"testing"
)

func TestAddFloat32(t *testing.T) {
	a, err := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	b, err := NewTensor([]int{2, 2}, Float32, CPU, []float32{10, 20, 30, 40})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}

	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	expected := []float32{11, 22, 33, 44}
	data := sum.Data.([]float32)
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("element %d: expected %f, got %f", i, v, data[i])
		}
	}
}

func TestAddShapeMismatch(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{4}, Float32, CPU, []float32{1, 2, 3, 4})

	if _, err := Add(a, b); err == nil {
		t.Error("expected error for mismatched shapes")
	}
}

func TestSubInt32(t *testing.T) {
	a, _ := NewTensor([]int{3}, Int32, CPU, []int32{5, 10, 15})
	b, _ := NewTensor([]int{3}, Int32, CPU, []int32{1, 2, 3})

	diff, err := Sub(a, b)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}

	expected := []int32{4, 8, 12}
	data := diff.Data.([]int32)
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("element %d: expected %d, got %d", i, v, data[i])
		}
	}
}

func TestScale(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1.5, -2})

	scaled, err := Scale(a, 2)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}

	data := scaled.Data.([]float32)
	if data[0] != 3 || data[1] != -4 {
		t.Errorf("expected [3 -4], got %v", data)
	}
}

func TestNotEqualScalar(t *testing.T) {
	indices, _ := NewTensor([]int{4}, Int32, CPU, []int32{0, 3, 0, 7})

	mask, err := NotEqualScalar(indices, 0)
	if err != nil {
		t.Fatalf("NotEqualScalar failed: %v", err)
	}
	if mask.DType != Bool {
		t.Errorf("expected Bool mask, got %s", mask.DType)
	}

	expected := []bool{false, true, false, true}
	data := mask.Data.([]bool)
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("element %d: expected %v, got %v", i, v, data[i])
		}
	}
}

func TestGatherRows(t *testing.T) {
	table, _ := NewTensor([]int{3, 2}, Float32, CPU, []float32{
		0, 0,
		2, 2,
		3, 3,
	})
	indices, _ := NewTensor([]int{3}, Int32, CPU, []int32{2, 1, 0})

	out, err := GatherRows(table, indices)
	if err != nil {
		t.Fatalf("GatherRows failed: %v", err)
	}

	if !ShapesEqual(out.Shape, []int{3, 2}) {
		t.Fatalf("expected shape [3 2], got %v", out.Shape)
	}

	expected := []float32{3, 3, 2, 2, 0, 0}
	data := out.Data.([]float32)
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("element %d: expected %f, got %f", i, v, data[i])
		}
	}
}

func TestGatherRowsHigherRankIndices(t *testing.T) {
	table, _ := NewTensor([]int{4, 3}, Float32, CPU, []float32{
		0, 1, 2,
		10, 11, 12,
		20, 21, 22,
		30, 31, 32,
	})
	indices, _ := NewTensor([]int{2, 2}, Int32, CPU, []int32{3, 0, 1, 1})

	out, err := GatherRows(table, indices)
	if err != nil {
		t.Fatalf("GatherRows failed: %v", err)
	}
	if !ShapesEqual(out.Shape, []int{2, 2, 3}) {
		t.Fatalf("expected shape [2 2 3], got %v", out.Shape)
	}

	data := out.Data.([]float32)
	if data[0] != 30 || data[3] != 0 || data[6] != 10 || data[9] != 10 {
		t.Errorf("unexpected gathered rows: %v", data)
	}
}

func TestGatherRowsOutOfRange(t *testing.T) {
	table, _ := NewTensor([]int{3, 2}, Float32, CPU, []float32{0, 0, 2, 2, 3, 3})
	indices, _ := NewTensor([]int{1}, Int32, CPU, []int32{3})

	_, err := GatherRows(table, indices)
	if err == nil {
		t.Fatal("expected error for out-of-range index")
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestScatterAddRowsAccumulates(t *testing.T) {
	indices, _ := NewTensor([]int{3}, Int32, CPU, []int32{1, 1, 0})
	rows, _ := NewTensor([]int{3, 2}, Float32, CPU, []float32{
		1, 2,
		3, 4,
		5, 6,
	})

	out, err := ScatterAddRows(indices, rows, 3)
	if err != nil {
		t.Fatalf("ScatterAddRows failed: %v", err)
	}

	expected := []float32{
		5, 6, // index 0
		4, 6, // index 1 accumulates both rows
		0, 0, // untouched
	}
	data := out.Data.([]float32)
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("element %d: expected %f, got %f", i, v, data[i])
		}
	}
}

func TestScatterAddRowsOutOfRange(t *testing.T) {
	indices, _ := NewTensor([]int{1}, Int32, CPU, []int32{5})
	rows, _ := NewTensor([]int{1, 2}, Float32, CPU, []float32{1, 2})

	if _, err := ScatterAddRows(indices, rows, 3); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestMatMul(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{
		1, 2, 3,
		4, 5, 6,
	})
	b, _ := NewTensor([]int{3, 2}, Float32, CPU, []float32{
		7, 8,
		9, 10,
		11, 12,
	})

	out, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	if !ShapesEqual(out.Shape, []int{2, 2}) {
		t.Fatalf("expected shape [2 2], got %v", out.Shape)
	}

	expected := []float32{58, 64, 139, 154}
	data := out.Data.([]float32)
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("element %d: expected %f, got %f", i, v, data[i])
		}
	}
}

func TestMatMulDimensionMismatch(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, make([]float32, 6))
	b, _ := NewTensor([]int{2, 2}, Float32, CPU, make([]float32, 4))

	if _, err := MatMul(a, b); err == nil {
		t.Error("expected error for inner dimension mismatch")
	}
}

func TestTranspose(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{
		1, 2, 3,
		4, 5, 6,
	})

	out, err := Transpose(a)
	if err != nil {
		t.Fatalf("Transpose failed: %v", err)
	}
	if !ShapesEqual(out.Shape, []int{3, 2}) {
		t.Fatalf("expected shape [3 2], got %v", out.Shape)
	}

	expected := []float32{1, 4, 2, 5, 3, 6}
	data := out.Data.([]float32)
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("element %d: expected %f, got %f", i, v, data[i])
		}
	}
}

func TestReshape(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})

	out, err := Reshape(a, []int{3, 2})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if !ShapesEqual(out.Shape, []int{3, 2}) {
		t.Fatalf("expected shape [3 2], got %v", out.Shape)
	}

	if _, err := Reshape(a, []int{4, 2}); err == nil {
		t.Error("expected error for element count mismatch")
	}
}

func TestSliceDim0(t *testing.T) {
	a, _ := NewTensor([]int{4, 2}, Float32, CPU, []float32{
		1, 2,
		3, 4,
		5, 6,
		7, 8,
	})

	out, err := SliceDim0(a, 1, 3)
	if err != nil {
		t.Fatalf("SliceDim0 failed: %v", err)
	}
	if !ShapesEqual(out.Shape, []int{2, 2}) {
		t.Fatalf("expected shape [2 2], got %v", out.Shape)
	}

	expected := []float32{3, 4, 5, 6}
	data := out.Data.([]float32)
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("element %d: expected %f, got %f", i, v, data[i])
		}
	}

	if _, err := SliceDim0(a, 2, 5); err == nil {
		t.Error("expected error for out-of-range slice")
	}
}

func TestRandomUniformRange(t *testing.T) {
	tensor, err := RandomUniform([]int{100}, -0.5, 0.5, nil)
	if err != nil {
		t.Fatalf("RandomUniform failed: %v", err)
	}

	data := tensor.Data.([]float32)
	for i, v := range data {
		if v < -0.5 || v >= 0.5 {
			t.Errorf("element %d out of range: %f", i, v)
		}
	}
}

func TestGlorotUniformLimit(t *testing.T) {
	tensor, err := GlorotUniform([]int{10, 10}, 10, 10, nil)
	if err != nil {
		t.Fatalf("GlorotUniform failed: %v", err)
	}

	// sqrt(6 / 20) ~ 0.5477
	limit := float32(0.5478)
	data := tensor.Data.([]float32)
	for i, v := range data {
		if v < -limit || v > limit {
			t.Errorf("element %d exceeds Glorot limit: %f", i, v)
		}
	}
}
