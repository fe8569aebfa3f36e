package tensor

import (
	"fmt"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on same device: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

func checkShapesCompatible(shape1, shape2 []int) ([]int, error) {
	if len(shape1) == 0 || len(shape2) == 0 {
		return nil, fmt.Errorf("cannot operate on empty tensors")
	}

	if len(shape1) != len(shape2) {
		return nil, fmt.Errorf("tensor shapes must have same number of dimensions: %v vs %v", shape1, shape2)
	}

	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return nil, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
		}
	}

	return shape1, nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = data1[i] + data2[i]
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = data1[i] + data2[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Add: %s", t1.DType)
	}

	return result, nil
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = data1[i] - data2[i]
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = data1[i] - data2[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Sub: %s", t1.DType)
	}

	return result, nil
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = data1[i] * data2[i]
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = data1[i] * data2[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Mul: %s", t1.DType)
	}

	return result, nil
}

// Scale multiplies every element of a Float32 tensor by a scalar.
func Scale(t *Tensor, s float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Scale: %s", t.DType)
	}

	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)
	for i := 0; i < t.NumElems; i++ {
		resultData[i] = data[i] * s
	}

	return result, nil
}

// NotEqualScalar compares an Int32 tensor against a scalar and returns a
// Bool tensor of the same shape, true wherever the element differs.
func NotEqualScalar(t *Tensor, v int32) (*Tensor, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("unsupported dtype for NotEqualScalar: %s", t.DType)
	}

	result, err := Zeros(t.Shape, Bool, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]int32)
	resultData := result.Data.([]bool)
	for i := 0; i < t.NumElems; i++ {
		resultData[i] = data[i] != v
	}

	return result, nil
}

// GatherRows looks up rows of a 2-D Float32 table by integer index. The
// result has the index tensor's shape with the table's row width appended.
// Indices must lie in [0, rows).
func GatherRows(table, indices *Tensor) (*Tensor, error) {
	if table.DType != Float32 {
		return nil, fmt.Errorf("gather table must be Float32, got %s", table.DType)
	}
	if len(table.Shape) != 2 {
		return nil, fmt.Errorf("gather table must be 2-D, got shape %v", table.Shape)
	}
	if indices.DType != Int32 {
		return nil, fmt.Errorf("gather indices must be Int32, got %s", indices.DType)
	}

	rows := table.Shape[0]
	width := table.Shape[1]

	outputShape := make([]int, 0, len(indices.Shape)+1)
	outputShape = append(outputShape, indices.Shape...)
	outputShape = append(outputShape, width)

	result, err := Zeros(outputShape, Float32, table.Device)
	if err != nil {
		return nil, err
	}

	tableData := table.Data.([]float32)
	indexData := indices.Data.([]int32)
	resultData := result.Data.([]float32)

	for i, idx := range indexData {
		if idx < 0 || int(idx) >= rows {
			return nil, fmt.Errorf("gather index %d out of range [0, %d)", idx, rows)
		}
		copy(resultData[i*width:(i+1)*width], tableData[int(idx)*width:(int(idx)+1)*width])
	}

	return result, nil
}

// ScatterAddRows accumulates rows into a zero-initialized (numRows, width)
// table: for each position i, rows[i] is added to output[indices[i]].
// Positions sharing an index sum their contributions.
func ScatterAddRows(indices, rows *Tensor, numRows int) (*Tensor, error) {
	if indices.DType != Int32 {
		return nil, fmt.Errorf("scatter indices must be Int32, got %s", indices.DType)
	}
	if rows.DType != Float32 {
		return nil, fmt.Errorf("scatter rows must be Float32, got %s", rows.DType)
	}
	if numRows <= 0 {
		return nil, fmt.Errorf("scatter target must have positive row count, got %d", numRows)
	}
	if len(rows.Shape) < 1 {
		return nil, fmt.Errorf("scatter rows tensor cannot be empty")
	}

	width := rows.Shape[len(rows.Shape)-1]
	if rows.NumElems != indices.NumElems*width {
		return nil, fmt.Errorf("scatter rows size %d does not match %d indices of width %d",
			rows.NumElems, indices.NumElems, width)
	}

	result, err := Zeros([]int{numRows, width}, Float32, rows.Device)
	if err != nil {
		return nil, err
	}

	indexData := indices.Data.([]int32)
	rowData := rows.Data.([]float32)
	resultData := result.Data.([]float32)

	for i, idx := range indexData {
		if idx < 0 || int(idx) >= numRows {
			return nil, fmt.Errorf("scatter index %d out of range [0, %d)", idx, numRows)
		}
		dst := int(idx) * width
		src := i * width
		for j := 0; j < width; j++ {
			resultData[dst+j] += rowData[src+j]
		}
	}

	return result, nil
}
