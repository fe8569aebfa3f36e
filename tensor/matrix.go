package tensor

import (
	"fmt"
)

// MatMul computes the product of two 2-D Float32 tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if err := checkCompatibility(a, b); err != nil {
		return nil, err
	}
	if a.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for MatMul: %s", a.DType)
	}
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("inner dimensions must match: %v x %v", a.Shape, b.Shape)
	}

	m := a.Shape[0]
	k := a.Shape[1]
	n := b.Shape[1]

	result, err := Zeros([]int{m, n}, Float32, a.Device)
	if err != nil {
		return nil, err
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	resultData := result.Data.([]float32)

	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := aData[i*k+l]
			if av == 0 {
				continue
			}
			row := bData[l*n : (l+1)*n]
			out := resultData[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				out[j] += av * row[j]
			}
		}
	}

	return result, nil
}

// Transpose swaps the axes of a 2-D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2-D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Transpose: %s", t.DType)
	}

	rows := t.Shape[0]
	cols := t.Shape[1]

	result, err := Zeros([]int{cols, rows}, Float32, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			resultData[j*rows+i] = data[i*cols+j]
		}
	}

	return result, nil
}
