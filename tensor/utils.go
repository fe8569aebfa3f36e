package tensor

import (
	"fmt"
)

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() (*Tensor, error) {
	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	switch t.DType {
	case Float32:
		copy(result.Data.([]float32), t.Data.([]float32))
	case Int32:
		copy(result.Data.([]int32), t.Data.([]int32))
	case Bool:
		copy(result.Data.([]bool), t.Data.([]bool))
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return result, nil
}

// Reshape returns a view-copy of the tensor with a new shape holding the
// same number of elements.
func Reshape(t *Tensor, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if calculateNumElements(shape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, t.NumElems, shape)
	}

	clone, err := t.Clone()
	if err != nil {
		return nil, err
	}
	clone.Shape = append([]int(nil), shape...)
	clone.Strides = calculateStrides(shape)
	return clone, nil
}

// ShapesEqual reports whether two shapes are identical.
func ShapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CopyFrom overwrites the tensor's data with the contents of src, which
// must have the same shape and dtype.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if err := checkCompatibility(t, src); err != nil {
		return err
	}
	if !ShapesEqual(t.Shape, src.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}

	switch t.DType {
	case Float32:
		copy(t.Data.([]float32), src.Data.([]float32))
	case Int32:
		copy(t.Data.([]int32), src.Data.([]int32))
	case Bool:
		copy(t.Data.([]bool), src.Data.([]bool))
	default:
		return fmt.Errorf("unsupported dtype for CopyFrom: %s", t.DType)
	}
	return nil
}

// Zero overwrites every element with the zero value.
func (t *Tensor) Zero() {
	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		for i := range data {
			data[i] = 0
		}
	case Int32:
		data := t.Data.([]int32)
		for i := range data {
			data[i] = 0
		}
	case Bool:
		data := t.Data.([]bool)
		for i := range data {
			data[i] = false
		}
	}
}

// SliceDim0 returns a copy of rows [start, end) along the leading axis.
func SliceDim0(t *Tensor, start, end int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("cannot slice a scalar tensor")
	}
	if start < 0 || end > t.Shape[0] || start >= end {
		return nil, fmt.Errorf("slice [%d, %d) out of range for leading axis %d", start, end, t.Shape[0])
	}

	rowSize := t.NumElems / t.Shape[0]
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	shape[0] = end - start

	result, err := Zeros(shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	lo, hi := start*rowSize, end*rowSize
	switch t.DType {
	case Float32:
		copy(result.Data.([]float32), t.Data.([]float32)[lo:hi])
	case Int32:
		copy(result.Data.([]int32), t.Data.([]int32)[lo:hi])
	case Bool:
		copy(result.Data.([]bool), t.Data.([]bool)[lo:hi])
	default:
		return nil, fmt.Errorf("unsupported dtype for SliceDim0: %s", t.DType)
	}
	return result, nil
}

// MaxAbsDiff returns the largest absolute elementwise difference between
// two Float32 tensors of the same shape.
func MaxAbsDiff(a, b *Tensor) (float32, error) {
	if err := checkCompatibility(a, b); err != nil {
		return 0, err
	}
	if a.DType != Float32 {
		return 0, fmt.Errorf("unsupported dtype for MaxAbsDiff: %s", a.DType)
	}
	if !ShapesEqual(a.Shape, b.Shape) {
		return 0, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	var max float32
	for i := range aData {
		d := aData[i] - bData[i]
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max, nil
}
