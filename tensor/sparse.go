package tensor

import (
	"fmt"
)

// SparseTensor is a COO-format sparse tensor of Int32 values, used for
// sparse index input to lookup layers. Indices holds one coordinate tuple
// per stored value; positions not listed carry no value at all, which is
// distinct from storing an explicit zero.
type SparseTensor struct {
	Indices    [][]int // coordinates, each of length len(DenseShape)
	Values     []int32
	DenseShape []int
}

// NewSparseTensor validates and constructs a COO sparse tensor.
func NewSparseTensor(indices [][]int, values []int32, denseShape []int) (*SparseTensor, error) {
	if err := validateShape(denseShape); err != nil {
		return nil, err
	}
	if len(indices) != len(values) {
		return nil, fmt.Errorf("sparse tensor has %d coordinates but %d values", len(indices), len(values))
	}

	for i, coord := range indices {
		if len(coord) != len(denseShape) {
			return nil, fmt.Errorf("coordinate %d has rank %d, dense shape has rank %d",
				i, len(coord), len(denseShape))
		}
		for d, c := range coord {
			if c < 0 || c >= denseShape[d] {
				return nil, fmt.Errorf("coordinate %d out of range: %v for dense shape %v",
					i, coord, denseShape)
			}
		}
	}

	return &SparseTensor{
		Indices:    indices,
		Values:     values,
		DenseShape: denseShape,
	}, nil
}

// NumStored returns the number of explicitly stored values.
func (sp *SparseTensor) NumStored() int {
	return len(sp.Values)
}

// ToDense materializes the sparse tensor as a dense Int32 tensor with
// zeros at unstored positions.
func (sp *SparseTensor) ToDense() (*Tensor, error) {
	result, err := Zeros(sp.DenseShape, Int32, CPU)
	if err != nil {
		return nil, err
	}

	data := result.Data.([]int32)
	strides := calculateStrides(sp.DenseShape)
	for i, coord := range sp.Indices {
		offset := 0
		for d, c := range coord {
			offset += c * strides[d]
		}
		data[offset] = sp.Values[i]
	}

	return result, nil
}

// FlatOffsets returns the row-major offset of every stored coordinate in
// the dense shape. Lookup layers use this to place gathered rows.
func (sp *SparseTensor) FlatOffsets() []int {
	strides := calculateStrides(sp.DenseShape)
	offsets := make([]int, len(sp.Indices))
	for i, coord := range sp.Indices {
		offset := 0
		for d, c := range coord {
			offset += c * strides[d]
		}
		offsets[i] = offset
	}
	return offsets
}
