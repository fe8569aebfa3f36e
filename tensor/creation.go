package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	strides := calculateStrides(shape)

	tensor := &Tensor{
		Shape:    shape,
		Strides:  strides,
		DType:    dtype,
		Device:   device,
		NumElems: numElems,
	}

	if data != nil {
		if err := tensor.setData(data); err != nil {
			return nil, err
		}
	}

	return tensor, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	case Bool:
		switch d := data.(type) {
		case []bool:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		default:
			return fmt.Errorf("unsupported data type for Bool tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	case Bool:
		data = make([]bool, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, device, data)
}

func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	switch dtype {
	case Float32:
		data := make([]float32, numElems)
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, device, data)
	case Int32:
		data := make([]int32, numElems)
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, device, data)
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}
}

// FromScalar creates a single-element tensor holding the given value.
func FromScalar(value float64, dtype DType, device DeviceType) *Tensor {
	switch dtype {
	case Int32:
		t, _ := NewTensor([]int{1}, Int32, device, []int32{int32(value)})
		return t
	default:
		t, _ := NewTensor([]int{1}, Float32, device, []float32{float32(value)})
		return t
	}
}

// RandomUniform creates a Float32 tensor with entries drawn uniformly
// from [low, high) using the supplied source. A nil rng falls back to
// the shared global source.
func RandomUniform(shape []int, low, high float32, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if high < low {
		return nil, fmt.Errorf("invalid range: low %f > high %f", low, high)
	}

	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)
	span := high - low
	for i := range data {
		var u float32
		if rng != nil {
			u = rng.Float32()
		} else {
			u = rand.Float32()
		}
		data[i] = low + u*span
	}

	return NewTensor(shape, Float32, CPU, data)
}

// RandomNormal creates a Float32 tensor with entries drawn from a normal
// distribution with the given mean and standard deviation.
func RandomNormal(shape []int, mean, stddev float32, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if stddev < 0 {
		return nil, fmt.Errorf("standard deviation cannot be negative: %f", stddev)
	}

	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)
	for i := range data {
		var n float64
		if rng != nil {
			n = rng.NormFloat64()
		} else {
			n = rand.NormFloat64()
		}
		data[i] = mean + stddev*float32(n)
	}

	return NewTensor(shape, Float32, CPU, data)
}

// GlorotUniform creates a Float32 tensor initialized with the Glorot
// (Xavier) uniform scheme for the given fan-in and fan-out.
func GlorotUniform(shape []int, fanIn, fanOut int, rng *rand.Rand) (*Tensor, error) {
	if fanIn <= 0 || fanOut <= 0 {
		return nil, fmt.Errorf("fan-in and fan-out must be positive: %d, %d", fanIn, fanOut)
	}
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	return RandomUniform(shape, -limit, limit, rng)
}
