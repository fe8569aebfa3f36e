package layers

import (
	"fmt"
	"math"

	"github.com/emberml/ember/tensor"
)

// Constraint is a pure function applied to a weight tensor after each
// optimizer update (non-negativity, norm clipping, ...).
type Constraint interface {
	Name() string
	Apply(w *tensor.Tensor) (*tensor.Tensor, error)
}

// ConstraintByName resolves a registered constraint from its serialized
// name. An empty name resolves to no constraint.
func ConstraintByName(name string) (Constraint, error) {
	switch name {
	case "":
		return nil, nil
	case "non_neg":
		return &NonNeg{}, nil
	case "max_norm":
		return &MaxNorm{MaxValue: 2.0}, nil
	case "unit_norm":
		return &UnitNorm{}, nil
	default:
		return nil, fmt.Errorf("unknown constraint: %q", name)
	}
}

// NonNeg clamps every weight to be non-negative.
type NonNeg struct{}

func (c *NonNeg) Name() string { return "non_neg" }

func (c *NonNeg) Apply(w *tensor.Tensor) (*tensor.Tensor, error) {
	result, err := w.Clone()
	if err != nil {
		return nil, err
	}
	data, err := result.Float32Data()
	if err != nil {
		return nil, err
	}
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
	return result, nil
}

// MaxNorm rescales each row of a 2-D weight so its L2 norm does not
// exceed MaxValue.
type MaxNorm struct {
	MaxValue float32
}

func (c *MaxNorm) Name() string { return "max_norm" }

func (c *MaxNorm) Apply(w *tensor.Tensor) (*tensor.Tensor, error) {
	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("max_norm constraint requires a 2-D weight, got shape %v", w.Shape)
	}
	if c.MaxValue <= 0 {
		return nil, fmt.Errorf("max_norm constraint requires a positive max value, got %f", c.MaxValue)
	}

	result, err := w.Clone()
	if err != nil {
		return nil, err
	}
	data, err := result.Float32Data()
	if err != nil {
		return nil, err
	}

	rows := w.Shape[0]
	width := w.Shape[1]
	for i := 0; i < rows; i++ {
		row := data[i*width : (i+1)*width]
		var sq float64
		for _, v := range row {
			sq += float64(v) * float64(v)
		}
		norm := math.Sqrt(sq)
		if norm > float64(c.MaxValue) {
			scale := float32(float64(c.MaxValue) / norm)
			for j := range row {
				row[j] *= scale
			}
		}
	}
	return result, nil
}

// UnitNorm rescales each row of a 2-D weight to unit L2 norm. Zero rows
// are left untouched.
type UnitNorm struct{}

func (c *UnitNorm) Name() string { return "unit_norm" }

func (c *UnitNorm) Apply(w *tensor.Tensor) (*tensor.Tensor, error) {
	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("unit_norm constraint requires a 2-D weight, got shape %v", w.Shape)
	}

	result, err := w.Clone()
	if err != nil {
		return nil, err
	}
	data, err := result.Float32Data()
	if err != nil {
		return nil, err
	}

	rows := w.Shape[0]
	width := w.Shape[1]
	for i := 0; i < rows; i++ {
		row := data[i*width : (i+1)*width]
		var sq float64
		for _, v := range row {
			sq += float64(v) * float64(v)
		}
		norm := math.Sqrt(sq)
		if norm > 0 {
			scale := float32(1.0 / norm)
			for j := range row {
				row[j] *= scale
			}
		}
	}
	return result, nil
}
