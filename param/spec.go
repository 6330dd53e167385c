package param

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Dist names a distribution.
type Dist string

const (
	DistConstant   Dist = "constant"
	DistUniform    Dist = "uniform"
	DistUniformInt Dist = "uniform_int"
	DistNormal     Dist = "normal"
	DistChoice     Dist = "choice"
)

var ErrInvalidSpec = errors.New("param: invalid distribution")

// Spec describes how a parameter is drawn. It is a plain value so that it
// can be serialized with a pipeline definition.
type Spec struct {
	Dist Dist `json:"dist"`

	Value float64 `json:"value,omitempty"`

	// Uniform and UniformInt draw from [Min, Max); UniformInt includes Max.
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`

	Mean float64 `json:"mean,omitempty"`
	Std  float64 `json:"std,omitempty"`

	Values  []float64 `json:"values,omitempty"`
	Weights []float64 `json:"weights,omitempty"`
}

func Constant(v float64) Spec { return Spec{Dist: DistConstant, Value: v} }

func Uniform(lo, hi float64) Spec { return Spec{Dist: DistUniform, Min: lo, Max: hi} }

func UniformInt(lo, hi int) Spec {
	return Spec{Dist: DistUniformInt, Min: float64(lo), Max: float64(hi)}
}

func Normal(mean, std float64) Spec { return Spec{Dist: DistNormal, Mean: mean, Std: std} }

// Choice picks one of values. Weights may be nil for equal probability.
func Choice(values []float64, weights []float64) Spec {
	return Spec{Dist: DistChoice, Values: values, Weights: weights}
}

// Validate checks that the spec can be drawn from.
func (s Spec) Validate() error {
	switch s.Dist {
	case DistConstant:
		return nil
	case DistUniform:
		if !(s.Min <= s.Max) {
			return fmt.Errorf("%w: uniform range [%v, %v]", ErrInvalidSpec, s.Min, s.Max)
		}
	case DistUniformInt:
		if s.Min > s.Max || s.Min != math.Trunc(s.Min) || s.Max != math.Trunc(s.Max) {
			return fmt.Errorf("%w: integer range [%v, %v]", ErrInvalidSpec, s.Min, s.Max)
		}
	case DistNormal:
		if s.Std < 0 {
			return fmt.Errorf("%w: negative std %v", ErrInvalidSpec, s.Std)
		}
	case DistChoice:
		if len(s.Values) == 0 {
			return fmt.Errorf("%w: empty choice", ErrInvalidSpec)
		}
		if s.Weights == nil {
			return nil
		}
		if len(s.Weights) != len(s.Values) {
			return fmt.Errorf("%w: %d weights for %d values", ErrInvalidSpec, len(s.Weights), len(s.Values))
		}
		var sum float64
		for _, w := range s.Weights {
			if w < 0 {
				return fmt.Errorf("%w: negative weight %v", ErrInvalidSpec, w)
			}
			sum += w
		}
		if sum <= 0 {
			return fmt.Errorf("%w: weights sum to zero", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidSpec, s.Dist)
	}
	return nil
}

// draw takes one value from r. Constant does not advance r.
func (s Spec) draw(r *rand.Rand) float64 {
	switch s.Dist {
	case DistUniform:
		return s.Min + r.Float64()*(s.Max-s.Min)
	case DistUniformInt:
		return s.Min + float64(r.Int64N(int64(s.Max-s.Min)+1))
	case DistNormal:
		return s.Mean + r.NormFloat64()*s.Std
	case DistChoice:
		u := r.Float64()
		if s.Weights == nil {
			return s.Values[min(int(u*float64(len(s.Values))), len(s.Values)-1)]
		}

		var total float64
		for _, w := range s.Weights {
			total += w
		}
		acc := 0.0
		for i, w := range s.Weights {
			acc += w / total
			if u < acc {
				return s.Values[i]
			}
		}
		return s.Values[len(s.Values)-1]
	default:
		return s.Value
	}
}
