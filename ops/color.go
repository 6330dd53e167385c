package ops

import (
	"errors"
	"fmt"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/ml"
)

// pointwise is embedded by operators that keep the shape of their input.
type pointwise struct{}

func (pointwise) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) { return oneImage(in) }

// Brightness computes alpha*x + beta.
type Brightness struct {
	pointwise
	vals map[string]graph.Value
}

func newBrightness(p graph.Params) (graph.Operator, error) {
	vals, err := values(p, map[string]float64{"alpha": 1, "beta": 0})
	if err != nil {
		return nil, err
	}
	return &Brightness{vals: vals}, nil
}

func (b *Brightness) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	v, err := resolve(x, b.vals)
	if err != nil {
		return nil, err
	}
	return media.Brightness(in[0], float32(v["alpha"]), float32(v["beta"])), nil
}

// Contrast scales the distance of every value to mid gray.
type Contrast struct {
	pointwise
	factor graph.Value
}

func newContrast(p graph.Params) (graph.Operator, error) {
	v, err := p.Value("factor", 1)
	if err != nil {
		return nil, err
	}
	return &Contrast{factor: v}, nil
}

func (c *Contrast) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	f, err := x.Float(c.factor)
	if err != nil {
		return nil, err
	}
	return media.Contrast(in[0], float32(f)), nil
}

type ColorTwist struct {
	pointwise
	vals map[string]graph.Value
}

func newColorTwist(p graph.Params) (graph.Operator, error) {
	vals, err := values(p, map[string]float64{"alpha": 1, "beta": 0, "saturation": 1})
	if err != nil {
		return nil, err
	}
	return &ColorTwist{vals: vals}, nil
}

func (c *ColorTwist) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	v, err := resolve(x, c.vals)
	if err != nil {
		return nil, err
	}
	return media.ColorTwist(in[0], float32(v["alpha"]), float32(v["beta"]), float32(v["saturation"])), nil
}

// Blend mixes two images of the same shape: ratio*a + (1-ratio)*b.
type Blend struct {
	ratio graph.Value
}

func newBlend(p graph.Params) (graph.Operator, error) {
	v, err := p.Value("ratio", 0.5)
	if err != nil {
		return nil, err
	}
	return &Blend{ratio: v}, nil
}

func (b *Blend) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	if len(in) != 2 {
		return ml.TensorDesc{}, fmt.Errorf("blend expects 2 inputs, got %d", len(in))
	}
	a, err := decoded(in[0])
	if err != nil {
		return ml.TensorDesc{}, err
	}
	if !a.Equal(in[1]) {
		return ml.TensorDesc{}, errors.Join(ml.ErrShapeMismatch, fmt.Errorf("blend: %v != %v", a, in[1]))
	}
	return a, nil
}

func (b *Blend) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	r, err := x.Float(b.ratio)
	if err != nil {
		return nil, err
	}
	return media.Blend(in[0], in[1], float32(r))
}
