// Package ops contains the image operators of the pipeline. Importing the
// package registers every operator with graph.DefaultRegistry.
//
// Randomized arguments are graph.Values: a constant, or a param.Handle that
// the parameter service draws once per sample.
package ops

import (
	"fmt"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/ml"
)

func init() {
	graph.Register("decode", newDecode)
	graph.Register("resize", newResize)
	graph.Register("crop", newCrop)
	graph.Register("crop_resize", newCropResize)
	graph.Register("flip", newFlip)
	graph.Register("brightness", newBrightness)
	graph.Register("contrast", newContrast)
	graph.Register("color_twist", newColorTwist)
	graph.Register("blend", newBlend)
}

// oneImage checks for a single decoded u8 image input.
func oneImage(in []ml.TensorDesc) (ml.TensorDesc, error) {
	if len(in) != 1 {
		return ml.TensorDesc{}, fmt.Errorf("expected 1 input, got %d", len(in))
	}
	return decoded(in[0])
}

func decoded(d ml.TensorDesc) (ml.TensorDesc, error) {
	if d.Encoded {
		return ml.TensorDesc{}, fmt.Errorf("input is encoded; decode it first")
	}
	if len(d.Shape) != 3 || d.DType != ml.DTypeU8 {
		return ml.TensorDesc{}, fmt.Errorf("expected u8 HWC image, got %v", d)
	}
	return d, nil
}

func size(p graph.Params) (int, int, error) {
	w, err := p.Int("width", 0)
	if err != nil {
		return 0, 0, err
	}
	h, err := p.Int("height", 0)
	if err != nil {
		return 0, 0, err
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("width and height must be positive, got %dx%d", w, h)
	}
	return w, h, nil
}

func values(p graph.Params, defaults map[string]float64) (map[string]graph.Value, error) {
	out := make(map[string]graph.Value, len(defaults))
	for key, def := range defaults {
		v, err := p.Value(key, def)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// resolve draws every named value for the sample.
func resolve(x *graph.Exec, vals map[string]graph.Value) (map[string]float64, error) {
	out := make(map[string]float64, len(vals))
	for key, v := range vals {
		f, err := x.Float(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = f
	}
	return out, nil
}

// keepShape places f in a canvas of the given size when an operator
// produced only the region of interest.
func keepShape(f *media.Frame, width, height int) *media.Frame {
	if f.Width == width && f.Height == height {
		return f
	}
	return media.Canvas(f, width, height)
}
