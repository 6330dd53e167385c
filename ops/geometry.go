package ops

import (
	"fmt"
	"image"
	"math"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/meta"
	"github.com/ollama/augpipe/ml"
)

func sampling(p graph.Params) (ml.SamplingMode, error) {
	s, err := p.String("interpolation", "bilinear")
	if err != nil {
		return 0, err
	}
	switch s {
	case "bilinear", "linear":
		return ml.SamplingModeBilinear, nil
	case "nearest":
		return ml.SamplingModeNearest, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q", s)
}

// sized is embedded by operators with a fixed output size.
type sized struct {
	width, height int
}

func (s sized) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	d, err := oneImage(in)
	if err != nil {
		return ml.TensorDesc{}, err
	}
	return ml.ImageDesc(s.height, s.width, d.Shape[2], ml.DTypeU8), nil
}

// Resize scales the valid region to width x height.
type Resize struct {
	sized
	mode ml.SamplingMode
}

func newResize(p graph.Params) (graph.Operator, error) {
	w, h, err := size(p)
	if err != nil {
		return nil, err
	}
	mode, err := sampling(p)
	if err != nil {
		return nil, err
	}
	return &Resize{sized: sized{w, h}, mode: mode}, nil
}

func (r *Resize) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	f := in[0]
	out, err := media.Resize(f, r.width, r.height, r.mode)
	if err != nil {
		return nil, err
	}
	if x.Meta != nil {
		x.Meta.Resize(f.ROI.Dx(), f.ROI.Dy(), r.width, r.height)
	}
	return out, nil
}

// Crop cuts a width x height window out of the valid region. X and Y place
// the window relative to the free space: 0 is left/top, 1 is right/bottom.
// Regions smaller than the window are cut whole and padded.
type Crop struct {
	sized
	x, y      graph.Value
	threshold float32
}

func newCrop(p graph.Params) (graph.Operator, error) {
	w, h, err := size(p)
	if err != nil {
		return nil, err
	}
	vals, err := values(p, map[string]float64{"x": 0.5, "y": 0.5})
	if err != nil {
		return nil, err
	}
	thr, err := p.Float("iou_threshold", 0)
	if err != nil {
		return nil, err
	}
	return &Crop{sized: sized{w, h}, x: vals["x"], y: vals["y"], threshold: float32(thr)}, nil
}

// window places a cw x ch window in a w x h region at the relative
// position (px, py).
func window(w, h, cw, ch int, px, py float64) image.Rectangle {
	px = min(max(px, 0), 1)
	py = min(max(py, 0), 1)
	x0 := int(math.Round(px * float64(w-cw)))
	y0 := int(math.Round(py * float64(h-ch)))
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

func boxOf(r image.Rectangle) meta.Box {
	return meta.Box{L: float32(r.Min.X), T: float32(r.Min.Y), R: float32(r.Max.X), B: float32(r.Max.Y)}
}

func (c *Crop) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	f := in[0]
	px, err := x.Float(c.x)
	if err != nil {
		return nil, err
	}
	py, err := x.Float(c.y)
	if err != nil {
		return nil, err
	}

	w, h := f.ROI.Dx(), f.ROI.Dy()
	rect := window(w, h, min(c.width, w), min(c.height, h), px, py)

	out, err := media.Crop(f, rect)
	if err != nil {
		return nil, err
	}
	if x.Meta != nil {
		x.Meta.CropResize(boxOf(rect), rect.Dx(), rect.Dy(), c.threshold)
	}
	return keepShape(out, c.width, c.height), nil
}

// CropResize cuts a window of relative Area and Aspect ratio (width over
// height) out of the valid region and scales it to width x height. Boxes
// overlapping the window by less than the IoU threshold are dropped.
type CropResize struct {
	sized
	mode      ml.SamplingMode
	vals      map[string]graph.Value
	threshold float32
}

func newCropResize(p graph.Params) (graph.Operator, error) {
	w, h, err := size(p)
	if err != nil {
		return nil, err
	}
	mode, err := sampling(p)
	if err != nil {
		return nil, err
	}
	vals, err := values(p, map[string]float64{"area": 1, "aspect": 1, "x": 0.5, "y": 0.5})
	if err != nil {
		return nil, err
	}
	thr, err := p.Float("iou_threshold", 0)
	if err != nil {
		return nil, err
	}
	return &CropResize{sized: sized{w, h}, mode: mode, vals: vals, threshold: float32(thr)}, nil
}

func (c *CropResize) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	f := in[0]
	v, err := resolve(x, c.vals)
	if err != nil {
		return nil, err
	}
	if v["area"] <= 0 || v["aspect"] <= 0 {
		return nil, fmt.Errorf("crop_resize: area %g and aspect %g must be positive", v["area"], v["aspect"])
	}

	w, h := f.ROI.Dx(), f.ROI.Dy()
	area := min(v["area"], 1) * float64(w*h)
	cw := int(math.Round(math.Sqrt(area * v["aspect"])))
	ch := int(math.Round(math.Sqrt(area / v["aspect"])))
	cw = min(max(cw, 1), w)
	ch = min(max(ch, 1), h)

	rect := window(w, h, cw, ch, v["x"], v["y"])
	cropped, err := media.Crop(f, rect)
	if err != nil {
		return nil, err
	}
	out, err := media.Resize(cropped, c.width, c.height, c.mode)
	if err != nil {
		return nil, err
	}
	if x.Meta != nil {
		x.Meta.CropResize(boxOf(rect), c.width, c.height, c.threshold)
	}
	return out, nil
}

// Flip mirrors the valid region. A flag value of 0.5 or more enables the
// direction, so coin flips can come from a UniformInt(0, 1) parameter.
type Flip struct {
	horizontal, vertical graph.Value
}

func newFlip(p graph.Params) (graph.Operator, error) {
	vals, err := values(p, map[string]float64{"horizontal": 1, "vertical": 0})
	if err != nil {
		return nil, err
	}
	return &Flip{horizontal: vals["horizontal"], vertical: vals["vertical"]}, nil
}

func (fl *Flip) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	return oneImage(in)
}

func (fl *Flip) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	f := in[0]
	h, err := x.Float(fl.horizontal)
	if err != nil {
		return nil, err
	}
	v, err := x.Float(fl.vertical)
	if err != nil {
		return nil, err
	}

	hflip, vflip := h >= 0.5, v >= 0.5
	if !hflip && !vflip {
		return f, nil
	}

	out := media.Flip(f, hflip, vflip)
	if x.Meta != nil {
		x.Meta.Flip(f.ROI.Dx(), f.ROI.Dy(), hflip, vflip)
	}
	return keepShape(out, f.Width, f.Height), nil
}
