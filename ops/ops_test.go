package ops

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/meta"
	"github.com/ollama/augpipe/ml"
	"github.com/ollama/augpipe/param"
	"github.com/ollama/augpipe/reader"
)

func transform(t *testing.T, kind string, p graph.Params) graph.Transform {
	t.Helper()
	op, err := graph.DefaultRegistry.Create(kind, p)
	require.NoError(t, err)
	tr, ok := op.(graph.Transform)
	require.True(t, ok, "%s ist keine Transformation", kind)
	return tr
}

// ramp returns a single channel frame whose value is the x coordinate.
func ramp(w, h int) *media.Frame {
	f := media.NewFrame(w, h, 1)
	for y := range h {
		for x := range w {
			f.Set(x, y, 0, uint8(x))
		}
	}
	return f
}

func filled(w, h, c int, v uint8) *media.Frame {
	f := media.NewFrame(w, h, c)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRegistered(t *testing.T) {
	for _, kind := range []string{"decode", "resize", "crop", "crop_resize", "flip", "brightness", "contrast", "color_twist", "blend"} {
		if !graph.DefaultRegistry.Has(kind) {
			t.Errorf("%s nicht registriert", kind)
		}
	}
}

func TestDecode(t *testing.T) {
	tr := transform(t, "decode", graph.Params{"max_width": 8, "max_height": 8})

	out, err := tr.Infer([]ml.TensorDesc{{Encoded: true}})
	require.NoError(t, err)
	require.Equal(t, []int{8, 8, 3}, out.Shape)

	_, err = tr.Infer([]ml.TensorDesc{ml.ImageDesc(8, 8, 3, ml.DTypeU8)})
	require.Error(t, err)

	t.Run("small", func(t *testing.T) {
		rec := &meta.Record{}
		f, err := tr.Apply(&graph.Exec{Meta: rec}, []*media.Frame{media.EncodedFrame(pngBytes(t, 4, 2))})
		require.NoError(t, err)
		require.Equal(t, 8, f.Width)
		require.Equal(t, image.Rect(0, 0, 4, 2), f.ROI)
		require.Equal(t, uint8(200), f.At(0, 0, 0))
		require.Equal(t, uint8(0), f.At(5, 0, 0), "canvas-rand")
		require.Equal(t, 4, rec.OrigWidth)
		require.Equal(t, 2, rec.OrigHeight)
	})

	t.Run("downscaled", func(t *testing.T) {
		rec := &meta.Record{Boxes: []meta.Box{{L: 0, T: 0, R: 16, B: 8}}, BoxLabels: []int{1}}
		f, err := tr.Apply(&graph.Exec{Meta: rec}, []*media.Frame{media.EncodedFrame(pngBytes(t, 16, 8))})
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 8, 4), f.ROI)
		if diff := cmp.Diff([]meta.Box{{L: 0, T: 0, R: 8, B: 4}}, rec.Boxes); diff != "" {
			t.Errorf("boxes (-erwartet +bekommen):\n%s", diff)
		}
		require.Equal(t, 16, rec.OrigWidth)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := tr.Apply(&graph.Exec{Meta: &meta.Record{}}, []*media.Frame{media.EncodedFrame([]byte("kein bild"))})
		require.ErrorIs(t, err, graph.ErrMalformed)
	})

	_, err = graph.DefaultRegistry.Create("decode", graph.Params{"max_width": 8})
	require.Error(t, err)
}

func TestResize(t *testing.T) {
	tr := transform(t, "resize", graph.Params{"width": 8, "height": 6, "interpolation": "nearest"})

	out, err := tr.Infer([]ml.TensorDesc{ml.ImageDesc(4, 4, 3, ml.DTypeU8)})
	require.NoError(t, err)
	require.Equal(t, []int{6, 8, 3}, out.Shape)

	_, err = tr.Infer([]ml.TensorDesc{{Encoded: true}})
	require.Error(t, err)

	rec := &meta.Record{Boxes: []meta.Box{{L: 0, T: 0, R: 2, B: 2}}, BoxLabels: []int{3}}
	f, err := tr.Apply(&graph.Exec{Meta: rec}, []*media.Frame{filled(4, 4, 3, 9)})
	require.NoError(t, err)
	require.Equal(t, 8, f.Width)
	require.Equal(t, 6, f.Height)
	require.Equal(t, uint8(9), f.At(7, 5, 2))
	require.Equal(t, []meta.Box{{L: 0, T: 0, R: 4, B: 3}}, rec.Boxes)

	_, err = graph.DefaultRegistry.Create("resize", graph.Params{"width": 8, "height": 6, "interpolation": "cubic"})
	require.Error(t, err)
}

func TestWindow(t *testing.T) {
	cases := []struct {
		px, py float64
		want   image.Rectangle
	}{
		{0, 0, image.Rect(0, 0, 4, 4)},
		{1, 1, image.Rect(6, 6, 10, 10)},
		{0.5, 0, image.Rect(3, 0, 7, 4)},
		{-3, 7, image.Rect(0, 6, 4, 10)},
	}
	for _, tt := range cases {
		if got := window(10, 10, 4, 4, tt.px, tt.py); got != tt.want {
			t.Errorf("window(%g, %g): erwartet %v, bekommen %v", tt.px, tt.py, tt.want, got)
		}
	}
}

func TestCrop(t *testing.T) {
	tr := transform(t, "crop", graph.Params{"width": 4, "height": 4, "x": 1, "y": 0})

	rec := &meta.Record{
		Boxes:     []meta.Box{{L: 7, T: 0, R: 9, B: 2}, {L: 0, T: 0, R: 2, B: 2}},
		BoxLabels: []int{1, 2},
	}
	f, err := tr.Apply(&graph.Exec{Meta: rec}, []*media.Frame{ramp(10, 10)})
	require.NoError(t, err)
	require.Equal(t, 4, f.Width)
	require.Equal(t, uint8(6), f.At(0, 0, 0))
	require.Equal(t, uint8(9), f.At(3, 3, 0))

	require.Equal(t, []meta.Box{{L: 1, T: 0, R: 3, B: 2}}, rec.Boxes)
	require.Equal(t, []int{1}, rec.BoxLabels)

	// Regions smaller than the window are padded to the output size.
	small, err := tr.Apply(&graph.Exec{}, []*media.Frame{ramp(2, 3)})
	require.NoError(t, err)
	require.Equal(t, 4, small.Width)
	require.Equal(t, 4, small.Height)
	require.Equal(t, image.Rect(0, 0, 2, 3), small.ROI)
}

func TestCropResizeRandom(t *testing.T) {
	svc := param.NewService(1)
	area, err := svc.Create(param.KindFloat, param.Constant(0.25))
	require.NoError(t, err)
	x, err := svc.Create(param.KindFloat, param.Uniform(0, 1))
	require.NoError(t, err)

	tr := transform(t, "crop_resize", graph.Params{
		"width": 2, "height": 2, "area": area, "x": x, "y": 0.0,
	})

	d := svc.Renew(2)
	for i := range 2 {
		rec := &meta.Record{Boxes: []meta.Box{{L: 0, T: 0, R: 8, B: 8}}, BoxLabels: []int{5}}
		f, err := tr.Apply(&graph.Exec{Sample: i, Draw: d, Meta: rec}, []*media.Frame{ramp(8, 8)})
		require.NoError(t, err)
		require.Equal(t, 2, f.Width)
		require.Equal(t, 2, f.Height)

		// A 4x4 window is covered by the box, which becomes the full output.
		require.Equal(t, []meta.Box{{L: 0, T: 0, R: 2, B: 2}}, rec.Boxes)
	}

	// Random values need a draw.
	_, err = tr.Apply(&graph.Exec{}, []*media.Frame{ramp(8, 8)})
	require.Error(t, err)
}

func TestCropResizeThreshold(t *testing.T) {
	tr := transform(t, "crop_resize", graph.Params{
		"width": 4, "height": 4, "area": 0.25, "x": 0.0, "y": 0.0, "iou_threshold": 0.5,
	})

	rec := &meta.Record{
		// IoU with the 4x4 window: 1 and 4/16.
		Boxes:     []meta.Box{{L: 0, T: 0, R: 4, B: 4}, {L: 2, T: 2, R: 4, B: 4}},
		BoxLabels: []int{1, 2},
	}
	_, err := tr.Apply(&graph.Exec{Meta: rec}, []*media.Frame{ramp(8, 8)})
	require.NoError(t, err)
	require.Equal(t, []int{1}, rec.BoxLabels)
}

func TestFlip(t *testing.T) {
	tr := transform(t, "flip", graph.Params{})

	rec := &meta.Record{Boxes: []meta.Box{{L: 0, T: 0, R: 1, B: 1}}, BoxLabels: []int{1}}
	f, err := tr.Apply(&graph.Exec{Meta: rec}, []*media.Frame{ramp(3, 1)})
	require.NoError(t, err)
	require.Equal(t, []uint8{2, 1, 0}, f.Pix)
	require.Equal(t, []meta.Box{{L: 2, T: 0, R: 3, B: 1}}, rec.Boxes)

	// Flip inside a canvas keeps the canvas size.
	canvas := media.Canvas(ramp(2, 2), 4, 2)
	f, err = tr.Apply(&graph.Exec{}, []*media.Frame{canvas})
	require.NoError(t, err)
	require.Equal(t, 4, f.Width)
	require.Equal(t, image.Rect(0, 0, 2, 2), f.ROI)
	require.Equal(t, uint8(1), f.At(0, 0, 0))

	off := transform(t, "flip", graph.Params{"horizontal": 0})
	in := ramp(3, 1)
	f, err = off.Apply(&graph.Exec{}, []*media.Frame{in})
	require.NoError(t, err)
	require.Same(t, in, f)
}

func TestColorOps(t *testing.T) {
	cases := []struct {
		kind   string
		params graph.Params
		in     uint8
		want   uint8
	}{
		{"brightness", graph.Params{"alpha": 2, "beta": 10}, 50, 110},
		{"brightness", graph.Params{}, 50, 50},
		{"contrast", graph.Params{"factor": 0}, 10, 128},
		{"contrast", graph.Params{"factor": 2}, 100, 72},
		{"color_twist", graph.Params{"saturation": 0}, 77, 77},
		{"color_twist", graph.Params{"alpha": 0, "beta": 300}, 1, 255},
	}
	for _, tt := range cases {
		t.Run(tt.kind, func(t *testing.T) {
			tr := transform(t, tt.kind, tt.params)
			f, err := tr.Apply(&graph.Exec{}, []*media.Frame{filled(2, 2, 3, tt.in)})
			require.NoError(t, err)
			for _, v := range f.Pix {
				if v != tt.want {
					t.Fatalf("erwartet %d, bekommen %d", tt.want, v)
				}
			}
		})
	}
}

func TestBlend(t *testing.T) {
	tr := transform(t, "blend", graph.Params{"ratio": 0.25})

	d := ml.ImageDesc(2, 2, 3, ml.DTypeU8)
	_, err := tr.Infer([]ml.TensorDesc{d, d})
	require.NoError(t, err)
	_, err = tr.Infer([]ml.TensorDesc{d, ml.ImageDesc(2, 3, 3, ml.DTypeU8)})
	require.ErrorIs(t, err, ml.ErrShapeMismatch)
	_, err = tr.Infer([]ml.TensorDesc{d})
	require.Error(t, err)

	f, err := tr.Apply(&graph.Exec{}, []*media.Frame{filled(2, 2, 3, 0), filled(2, 2, 3, 100)})
	require.NoError(t, err)
	require.Equal(t, uint8(75), f.At(1, 1, 2))
}

func TestGraphWithOps(t *testing.T) {
	src := reader.NewMemory()
	graph.DefaultRegistry.Register("test.memory", src.Factory())
	t.Cleanup(func() { graph.DefaultRegistry.Unregister("test.memory") })

	b := graph.NewBuilder(nil, graph.AffinityDevice)
	in, err := b.AddNode("test.memory", nil, nil)
	require.NoError(t, err)
	dec, err := b.AddNode("decode", []graph.NodeID{in}, graph.Params{"max_width": 16, "max_height": 16})
	require.NoError(t, err)
	crop, err := b.AddNode("crop_resize", []graph.NodeID{dec}, graph.Params{"width": 8, "height": 8})
	require.NoError(t, err)
	flip, err := b.AddNode("flip", []graph.NodeID{crop}, graph.Params{"affinity": "host"})
	require.NoError(t, err)

	// Resize before decode is rejected at build time.
	_, err = b.AddNode("resize", []graph.NodeID{in}, graph.Params{"width": 8, "height": 8})
	require.ErrorIs(t, err, graph.ErrInference)

	require.NoError(t, b.SetOutputs(flip))
	g, err := b.Freeze()
	require.NoError(t, err)

	require.Equal(t, graph.AffinityHost, g.Node(dec).Affinity)
	require.Equal(t, graph.AffinityDevice, g.Node(crop).Affinity)
	require.Equal(t, []int{8, 8, 3}, g.Node(flip).Out.Shape)
}
