package ops

import (
	"errors"
	"fmt"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/ml"
)

// Decode turns encoded reader bytes into an image frame of fixed canvas
// size. Smaller images sit in the top-left corner of the canvas; the record
// keeps the original and the valid size.
type Decode struct {
	opts media.DecodeOptions
}

func newDecode(p graph.Params) (graph.Operator, error) {
	w, err := p.Int("max_width", 0)
	if err != nil {
		return nil, err
	}
	h, err := p.Int("max_height", 0)
	if err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("max_width and max_height must be positive, got %dx%d", w, h)
	}

	gray, err := p.Bool("grayscale", false)
	if err != nil {
		return nil, err
	}
	channels := 3
	if gray {
		channels = 1
	}

	return &Decode{opts: media.DecodeOptions{MaxWidth: w, MaxHeight: h, Channels: channels}}, nil
}

func (d *Decode) Affinity() graph.Affinity { return graph.AffinityHost }

func (d *Decode) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	if len(in) != 1 || !in[0].Encoded {
		return ml.TensorDesc{}, errors.New("decode expects one encoded input")
	}
	return ml.ImageDesc(d.opts.MaxHeight, d.opts.MaxWidth, d.opts.Channels, ml.DTypeU8), nil
}

func (d *Decode) Apply(x *graph.Exec, in []*media.Frame) (*media.Frame, error) {
	if !in[0].IsEncoded() {
		return nil, graph.Malformed(errors.New("decode: input is not encoded"))
	}

	f, info, err := media.Decode(in[0].Encoded, d.opts)
	if err != nil {
		return nil, graph.Malformed(err)
	}

	if rec := x.Meta; rec != nil {
		rec.OrigWidth, rec.OrigHeight = info.Width, info.Height
		roiW, roiH := f.ROI.Dx(), f.ROI.Dy()
		if roiW != info.Width || roiH != info.Height {
			rec.Resize(info.Width, info.Height, roiW, roiH)
		}
	}

	return f, nil
}
