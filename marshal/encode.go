package marshal

import (
	"errors"
	"fmt"
	"math"

	"github.com/ollama/augpipe/meta"
)

var (
	ErrNotEncoded     = errors.New("marshal: boxes must be encoded before they are read")
	ErrInvalidAnchors = errors.New("marshal: invalid anchors")
)

// BoxEncoder matches the ground truth boxes of a sample against a fixed set
// of anchors and encodes them as SSD regression targets. Anchors are in
// normalized l, t, r, b coordinates.
type BoxEncoder struct {
	Anchors []meta.Box

	// Criteria is the IoU an anchor needs with a box to be matched to it.
	// The best anchor of every box is matched regardless.
	Criteria float32

	// Offset encodes matched boxes relative to their anchor. Without it the
	// encoded boxes are plain x, y, w, h.
	Offset bool
	Scale  float32
	Means  [4]float32
	Stds   [4]float32
}

// NewBoxEncoder returns an encoder with criteria 0.5, scale 1 and unit
// standard deviations.
func NewBoxEncoder(anchors []meta.Box) *BoxEncoder {
	return &BoxEncoder{
		Anchors:  anchors,
		Criteria: 0.5,
		Scale:    1,
		Stds:     [4]float32{1, 1, 1, 1},
	}
}

func (e *BoxEncoder) validate() error {
	if len(e.Anchors) == 0 {
		return fmt.Errorf("%w: none given", ErrInvalidAnchors)
	}
	for i, a := range e.Anchors {
		if a.Area() <= 0 {
			return fmt.Errorf("%w: anchor %d is empty", ErrInvalidAnchors, i)
		}
	}
	if e.Offset {
		if e.Scale <= 0 {
			return fmt.Errorf("marshal: box encoder scale %g must be positive", e.Scale)
		}
		for i, s := range e.Stds {
			if s == 0 {
				return fmt.Errorf("marshal: box encoder std %d is zero", i)
			}
		}
	}
	return nil
}

// EncodedBoxes is the encoding of one sample, one entry per anchor.
type EncodedBoxes struct {
	Boxes  [][4]float32
	Labels []int

	// Matched holds the index of the box assigned to each anchor, or -1
	// for background.
	Matched []int
}

// Encode matches the boxes of r. Pixel boxes are normalized by the ROI size
// of the sample, or the original size when no ROI is recorded.
func (e *BoxEncoder) Encode(r *meta.Record) (*EncodedBoxes, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}

	w, h := float32(r.ROIWidth), float32(r.ROIHeight)
	if w <= 0 || h <= 0 {
		w, h = float32(r.OrigWidth), float32(r.OrigHeight)
	}
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}

	boxes := make([]meta.Box, len(r.Boxes))
	for i, b := range r.Boxes {
		boxes[i] = meta.Box{L: b.L / w, T: b.T / h, R: b.R / w, B: b.B / h}
	}

	n := len(e.Anchors)
	matched := make([]int, n)
	best := make([]float32, n)
	for a, anchor := range e.Anchors {
		matched[a] = -1
		for j, b := range boxes {
			if iou := meta.IoU(anchor, b); iou > best[a] {
				best[a], matched[a] = iou, j
			}
		}
	}

	// Every box keeps its best anchor.
	for j, b := range boxes {
		top, topIoU := -1, float32(0)
		for a, anchor := range e.Anchors {
			if iou := meta.IoU(anchor, b); iou > topIoU {
				top, topIoU = a, iou
			}
		}
		if top >= 0 {
			matched[top], best[top] = j, 2
		}
	}

	out := &EncodedBoxes{
		Boxes:   make([][4]float32, n),
		Labels:  make([]int, n),
		Matched: matched,
	}
	for a, anchor := range e.Anchors {
		box := anchor
		if matched[a] >= 0 && best[a] > e.Criteria {
			box = boxes[matched[a]]
			out.Labels[a] = r.BoxLabels[matched[a]]
		} else {
			matched[a] = -1
		}
		out.Boxes[a] = e.encode(box, anchor)
	}
	return out, nil
}

func center(b meta.Box) [4]float32 {
	return [4]float32{(b.L + b.R) / 2, (b.T + b.B) / 2, b.Width(), b.Height()}
}

func (e *BoxEncoder) encode(box, anchor meta.Box) [4]float32 {
	c := center(box)
	if !e.Offset {
		return c
	}

	a := center(anchor)
	for i := range c {
		c[i] *= e.Scale
		a[i] *= e.Scale
	}

	// Zero sized boxes would have no logarithm.
	gw, gh := max(c[2], 1e-6), max(c[3], 1e-6)
	return [4]float32{
		((c[0]-a[0])/a[2] - e.Means[0]) / e.Stds[0],
		((c[1]-a[1])/a[3] - e.Means[1]) / e.Stds[1],
		(float32(math.Log(float64(gw/a[2]))) - e.Means[2]) / e.Stds[2],
		(float32(math.Log(float64(gh/a[3]))) - e.Means[3]) / e.Stds[3],
	}
}

// GridAnchors places one anchor per aspect ratio at the center of every
// cell of a size x size grid. scale is the anchor side relative to the image
// for ratio 1. Anchors are clipped to the image.
func GridAnchors(size int, scale float32, ratios ...float32) []meta.Box {
	if len(ratios) == 0 {
		ratios = []float32{1}
	}

	out := make([]meta.Box, 0, size*size*len(ratios))
	step := 1 / float32(size)
	for y := range size {
		for x := range size {
			cx, cy := (float32(x)+0.5)*step, (float32(y)+0.5)*step
			for _, r := range ratios {
				sq := float32(math.Sqrt(float64(r)))
				w, h := scale*sq, scale/sq
				out = append(out, meta.Box{
					L: max(cx-w/2, 0),
					T: max(cy-h/2, 0),
					R: min(cx+w/2, 1),
					B: min(cy+h/2, 1),
				})
			}
		}
	}
	return out
}

// EncodeBoxes encodes the boxes of every sample with enc. The results are
// read with EncodedBoxesAndLabels, CopyEncodedBoxesAndLabels and
// MatchedIndices.
func (m *BatchMeta) EncodeBoxes(enc *BoxEncoder) error {
	encoded := make([]*EncodedBoxes, len(m.records))
	for i, r := range m.records {
		e, err := enc.Encode(r)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		encoded[i] = e
	}
	m.encoded, m.anchors = encoded, len(enc.Anchors)
	return nil
}

// EncodedBoxesAndLabels returns the encoded boxes of the batch as
// batch x anchors x 4 values and the labels as batch x anchors.
func (m *BatchMeta) EncodedBoxesAndLabels() ([]float32, []int, error) {
	if m.encoded == nil {
		return nil, nil, ErrNotEncoded
	}
	boxes := make([]float32, 4*m.anchors*len(m.encoded))
	labels := make([]int, m.anchors*len(m.encoded))
	if err := m.CopyEncodedBoxesAndLabels(boxes, labels); err != nil {
		return nil, nil, err
	}
	return boxes, labels, nil
}

func (m *BatchMeta) CopyEncodedBoxesAndLabels(boxes []float32, labels []int) error {
	if m.encoded == nil {
		return ErrNotEncoded
	}
	n := m.anchors * len(m.encoded)
	if len(boxes) < 4*n || len(labels) < n {
		return fmt.Errorf("%w: need %d box values and %d labels", ErrBufferTooSmall, 4*n, n)
	}

	for i, e := range m.encoded {
		for a, b := range e.Boxes {
			copy(boxes[4*(i*m.anchors+a):], b[:])
		}
		copy(labels[i*m.anchors:], e.Labels)
	}
	return nil
}

// MatchedIndices returns, per sample and anchor, the index of the matched
// box or -1.
func (m *BatchMeta) MatchedIndices() ([]int, error) {
	if m.encoded == nil {
		return nil, ErrNotEncoded
	}
	out := make([]int, 0, m.anchors*len(m.encoded))
	for _, e := range m.encoded {
		out = append(out, e.Matched...)
	}
	return out, nil
}
