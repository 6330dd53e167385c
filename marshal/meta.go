package marshal

import (
	"fmt"

	"github.com/ollama/augpipe/meta"
)

// BatchMeta reads the metadata of one completed batch. Coordinate copies
// are sized from the matching count query, which must come first.
type BatchMeta struct {
	records []*meta.Record

	boxesCounted bool
	masksCounted bool

	encoded []*EncodedBoxes
	anchors int
}

func NewBatchMeta(records []*meta.Record) *BatchMeta {
	return &BatchMeta{records: records}
}

// Len is the number of samples in the batch.
func (m *BatchMeta) Len() int { return len(m.records) }

func (m *BatchMeta) Records() []*meta.Record { return m.records }

func (m *BatchMeta) ImageNames() []string {
	out := make([]string, len(m.records))
	for i, r := range m.records {
		out[i] = r.Name
	}
	return out
}

// ImageNameLen returns the byte length of the name of sample i.
func (m *BatchMeta) ImageNameLen(i int) int { return len(m.records[i].Name) }

func (m *BatchMeta) ImageIDs() []int {
	out := make([]int, len(m.records))
	for i, r := range m.records {
		out[i] = r.ID
	}
	return out
}

func (m *BatchMeta) ImageLabels() []int {
	out := make([]int, len(m.records))
	for i, r := range m.records {
		out[i] = r.Label
	}
	return out
}

// BoundingBoxCount returns the number of boxes per sample.
func (m *BatchMeta) BoundingBoxCount() []int {
	m.boxesCounted = true
	out := make([]int, len(m.records))
	for i, r := range m.records {
		out[i] = len(r.Boxes)
	}
	return out
}

func (m *BatchMeta) totalBoxes() int {
	n := 0
	for _, r := range m.records {
		n += len(r.Boxes)
	}
	return n
}

// BoundingBoxLabels returns the box labels of all samples, concatenated.
func (m *BatchMeta) BoundingBoxLabels() ([]int, error) {
	if !m.boxesCounted {
		return nil, ErrCountNotQueried
	}
	out := make([]int, 0, m.totalBoxes())
	for _, r := range m.records {
		out = append(out, r.BoxLabels...)
	}
	return out, nil
}

// CopyBoundingBoxCords writes l, t, r, b for every box of every sample.
func (m *BatchMeta) CopyBoundingBoxCords(dst []float32) error {
	if !m.boxesCounted {
		return ErrCountNotQueried
	}
	if need := 4 * m.totalBoxes(); len(dst) < need {
		return fmt.Errorf("%w: have %d values, need %d", ErrBufferTooSmall, len(dst), need)
	}

	i := 0
	for _, r := range m.records {
		for _, b := range r.Boxes {
			dst[i], dst[i+1], dst[i+2], dst[i+3] = b.L, b.T, b.R, b.B
			i += 4
		}
	}
	return nil
}

// MaskCount returns the number of polygons per sample and the total
// number of coordinates over the batch.
func (m *BatchMeta) MaskCount() (polygons []int, coords int) {
	m.masksCounted = true
	polygons = make([]int, len(m.records))
	for i, r := range m.records {
		polygons[i] = r.MaskCount()
		coords += r.MaskPoints()
	}
	return polygons, coords
}

// CopyMaskCoordinates writes every polygon in order into coords and the
// length of each polygon into sizes.
func (m *BatchMeta) CopyMaskCoordinates(coords []float32, sizes []int) error {
	if !m.masksCounted {
		return ErrCountNotQueried
	}

	var polys, points int
	for _, r := range m.records {
		polys += r.MaskCount()
		points += r.MaskPoints()
	}
	if len(coords) < points || len(sizes) < polys {
		return fmt.Errorf("%w: need %d coordinates and %d sizes", ErrBufferTooSmall, points, polys)
	}

	ci, si := 0, 0
	for _, r := range m.records {
		for _, mask := range r.Masks {
			for _, p := range mask {
				ci += copy(coords[ci:], p)
				sizes[si] = len(p)
				si++
			}
		}
	}
	return nil
}

func (m *BatchMeta) ASCIIData() [][]byte {
	out := make([][]byte, len(m.records))
	for i, r := range m.records {
		out[i] = r.ASCII
	}
	return out
}

// ImgSizes returns the width and height of every sample before decoding.
func (m *BatchMeta) ImgSizes() [][2]int {
	out := make([][2]int, len(m.records))
	for i, r := range m.records {
		out[i] = [2]int{r.OrigWidth, r.OrigHeight}
	}
	return out
}

// RoiImgSizes returns the size of the valid region of every sample.
func (m *BatchMeta) RoiImgSizes() [][2]int {
	out := make([][2]int, len(m.records))
	for i, r := range m.records {
		out[i] = [2]int{r.ROIWidth, r.ROIHeight}
	}
	return out
}
