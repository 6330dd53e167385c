// Package meta holds per-sample auxiliary data that travels with a batch:
// names, ids, labels, bounding boxes, mask polygons and image sizes.
package meta

import "slices"

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	L, T, R, B float32
}

// Record is the metadata of one sample. A record lives as long as the batch
// that carries it.
type Record struct {
	Name  string
	ID    int
	Label int

	Boxes     []Box
	BoxLabels []int

	// Masks holds one list of polygons per box. Each polygon is a flat
	// x0,y0,x1,y1,... coordinate list.
	Masks [][][]float32

	ASCII []byte

	// OrigWidth and OrigHeight are the decoded image size before any
	// resizing; ROIWidth and ROIHeight are the valid region of the output.
	OrigWidth, OrigHeight int
	ROIWidth, ROIHeight   int
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := *r
	out.Boxes = slices.Clone(r.Boxes)
	out.BoxLabels = slices.Clone(r.BoxLabels)
	out.ASCII = slices.Clone(r.ASCII)
	if r.Masks != nil {
		out.Masks = make([][][]float32, len(r.Masks))
		for i, polys := range r.Masks {
			out.Masks[i] = make([][]float32, len(polys))
			for j, p := range polys {
				out.Masks[i][j] = slices.Clone(p)
			}
		}
	}
	return &out
}

// MaskCount is the total number of polygons over all boxes.
func (r *Record) MaskCount() int {
	n := 0
	for _, polys := range r.Masks {
		n += len(polys)
	}
	return n
}

// MaskPoints is the total number of coordinates over all polygons.
func (r *Record) MaskPoints() int {
	n := 0
	for _, polys := range r.Masks {
		for _, p := range polys {
			n += len(p)
		}
	}
	return n
}
