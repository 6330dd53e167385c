package meta

// Width of the box; zero for inverted boxes.
func (b Box) Width() float32 { return max(b.R-b.L, 0) }

func (b Box) Height() float32 { return max(b.B-b.T, 0) }

func (b Box) Area() float32 { return b.Width() * b.Height() }

// Intersect returns the overlap of a and b. The result is empty when the
// boxes do not overlap.
func (b Box) Intersect(o Box) Box {
	return Box{
		L: max(b.L, o.L),
		T: max(b.T, o.T),
		R: min(b.R, o.R),
		B: min(b.B, o.B),
	}
}

// IoU is the intersection over union of two boxes.
func IoU(a, b Box) float32 {
	inter := a.Intersect(b).Area()
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CropResize maps the boxes of r into the coordinate system of a crop
// rectangle scaled to dstW x dstH. Boxes whose IoU with the crop falls below
// threshold are dropped; the rest are clipped to the crop. When no box
// survives a single full-image box with label 0 is emitted.
func (r *Record) CropResize(crop Box, dstW, dstH int, threshold float32) {
	if len(r.Boxes) == 0 {
		r.scaleMasks(crop, dstW, dstH)
		return
	}

	sx := float32(dstW) / crop.Width()
	sy := float32(dstH) / crop.Height()

	perBox := len(r.Masks) == len(r.Boxes)

	var boxes []Box
	var labels []int
	var masks [][][]float32
	for i, box := range r.Boxes {
		in := box.Intersect(crop)
		if in.Area() <= 0 || IoU(box, crop) < threshold {
			continue
		}

		boxes = append(boxes, Box{
			L: (in.L - crop.L) * sx,
			T: (in.T - crop.T) * sy,
			R: (in.R - crop.L) * sx,
			B: (in.B - crop.T) * sy,
		})
		labels = append(labels, r.BoxLabels[i])
		if perBox {
			masks = append(masks, r.Masks[i])
		}
	}

	if len(boxes) == 0 {
		boxes = []Box{{L: 0, T: 0, R: float32(dstW), B: float32(dstH)}}
		labels = []int{0}
	}

	r.Boxes, r.BoxLabels = boxes, labels
	if perBox {
		r.Masks = masks
	}
	r.scaleMasks(crop, dstW, dstH)
}

func (r *Record) scaleMasks(crop Box, dstW, dstH int) {
	if len(r.Masks) == 0 {
		return
	}

	sx := float32(dstW) / crop.Width()
	sy := float32(dstH) / crop.Height()
	for _, polys := range r.Masks {
		for _, p := range polys {
			for k := 0; k+1 < len(p); k += 2 {
				p[k] = min(max(p[k]-crop.L, 0), crop.Width()) * sx
				p[k+1] = min(max(p[k+1]-crop.T, 0), crop.Height()) * sy
			}
		}
	}
}

// Resize scales boxes and masks from a srcW x srcH image to dstW x dstH.
func (r *Record) Resize(srcW, srcH, dstW, dstH int) {
	r.CropResize(Box{R: float32(srcW), B: float32(srcH)}, dstW, dstH, 0)
}

// Flip mirrors boxes and masks inside a width x height image.
func (r *Record) Flip(width, height int, horizontal, vertical bool) {
	w, h := float32(width), float32(height)

	for i, b := range r.Boxes {
		if horizontal {
			b.L, b.R = w-b.R, w-b.L
		}
		if vertical {
			b.T, b.B = h-b.B, h-b.T
		}
		r.Boxes[i] = b
	}

	for _, polys := range r.Masks {
		for _, p := range polys {
			for k := 0; k+1 < len(p); k += 2 {
				if horizontal {
					p[k] = w - p[k]
				}
				if vertical {
					p[k+1] = h - p[k+1]
				}
			}
		}
	}
}
