// MODUL: geometry
// ZWECK: Geometrische Primitive auf Frames (Resize, Crop, Flip, Canvas)
// INPUT: Frame, Zielgroesse bzw. Region
// OUTPUT: Neuer Frame
// NEBENEFFEKTE: keine (Eingabe wird nie veraendert)
// ABHAENGIGKEITEN: golang.org/x/image/draw
// HINWEISE: Alle Operationen lesen nur die ROI des Eingabe-Frames

package media

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/ollama/augpipe/ml"
)

// scaler waehlt den Interpolator fuer einen SamplingMode.
func scaler(mode ml.SamplingMode) draw.Scaler {
	if mode == ml.SamplingModeNearest {
		return draw.NearestNeighbor
	}
	return draw.BiLinear
}

// Resize skaliert die ROI auf width x height.
func Resize(f *Frame, width, height int, mode ml.SamplingMode) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ungueltige Groesse: %dx%d", width, height)
	}
	if f.ROI.Empty() {
		return nil, fmt.Errorf("leere ROI")
	}

	src := f.roiRGBA()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	scaler(mode).Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return FromImage(dst, f.Channels), nil
}

// Crop schneidet r aus der ROI. r ist relativ zur oberen linken Ecke der ROI.
func Crop(f *Frame, r image.Rectangle) (*Frame, error) {
	roi := image.Rect(0, 0, f.ROI.Dx(), f.ROI.Dy())
	if r.Empty() || !r.In(roi) {
		return nil, fmt.Errorf("crop %v ausserhalb der ROI %v", r, roi)
	}

	out := NewFrame(r.Dx(), r.Dy(), f.Channels)
	rowBytes := r.Dx() * f.Channels

	for y := 0; y < r.Dy(); y++ {
		src := f.offset(f.ROI.Min.X+r.Min.X, f.ROI.Min.Y+r.Min.Y+y)
		copy(out.Pix[out.offset(0, y):], f.Pix[src:src+rowBytes])
	}

	return out, nil
}

// CenterCrop schneidet einen zentrierten Bereich aus
func CenterCrop(f *Frame, width, height int) (*Frame, error) {
	w, h := f.ROI.Dx(), f.ROI.Dy()
	if width > w || height > h {
		return nil, fmt.Errorf("crop groesser als bild: %dx%d > %dx%d", width, height, w, h)
	}

	x := (w - width) / 2
	y := (h - height) / 2
	return Crop(f, image.Rect(x, y, x+width, y+height))
}

// Flip spiegelt die ROI horizontal und/oder vertikal.
func Flip(f *Frame, horizontal, vertical bool) *Frame {
	w, h := f.ROI.Dx(), f.ROI.Dy()
	out := NewFrame(w, h, f.Channels)

	for y := 0; y < h; y++ {
		sy := y
		if vertical {
			sy = h - 1 - y
		}
		for x := 0; x < w; x++ {
			sx := x
			if horizontal {
				sx = w - 1 - x
			}

			src := f.offset(f.ROI.Min.X+sx, f.ROI.Min.Y+sy)
			copy(out.Pix[out.offset(x, y):], f.Pix[src:src+f.Channels])
		}
	}

	return out
}

// Canvas legt die ROI oben links in einen width x height Frame.
// Die ROI des Ergebnisses ist die Groesse des Inhalts.
func Canvas(f *Frame, width, height int) *Frame {
	out := NewFrame(width, height, f.Channels)

	w := min(f.ROI.Dx(), width)
	h := min(f.ROI.Dy(), height)
	rowBytes := w * f.Channels

	for y := 0; y < h; y++ {
		src := f.offset(f.ROI.Min.X, f.ROI.Min.Y+y)
		copy(out.Pix[out.offset(0, y):], f.Pix[src:src+rowBytes])
	}

	out.ROI = image.Rect(0, 0, w, h)
	return out
}
