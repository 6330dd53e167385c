// MODUL: color
// ZWECK: Farb-Primitive auf Frames (Helligkeit, Kontrast, Saettigung, Blend)
// INPUT: Frame, Faktoren
// OUTPUT: Neuer Frame
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Werte werden auf [0, 255] begrenzt

package media

import (
	"fmt"
	"math"
)

func clamp8(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 255))))
}

// Brightness berechnet alpha*x + beta pro Kanal.
func Brightness(f *Frame, alpha, beta float32) *Frame {
	return ColorTwist(f, alpha, beta, 1)
}

// Contrast skaliert den Abstand zu 128 um factor.
func Contrast(f *Frame, factor float32) *Frame {
	return ColorTwist(f, factor, 128*(1-factor), 1)
}

// ColorTwist mischt jeden Pixel mit seiner Luminanz (saturation) und
// wendet danach alpha*x + beta an.
func ColorTwist(f *Frame, alpha, beta, saturation float32) *Frame {
	out := f.Clone()

	if f.Channels != 3 {
		for i, v := range f.Pix {
			out.Pix[i] = clamp8(alpha*float32(v) + beta)
		}
		return out
	}

	for i := 0; i+2 < len(f.Pix); i += 3 {
		r, g, b := f.Pix[i], f.Pix[i+1], f.Pix[i+2]
		l := float32(luma(r, g, b))

		for c, v := range [3]uint8{r, g, b} {
			s := l + saturation*(float32(v)-l)
			out.Pix[i+c] = clamp8(alpha*s + beta)
		}
	}

	return out
}

// Blend berechnet ratio*a + (1-ratio)*b. Beide Frames muessen gleich gross sein.
func Blend(a, b *Frame, ratio float32) (*Frame, error) {
	if a.Width != b.Width || a.Height != b.Height || a.Channels != b.Channels {
		return nil, fmt.Errorf("blend: %dx%dx%d != %dx%dx%d",
			a.Width, a.Height, a.Channels, b.Width, b.Height, b.Channels)
	}

	out := a.Clone()
	for i := range a.Pix {
		out.Pix[i] = clamp8(ratio*float32(a.Pix[i]) + (1-ratio)*float32(b.Pix[i]))
	}
	return out, nil
}
