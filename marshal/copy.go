// MODUL: copy
// ZWECK: Kopiert fertige Frames eines Batches in einen Ausgabe-Tensor
// INPUT: Frames (HWC, u8), Zielpuffer, CopyOptions
// OUTPUT: Gefuellter Zielpuffer im gewuenschten Layout und Datentyp
// NEBENEFFEKTE: Schreibt in dst
// ABHAENGIGKEITEN: github.com/x448/float16, ml, media
// HINWEISE: Normalisierung passiert hier und nicht im Graph:
//           y = x*multiplier[c] + offset[c], mit multiplier = 1/std und
//           offset = -mean/std

package marshal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/ml"
)

var (
	ErrBufferTooSmall  = errors.New("marshal: destination buffer too small")
	ErrCountNotQueried = errors.New("marshal: count must be queried before copying coordinates")
)

// CopyOptions beschreibt die Zielform einer Kopie.
type CopyOptions struct {
	// Multiplier und Offset gelten pro Kanal. Ein einzelner Wert gilt fuer
	// alle Kanaele; nil bedeutet 1 bzw. 0.
	Multiplier []float32
	Offset     []float32

	ReverseChannels bool
	Layout          ml.Layout
	DType           ml.DType
}

// Normalization berechnet Multiplier und Offset aus mean und std.
func Normalization(mean, std []float64) (mult, offset []float32, err error) {
	if len(mean) != len(std) {
		return nil, nil, fmt.Errorf("marshal: %d means but %d stds", len(mean), len(std))
	}

	mult = make([]float32, len(std))
	offset = make([]float32, len(std))
	for c := range std {
		if std[c] == 0 {
			return nil, nil, fmt.Errorf("marshal: std of channel %d is zero", c)
		}
		mult[c] = float32(1 / std[c])
		offset[c] = float32(-mean[c] / std[c])
	}
	return mult, offset, nil
}

func perChannel(v []float32, c int, def float32) float32 {
	switch len(v) {
	case 0:
		return def
	case 1:
		return v[0]
	}
	return v[c]
}

// Size liefert die Anzahl Bytes fuer n Samples mit Beschreibung desc.
func (o CopyOptions) Size(n int, desc ml.TensorDesc) int {
	return n * desc.Elems() * o.DType.Size()
}

// CopyToTensor schreibt alle Frames nacheinander nach dst. Alle Frames
// muessen gleich gross sein.
func CopyToTensor(frames []*media.Frame, dst []byte, opts CopyOptions) error {
	if len(frames) == 0 {
		return nil
	}

	w, h, c := frames[0].Width, frames[0].Height, frames[0].Channels
	for _, n := range []int{len(opts.Multiplier), len(opts.Offset)} {
		if n > 1 && n != c {
			return fmt.Errorf("marshal: %d normalization values for %d channels", n, c)
		}
	}

	size := opts.DType.Size()
	if size == 0 {
		return fmt.Errorf("marshal: unsupported dtype %v", opts.DType)
	}
	sample := w * h * c
	if len(dst) < len(frames)*sample*size {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrBufferTooSmall, len(dst), len(frames)*sample*size)
	}

	mult := make([]float32, c)
	off := make([]float32, c)
	for ch := range c {
		mult[ch] = perChannel(opts.Multiplier, ch, 1)
		off[ch] = perChannel(opts.Offset, ch, 0)
	}

	for i, f := range frames {
		if f.Width != w || f.Height != h || f.Channels != c {
			return fmt.Errorf("%w: sample %d is %dx%dx%d, expected %dx%dx%d",
				ml.ErrShapeMismatch, i, f.Width, f.Height, f.Channels, w, h, c)
		}

		base := i * sample
		for y := range h {
			for x := range w {
				for ch := range c {
					src := ch
					if opts.ReverseChannels {
						src = c - 1 - ch
					}
					v := float32(f.At(x, y, src))*mult[ch] + off[ch]

					idx := (y*w+x)*c + ch
					if opts.Layout == ml.LayoutNCHW {
						idx = ch*h*w + y*w + x
					}
					put(dst[(base+idx)*size:], opts.DType, v)
				}
			}
		}
	}

	return nil
}

func put(b []byte, dtype ml.DType, v float32) {
	switch dtype {
	case ml.DTypeF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	case ml.DTypeF16:
		binary.LittleEndian.PutUint16(b, float16.Fromfloat32(v).Bits())
	case ml.DTypeU8:
		b[0] = uint8(math.Round(float64(min(max(v, 0), 255))))
	case ml.DTypeI32:
		binary.LittleEndian.PutUint32(b, uint32(int32(math.Round(float64(v)))))
	}
}
