// MODUL: frame
// ZWECK: Sample-Puffer zwischen den Pipeline-Stufen
// INPUT: Pixel-Daten (HWC, uint8) oder kodierte Bytes
// OUTPUT: Frame mit Groesse, Kanalzahl und gueltiger Region (ROI)
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: image (stdlib), ml
// HINWEISE: Ein Frame gehoert genau einer Stufe; Uebergabe erfolgt per Zeiger

package media

import (
	"image"
	"image/color"

	"github.com/ollama/augpipe/ml"
)

// Frame ist ein dekodiertes Bild im HWC-Layout oder ein kodiertes Sample.
type Frame struct {
	Width    int
	Height   int
	Channels int

	// Pix enthaelt Height*Width*Channels Bytes, zeilenweise.
	Pix []uint8

	// ROI ist die gueltige Region innerhalb des Frames. Der Decoder legt
	// kleinere Bilder oben links in einen Canvas maximaler Groesse.
	ROI image.Rectangle

	// Encoded enthaelt die unkodierten Reader-Bytes.
	Encoded []byte
}

// NewFrame erzeugt einen leeren Frame; die ROI deckt den ganzen Frame ab.
func NewFrame(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
		ROI:      image.Rect(0, 0, width, height),
	}
}

// EncodedFrame verpackt kodierte Bytes.
func EncodedFrame(data []byte) *Frame {
	return &Frame{Encoded: data}
}

// IsEncoded meldet ob der Frame noch kodiert ist.
func (f *Frame) IsEncoded() bool {
	return f.Pix == nil && f.Encoded != nil
}

// Desc beschreibt den Frame als Tensor.
func (f *Frame) Desc() ml.TensorDesc {
	if f.IsEncoded() {
		return ml.TensorDesc{Encoded: true}
	}
	return ml.ImageDesc(f.Height, f.Width, f.Channels, ml.DTypeU8)
}

func (f *Frame) offset(x, y int) int {
	return (y*f.Width + x) * f.Channels
}

// At gibt den Wert von Kanal c an Position (x, y) zurueck.
func (f *Frame) At(x, y, c int) uint8 {
	return f.Pix[f.offset(x, y)+c]
}

// Set setzt den Wert von Kanal c an Position (x, y).
func (f *Frame) Set(x, y, c int, v uint8) {
	f.Pix[f.offset(x, y)+c] = v
}

// Clone erstellt eine tiefe Kopie.
func (f *Frame) Clone() *Frame {
	out := *f
	if f.Pix != nil {
		out.Pix = append([]uint8(nil), f.Pix...)
	}
	return &out
}

// ============================================================================
// Konvertierung von/zu image.Image
// ============================================================================

// roiRGBA kopiert die ROI in ein *image.RGBA.
func (f *Frame) roiRGBA() *image.RGBA {
	r := f.ROI
	rgba := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))

	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			o := f.offset(r.Min.X+x, r.Min.Y+y)
			d := rgba.PixOffset(x, y)

			if f.Channels == 1 {
				v := f.Pix[o]
				rgba.Pix[d], rgba.Pix[d+1], rgba.Pix[d+2] = v, v, v
			} else {
				copy(rgba.Pix[d:d+3], f.Pix[o:o+3])
			}
			rgba.Pix[d+3] = 0xff
		}
	}

	return rgba
}

// FromImage konvertiert ein beliebiges Bild in einen Frame mit channels
// Kanaelen (1 oder 3). Alpha wird verworfen.
func FromImage(img image.Image, channels int) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy(), channels)

	rgba, ok := img.(*image.RGBA)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var c color.RGBA
			if ok {
				c = rgba.RGBAAt(b.Min.X+x, b.Min.Y+y)
			} else {
				c = color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			}

			o := f.offset(x, y)
			if channels == 1 {
				f.Pix[o] = luma(c.R, c.G, c.B)
			} else {
				f.Pix[o], f.Pix[o+1], f.Pix[o+2] = c.R, c.G, c.B
			}
		}
	}

	return f
}

// luma nach ITU-R BT.601
func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}
