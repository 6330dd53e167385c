// MODUL: decode
// ZWECK: Referenz-Decoder fuer Bilder (JPEG, PNG, WebP, BMP, TIFF)
// INPUT: Kodierte Bytes, DecodeOptions (max. Groesse, Kanaele)
// OUTPUT: Frame im HWC-Layout plus Info ueber das Originalbild
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: golang.org/x/image (draw, webp, bmp, tiff), image/jpeg, image/png
// HINWEISE: Bilder groesser als der Canvas werden mit Seitenverhaeltnis verkleinert

package media

import (
	"bytes"
	"fmt"
	"image"

	// Standard-Decoder registrieren
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeOptions steuert die Ausgabe des Decoders.
type DecodeOptions struct {
	// MaxWidth und MaxHeight legen die Canvas-Groesse fest. 0 bedeutet:
	// Frame hat genau die Bildgroesse.
	MaxWidth  int
	MaxHeight int

	// Channels ist 3 (RGB) oder 1 (Graustufen). 0 bedeutet 3.
	Channels int
}

// Info beschreibt das Originalbild vor dem Platzieren im Canvas.
type Info struct {
	Format Format
	Width  int
	Height int
}

// Decode dekodiert data in einen Frame.
func Decode(data []byte, opts DecodeOptions) (*Frame, Info, error) {
	format := DetectFormat(data)
	if err := ValidateFormat(format); err != nil {
		return nil, Info{}, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, fmt.Errorf("bild dekodieren fehlgeschlagen: %w", err)
	}

	b := img.Bounds()
	info := Info{Format: format, Width: b.Dx(), Height: b.Dy()}

	channels := opts.Channels
	if channels == 0 {
		channels = 3
	}

	if opts.MaxWidth > 0 && opts.MaxHeight > 0 && (b.Dx() > opts.MaxWidth || b.Dy() > opts.MaxHeight) {
		w, h := calculateAspectSize(b.Dx(), b.Dy(), opts.MaxWidth, opts.MaxHeight)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}

	f := FromImage(img, channels)
	if opts.MaxWidth > 0 && opts.MaxHeight > 0 {
		f = Canvas(f, opts.MaxWidth, opts.MaxHeight)
	}

	return f, info, nil
}

// calculateAspectSize berechnet Zielgroesse mit Seitenverhaeltnis
func calculateAspectSize(srcW, srcH, maxW, maxH int) (int, int) {
	ratio := min(float64(maxW)/float64(srcW), float64(maxH)/float64(srcH))
	return max(int(float64(srcW)*ratio), 1), max(int(float64(srcH)*ratio), 1)
}
