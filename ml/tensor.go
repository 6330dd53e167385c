// tensor.go - Tensor-Beschreibung und Batch-Tensor
// Ein Tensor haelt die Rohdaten eines Ausgabe-Slots. Form, Typ und Layout
// werden einmal beim Build festgelegt, danach aendert sich nur der Inhalt.
package ml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/x448/float16"
)

// TensorDesc describes the per-sample output of a graph node.
type TensorDesc struct {
	// Shape is the logical per-sample shape, [H, W, C] for images.
	Shape []int
	DType DType
	// Encoded marks variable-length, undecoded sample bytes.
	Encoded bool
}

// Elems is the number of elements of one sample.
func (d TensorDesc) Elems() int {
	n := 1
	for _, s := range d.Shape {
		n *= s
	}
	return n
}

// Concrete reports whether every dimension is known and positive.
func (d TensorDesc) Concrete() bool {
	if d.Encoded || len(d.Shape) == 0 || d.DType == DTypeOther {
		return false
	}
	for _, s := range d.Shape {
		if s <= 0 {
			return false
		}
	}
	return true
}

func (d TensorDesc) Equal(o TensorDesc) bool {
	return d.DType == o.DType && d.Encoded == o.Encoded && slices.Equal(d.Shape, o.Shape)
}

func (d TensorDesc) String() string {
	if d.Encoded {
		return "encoded"
	}
	return fmt.Sprintf("%v:%s", d.Shape, d.DType)
}

// ImageDesc is the descriptor of an H x W x C image.
func ImageDesc(h, w, c int, dtype DType) TensorDesc {
	return TensorDesc{Shape: []int{h, w, c}, DType: dtype}
}

var ErrShapeMismatch = errors.New("ml: shape mismatch")

// Tensor is a batch of samples in one contiguous buffer.
type Tensor struct {
	shape  []int
	dtype  DType
	layout Layout
	mem    MemoryType
	device int
	data   []byte
}

// NewTensor wraps data as a batch tensor. The per-sample descriptor must be
// an H x W x C image; the tensor shape follows layout.
func NewTensor(batch int, desc TensorDesc, dtype DType, layout Layout, mem MemoryType, device int, data []byte) (*Tensor, error) {
	if len(desc.Shape) != 3 {
		return nil, fmt.Errorf("%w: expected HWC descriptor, got %v", ErrShapeMismatch, desc.Shape)
	}
	h, w, c := desc.Shape[0], desc.Shape[1], desc.Shape[2]

	shape := []int{batch, h, w, c}
	if layout == LayoutNCHW {
		shape = []int{batch, c, h, w}
	}

	if want := batch * h * w * c * dtype.Size(); len(data) != want {
		return nil, fmt.Errorf("%w: buffer has %d bytes, expected %d", ErrShapeMismatch, len(data), want)
	}

	return &Tensor{shape: shape, dtype: dtype, layout: layout, mem: mem, device: device, data: data}, nil
}

func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

func (t *Tensor) Dim(n int) int { return t.shape[n] }

func (t *Tensor) DType() DType { return t.dtype }

func (t *Tensor) Layout() Layout { return t.layout }

func (t *Tensor) Placement() MemoryType { return t.mem }

func (t *Tensor) DeviceID() int { return t.device }

func (t *Tensor) BatchSize() int { return t.shape[0] }

// Height, Width and Channels return the image dimensions regardless of layout.
func (t *Tensor) Height() int {
	if t.layout == LayoutNCHW {
		return t.shape[2]
	}
	return t.shape[1]
}

func (t *Tensor) Width() int {
	if t.layout == LayoutNCHW {
		return t.shape[3]
	}
	return t.shape[2]
}

func (t *Tensor) Channels() int {
	if t.layout == LayoutNCHW {
		return t.shape[1]
	}
	return t.shape[3]
}

// Bytes returns the backing buffer. For device placement the buffer is the
// mapping of the device allocation and must not be retained past the next run.
func (t *Tensor) Bytes() []byte { return t.data }

// SampleBytes returns the bytes of sample i.
func (t *Tensor) SampleBytes(i int) []byte {
	n := len(t.data) / t.shape[0]
	return t.data[i*n : (i+1)*n]
}

// Floats decodes the buffer into float32 values.
func (t *Tensor) Floats() []float32 {
	n := len(t.data) / max(t.dtype.Size(), 1)
	out := make([]float32, n)

	switch t.dtype {
	case DTypeF32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
		}
	case DTypeF16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.data[i*2:])).Float32()
		}
	case DTypeU8:
		for i := range out {
			out[i] = float32(t.data[i])
		}
	case DTypeI32:
		for i := range out {
			out[i] = float32(int32(binary.LittleEndian.Uint32(t.data[i*4:])))
		}
	}

	return out
}
