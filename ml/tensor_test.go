package ml

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x448/float16"
)

func TestTensorShapeByLayout(t *testing.T) {
	desc := ImageDesc(4, 6, 3, DTypeU8)

	cases := []struct {
		layout Layout
		shape  []int
	}{
		{LayoutNHWC, []int{2, 4, 6, 3}},
		{LayoutNCHW, []int{2, 3, 4, 6}},
	}

	for _, tt := range cases {
		t.Run(tt.layout.String(), func(t *testing.T) {
			tensor, err := NewTensor(2, desc, DTypeU8, tt.layout, MemoryHost, 0, make([]byte, 2*4*6*3))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.shape, tensor.Shape()); diff != "" {
				t.Errorf("shape unterschiedlich (-erwartet +bekommen):\n%s", diff)
			}
			if tensor.Height() != 4 || tensor.Width() != 6 || tensor.Channels() != 3 {
				t.Errorf("dims = %d,%d,%d", tensor.Height(), tensor.Width(), tensor.Channels())
			}
		})
	}
}

func TestTensorBufferSize(t *testing.T) {
	_, err := NewTensor(2, ImageDesc(2, 2, 3, DTypeU8), DTypeF32, LayoutNHWC, MemoryHost, 0, make([]byte, 24))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("ErrShapeMismatch erwartet, bekommen %v", err)
	}
}

func TestTensorFloats(t *testing.T) {
	desc := ImageDesc(1, 1, 2, DTypeU8)

	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-2))

	f16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(f16[0:], float16.Fromfloat32(0.5).Bits())
	binary.LittleEndian.PutUint16(f16[2:], float16.Fromfloat32(-2).Bits())

	cases := []struct {
		name  string
		dtype DType
		data  []byte
	}{
		{"f32", DTypeF32, f32},
		{"f16", DTypeF16, f16},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := NewTensor(1, desc, tt.dtype, LayoutNHWC, MemoryHost, 0, tt.data)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]float32{0.5, -2}, tensor.Floats()); diff != "" {
				t.Errorf("floats unterschiedlich (-erwartet +bekommen):\n%s", diff)
			}
		})
	}
}

func TestTensorDesc(t *testing.T) {
	if (TensorDesc{Encoded: true}).Concrete() {
		t.Error("encoded descriptor must not be concrete")
	}
	if !ImageDesc(2, 2, 3, DTypeU8).Concrete() {
		t.Error("image descriptor should be concrete")
	}
	if ImageDesc(0, 2, 3, DTypeU8).Concrete() {
		t.Error("zero height must not be concrete")
	}
	if ImageDesc(2, 2, 3, DTypeU8).Equal(ImageDesc(2, 2, 3, DTypeF32)) {
		t.Error("dtype must take part in equality")
	}
}

func TestParseDType(t *testing.T) {
	for _, d := range []DType{DTypeF32, DTypeF16, DTypeU8, DTypeI32} {
		got, err := ParseDType(d.String())
		if err != nil || got != d {
			t.Errorf("ParseDType(%q) = %v, %v", d.String(), got, err)
		}
	}
	if _, err := ParseDType("bf16"); err == nil {
		t.Error("Fehler fuer bf16 erwartet")
	}
}

func TestDump(t *testing.T) {
	small, err := NewTensor(1, ImageDesc(2, 2, 1, DTypeU8), DTypeU8, LayoutNCHW, MemoryHost, 0, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}

	seq := make([]byte, 10)
	for i := range seq {
		seq[i] = byte(i)
	}
	long, err := NewTensor(1, ImageDesc(1, 10, 1, DTypeU8), DTypeU8, LayoutNCHW, MemoryHost, 0, seq)
	if err != nil {
		t.Fatal(err)
	}

	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-2))
	floats, err := NewTensor(1, ImageDesc(1, 1, 2, DTypeU8), DTypeF32, LayoutNHWC, MemoryHost, 0, f32)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		t    *Tensor
		opts []DumpOptions
		want string
	}{
		{"small", small, nil, "[[[[ 1,  2],\n   [ 3,  4]]]]"},
		{"edges", long, []DumpOptions{DumpWithThreshold(5), DumpWithEdgeItems(2)}, "[[[[ 0,  1, ...,  8,  9]]]]"},
		{"precision", floats, []DumpOptions{DumpWithPrecision(2)}, "[[[[ 0.50, -2.00]]]]"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Dump(tt.t, tt.opts...)); diff != "" {
				t.Errorf("dump unterschiedlich (-erwartet +bekommen):\n%s", diff)
			}
		})
	}
}
