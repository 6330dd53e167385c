// types.go - Datentypen und Konstanten fuer Batch-Tensoren
// Dieses Modul definiert grundlegende Typen wie DType, Layout, MemoryType und SamplingMode.
package ml

import "fmt"

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeU8
	DTypeI32
)

// Size returns the width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16:
		return 2
	case DTypeU8:
		return 1
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeU8:
		return "u8"
	case DTypeI32:
		return "i32"
	default:
		return "other"
	}
}

// ParseDType parses the names produced by DType.String.
func ParseDType(s string) (DType, error) {
	switch s {
	case "f32", "float", "float32":
		return DTypeF32, nil
	case "f16", "half", "float16":
		return DTypeF16, nil
	case "u8", "uint8":
		return DTypeU8, nil
	case "i32", "int32":
		return DTypeI32, nil
	}
	return DTypeOther, fmt.Errorf("unknown dtype %q", s)
}

// Layout is the order of the per-sample dimensions of an image tensor.
type Layout int

const (
	// LayoutNHWC stores channels last.
	LayoutNHWC Layout = iota
	// LayoutNCHW stores channels first.
	LayoutNCHW
)

func (l Layout) String() string {
	if l == LayoutNCHW {
		return "NCHW"
	}
	return "NHWC"
}

// ParseLayout parses "NHWC" or "NCHW".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "NHWC", "nhwc":
		return LayoutNHWC, nil
	case "NCHW", "nchw":
		return LayoutNCHW, nil
	}
	return LayoutNHWC, fmt.Errorf("unknown layout %q", s)
}

// MemoryType is the placement of a tensor's backing memory.
type MemoryType int

const (
	MemoryHost MemoryType = iota
	MemoryDevice
)

func (m MemoryType) String() string {
	if m == MemoryDevice {
		return "device"
	}
	return "host"
}

// SamplingMode specifies the interpolation method for resizing.
type SamplingMode int

const (
	SamplingModeNearest SamplingMode = iota
	SamplingModeBilinear
)
