package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DType is the element type a volume was loaded with. Samples are always held
// as float64; the DType records what they must be cast back to.
type DType int

const (
	Uint8 DType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Int64
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// IsFloat reports whether d is a floating point type
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// ByteSize returns the storage width of one sample
func (d DType) ByteSize() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	default:
		return 8
	}
}

// Cast converts v the way a C cast to d would: integers truncate toward zero
// and wrap to the type width, Float32 rounds to single precision.
func (d DType) Cast(v float64) float64 {
	switch d {
	case Float64:
		return v
	case Float32:
		return float64(float32(v))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	t := int64(math.Trunc(v))
	switch d {
	case Uint8:
		return float64(uint8(t))
	case Int8:
		return float64(int8(t))
	case Uint16:
		return float64(uint16(t))
	case Int16:
		return float64(int16(t))
	case Uint32:
		return float64(uint32(t))
	case Int32:
		return float64(int32(t))
	default:
		return float64(t)
	}
}

// Volume is a dense 3D array of samples in depth, height, width order.
// Data is row-major: idx = z*Height*Width + y*Width + x
type Volume struct {
	Data []float64

	Depth  int
	Height int
	Width  int

	DType DType
}

// NewVolume allocates a zero-filled volume. Negative extents are treated as 0.
func NewVolume(depth, height, width int, dtype DType) *Volume {
	depth, height, width = max(depth, 0), max(height, 0), max(width, 0)
	return &Volume{
		Data:   make([]float64, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
		DType:  dtype,
	}
}

// FromData wraps data as a volume, checking that the extents match its length
func FromData(data []float64, depth, height, width int, dtype DType) (*Volume, error) {
	if depth < 0 || height < 0 || width < 0 {
		return nil, fmt.Errorf("negative volume extent %dx%dx%d", depth, height, width)
	}
	if len(data) != depth*height*width {
		return nil, fmt.Errorf("data length %d does not match shape %dx%dx%d", len(data), depth, height, width)
	}
	return &Volume{Data: data, Depth: depth, Height: height, Width: width, DType: dtype}, nil
}

// Shape returns the extents in (depth, height, width) order
func (v *Volume) Shape() [3]int {
	return [3]int{v.Depth, v.Height, v.Width}
}

func (v *Volume) Len() int {
	return len(v.Data)
}

func (v *Volume) Index(z, y, x int) int {
	return z*v.Height*v.Width + y*v.Width + x
}

func (v *Volume) At(z, y, x int) float64 {
	return v.Data[v.Index(z, y, x)]
}

func (v *Volume) Set(z, y, x int, value float64) {
	v.Data[v.Index(z, y, x)] = value
}

// Clone returns a deep copy
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return &out
}

// Equal reports whether two volumes have the same shape, dtype and samples
func (v *Volume) Equal(o *Volume) bool {
	if v.Shape() != o.Shape() || v.DType != o.DType {
		return false
	}
	return floats.Equal(v.Data, o.Data)
}

// Header is the spatial metadata of a loaded volume, every field in
// depth, height, width order.
type Header struct {
	Spacing   [3]float64
	Direction [3]float64
	Origin    [3]float64
}

// Stats summarises the intensity distribution of a volume
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Stats computes intensity statistics. An empty volume yields the zero value.
func (v *Volume) Stats() Stats {
	if len(v.Data) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(v.Data, nil)
	if len(v.Data) == 1 {
		std = 0
	}
	return Stats{
		Min:    floats.Min(v.Data),
		Max:    floats.Max(v.Data),
		Mean:   mean,
		StdDev: std,
	}
}
