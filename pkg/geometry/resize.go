package geometry

import (
	"errors"
	"fmt"
	"math"

	"volkit/internal/models"
)

// Mode selects the interpolation used by Resize
type Mode string

const (
	Nearest   Mode = "nearest"
	Trilinear Mode = "trilinear"
)

var (
	// ErrInvalidMode is returned when a resize mode is neither nearest nor trilinear
	ErrInvalidMode = errors.New("invalid interpolation mode")

	// ErrInvalidSize is returned for a target shape with a non-positive extent
	ErrInvalidSize = errors.New("invalid target size")
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Nearest, Trilinear:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (must be %q or %q)", ErrInvalidMode, s, Nearest, Trilinear)
}

// ResizeOptions controls Resize. The zero value resamples trilinearly and
// casts the result back to the source element type.
type ResizeOptions struct {
	// ToFloat keeps the interpolated samples as Float32 instead of casting
	// them back to the source dtype.
	ToFloat bool

	// Mode is the interpolation mode, Trilinear when empty.
	Mode Mode
}

// Resize resamples src to size (depth, height, width).
//
// Trilinear sampling treats voxels as cells (corners not aligned): output
// index i maps to source coordinate (i+0.5)*in/out-0.5, clamped at 0. Nearest
// sampling maps i to floor(i*in/out).
//
// Samples are interpolated in float64 and then cast to the output dtype, so
// integer volumes truncate toward zero. Interpolating integer input in float32
// instead can land a hair below an integer and truncate one lower; Resize does
// not reproduce that rounding.
func Resize(src *models.Volume, size [3]int, opts ResizeOptions) (*models.Volume, error) {
	mode := opts.Mode
	if mode == "" {
		mode = Trilinear
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	for _, n := range size {
		if n <= 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSize, size)
		}
	}
	if src.Len() == 0 {
		return nil, fmt.Errorf("%w: cannot resample empty volume of shape %v", ErrInvalidSize, src.Shape())
	}

	dtype := src.DType
	if opts.ToFloat {
		dtype = models.Float32
	}
	out := models.NewVolume(size[0], size[1], size[2], dtype)

	switch mode {
	case Nearest:
		resizeNearest(src, out)
	case Trilinear:
		resizeTrilinear(src, out)
	}

	for i, v := range out.Data {
		out.Data[i] = dtype.Cast(v)
	}
	return out, nil
}

func resizeNearest(src, dst *models.Volume) {
	zs := nearestIndices(src.Depth, dst.Depth)
	ys := nearestIndices(src.Height, dst.Height)
	xs := nearestIndices(src.Width, dst.Width)

	i := 0
	for _, sz := range zs {
		for _, sy := range ys {
			row := src.Index(sz, sy, 0)
			for _, sx := range xs {
				dst.Data[i] = src.Data[row+sx]
				i++
			}
		}
	}
}

func nearestIndices(in, out int) []int {
	idx := make([]int, out)
	for i := range idx {
		idx[i] = min(i*in/out, in-1)
	}
	return idx
}

// axisWeights holds, for each output position, the two neighbouring source
// indices and the weight of the upper one.
type axisWeights struct {
	lo, hi []int
	frac   []float64
}

func linearWeights(in, out int) axisWeights {
	scale := float64(in) / float64(out)
	w := axisWeights{
		lo:   make([]int, out),
		hi:   make([]int, out),
		frac: make([]float64, out),
	}
	for i := 0; i < out; i++ {
		s := math.Max((float64(i)+0.5)*scale-0.5, 0)
		lo := min(int(s), in-1)
		hi := lo
		if lo < in-1 {
			hi = lo + 1
		}
		w.lo[i] = lo
		w.hi[i] = hi
		w.frac[i] = s - float64(lo)
		if hi == lo {
			w.frac[i] = 0
		}
	}
	return w
}

func resizeTrilinear(src, dst *models.Volume) {
	wz := linearWeights(src.Depth, dst.Depth)
	wy := linearWeights(src.Height, dst.Height)
	wx := linearWeights(src.Width, dst.Width)

	i := 0
	for z := 0; z < dst.Depth; z++ {
		z0, z1, fz := wz.lo[z], wz.hi[z], wz.frac[z]
		for y := 0; y < dst.Height; y++ {
			y0, y1, fy := wy.lo[y], wy.hi[y], wy.frac[y]
			for x := 0; x < dst.Width; x++ {
				x0, x1, fx := wx.lo[x], wx.hi[x], wx.frac[x]

				c00 := lerp(src.At(z0, y0, x0), src.At(z0, y0, x1), fx)
				c01 := lerp(src.At(z0, y1, x0), src.At(z0, y1, x1), fx)
				c10 := lerp(src.At(z1, y0, x0), src.At(z1, y0, x1), fx)
				c11 := lerp(src.At(z1, y1, x0), src.At(z1, y1, x1), fx)

				dst.Data[i] = lerp(lerp(c00, c01, fy), lerp(c10, c11, fy), fz)
				i++
			}
		}
	}
}

func lerp(a, b, t float64) float64 {
	return (1-t)*a + t*b
}
