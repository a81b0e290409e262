package geometry

import (
	"volkit/internal/models"
)

// Crop returns the sub-volume starting at point (z, y, x) with extent size
// (d, h, w). Ranges follow slice semantics: negative starts count from the end
// of the axis and ranges running past the volume are truncated, so the result
// may be smaller than requested or empty. Crop never fails.
func Crop(v *models.Volume, point, size [3]int) *models.Volume {
	lo, hi := CropBounds(v.Shape(), point, size)
	return extract(v, lo, hi)
}

// CenterCrop returns the centered crop of the given extents. An extent larger
// than the volume keeps that axis whole instead of wrapping around.
func CenterCrop(v *models.Volume, cropDepth, cropHeight, cropWidth int) *models.Volume {
	lo, hi := CenterBounds(v.Shape(), [3]int{cropDepth, cropHeight, cropWidth})
	return extract(v, lo, hi)
}

// CropBounds resolves the half-open index range [lo, hi) that Crop keeps on
// each axis of a volume with the given shape.
func CropBounds(shape, point, size [3]int) (lo, hi [3]int) {
	for i := range shape {
		lo[i], hi[i] = sliceBounds(shape[i], point[i], point[i]+size[i])
	}
	return lo, hi
}

// CenterBounds resolves the index range CenterCrop keeps on each axis
func CenterBounds(shape, crop [3]int) (lo, hi [3]int) {
	for i := range shape {
		lo[i], hi[i] = centerBounds(shape[i], crop[i])
	}
	return lo, hi
}

func centerBounds(extent, crop int) (int, int) {
	if crop >= extent {
		return 0, extent
	}
	if crop <= 0 {
		return 0, 0
	}
	start := (extent - crop) / 2
	return start, start + crop
}

// sliceBounds resolves [start:stop) against an axis of length n
func sliceBounds(n, start, stop int) (int, int) {
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		return min(max(i, 0), n)
	}
	lo, hi := clamp(start), clamp(stop)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func extract(v *models.Volume, lo, hi [3]int) *models.Volume {
	out := models.NewVolume(hi[0]-lo[0], hi[1]-lo[1], hi[2]-lo[2], v.DType)
	for z := 0; z < out.Depth; z++ {
		for y := 0; y < out.Height; y++ {
			src := v.Index(lo[0]+z, lo[1]+y, lo[2])
			dst := out.Index(z, y, 0)
			copy(out.Data[dst : dst+out.Width], v.Data[src : src+out.Width])
		}
	}
	return out
}
