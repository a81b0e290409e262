// Package geometry provides stateless spatial transforms over 3D volumes:
// axis flips, resampling and cropping. Every function returns a new volume and
// leaves its input untouched.
package geometry

import (
	"volkit/internal/models"
)

// ZFlip reverses the volume along the depth axis
func ZFlip(v *models.Volume) *models.Volume {
	out := models.NewVolume(v.Depth, v.Height, v.Width, v.DType)
	plane := v.Height * v.Width
	for z := 0; z < v.Depth; z++ {
		src := (v.Depth - 1 - z) * plane
		copy(out.Data[z*plane : (z+1)*plane], v.Data[src : src+plane])
	}
	return out
}

// YFlip reverses the volume along the height axis
func YFlip(v *models.Volume) *models.Volume {
	out := models.NewVolume(v.Depth, v.Height, v.Width, v.DType)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			src := v.Index(z, v.Height-1-y, 0)
			dst := out.Index(z, y, 0)
			copy(out.Data[dst : dst+v.Width], v.Data[src : src+v.Width])
		}
	}
	return out
}

// XFlip reverses the volume along the width axis
func XFlip(v *models.Volume) *models.Volume {
	out := models.NewVolume(v.Depth, v.Height, v.Width, v.DType)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			row := v.Index(z, y, 0)
			for x := 0; x < v.Width; x++ {
				out.Data[row+x] = v.Data[row+v.Width-1-x]
			}
		}
	}
	return out
}

// Flip reverses the volume along a single axis (0 = depth, 1 = height,
// 2 = width). Any other axis returns an unchanged copy.
func Flip(v *models.Volume, axis int) *models.Volume {
	switch axis {
	case 0:
		return ZFlip(v)
	case 1:
		return YFlip(v)
	case 2:
		return XFlip(v)
	default:
		return v.Clone()
	}
}
