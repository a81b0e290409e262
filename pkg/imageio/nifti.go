package imageio

import (
	"fmt"
	"math"

	"github.com/henghuang/nifti"
	"gonum.org/v1/gonum/mat"

	"volkit/internal/models"
)

// niftiTypes maps NIfTI-1 datatype codes to sample types. 64-bit samples are
// missing because the nifti package reads every voxel through a float32.
var niftiTypes = map[int16]models.DType{
	2:   models.Uint8,
	4:   models.Int16,
	8:   models.Int32,
	16:  models.Float32,
	256: models.Int8,
	512: models.Uint16,
	768: models.Uint32,
}

// decodeNIfTI reads a single-file NIfTI-1 image (.nii or .nii.gz). Geometry
// comes from the qform when present, else the sform, and is converted from
// the file's RAS frame to the LPS frame used by the other backends.
func decodeNIfTI(path string) (Image, error) {
	hdr, err := safelyNiftiHeader(path)
	if err != nil {
		return nil, err
	}
	if hdr.SizeofHdr != 348 {
		return nil, fmt.Errorf("%w: not a little-endian NIfTI-1 header", ErrMalformedHeader)
	}

	dtype, ok := niftiTypes[hdr.Datatype]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported NIfTI datatype %d", ErrMalformedHeader, hdr.Datatype)
	}
	if int(hdr.Bitpix) != 8*dtype.ByteSize() {
		return nil, fmt.Errorf("%w: bitpix %d does not match %s", ErrMalformedHeader, hdr.Bitpix, dtype)
	}

	ndim := int(hdr.Dim[0])
	if ndim < 2 || ndim > 4 || (ndim == 4 && hdr.Dim[4] > 1) {
		return nil, fmt.Errorf("%w: %d-D NIfTI images are not supported", ErrMalformedHeader, ndim)
	}
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), 1
	if ndim > 2 {
		nz = int(hdr.Dim[3])
	}
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%w: dimensions %v", ErrMalformedHeader, hdr.Dim)
	}

	samples := make([]float64, nx*ny*nz)
	err = safely(func() {
		var img nifti.Nifti1Image
		img.LoadImage(path, true)
		i := 0
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					samples[i] = niftiSample(img.GetAt(x, y, z, 0), dtype)
					i++
				}
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read voxel data: %w", err)
	}

	if hdr.SclSlope != 0 {
		dtype = rescale(samples, dtype, float64(hdr.SclSlope), float64(hdr.SclInter))
	}
	vol, err := models.FromData(samples, nz, ny, nx, dtype)
	if err != nil {
		return nil, err
	}

	img := &decoded{volume: vol}
	img.direction, img.spacing, img.origin = niftiGeometry(&hdr)
	return img, nil
}

// niftiSample undoes the float32 conversion nifti.GetAt applies to the raw
// bytes: it reads 2-byte voxels as uint16 and 4-byte voxels as float32 bits.
func niftiSample(v float32, dtype models.DType) float64 {
	switch dtype {
	case models.Int8:
		return float64(int8(uint8(v)))
	case models.Int16:
		return float64(int16(uint16(v)))
	case models.Int32:
		return float64(int32(math.Float32bits(v)))
	case models.Uint32:
		return float64(math.Float32bits(v))
	}
	return float64(v)
}

// niftiGeometry returns the direction, spacing and origin in LPS
func niftiGeometry(hdr *nifti.Nifti1Header) (direction [9]float64, spacing, origin [3]float64) {
	for i := range spacing {
		spacing[i] = math.Abs(float64(hdr.Pixdim[i+1]))
		if spacing[i] == 0 {
			spacing[i] = 1
		}
	}

	switch {
	case hdr.QformCode > 0:
		direction = quaternionMatrix(float64(hdr.QuaternB), float64(hdr.QuaternC), float64(hdr.QuaternD))
		if hdr.Pixdim[0] < 0 {
			direction[2], direction[5], direction[8] = -direction[2], -direction[5], -direction[8]
		}
		origin = [3]float64{float64(hdr.QoffsetX), float64(hdr.QoffsetY), float64(hdr.QoffsetZ)}
	case hdr.SformCode > 0:
		affine := mat.NewDense(3, 3, nil)
		for i, row := range [3][4]float32{hdr.SrowX, hdr.SrowY, hdr.SrowZ} {
			for j := 0; j < 3; j++ {
				affine.Set(i, j, float64(row[j]))
			}
			origin[i] = float64(row[3])
		}
		for j := 0; j < 3; j++ {
			if norm := mat.Norm(affine.ColView(j), 2); norm > 0 {
				spacing[j] = norm
			}
			for i := 0; i < 3; i++ {
				direction[3*i+j] = affine.At(i, j) / spacing[j]
			}
		}
	default:
		direction = identityDirection
	}

	// RAS to LPS: negate the x and y rows
	for j := 0; j < 3; j++ {
		direction[j], direction[3+j] = -direction[j], -direction[3+j]
	}
	origin[0], origin[1] = -origin[0], -origin[1]
	return direction, spacing, origin
}

// quaternionMatrix builds the qform rotation from its b, c, d parameters
func quaternionMatrix(b, c, d float64) [9]float64 {
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*a, c*a, d*a
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	return [9]float64{
		a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c),
		2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b),
		2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b,
	}
}

// safelyNiftiHeader loads a NIfTI header, turning the panics the nifti
// package raises on unreadable files into errors.
func safelyNiftiHeader(path string) (hdr nifti.Nifti1Header, err error) {
	err = safely(func() { hdr.LoadHeader(path) })
	return hdr, err
}

func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedHeader, r)
		}
	}()
	fn()
	return nil
}
