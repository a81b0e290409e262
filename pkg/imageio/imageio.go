// Package imageio loads volumetric medical images together with their spatial
// metadata. Files are decoded by a format backend into an Image, which carries
// the sample array in depth, height, width order and the geometry in the
// file's native x, y, z order. Read converts that geometry into a
// models.Header and can flip the array into canonical orientation.
package imageio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"volkit/internal/models"
	"volkit/pkg/geometry"
)

var (
	// ErrUnsupportedFormat is returned when no decoder is registered for a path
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrMalformedHeader is returned when image metadata cannot be interpreted
	ErrMalformedHeader = errors.New("malformed image header")
)

// Image is the capability set a format backend has to provide
type Image interface {
	// Array returns the samples in depth, height, width order
	Array() *models.Volume

	// Direction returns the 3x3 direction cosine matrix, row-major, whose
	// columns are the x, y and z axis directions.
	Direction() [9]float64

	// Spacing returns the voxel size along x, y, z
	Spacing() [3]float64

	// Origin returns the physical position of the first voxel in x, y, z
	Origin() [3]float64
}

// Decoder reads the image stored at path
type Decoder func(path string) (Image, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[string]Decoder{
		".mha":    decodeMetaImage,
		".mhd":    decodeMetaImage,
		".dcm":    decodeDICOMFile,
		".nii":    decodeNIfTI,
		".nii.gz": decodeNIfTI,
	}
)

// compoundExts are the multi-part extensions decoders can be registered for
var compoundExts = []string{".nii.gz"}

// seriesDecoder handles directory paths
var seriesDecoder Decoder = decodeDICOMSeries

// RegisterDecoder installs a decoder for a file extension such as ".nrrd",
// replacing any decoder already registered for it.
func RegisterDecoder(ext string, dec Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[strings.ToLower(ext)] = dec
}

// imageExt returns the lower-case extension a decoder is looked up by
func imageExt(path string) string {
	lower := strings.ToLower(path)
	for _, ext := range compoundExts {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return filepath.Ext(lower)
}

// Decode picks a backend by extension, or the DICOM series backend when path
// is a directory, and decodes the image.
func Decode(path string) (Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	dec := seriesDecoder
	if !info.IsDir() {
		decodersMu.RLock()
		d, ok := decoders[imageExt(path)]
		decodersMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
		}
		dec = d
	}

	img, err := dec(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := checkDirection(img.Direction()); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// checkDirection rejects direction matrices that are not orthonormal
func checkDirection(direction [9]float64) error {
	d := mat.NewDense(3, 3, direction[:])
	var gram mat.Dense
	gram.Mul(d.T(), d)
	if !mat.EqualApprox(&gram, eye3, 1e-3) {
		return fmt.Errorf("%w: direction %v is not orthonormal", ErrMalformedHeader, direction)
	}
	return nil
}

var eye3 = mat.NewDiagDense(3, []float64{1, 1, 1})

// Options controls Read
type Options struct {
	// ReadHeader makes Read return the spatial header
	ReadHeader bool

	// Reorient flips every axis whose principal direction cosine is negative
	Reorient bool
}

// Read loads a volume from path. The header is nil unless opts.ReadHeader is
// set. Spacing and origin are reported in depth, height, width order; the
// direction is the rounded principal cosine of each axis, or all ones when the
// volume was reoriented.
func Read(path string, opts Options) (*models.Volume, *models.Header, error) {
	img, err := Decode(path)
	if err != nil {
		return nil, nil, err
	}

	vol := img.Array()
	cosines := principalCosines(img.Direction())

	if opts.Reorient {
		for axis, c := range cosines {
			if c < 0 {
				vol = geometry.Flip(vol, axis)
			}
		}
	}

	if !opts.ReadHeader {
		return vol, nil, nil
	}

	hdr := &models.Header{
		Spacing: reverse(img.Spacing()),
		Origin:  reverse(img.Origin()),
	}
	if opts.Reorient {
		hdr.Direction = [3]float64{1, 1, 1}
	} else {
		for i, c := range cosines {
			hdr.Direction[i] = math.RoundToEven(c)
		}
	}
	return vol, hdr, nil
}

// principalCosines returns the diagonal of the direction matrix in depth,
// height, width order.
func principalCosines(direction [9]float64) [3]float64 {
	return [3]float64{direction[8], direction[4], direction[0]}
}

func reverse(v [3]float64) [3]float64 {
	return [3]float64{v[2], v[1], v[0]}
}

// identityDirection is the direction matrix of an unrotated image
var identityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// decoded is the Image produced by the built-in backends
type decoded struct {
	volume    *models.Volume
	direction [9]float64
	spacing   [3]float64
	origin    [3]float64
}

func (d *decoded) Array() *models.Volume { return d.volume }
func (d *decoded) Direction() [9]float64 { return d.direction }
func (d *decoded) Spacing() [3]float64   { return d.spacing }
func (d *decoded) Origin() [3]float64    { return d.origin }
