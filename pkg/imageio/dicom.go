package imageio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cocosip/go-dicom/pkg/dicom/dataset"
	"github.com/cocosip/go-dicom/pkg/dicom/element"
	"github.com/cocosip/go-dicom/pkg/dicom/parser"
	"github.com/cocosip/go-dicom/pkg/dicom/tag"
	"github.com/cocosip/go-dicom/pkg/dicom/transfer"
	"github.com/cocosip/go-dicom/pkg/imaging/codec"
	"gonum.org/v1/gonum/floats"

	"volkit/internal/models"
)

// dicomFrames is the decoded pixel data of one DICOM file plus the geometry
// attributes needed to place it in a volume.
type dicomFrames struct {
	rows, cols, frames int
	dtype              models.DType
	samples            []float64

	position     [3]float64
	orientation  [6]float64
	pixelSpacing [2]float64
	sliceSpacing float64
}

// decodeDICOMFile reads a single DICOM file; every frame becomes a depth slice.
// Compressed transfer syntaxes are decoded through whichever codecs the
// program has registered with the go-dicom codec registry.
func decodeDICOMFile(path string) (Image, error) {
	f, err := readDICOMFrames(path)
	if err != nil {
		return nil, err
	}
	return assembleDICOM([]*dicomFrames{f})
}

// decodeDICOMSeries reads every DICOM file in a directory, one slice (or
// multi-frame stack) per file, and stacks them along the slice normal. Files
// that do not parse as DICOM images, such as a DICOMDIR or scanner notes, are
// skipped.
func decodeDICOMSeries(dir string) (Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var series []*dicomFrames
	var skipped []string
	for _, entry := range entries {
		if entry.IsDir() || !isDICOMName(entry.Name()) {
			continue
		}
		f, err := readDICOMFrames(filepath.Join(dir, entry.Name()))
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s (%v)", entry.Name(), err))
			continue
		}
		series = append(series, f)
	}
	if len(series) == 0 {
		if len(skipped) > 0 {
			return nil, fmt.Errorf("%w: no readable DICOM slices in %s, skipped %s", ErrUnsupportedFormat, dir, strings.Join(skipped, ", "))
		}
		return nil, fmt.Errorf("%w: no DICOM files found in %s", ErrUnsupportedFormat, dir)
	}

	sortSeries(series)
	return assembleDICOM(series)
}

func isDICOMName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".dcm" || ext == ".dicom" || ext == ""
}

func readDICOMFrames(path string) (*dicomFrames, error) {
	res, err := parser.ParseFile(path, parser.WithReadOption(parser.ReadAll))
	if err != nil {
		return nil, err
	}

	ds := res.Dataset
	if res.TransferSyntax != nil && res.TransferSyntax.IsEncapsulated() {
		tr := codec.NewTranscoder(res.TransferSyntax, transfer.ExplicitVRLittleEndian)
		ds, err = tr.Transcode(ds)
		if err != nil {
			return nil, fmt.Errorf("failed to decode compressed pixel data: %w", err)
		}
	}
	return framesFromDataset(ds)
}

func framesFromDataset(ds *dataset.Dataset) (*dicomFrames, error) {
	f := &dicomFrames{
		rows:   int(uint16Attr(ds, tag.Rows, 0)),
		cols:   int(uint16Attr(ds, tag.Columns, 0)),
		frames: 1,
	}
	if f.rows == 0 || f.cols == 0 {
		return nil, fmt.Errorf("%w: missing image dimensions", ErrMalformedHeader)
	}
	if spp := uint16Attr(ds, tag.SamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel, only grayscale images are supported", ErrMalformedHeader, spp)
	}

	dtype, err := dicomDType(uint16Attr(ds, tag.BitsAllocated, 16), uint16Attr(ds, tag.PixelRepresentation, 0))
	if err != nil {
		return nil, err
	}
	f.dtype = dtype

	if s, ok := ds.GetString(tag.NumberOfFrames); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
			f.frames = n
		}
	}

	elem, ok := ds.Get(tag.PixelData)
	if !ok {
		return nil, fmt.Errorf("%w: pixel data element not found", ErrMalformedHeader)
	}
	var raw []byte
	switch v := elem.(type) {
	case *element.OtherByte:
		raw = v.GetData()
	case *element.OtherWord:
		raw = v.GetData()
	default:
		return nil, fmt.Errorf("%w: unexpected pixel data element %T", ErrMalformedHeader, elem)
	}

	f.samples, err = decodeSamples(raw, dtype, binary.LittleEndian, f.rows*f.cols*f.frames)
	if err != nil {
		return nil, err
	}

	slope, intercept := 1.0, 0.0
	if s, ok := ds.GetString(tag.RescaleSlope); ok {
		if v := parseDecimalStrings(s); len(v) > 0 {
			slope = v[0]
		}
	}
	if s, ok := ds.GetString(tag.RescaleIntercept); ok {
		if v := parseDecimalStrings(s); len(v) > 0 {
			intercept = v[0]
		}
	}
	f.dtype = rescale(f.samples, f.dtype, slope, intercept)

	f.orientation = [6]float64{1, 0, 0, 0, 1, 0}
	if s, ok := ds.GetString(tag.ImageOrientationPatient); ok {
		if v := parseDecimalStrings(s); len(v) == 6 {
			copy(f.orientation[:], v)
		}
	}
	if s, ok := ds.GetString(tag.ImagePositionPatient); ok {
		if v := parseDecimalStrings(s); len(v) == 3 {
			copy(f.position[:], v)
		}
	}
	f.pixelSpacing = [2]float64{1, 1}
	if s, ok := ds.GetString(tag.PixelSpacing); ok {
		switch v := parseDecimalStrings(s); len(v) {
		case 1:
			f.pixelSpacing = [2]float64{v[0], v[0]}
		case 2:
			f.pixelSpacing = [2]float64{v[0], v[1]}
		}
	}
	// series spacing is recomputed from positions in assembleDICOM
	f.sliceSpacing = 1
	if s, ok := ds.GetString(tag.SliceThickness); ok {
		if v := parseDecimalStrings(s); len(v) > 0 && v[0] > 0 {
			f.sliceSpacing = v[0]
		}
	}
	if s, ok := ds.GetString(tag.SpacingBetweenSlices); ok {
		if v := parseDecimalStrings(s); len(v) > 0 && v[0] > 0 {
			f.sliceSpacing = v[0]
		}
	}
	return f, nil
}

// uint16Attr returns the first value of a US attribute, or def when it is absent
func uint16Attr(ds *dataset.Dataset, t *tag.Tag, def uint16) uint16 {
	v, err := ds.GetUInt16(t, 0)
	if err != nil {
		return def
	}
	return v
}

// dicomDType maps BitsAllocated and PixelRepresentation to a sample type
func dicomDType(bitsAllocated, pixelRepresentation uint16) (models.DType, error) {
	signed := pixelRepresentation != 0
	switch bitsAllocated {
	case 8:
		if signed {
			return models.Int8, nil
		}
		return models.Uint8, nil
	case 16:
		if signed {
			return models.Int16, nil
		}
		return models.Uint16, nil
	case 32:
		if signed {
			return models.Int32, nil
		}
		return models.Uint32, nil
	}
	return 0, fmt.Errorf("%w: unsupported BitsAllocated %d", ErrMalformedHeader, bitsAllocated)
}

// rescale applies the modality LUT in place and returns the resulting type:
// integral slopes and intercepts keep integer samples (widened to int32),
// anything else yields float32.
func rescale(samples []float64, dtype models.DType, slope, intercept float64) models.DType {
	if slope == 1 && intercept == 0 {
		return dtype
	}
	for i, v := range samples {
		samples[i] = v*slope + intercept
	}
	if slope == math.Trunc(slope) && intercept == math.Trunc(intercept) {
		return models.Int32
	}
	for i, v := range samples {
		samples[i] = models.Float32.Cast(v)
	}
	return models.Float32
}

// parseDecimalStrings splits a backslash separated DS value
func parseDecimalStrings(s string) []float64 {
	var out []float64
	for _, part := range strings.Split(s, `\`) {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// sliceNormal is the cross product of the row and column direction cosines
func sliceNormal(orientation [6]float64) [3]float64 {
	r, c := orientation[:3], orientation[3:]
	return [3]float64{
		r[1]*c[2] - r[2]*c[1],
		r[2]*c[0] - r[0]*c[2],
		r[0]*c[1] - r[1]*c[0],
	}
}

// sortSeries orders slices by their position along the slice normal
func sortSeries(series []*dicomFrames) {
	n := sliceNormal(series[0].orientation)
	sort.SliceStable(series, func(i, j int) bool {
		return floats.Dot(n[:], series[i].position[:]) < floats.Dot(n[:], series[j].position[:])
	})
}

// assembleDICOM stacks sorted frame sets into one volume. The direction
// columns are the row cosine, the column cosine and the slice normal.
func assembleDICOM(series []*dicomFrames) (Image, error) {
	first := series[0]
	depth := 0
	dtype := first.dtype
	for _, f := range series {
		if f.rows != first.rows || f.cols != first.cols {
			return nil, fmt.Errorf("%w: slice size %dx%d differs from %dx%d", ErrMalformedHeader, f.cols, f.rows, first.cols, first.rows)
		}
		if f.dtype != dtype {
			dtype = widerType(dtype, f.dtype)
		}
		depth += f.frames
	}

	samples := make([]float64, 0, depth*first.rows*first.cols)
	for _, f := range series {
		samples = append(samples, f.samples...)
	}
	vol, err := models.FromData(samples, depth, first.rows, first.cols, dtype)
	if err != nil {
		return nil, err
	}

	n := sliceNormal(first.orientation)
	o := first.orientation
	img := &decoded{
		volume: vol,
		direction: [9]float64{
			o[0], o[3], n[0],
			o[1], o[4], n[1],
			o[2], o[5], n[2],
		},
		// PixelSpacing is (row spacing, column spacing): y before x
		spacing: [3]float64{first.pixelSpacing[1], first.pixelSpacing[0], first.sliceSpacing},
		origin:  first.position,
	}
	if len(series) > 1 {
		last := series[len(series)-1]
		gap := (floats.Dot(n[:], last.position[:]) - floats.Dot(n[:], first.position[:])) / float64(len(series)-1)
		if gap > 0 {
			img.spacing[2] = gap
		}
	}
	return img, nil
}

// widerType picks a type that can hold samples of both a and b
func widerType(a, b models.DType) models.DType {
	if a.IsFloat() || b.IsFloat() {
		return models.Float32
	}
	return models.Int32
}
