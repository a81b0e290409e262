package imageio

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/henghuang/nifti"

	"volkit/internal/models"
	"volkit/pkg/geometry"
)

// newNiftiHeader returns a single-file NIfTI-1 header for an nx*ny*nz volume
func newNiftiHeader(nx, ny, nz int, datatype, bitpix int16) nifti.Nifti1Header {
	return nifti.Nifti1Header{
		SizeofHdr: 348,
		Dim:       [8]int16{3, int16(nx), int16(ny), int16(nz), 1, 1, 1, 1},
		Datatype:  datatype,
		Bitpix:    bitpix,
		Pixdim:    [8]float32{1, 1, 1, 1, 1, 1, 1, 1},
		VoxOffset: 352,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
}

// writeNifti stores hdr, the empty extension block and the samples of vol.
// Paths ending in .gz are gzip compressed.
func writeNifti(t *testing.T, path string, hdr nifti.Nifti1Header, vol *models.Volume) {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}
	buf.Write(make([]byte, 4))
	buf.Write(encodeSamples(vol.Data, vol.DType, binary.LittleEndian))

	data := buf.Bytes()
	if filepath.Ext(path) == ".gz" {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		data = zbuf.Bytes()
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write NIfTI file: %v", err)
	}
}

func TestReadNiftiSform(t *testing.T) {
	vol := createTestVolume(2, 3, 4, models.Int16)
	for i := range vol.Data {
		vol.Data[i] -= 50
	}

	hdr := newNiftiHeader(4, 3, 2, 4, 16)
	hdr.Pixdim = [8]float32{1, 0.5, 0.75, 2, 1, 1, 1, 1}
	hdr.SformCode = 1
	hdr.SrowX = [4]float32{-0.5, 0, 0, 10}
	hdr.SrowY = [4]float32{0, 0.75, 0, 20}
	hdr.SrowZ = [4]float32{0, 0, 2, 30}

	path := filepath.Join(t.TempDir(), "volume.nii")
	writeNifti(t, path, hdr, vol)

	got, h, err := Read(path, Options{ReadHeader: true})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !got.Equal(vol) {
		t.Errorf("Decoded samples differ: got %v", got.Data)
	}
	if h.Spacing != [3]float64{2, 0.75, 0.5} {
		t.Errorf("Expected spacing (2, 0.75, 0.5), got %v", h.Spacing)
	}
	// RAS x flipped by the sform, then x and y negated into LPS
	if h.Direction != [3]float64{1, -1, 1} {
		t.Errorf("Expected direction (1, -1, 1), got %v", h.Direction)
	}
	if h.Origin != [3]float64{30, -20, -10} {
		t.Errorf("Expected origin (30, -20, -10), got %v", h.Origin)
	}
}

func TestReadNiftiGzipQform(t *testing.T) {
	vol := createTestVolume(3, 2, 2, models.Float32)
	for i := range vol.Data {
		vol.Data[i] += 0.25
	}

	hdr := newNiftiHeader(2, 2, 3, 16, 32)
	hdr.Pixdim = [8]float32{-1, 1.5, 1.5, 3, 1, 1, 1, 1}
	hdr.QformCode = 1
	hdr.QoffsetX, hdr.QoffsetY, hdr.QoffsetZ = 1, 2, 3

	path := filepath.Join(t.TempDir(), "volume.nii.gz")
	writeNifti(t, path, hdr, vol)

	got, h, err := Read(path, Options{ReadHeader: true})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !got.Equal(vol) {
		t.Errorf("Decoded samples differ: got %v", got.Data)
	}
	if h.Spacing != [3]float64{3, 1.5, 1.5} {
		t.Errorf("Expected spacing (3, 1.5, 1.5), got %v", h.Spacing)
	}
	if h.Direction != [3]float64{-1, -1, -1} {
		t.Errorf("Expected direction (-1, -1, -1), got %v", h.Direction)
	}
	if h.Origin != [3]float64{3, -2, -1} {
		t.Errorf("Expected origin (3, -2, -1), got %v", h.Origin)
	}

	reoriented, _, err := Read(path, Options{Reorient: true})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !reoriented.Equal(geometry.XFlip(geometry.YFlip(geometry.ZFlip(vol)))) {
		t.Error("Expected every axis to be flipped")
	}
}

func TestReadNiftiRescale(t *testing.T) {
	vol := createTestVolume(1, 2, 2, models.Uint8)
	hdr := newNiftiHeader(2, 2, 1, 2, 8)
	hdr.SclSlope = 0.5
	hdr.SclInter = 1

	path := filepath.Join(t.TempDir(), "scaled.nii")
	writeNifti(t, path, hdr, vol)

	got, _, err := Read(path, Options{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.DType != models.Float32 {
		t.Errorf("Expected float32 after a fractional slope, got %s", got.DType)
	}
	if got.At(0, 1, 1) != 6.5 {
		t.Errorf("Expected 11*0.5+1 = 6.5, got %v", got.At(0, 1, 1))
	}
}

func TestReadNiftiMalformed(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.nii")
	if err := os.WriteFile(short, []byte("not a nifti file"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Read(short, Options{}); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("Expected ErrMalformedHeader for a short file, got %v", err)
	}

	vol := createTestVolume(2, 2, 2, models.Uint8)
	series := newNiftiHeader(2, 2, 1, 2, 8)
	series.Dim = [8]int16{4, 2, 2, 1, 2, 1, 1, 1}
	path := filepath.Join(dir, "series.nii")
	writeNifti(t, path, series, vol)
	if _, _, err := Read(path, Options{}); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("Expected ErrMalformedHeader for a 4-D image, got %v", err)
	}

	truncated := newNiftiHeader(8, 8, 8, 2, 8)
	path = filepath.Join(dir, "truncated.nii")
	writeNifti(t, path, truncated, vol)
	if _, _, err := Read(path, Options{}); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("Expected ErrMalformedHeader for missing voxels, got %v", err)
	}
}
