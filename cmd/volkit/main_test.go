package main

import (
	"testing"

	"volkit/internal/models"
	"volkit/pkg/config"
)

func TestTransform(t *testing.T) {
	vol := models.NewVolume(10, 10, 10, models.Int16)
	for i := range vol.Data {
		vol.Data[i] = float64(i % 100)
	}
	hdr := &models.Header{Spacing: [3]float64{2, 1, 1}, Direction: [3]float64{1, 1, 1}}

	cfg := config.DefaultConfig()
	cfg.Output.Verbose = false
	cfg.Geometry.Flip = []string{"z"}
	cfg.Geometry.CenterCrop = [3]int{4, 4, 4}
	cfg.Geometry.Resize.Size = [3]int{8, 2, 4}

	out, outHdr, err := transform(vol, hdr, cfg)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if out.Shape() != [3]int{8, 2, 4} {
		t.Errorf("Unexpected shape %v", out.Shape())
	}
	if out.DType != models.Int16 {
		t.Errorf("Expected dtype to be kept, got %s", out.DType)
	}
	if outHdr.Spacing != [3]float64{1, 2, 1} {
		t.Errorf("Expected spacing scaled by the resize factor, got %v", outHdr.Spacing)
	}
	// flip z: 18, center crop from 3: -6, resize 4 -> 8 with spacing 2 -> 1: +0.5
	if outHdr.Origin != [3]float64{12.5, 3.5, 3} {
		t.Errorf("Expected origin (12.5, 3.5, 3), got %v", outHdr.Origin)
	}
	if outHdr.Direction != [3]float64{-1, 1, 1} {
		t.Errorf("Expected flipped depth direction, got %v", outHdr.Direction)
	}
	if hdr.Spacing != [3]float64{2, 1, 1} {
		t.Error("transform modified the input header")
	}
}

func TestTransformCropAndFlipGeometry(t *testing.T) {
	vol := models.NewVolume(10, 10, 10, models.Uint8)
	hdr := &models.Header{Spacing: [3]float64{2, 1, 1}, Direction: [3]float64{1, 1, 1}}

	cfg := config.DefaultConfig()
	cfg.Output.Verbose = false
	cfg.Geometry.Flip = []string{"y"}
	cfg.Geometry.Crop.Point = [3]int{5, 0, 0}
	cfg.Geometry.Crop.Size = [3]int{5, 10, 10}

	out, outHdr, err := transform(vol, hdr, cfg)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if out.Shape() != [3]int{5, 10, 10} {
		t.Errorf("Unexpected shape %v", out.Shape())
	}
	if outHdr.Origin != [3]float64{10, 9, 0} {
		t.Errorf("Expected origin (10, 9, 0), got %v", outHdr.Origin)
	}
	if outHdr.Direction != [3]float64{1, -1, 1} {
		t.Errorf("Expected direction (1, -1, 1), got %v", outHdr.Direction)
	}

	// a negative direction moves the origin the other way
	hdr.Direction = [3]float64{-1, 1, 1}
	cfg.Geometry.Flip = nil
	_, outHdr, err = transform(vol, hdr, cfg)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if outHdr.Origin != [3]float64{-10, 0, 0} {
		t.Errorf("Expected origin (-10, 0, 0), got %v", outHdr.Origin)
	}
}

func TestTransformNoop(t *testing.T) {
	vol := models.NewVolume(3, 3, 3, models.Uint8)
	hdr := &models.Header{Spacing: [3]float64{1, 1, 1}}

	cfg := config.DefaultConfig()
	cfg.Output.Verbose = false

	out, _, err := transform(vol, hdr, cfg)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !out.Equal(vol) {
		t.Error("An empty configuration should leave the volume unchanged")
	}
}

func TestTransformInvalidMode(t *testing.T) {
	vol := models.NewVolume(3, 3, 3, models.Uint8)
	cfg := config.DefaultConfig()
	cfg.Output.Verbose = false
	cfg.Geometry.Resize.Size = [3]int{2, 2, 2}
	cfg.Geometry.Resize.Mode = "cubic"

	if _, _, err := transform(vol, &models.Header{}, cfg); err == nil {
		t.Error("Expected an error for an invalid resize mode")
	}
}
