package models

import (
	"math"
	"testing"
)

func TestDTypeCast(t *testing.T) {
	tests := []struct {
		dtype DType
		in    float64
		want  float64
	}{
		{Uint8, 3.7, 3},
		{Uint8, 256, 0},
		{Uint8, 300.9, 44},
		{Int8, -1.9, -1},
		{Int8, 128, -128},
		{Uint16, 65535.5, 65535},
		{Int16, -32769, 32767},
		{Int32, 2.999, 2},
		{Int64, -7.5, -7},
		{Float64, 1.2345678901234, 1.2345678901234},
		{Float32, 0.1, float64(float32(0.1))},
	}

	for _, tt := range tests {
		if got := tt.dtype.Cast(tt.in); got != tt.want {
			t.Errorf("%s.Cast(%v) = %v, want %v", tt.dtype, tt.in, got, tt.want)
		}
	}

	if got := Int16.Cast(math.NaN()); got != 0 {
		t.Errorf("Int16.Cast(NaN) = %v, want 0", got)
	}
}

func TestDTypeProperties(t *testing.T) {
	if !Float32.IsFloat() || !Float64.IsFloat() {
		t.Error("Expected float types to report IsFloat")
	}
	if Int16.IsFloat() {
		t.Error("Expected Int16 not to report IsFloat")
	}
	if Int16.ByteSize() != 2 || Float64.ByteSize() != 8 || Uint8.ByteSize() != 1 {
		t.Error("Unexpected byte sizes")
	}
	if Uint16.String() != "uint16" {
		t.Errorf("Expected uint16, got %s", Uint16.String())
	}
}

func TestVolumeIndexing(t *testing.T) {
	v := NewVolume(2, 3, 4, Int16)
	if v.Len() != 24 {
		t.Fatalf("Expected 24 samples, got %d", v.Len())
	}
	if v.Shape() != [3]int{2, 3, 4} {
		t.Errorf("Unexpected shape %v", v.Shape())
	}

	v.Set(1, 2, 3, 42)
	if v.Data[23] != 42 {
		t.Errorf("Expected last sample to be 42, got %v", v.Data[23])
	}
	if v.At(1, 2, 3) != 42 {
		t.Errorf("At returned %v", v.At(1, 2, 3))
	}
	if v.Index(1, 0, 0) != 12 {
		t.Errorf("Expected index 12, got %d", v.Index(1, 0, 0))
	}
}

func TestCloneAndEqual(t *testing.T) {
	v := NewVolume(2, 2, 2, Float32)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}

	c := v.Clone()
	if !v.Equal(c) {
		t.Fatal("Clone should be equal to its source")
	}

	c.Data[0] = 100
	if v.Data[0] != 0 {
		t.Error("Clone shares storage with its source")
	}
	if v.Equal(c) {
		t.Error("Volumes with different samples should not be equal")
	}

	c = v.Clone()
	c.DType = Float64
	if v.Equal(c) {
		t.Error("Volumes with different dtypes should not be equal")
	}
}

func TestFromData(t *testing.T) {
	if _, err := FromData(make([]float64, 5), 1, 2, 3, Uint8); err == nil {
		t.Error("Expected error for mismatched data length")
	}
	if _, err := FromData(nil, -1, 2, 3, Uint8); err == nil {
		t.Error("Expected error for negative extent")
	}

	v, err := FromData(make([]float64, 6), 1, 2, 3, Uint8)
	if err != nil {
		t.Fatalf("FromData failed: %v", err)
	}
	if v.Shape() != [3]int{1, 2, 3} {
		t.Errorf("Unexpected shape %v", v.Shape())
	}
}

func TestStats(t *testing.T) {
	v := NewVolume(1, 1, 4, Float64)
	copy(v.Data, []float64{1, 2, 3, 4})

	s := v.Stats()
	if s.Min != 1 || s.Max != 4 {
		t.Errorf("Expected range [1, 4], got [%v, %v]", s.Min, s.Max)
	}
	if s.Mean != 2.5 {
		t.Errorf("Expected mean 2.5, got %v", s.Mean)
	}
	if math.Abs(s.StdDev-math.Sqrt(5.0/3.0)) > 1e-12 {
		t.Errorf("Unexpected standard deviation %v", s.StdDev)
	}

	if (NewVolume(0, 0, 0, Uint8).Stats() != Stats{}) {
		t.Error("Expected zero stats for an empty volume")
	}
}
