package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/cocosip/go-dicom/pkg/dicom/transfer"
	"github.com/cocosip/go-dicom/pkg/imaging/codec"
	"github.com/cocosip/go-dicom/pkg/imaging/imagetypes"
	"github.com/disintegration/imaging"
)

var _ codec.Codec = (*jpegBaselineCodec)(nil)

// jpegBaselineCodec handles JPEG Baseline (Process 1) pixel data for 8-bit
// single-sample images.
type jpegBaselineCodec struct {
	quality int
}

func init() {
	registerJPEGBaseline()
}

// registerJPEGBaseline installs the codec in the go-dicom global registry
// unless another JPEG Baseline codec is already registered.
func registerJPEGBaseline() {
	registry := codec.GetGlobalRegistry()
	if !registry.HasCodec(transfer.JPEGBaseline8Bit) {
		registry.RegisterCodec(transfer.JPEGBaseline8Bit, &jpegBaselineCodec{quality: 90})
	}
}

func (c *jpegBaselineCodec) Name() string {
	return "JPEG Baseline (grayscale)"
}

func (c *jpegBaselineCodec) TransferSyntax() *transfer.Syntax {
	return transfer.JPEGBaseline8Bit
}

func (c *jpegBaselineCodec) GetDefaultParameters() codec.Parameters {
	params := codec.NewBaseParameters()
	params.SetParameter("quality", c.quality)
	return params
}

// Encode compresses every frame of oldPixelData into newPixelData
func (c *jpegBaselineCodec) Encode(oldPixelData imagetypes.PixelData, newPixelData imagetypes.PixelData, parameters codec.Parameters) error {
	info, err := grayFrameInfo(oldPixelData, newPixelData)
	if err != nil {
		return err
	}

	quality := c.quality
	if parameters != nil {
		if q, ok := parameters.GetParameter("quality").(int); ok {
			quality = q
		}
	}

	w, h := int(info.Width), int(info.Height)
	for i := 0; i < oldPixelData.FrameCount(); i++ {
		frame, err := oldPixelData.GetFrame(i)
		if err != nil {
			return fmt.Errorf("failed to get frame %d: %w", i, err)
		}
		if len(frame) < w*h {
			return fmt.Errorf("frame %d has %d bytes, want %d", i, len(frame), w*h)
		}

		img := &image.Gray{Pix: frame[:w*h], Stride: w, Rect: image.Rect(0, 0, w, h)}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return fmt.Errorf("JPEG encode failed for frame %d: %w", i, err)
		}
		if err := newPixelData.AddFrame(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to add encoded frame %d: %w", i, err)
		}
	}
	return nil
}

// Decode expands every JPEG frame of oldPixelData into newPixelData
func (c *jpegBaselineCodec) Decode(oldPixelData imagetypes.PixelData, newPixelData imagetypes.PixelData, parameters codec.Parameters) error {
	info, err := grayFrameInfo(oldPixelData, newPixelData)
	if err != nil {
		return err
	}

	w, h := int(info.Width), int(info.Height)
	for i := 0; i < oldPixelData.FrameCount(); i++ {
		frame, err := oldPixelData.GetFrame(i)
		if err != nil {
			return fmt.Errorf("failed to get frame %d: %w", i, err)
		}
		img, err := imaging.Decode(bytes.NewReader(frame))
		if err != nil {
			return fmt.Errorf("JPEG decode failed for frame %d: %w", i, err)
		}
		if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
			return fmt.Errorf("decoded frame %d is %dx%d, want %dx%d", i, b.Dx(), b.Dy(), w, h)
		}
		if err := newPixelData.AddFrame(grayPixels(img)); err != nil {
			return fmt.Errorf("failed to add decoded frame %d: %w", i, err)
		}
	}
	return nil
}

func grayFrameInfo(oldPixelData, newPixelData imagetypes.PixelData) (*imagetypes.FrameInfo, error) {
	if oldPixelData == nil || newPixelData == nil {
		return nil, fmt.Errorf("source and destination pixel data cannot be nil")
	}
	info := oldPixelData.GetFrameInfo()
	if info == nil {
		return nil, fmt.Errorf("failed to get frame info from source pixel data")
	}
	if info.BitsAllocated != 8 || info.SamplesPerPixel != 1 {
		return nil, fmt.Errorf("JPEG Baseline supports 8-bit grayscale only, got %d bits x %d samples", info.BitsAllocated, info.SamplesPerPixel)
	}
	return info, nil
}

// grayPixels returns the tightly packed luma samples of img
func grayPixels(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	if g, ok := img.(*image.Gray); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := g.PixOffset(b.Min.X, y)
			out = append(out, g.Pix[off:off+b.Dx()]...)
		}
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return out
}
