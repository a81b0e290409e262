package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"volkit/internal/models"
	"volkit/pkg/config"
	"volkit/pkg/geometry"
	"volkit/pkg/imageio"
	"volkit/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Volume to load (.mha, .mhd, .dcm or a DICOM series directory)")
	outputPath := flag.String("output", "output.mha", "Output MetaImage filename (.mha or .mhd)")
	configPath := flag.String("config", "volkit.yaml", "YAML configuration file")
	reorient := flag.Bool("reorient", false, "Flip axes with negative direction cosines (overrides config when set)")
	extractSlices := flag.Bool("extract-slices", false, "Save preview slices along all axes")
	slicesDir := flag.String("slices-dir", "slices", "Directory to save preview slices")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *reorient {
		cfg.Input.Reorient = true
	}

	startTime := time.Now()

	vol, hdr, err := imageio.Read(*inputPath, imageio.Options{ReadHeader: true, Reorient: cfg.Input.Reorient})
	if err != nil {
		log.Fatalf("Failed to read volume: %v", err)
	}
	if cfg.Output.Verbose {
		fmt.Printf("Loaded %s: %dx%dx%d %s\n", *inputPath, vol.Depth, vol.Height, vol.Width, vol.DType)
		printHeader(hdr)
	}

	vol, hdr, err = transform(vol, hdr, cfg)
	if err != nil {
		log.Fatalf("Failed to transform volume: %v", err)
	}

	if err := imageio.WriteMetaImage(*outputPath, vol, hdr, cfg.Output.Compress); err != nil {
		log.Fatalf("Failed to write volume: %v", err)
	}

	stats := vol.Stats()
	fmt.Printf("\nWrote %s (%dx%dx%d %s) in %.2f seconds\n",
		*outputPath, vol.Depth, vol.Height, vol.Width, vol.DType, time.Since(startTime).Seconds())
	fmt.Printf("Intensity: min %.3f, max %.3f, mean %.3f, std %.3f\n", stats.Min, stats.Max, stats.Mean, stats.StdDev)

	if *extractSlices {
		fmt.Println("\nExtracting preview slices along all axes...")
		viewer := visualization.NewViewer(vol)

		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir, cfg.Output.SliceFormat); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}
	}
}

// transform applies the configured geometry operations in order: flips, crop,
// center crop, resize. The header follows each step so the output keeps its
// place in physical space: flips negate the axis direction and move the origin
// to the far end, crops move the origin to the first kept voxel, and resizing
// rescales spacing around unchanged voxel-cell bounds.
func transform(vol *models.Volume, hdr *models.Header, cfg *config.Config) (*models.Volume, *models.Header, error) {
	g := cfg.Geometry
	out := *hdr

	for _, axis := range g.Flip {
		idx, err := config.AxisIndex(axis)
		if err != nil {
			return nil, nil, err
		}
		n := vol.Shape()[idx]
		out.Origin[idx] += float64(n-1) * out.Spacing[idx] * axisSign(out.Direction[idx])
		out.Direction[idx] = -axisSign(out.Direction[idx])
		vol = geometry.Flip(vol, idx)
	}

	if g.Crop.Size != [3]int{} {
		lo, _ := geometry.CropBounds(vol.Shape(), g.Crop.Point, g.Crop.Size)
		shiftOrigin(&out, lo)
		vol = geometry.Crop(vol, g.Crop.Point, g.Crop.Size)
		if cfg.Output.Verbose {
			fmt.Printf("Cropped to %v\n", vol.Shape())
		}
	}

	if g.CenterCrop != [3]int{} {
		lo, _ := geometry.CenterBounds(vol.Shape(), g.CenterCrop)
		shiftOrigin(&out, lo)
		vol = geometry.CenterCrop(vol, g.CenterCrop[0], g.CenterCrop[1], g.CenterCrop[2])
		if cfg.Output.Verbose {
			fmt.Printf("Center cropped to %v\n", vol.Shape())
		}
	}

	if g.Resize.Size != [3]int{} {
		before := vol.Shape()
		resized, err := geometry.Resize(vol, g.Resize.Size, geometry.ResizeOptions{
			ToFloat: g.Resize.ToFloat,
			Mode:    geometry.Mode(g.Resize.Mode),
		})
		if err != nil {
			return nil, nil, err
		}
		vol = resized
		for i := range out.Spacing {
			scale := float64(before[i]) / float64(g.Resize.Size[i])
			// the first output voxel is centred half an output cell into the old grid
			out.Origin[i] += (scale - 1) / 2 * out.Spacing[i] * axisSign(out.Direction[i])
			out.Spacing[i] *= scale
		}
		if cfg.Output.Verbose {
			fmt.Printf("Resized %v -> %v (%s)\n", before, vol.Shape(), g.Resize.Mode)
		}
	}

	return vol, &out, nil
}

// shiftOrigin moves the origin onto voxel lo of the current grid
func shiftOrigin(hdr *models.Header, lo [3]int) {
	for i := range lo {
		hdr.Origin[i] += float64(lo[i]) * hdr.Spacing[i] * axisSign(hdr.Direction[i])
	}
}

// axisSign treats a zero direction as positive; the header only carries the
// principal cosine of each axis.
func axisSign(d float64) float64 {
	if d < 0 {
		return -1
	}
	return 1
}

func printHeader(hdr *models.Header) {
	fmt.Printf("  Spacing (d,h,w):   %v\n", hdr.Spacing)
	fmt.Printf("  Direction (d,h,w): %v\n", hdr.Direction)
	fmt.Printf("  Origin (d,h,w):    %v\n", hdr.Origin)
}
