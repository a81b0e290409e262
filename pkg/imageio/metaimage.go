package imageio

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"volkit/internal/models"
)

var metaElementTypes = map[string]models.DType{
	"MET_UCHAR":     models.Uint8,
	"MET_CHAR":      models.Int8,
	"MET_USHORT":    models.Uint16,
	"MET_SHORT":     models.Int16,
	"MET_UINT":      models.Uint32,
	"MET_INT":       models.Int32,
	"MET_ULONG":     models.Uint32,
	"MET_LONG":      models.Int32,
	"MET_LONG_LONG": models.Int64,
	"MET_FLOAT":     models.Float32,
	"MET_DOUBLE":    models.Float64,
}

var metaTypeNames = map[models.DType]string{
	models.Uint8:   "MET_UCHAR",
	models.Int8:    "MET_CHAR",
	models.Uint16:  "MET_USHORT",
	models.Int16:   "MET_SHORT",
	models.Uint32:  "MET_UINT",
	models.Int32:   "MET_INT",
	models.Int64:   "MET_LONG_LONG",
	models.Float32: "MET_FLOAT",
	models.Float64: "MET_DOUBLE",
}

// metaHeader holds the fields of a MetaImage header this package understands
type metaHeader struct {
	dims       int
	dimSize    []int
	spacing    []float64
	origin     []float64
	transform  []float64
	dtype      models.DType
	bigEndian  bool
	compressed bool
	channels   int
	headerSize int
	dataFile   string
}

// decodeMetaImage reads a .mha file, or a .mhd header with its detached data file
func decodeMetaImage(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdr, err := readMetaHeader(r)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if hdr.dataFile == "LOCAL" {
		payload, err = io.ReadAll(r)
	} else {
		payload, err = readDetachedData(filepath.Join(filepath.Dir(path), hdr.dataFile), hdr.headerSize)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pixel data: %w", err)
	}

	if hdr.compressed {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed pixel data: %w", err)
		}
		payload, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to inflate pixel data: %w", err)
		}
	}

	width, height, depth := hdr.dimSize[0], hdr.dimSize[1], 1
	if hdr.dims == 3 {
		depth = hdr.dimSize[2]
	}
	n := width * height * depth
	if hdr.headerSize == -1 && len(payload) > n*hdr.dtype.ByteSize() {
		payload = payload[len(payload)-n*hdr.dtype.ByteSize():]
	}

	var order binary.ByteOrder = binary.LittleEndian
	if hdr.bigEndian {
		order = binary.BigEndian
	}
	samples, err := decodeSamples(payload, hdr.dtype, order, n)
	if err != nil {
		return nil, err
	}
	vol, err := models.FromData(samples, depth, height, width, hdr.dtype)
	if err != nil {
		return nil, err
	}

	img := &decoded{
		volume:    vol,
		direction: identityDirection,
		spacing:   [3]float64{1, 1, 1},
	}
	copy(img.spacing[:], hdr.spacing)
	copy(img.origin[:], hdr.origin)
	if hdr.transform != nil {
		img.direction = metaDirection(hdr.transform, hdr.dims)
	}
	return img, nil
}

// readMetaHeader consumes "Key = Value" lines up to and including
// ElementDataFile, which always terminates a MetaImage header.
func readMetaHeader(r *bufio.Reader) (*metaHeader, error) {
	hdr := &metaHeader{channels: 1}
	haveType := false

	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil && (readErr != io.EOF || line == "") {
			return nil, fmt.Errorf("%w: missing ElementDataFile", ErrMalformedHeader)
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			if strings.TrimSpace(line) == "" {
				continue
			}
			return nil, fmt.Errorf("%w: unexpected line %q", ErrMalformedHeader, strings.TrimSpace(line))
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "ObjectType":
			if !strings.EqualFold(value, "Image") {
				return nil, fmt.Errorf("%w: object type %q is not an image", ErrMalformedHeader, value)
			}
		case "NDims":
			hdr.dims, err = strconv.Atoi(value)
			if err != nil || hdr.dims < 2 || hdr.dims > 3 {
				return nil, fmt.Errorf("%w: unsupported NDims %q", ErrMalformedHeader, value)
			}
		case "DimSize":
			hdr.dimSize, err = parseInts(value)
		case "ElementSpacing":
			hdr.spacing, err = parseFloats(value)
		case "ElementSize":
			if hdr.spacing == nil {
				hdr.spacing, err = parseFloats(value)
			}
		case "Offset", "Origin", "Position":
			hdr.origin, err = parseFloats(value)
		case "TransformMatrix", "Rotation", "Orientation":
			hdr.transform, err = parseFloats(value)
		case "ElementType":
			hdr.dtype, haveType = metaElementTypes[value]
			if !haveType {
				return nil, fmt.Errorf("%w: unsupported element type %q", ErrMalformedHeader, value)
			}
		case "ElementByteOrderMSB", "BinaryDataByteOrderMSB":
			hdr.bigEndian = strings.EqualFold(value, "True")
		case "CompressedData":
			hdr.compressed = strings.EqualFold(value, "True")
		case "ElementNumberOfChannels":
			hdr.channels, err = strconv.Atoi(value)
		case "HeaderSize":
			hdr.headerSize, err = strconv.Atoi(value)
		case "ElementDataFile":
			hdr.dataFile = value
		}
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrMalformedHeader, key, err)
		}
		if hdr.dataFile != "" {
			break
		}
	}

	switch {
	case hdr.dims == 0:
		return nil, fmt.Errorf("%w: missing NDims", ErrMalformedHeader)
	case len(hdr.dimSize) != hdr.dims:
		return nil, fmt.Errorf("%w: DimSize has %d entries, want %d", ErrMalformedHeader, len(hdr.dimSize), hdr.dims)
	case !haveType:
		return nil, fmt.Errorf("%w: missing ElementType", ErrMalformedHeader)
	case hdr.channels != 1:
		return nil, fmt.Errorf("%w: %d channels per element, only scalar images are supported", ErrMalformedHeader, hdr.channels)
	case hdr.spacing != nil && len(hdr.spacing) != hdr.dims:
		return nil, fmt.Errorf("%w: ElementSpacing has %d entries, want %d", ErrMalformedHeader, len(hdr.spacing), hdr.dims)
	case hdr.origin != nil && len(hdr.origin) != hdr.dims:
		return nil, fmt.Errorf("%w: Offset has %d entries, want %d", ErrMalformedHeader, len(hdr.origin), hdr.dims)
	case hdr.transform != nil && len(hdr.transform) != hdr.dims*hdr.dims:
		return nil, fmt.Errorf("%w: TransformMatrix has %d entries, want %d", ErrMalformedHeader, len(hdr.transform), hdr.dims*hdr.dims)
	case strings.HasPrefix(hdr.dataFile, "LIST") || strings.Contains(hdr.dataFile, "%"):
		return nil, fmt.Errorf("%w: multi-file ElementDataFile %q is not supported", ErrMalformedHeader, hdr.dataFile)
	}
	for _, n := range hdr.dimSize {
		if n <= 0 {
			return nil, fmt.Errorf("%w: DimSize %v", ErrMalformedHeader, hdr.dimSize)
		}
	}
	return hdr, nil
}

// readDetachedData reads the payload of an .mhd header. A headerSize of -1
// means the samples sit at the end of the file; the caller trims them.
func readDetachedData(path string, headerSize int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if headerSize > 0 {
		if headerSize > len(data) {
			return nil, fmt.Errorf("header size %d exceeds data file size %d", headerSize, len(data))
		}
		data = data[headerSize:]
	}
	return data, nil
}

// metaDirection converts a MetaImage TransformMatrix, which lists the axis
// direction vectors one after another, into a row-major matrix whose columns
// are those vectors. 2D transforms are embedded in a 3D identity.
func metaDirection(transform []float64, dims int) [9]float64 {
	axes := mat.NewDense(dims, dims, transform)
	dir := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	dir.Slice(0, dims, 0, dims).(*mat.Dense).Copy(axes.T())

	var out [9]float64
	copy(out[:], dir.RawMatrix().Data)
	return out
}

// WriteMetaImage stores vol as a MetaImage. A ".mha" path embeds the samples
// after the header; any other extension writes a header plus a ".raw" data
// file next to it. A nil header writes unit spacing, zero origin and identity
// direction.
func WriteMetaImage(path string, vol *models.Volume, hdr *models.Header, compress bool) error {
	typeName, ok := metaTypeNames[vol.DType]
	if !ok {
		return fmt.Errorf("cannot write samples of type %s", vol.DType)
	}
	if hdr == nil {
		hdr = &models.Header{Spacing: [3]float64{1, 1, 1}, Direction: [3]float64{1, 1, 1}}
	}

	payload := encodeSamples(vol.Data, vol.DType, binary.LittleEndian)
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("failed to compress pixel data: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress pixel data: %w", err)
		}
		payload = buf.Bytes()
	}

	inline := strings.EqualFold(filepath.Ext(path), ".mha")
	dataFile := "LOCAL"
	if !inline {
		dataFile = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".raw"
	}

	spacing := reverse(hdr.Spacing)
	origin := reverse(hdr.Origin)
	var transform [9]float64
	for i, c := range reverse(hdr.Direction) {
		transform[4*i] = 1
		if c < 0 {
			transform[4*i] = -1
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ObjectType = Image\n")
	fmt.Fprintf(&b, "NDims = 3\n")
	fmt.Fprintf(&b, "BinaryData = True\n")
	fmt.Fprintf(&b, "BinaryDataByteOrderMSB = False\n")
	fmt.Fprintf(&b, "CompressedData = %s\n", metaBool(compress))
	if compress {
		fmt.Fprintf(&b, "CompressedDataSize = %d\n", len(payload))
	}
	fmt.Fprintf(&b, "TransformMatrix = %s\n", formatFloats(transform[:]))
	fmt.Fprintf(&b, "Offset = %s\n", formatFloats(origin[:]))
	fmt.Fprintf(&b, "CenterOfRotation = 0 0 0\n")
	fmt.Fprintf(&b, "ElementSpacing = %s\n", formatFloats(spacing[:]))
	fmt.Fprintf(&b, "DimSize = %d %d %d\n", vol.Width, vol.Height, vol.Depth)
	fmt.Fprintf(&b, "ElementType = %s\n", typeName)
	fmt.Fprintf(&b, "ElementDataFile = %s\n", dataFile)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	if inline {
		data := append([]byte(b.String()), payload...)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("error writing image file: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("error writing image header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), dataFile), payload, 0644); err != nil {
		return fmt.Errorf("error writing image data: %w", err)
	}
	return nil
}

func metaBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func formatFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}
