package imageio

import (
	"encoding/binary"
	"fmt"
	"math"

	"volkit/internal/models"
)

// decodeSamples converts n packed samples of the given dtype into float64
func decodeSamples(raw []byte, dtype models.DType, order binary.ByteOrder, n int) ([]float64, error) {
	size := dtype.ByteSize()
	if len(raw) < n*size {
		return nil, fmt.Errorf("pixel data holds %d bytes, need %d for %d %s samples", len(raw), n*size, n, dtype)
	}

	out := make([]float64, n)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch dtype {
		case models.Uint8:
			out[i] = float64(b[0])
		case models.Int8:
			out[i] = float64(int8(b[0]))
		case models.Uint16:
			out[i] = float64(order.Uint16(b))
		case models.Int16:
			out[i] = float64(int16(order.Uint16(b)))
		case models.Uint32:
			out[i] = float64(order.Uint32(b))
		case models.Int32:
			out[i] = float64(int32(order.Uint32(b)))
		case models.Int64:
			out[i] = float64(int64(order.Uint64(b)))
		case models.Float32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case models.Float64:
			out[i] = math.Float64frombits(order.Uint64(b))
		default:
			return nil, fmt.Errorf("cannot decode samples of type %s", dtype)
		}
	}
	return out, nil
}

// encodeSamples packs data as dtype, casting each sample first
func encodeSamples(data []float64, dtype models.DType, order binary.ByteOrder) []byte {
	size := dtype.ByteSize()
	out := make([]byte, len(data)*size)
	for i, v := range data {
		b := out[i*size : (i+1)*size]
		v = dtype.Cast(v)
		switch dtype {
		case models.Uint8:
			b[0] = uint8(v)
		case models.Int8:
			b[0] = uint8(int8(v))
		case models.Uint16:
			order.PutUint16(b, uint16(v))
		case models.Int16:
			order.PutUint16(b, uint16(int16(v)))
		case models.Uint32:
			order.PutUint32(b, uint32(v))
		case models.Int32:
			order.PutUint32(b, uint32(int32(v)))
		case models.Int64:
			order.PutUint64(b, uint64(int64(v)))
		case models.Float32:
			order.PutUint32(b, math.Float32bits(float32(v)))
		case models.Float64:
			order.PutUint64(b, math.Float64bits(v))
		}
	}
	return out
}
