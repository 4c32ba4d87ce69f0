package vectorcodec

import (
	"encoding/binary"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VectorType identifies the on-disk element encoding of a vector
// dataset's fixed-record layout. Unlike the runtime type tokens the
// source format uses, VectorType is a small closed set of named
// constants, and every decoding path is a switch over that set. Go does
// not stop other integer values from being converted to VectorType;
// those fall through to each switch's default branch (ElementWidth
// returns 0, which Open rejects).
type VectorType int

const (
	// F32 is IEEE-754 single-precision float, little-endian.
	F32 VectorType = iota
	// I32 is a signed 32-bit integer, little-endian.
	I32
	// F64 is IEEE-754 double-precision float, little-endian.
	F64
	// I8 is a signed 8-bit integer.
	I8
	// I16 is a signed 16-bit integer, little-endian.
	I16
)

// String returns the canonical lowercase name of the vector type, as
// used in dataset.yaml manifests.
func (t VectorType) String() string {
	switch t {
	case F32:
		return "f32"
	case I32:
		return "i32"
	case F64:
		return "f64"
	case I8:
		return "i8"
	case I16:
		return "i16"
	default:
		return "unknown"
	}
}

// ElementWidth returns the number of bytes occupied by a single element
// of this type.
func (t VectorType) ElementWidth() int {
	switch t {
	case F32, I32:
		return 4
	case F64:
		return 8
	case I8:
		return 1
	case I16:
		return 2
	default:
		return 0
	}
}

// ParseVectorType maps a dataset.yaml vector_type string to a
// VectorType, returning an InvalidArgument status for anything
// unrecognized.
func ParseVectorType(s string) (VectorType, error) {
	switch s {
	case "f32":
		return F32, nil
	case "i32":
		return I32, nil
	case "f64":
		return F64, nil
	case "i8":
		return I8, nil
	case "i16":
		return I16, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "Unknown vector type %q", s)
	}
}

// decodeElement decodes a single little-endian element of type t from
// buf (which must be exactly t.ElementWidth() bytes) into a float32,
// performing the same conversion fvecs/ivecs readers apply when mixing
// integer and floating-point vector families.
func decodeElement(t VectorType, buf []byte) float32 {
	switch t {
	case F32:
		return math.Float32frombits(binary.LittleEndian.Uint32(buf))
	case I32:
		return float32(int32(binary.LittleEndian.Uint32(buf)))
	case F64:
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(buf)))
	case I8:
		return float32(int8(buf[0]))
	case I16:
		return float32(int16(binary.LittleEndian.Uint16(buf)))
	default:
		return 0
	}
}
