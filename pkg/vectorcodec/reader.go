// Package vectorcodec decodes fixed-record vector files (.fvec/.ivec
// layout: a little-endian uint32 dimension prefix followed by dim
// elements, repeated once per vector) on top of a mafile.Channel. It is
// the consumer-facing layer the core's data/control flow diagram calls
// out as sitting above the file-channel abstraction: nothing in this
// package decides what to fetch or how to verify it, it only interprets
// bytes a Channel has already made available.
package vectorcodec

import (
	"context"
	"encoding/binary"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Channel is the subset of *mafile.Channel that Reader depends on, so
// tests can substitute an in-memory fake.
type Channel interface {
	Size() int64
	Read(ctx context.Context, pos int64, buf []byte) (int, error)
}

// Reader decodes a sequence of fixed-dimension vector records from an
// underlying Channel. Every record has the same on-disk layout: a
// 4-byte little-endian record-dimension prefix followed by dim elements
// of the configured VectorType. VectorAt reads each record's prefix and
// rejects a record whose declared dimension differs from Reader's
// configured dim.
type Reader struct {
	ch         Channel
	vectorType VectorType
	dim        int
	recordSize int64
	count      int64
}

// Open validates that ch's size is an exact multiple of the fixed
// record size implied by vectorType and dim (a 4-byte dimension prefix
// plus dim elements of vectorType.ElementWidth() bytes each), and
// returns a Reader over it.
func Open(ch Channel, vectorType VectorType, dim int) (*Reader, error) {
	if dim <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Vector dimension %d must be positive", dim)
	}
	width := vectorType.ElementWidth()
	if width == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Unknown vector type %v", vectorType)
	}
	recordSize := int64(4) + int64(dim)*int64(width)
	size := ch.Size()
	if size%recordSize != 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Channel size %d is not a multiple of the record size %d (dim=%d, type=%s)", size, recordSize, dim, vectorType)
	}
	return &Reader{
		ch:         ch,
		vectorType: vectorType,
		dim:        dim,
		recordSize: recordSize,
		count:      size / recordSize,
	}, nil
}

// Count returns the number of vector records in the underlying Channel.
func (r *Reader) Count() int64 {
	return r.count
}

// Dim returns the fixed dimensionality every record carries.
func (r *Reader) Dim() int {
	return r.dim
}

// VectorAt decodes record i as a slice of dim float32 values, converting
// integer and double element types to float32 the same way fvecs/ivecs readers in
// the source format mix vector families. It fetches and verifies
// whatever chunks of the underlying Channel back this record, via
// Channel.Read.
func (r *Reader) VectorAt(ctx context.Context, i int64) ([]float32, error) {
	if i < 0 || i >= r.count {
		return nil, status.Errorf(codes.OutOfRange, "Vector index %d falls outside of [0, %d)", i, r.count)
	}
	buf := make([]byte, r.recordSize)
	if _, err := r.ch.Read(ctx, i*r.recordSize, buf); err != nil {
		return nil, err
	}

	declaredDim := int(binary.LittleEndian.Uint32(buf[0:4]))
	if declaredDim != r.dim {
		return nil, status.Errorf(codes.DataLoss, "Record %d declares dimension %d, expected %d", i, declaredDim, r.dim)
	}

	width := r.vectorType.ElementWidth()
	out := make([]float32, r.dim)
	for j := 0; j < r.dim; j++ {
		off := 4 + j*width
		out[j] = decodeElement(r.vectorType, buf[off:off+width])
	}
	return out, nil
}
