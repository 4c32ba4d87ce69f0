package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
)

var mrklMagic = [4]byte{'M', 'R', 'K', 'L'}

const mrklVersion = uint32(1)

// mrklHeaderSize is the size, in bytes, of everything preceding the
// valid bitset: magic + version + root_hash + content_size + chunk_size
// + leaf_count.
const mrklHeaderSize = 4 + 4 + HashSize + 8 + 8 + 8

func bitsetSize(leafCount int64) int64 {
	return (leafCount + 7) / 8
}

// encodeState serializes a State's current bitset into the .mrkl binary
// format: the mrklHeaderSize-byte header, the valid bitset, then a
// SHA-256 footer over everything before it.
func encodeState(shape Shape, root [HashSize]byte, valid []byte) []byte {
	size := mrklHeaderSize + len(valid) + HashSize
	buf := make([]byte, mrklHeaderSize, size)
	copy(buf[0:4], mrklMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], mrklVersion)
	copy(buf[8:8+HashSize], root[:])
	offset := 8 + HashSize
	binary.LittleEndian.PutUint64(buf[offset:offset+8], uint64(shape.ContentSizeBytes()))
	binary.LittleEndian.PutUint64(buf[offset+8:offset+16], uint64(shape.ChunkSizeBytes()))
	binary.LittleEndian.PutUint64(buf[offset+16:offset+24], uint64(shape.LeafCount()))
	buf = append(buf, valid...)
	footer := sha256.Sum256(buf)
	buf = append(buf, footer[:]...)
	return buf
}

// decodeState parses a .mrkl file's contents. If the footer digest does
// not verify (e.g. due to a crash between writing the bitset and
// writing the footer), decodeState returns ok=false rather than an
// error: per the persistence protocol, an invalid footer means the
// state must be treated as if it were empty, not as a fatal condition.
func decodeState(data []byte) (shape Shape, root [HashSize]byte, valid []byte, ok bool, err error) {
	if len(data) < mrklHeaderSize+HashSize {
		return Shape{}, [HashSize]byte{}, nil, false, nil
	}
	if !bytes.Equal(data[0:4], mrklMagic[:]) {
		return Shape{}, [HashSize]byte{}, nil, false, ErrFormat("State file has invalid magic %x", data[0:4])
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != mrklVersion {
		return Shape{}, [HashSize]byte{}, nil, false, ErrFormat("State file has unsupported version %d", version)
	}
	copy(root[:], data[8:8+HashSize])
	offset := 8 + HashSize
	contentSizeBytes := int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
	chunkSizeBytes := int64(binary.LittleEndian.Uint64(data[offset+8 : offset+16]))
	leafCount := int64(binary.LittleEndian.Uint64(data[offset+16 : offset+24]))

	shape, shapeErr := ForContentSizeAndChunkSize(contentSizeBytes, chunkSizeBytes)
	if shapeErr != nil || shape.LeafCount() != leafCount {
		return Shape{}, [HashSize]byte{}, nil, false, nil
	}

	bitsetLen := int(bitsetSize(leafCount))
	validEnd := mrklHeaderSize + bitsetLen
	footerEnd := validEnd + HashSize
	if len(data) != footerEnd {
		return Shape{}, [HashSize]byte{}, nil, false, nil
	}

	gotFooter := sha256.Sum256(data[:validEnd])
	if !bytes.Equal(gotFooter[:], data[validEnd:footerEnd]) {
		return Shape{}, [HashSize]byte{}, nil, false, nil
	}

	valid = make([]byte, bitsetLen)
	copy(valid, data[mrklHeaderSize:validEnd])
	return shape, root, valid, true, nil
}
