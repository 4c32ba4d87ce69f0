package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"
)

var mrefMagic = [4]byte{'M', 'R', 'E', 'F'}

const mrefVersion = uint32(1)

// mrefHeaderSize is the size, in bytes, of everything preceding the hash
// array: magic + version + content_size + chunk_size + leaf_count +
// total_node_count.
const mrefHeaderSize = 4 + 4 + 8 + 8 + 8 + 8

// Load parses a .mref file (the layout WriteTo produces: the
// mrefHeaderSize-byte header, the hash array, then a SHA-256 footer over
// everything before it) from path. It returns ErrFormat if the magic, version, embedded shape
// fields or footer digest are inconsistent.
//
// Load streams the hash array directly into memory; it does not
// recompute internal nodes from the leaves (the publishing tool already
// did that). Call Ref.Validate() separately if that check is desired.
func Load(path string) (Ref, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Ref{}, ErrFormat("Failed to read reference file %#v: %s", path, err)
	}
	return decodeRef(data)
}

func decodeRef(data []byte) (Ref, error) {
	if len(data) < mrefHeaderSize+HashSize {
		return Ref{}, ErrFormat("Reference file is too short to contain a header and footer")
	}
	if !bytes.Equal(data[0:4], mrefMagic[:]) {
		return Ref{}, ErrFormat("Reference file has invalid magic %x", data[0:4])
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != mrefVersion {
		return Ref{}, ErrFormat("Reference file has unsupported version %d", version)
	}
	contentSizeBytes := int64(binary.LittleEndian.Uint64(data[8:16]))
	chunkSizeBytes := int64(binary.LittleEndian.Uint64(data[16:24]))
	leafCount := int64(binary.LittleEndian.Uint64(data[24:32]))
	totalNodeCount := int64(binary.LittleEndian.Uint64(data[32:40]))

	shape, err := ForContentSizeAndChunkSize(contentSizeBytes, chunkSizeBytes)
	if err != nil {
		return Ref{}, ErrFormat("Reference file shape is inconsistent: %s", err)
	}
	if shape.LeafCount() != leafCount {
		return Ref{}, ErrFormat("Reference file declares %d leaves, shape derives %d", leafCount, shape.LeafCount())
	}
	if shape.TotalNodeCount() != totalNodeCount {
		return Ref{}, ErrFormat("Reference file declares %d total nodes, shape derives %d", totalNodeCount, shape.TotalNodeCount())
	}

	hashesEnd := mrefHeaderSize + int(totalNodeCount)*HashSize
	footerEnd := hashesEnd + HashSize
	if len(data) != footerEnd {
		return Ref{}, ErrFormat("Reference file length %d does not match expected length %d", len(data), footerEnd)
	}

	gotFooter := sha256.Sum256(data[:hashesEnd])
	if !bytes.Equal(gotFooter[:], data[hashesEnd:footerEnd]) {
		return Ref{}, ErrFormat("Reference file footer digest does not match its contents")
	}

	hashes := make([][HashSize]byte, totalNodeCount)
	for i := range hashes {
		copy(hashes[i][:], data[mrefHeaderSize+i*HashSize:])
	}
	return NewRef(shape, hashes)
}

// WriteTo encodes the Ref into the .mref binary format and writes it to
// w. This is used only by the offline publishing pipeline (BuildToFile); the
// ordinary read path never constructs or persists a Ref.
func (r Ref) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, mrefHeaderSize, mrefHeaderSize+len(r.hashes)*HashSize+HashSize)
	copy(buf[0:4], mrefMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], mrefVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.shape.ContentSizeBytes()))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.shape.ChunkSizeBytes()))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(r.shape.LeafCount()))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(r.shape.TotalNodeCount()))
	for _, h := range r.hashes {
		buf = append(buf, h[:]...)
	}
	footer := sha256.Sum256(buf)
	buf = append(buf, footer[:]...)

	n, err := w.Write(buf)
	return int64(n), err
}
