package merkle

import (
	"crypto/sha256"
	"io"
	"os"
)

// Build streams the file at path exactly once and computes its full
// Merkle tree: one SHA-256 leaf hash per chunk (per the Shape derived
// from the file's size), and internal nodes folded bottom-up as the
// SHA-256 of the concatenation of their two children, the same way
// sha256tree-style hashers fold a stack of chunk hashes into a root —
// generalized here from a fixed chunk size to Shape's content-derived
// power-of-two chunk size.
//
// Build is the only code path in this module allowed to construct a Ref
// from raw content; every other consumer loads one from a previously
// published .mref file. It is meant to be invoked by an offline
// publication pipeline (the generate/compute CLI), never by a reading
// client.
func Build(path string) (Ref, error) {
	f, err := os.Open(path)
	if err != nil {
		return Ref{}, ErrFormat("Failed to open %#v for building a reference: %s", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Ref{}, ErrFormat("Failed to stat %#v: %s", path, err)
	}

	shape, err := ForContentSize(info.Size())
	if err != nil {
		return Ref{}, err
	}

	hashes := make([][HashSize]byte, shape.TotalNodeCount())
	buf := make([]byte, shape.ChunkSizeBytes())
	for i := int64(0); i < shape.LeafCount(); i++ {
		start, end, err := shape.ChunkBoundary(i)
		if err != nil {
			return Ref{}, err
		}
		chunk := buf[:end-start]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return Ref{}, ErrFormat("Failed to read chunk %d of %#v: %s", i, path, err)
		}
		hashes[shape.LeafNodeIndex(i)] = sha256.Sum256(chunk)
	}
	for i := shape.LeafCount(); i < shape.CapLeafCount(); i++ {
		hashes[shape.LeafNodeIndex(i)] = emptyHash
	}

	for k := shape.InternalNodeCount() - 1; k >= 0; k-- {
		left := hashes[LeftChild(k)]
		right := hashes[RightChild(k)]
		h := sha256.New()
		h.Write(left[:])
		h.Write(right[:])
		copy(hashes[k][:], h.Sum(nil))
	}

	return NewRef(shape, hashes)
}

// BuildToFile builds a Ref for the file at srcPath and writes it to
// refPath in the .mref binary format, creating or truncating refPath as
// needed. This is the implementation behind the generate/compute CLI
// commands.
func BuildToFile(srcPath, refPath string) error {
	ref, err := Build(srcPath)
	if err != nil {
		return err
	}
	f, err := os.Create(refPath)
	if err != nil {
		return ErrFormat("Failed to create reference file %#v: %s", refPath, err)
	}
	defer f.Close()
	if _, err := ref.WriteTo(f); err != nil {
		return ErrFormat("Failed to write reference file %#v: %s", refPath, err)
	}
	return f.Sync()
}
