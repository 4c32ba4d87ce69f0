package merkle

import (
	"crypto/sha256"
	"crypto/subtle"
)

// HashSize is the width, in bytes, of every digest stored in a Ref or a
// State's root hash.
const HashSize = sha256.Size

// emptyHash is SHA-256 of the empty byte string. Padding leaves beyond
// LeafCount use this hash; they are never fetched, as
// Shape.LeavesIntersecting never returns an index >= LeafCount().
var emptyHash = sha256.Sum256(nil)

// Ref is a fully materialized, immutable Merkle hash tree for a single
// piece of content: one SHA-256 digest per chunk (leaf), and one SHA-256
// digest per internal node, computed as the hash of the concatenation of
// its two children.
//
// A Ref is built once by an offline publishing tool (see Build) by
// streaming the full file, and is thereafter loaded read-only by
// clients. Nothing in this package ever mutates a Ref after
// construction.
type Ref struct {
	shape  Shape
	hashes [][HashSize]byte
}

// NewRef constructs a Ref directly from a Shape and a fully populated
// hash array. Callers outside of this package should obtain a Ref
// through Load or Build; this constructor exists for codec and test
// use.
func NewRef(shape Shape, hashes [][HashSize]byte) (Ref, error) {
	if int64(len(hashes)) != shape.TotalNodeCount() {
		return Ref{}, ErrFormat("Shape expects %d hashes, got %d", shape.TotalNodeCount(), len(hashes))
	}
	return Ref{shape: shape, hashes: hashes}, nil
}

// Shape returns the Shape this Ref was built from.
func (r Ref) Shape() Shape {
	return r.shape
}

// LeafHash returns the reference hash of chunk i. i must lie in
// [0, Shape().LeafCount()).
func (r Ref) LeafHash(i int64) ([HashSize]byte, error) {
	if i < 0 || i >= r.shape.leafCount {
		return [HashSize]byte{}, ErrFormat("Leaf index %d falls outside of [0, %d)", i, r.shape.leafCount)
	}
	return r.hashes[r.shape.LeafNodeIndex(i)], nil
}

// RootHash returns the digest that uniquely identifies this tree.
func (r Ref) RootHash() [HashSize]byte {
	return r.hashes[0]
}

// VerifyChunk computes the SHA-256 of data and compares it, in constant
// time, against LeafHash(i). It returns nil on a match, or an
// ErrHashMismatch/ErrSizeMismatch describing the first disagreement
// found, per the contract of Verifier.VerifyAndCommit.
func (r Ref) VerifyChunk(i int64, data []byte) error {
	start, end, err := r.shape.ChunkBoundary(i)
	if err != nil {
		return err
	}
	wantLen := end - start
	if int64(len(data)) != wantLen {
		return ErrSizeMismatch("Chunk %d has length %d, expected %d", i, len(data), wantLen)
	}
	want, err := r.LeafHash(i)
	if err != nil {
		return err
	}
	got := sha256.Sum256(data)
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return ErrHashMismatch("Chunk %d hash %x does not match reference hash %x", i, got, want)
	}
	return nil
}

// Validate walks the entire tree, recomputing every internal node from
// its children and comparing the result against the stored hash. This
// is O(TotalNodeCount()). mafile.Open calls it once per opened Channel;
// the per-chunk fetch and verify path never calls it.
func (r Ref) Validate() error {
	for k := r.shape.internalNodeCount - 1; k >= 0; k-- {
		left := r.hashes[LeftChild(k)]
		right := r.hashes[RightChild(k)]
		h := sha256.New()
		h.Write(left[:])
		h.Write(right[:])
		var want [HashSize]byte
		h.Sum(want[:0])
		if want != r.hashes[k] {
			return ErrFormat("Internal node %d hash does not match its children", k)
		}
	}
	for i := r.shape.leafCount; i < r.shape.capLeafCount; i++ {
		if r.hashes[r.shape.LeafNodeIndex(i)] != emptyHash {
			return ErrFormat("Padding leaf %d does not carry the empty-string hash", i)
		}
	}
	return nil
}
