package merkle

import (
	"math/bits"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// minChunkSizeBytes is the smallest chunk size a Shape may pick,
	// regardless of how small the underlying content is.
	minChunkSizeBytes = 1 << 20 // 1 MiB

	// maxChunkSizeBytes is the largest chunk size a Shape may pick,
	// regardless of how large the underlying content is.
	maxChunkSizeBytes = 1 << 26 // 64 MiB

	// chunkSizeDivisor is the divisor used to derive a candidate chunk
	// size from a content size, before power-of-two rounding and
	// clamping into [minChunkSizeBytes, maxChunkSizeBytes].
	chunkSizeDivisor = 4096
)

// Shape is the immutable arithmetic that determines how a file of a
// given size is partitioned into power-of-two chunks, and how those
// chunks map onto a binary Merkle tree. Shape is derived deterministically
// from a single input (ContentSizeBytes), so that any two parties who
// agree on the size of a file also agree on its Shape without needing to
// exchange anything else.
//
// Shape performs no I/O and never mutates once constructed.
type Shape struct {
	contentSizeBytes  int64
	chunkSizeBytes    int64
	leafCount         int64
	capLeafCount      int64
	internalNodeCount int64
	totalNodeCount    int64
	height            int
}

// ForContentSize derives the Shape for a piece of content of the given
// size. contentSizeBytes must be nonnegative.
func ForContentSize(contentSizeBytes int64) (Shape, error) {
	if contentSizeBytes < 0 {
		return Shape{}, status.Errorf(codes.InvalidArgument, "Content size %d is negative", contentSizeBytes)
	}
	return forContentSizeAndChunkSize(contentSizeBytes, chunkSizeForContentSize(contentSizeBytes))
}

// ForContentSizeAndChunkSize derives the Shape for a piece of content of
// the given size, using an explicitly provided chunk size instead of
// deriving one. This is used when loading a Shape back out of a .mref
// file, whose footer already pins the chunk size that was used at
// publish time (see the Open Questions discussion in the design notes:
// a deployment-pinned chunk size, once published, takes precedence over
// the deterministic derivation).
func ForContentSizeAndChunkSize(contentSizeBytes, chunkSizeBytes int64) (Shape, error) {
	if contentSizeBytes < 0 {
		return Shape{}, status.Errorf(codes.InvalidArgument, "Content size %d is negative", contentSizeBytes)
	}
	if err := validateChunkSize(chunkSizeBytes); err != nil {
		return Shape{}, err
	}
	return forContentSizeAndChunkSize(contentSizeBytes, chunkSizeBytes)
}

func validateChunkSize(chunkSizeBytes int64) error {
	if chunkSizeBytes < minChunkSizeBytes || chunkSizeBytes > maxChunkSizeBytes {
		return status.Errorf(codes.InvalidArgument, "Chunk size %d bytes falls outside of [%d, %d]", chunkSizeBytes, minChunkSizeBytes, maxChunkSizeBytes)
	}
	if chunkSizeBytes&(chunkSizeBytes-1) != 0 {
		return status.Errorf(codes.InvalidArgument, "Chunk size %d bytes is not a power of two", chunkSizeBytes)
	}
	return nil
}

func chunkSizeForContentSize(contentSizeBytes int64) int64 {
	candidate := (contentSizeBytes + chunkSizeDivisor - 1) / chunkSizeDivisor
	if candidate < 1 {
		candidate = 1
	}
	chunkSizeBytes := nextPow2(candidate)
	if chunkSizeBytes < minChunkSizeBytes {
		chunkSizeBytes = minChunkSizeBytes
	}
	if chunkSizeBytes > maxChunkSizeBytes {
		chunkSizeBytes = maxChunkSizeBytes
	}
	return chunkSizeBytes
}

func forContentSizeAndChunkSize(contentSizeBytes, chunkSizeBytes int64) (Shape, error) {
	leafCount := (contentSizeBytes + chunkSizeBytes - 1) / chunkSizeBytes
	if leafCount < 1 {
		leafCount = 1
	}
	capLeafCount := nextPow2(leafCount)
	internalNodeCount := capLeafCount - 1
	return Shape{
		contentSizeBytes:  contentSizeBytes,
		chunkSizeBytes:    chunkSizeBytes,
		leafCount:         leafCount,
		capLeafCount:      capLeafCount,
		internalNodeCount: internalNodeCount,
		totalNodeCount:    internalNodeCount + capLeafCount,
		height:            bits.Len64(uint64(capLeafCount)) - 1,
	}, nil
}

// nextPow2 returns the smallest power of two that is greater than or
// equal to n. n must be positive.
func nextPow2(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}

// ContentSizeBytes returns the total logical byte length of the
// underlying content.
func (s Shape) ContentSizeBytes() int64 {
	return s.contentSizeBytes
}

// ChunkSizeBytes returns the power-of-two chunk size chosen for this
// Shape.
func (s Shape) ChunkSizeBytes() int64 {
	return s.chunkSizeBytes
}

// LeafCount returns the number of chunks the content is split into.
func (s Shape) LeafCount() int64 {
	return s.leafCount
}

// CapLeafCount returns the power-of-two padded leaf layer width. Indices
// in [LeafCount(), CapLeafCount()) are padding leaves whose hash is
// fixed at the SHA-256 of the empty string; they are never fetched.
func (s Shape) CapLeafCount() int64 {
	return s.capLeafCount
}

// InternalNodeCount returns the number of internal (non-leaf) nodes in
// the tree.
func (s Shape) InternalNodeCount() int64 {
	return s.internalNodeCount
}

// TotalNodeCount returns InternalNodeCount()+CapLeafCount(), i.e. the
// number of entries in a MerkleRef's hash array.
func (s Shape) TotalNodeCount() int64 {
	return s.totalNodeCount
}

// Height returns log2(CapLeafCount()).
func (s Shape) Height() int {
	return s.height
}

// Equal returns true iff two Shapes were derived from the same content
// size and chunk size.
func (s Shape) Equal(o Shape) bool {
	return s.contentSizeBytes == o.contentSizeBytes && s.chunkSizeBytes == o.chunkSizeBytes
}

// LeafIndexForPosition returns the index of the chunk containing byte
// offset pos. pos must lie in [0, ContentSizeBytes()).
func (s Shape) LeafIndexForPosition(pos int64) (int64, error) {
	if pos < 0 || pos >= s.contentSizeBytes {
		return 0, status.Errorf(codes.OutOfRange, "Position %d falls outside of content of size %d", pos, s.contentSizeBytes)
	}
	return pos / s.chunkSizeBytes, nil
}

// ChunkBoundary returns the half-open byte range [start, end) occupied
// by chunk i. i must lie in [0, LeafCount()).
func (s Shape) ChunkBoundary(i int64) (start, end int64, err error) {
	if i < 0 || i >= s.leafCount {
		return 0, 0, status.Errorf(codes.OutOfRange, "Chunk index %d falls outside of [0, %d)", i, s.leafCount)
	}
	start = i * s.chunkSizeBytes
	end = start + s.chunkSizeBytes
	if end > s.contentSizeBytes {
		end = s.contentSizeBytes
	}
	return start, end, nil
}

// LeafNodeIndex returns the index within the level-order tree layout of
// the leaf node corresponding with chunk i.
func (s Shape) LeafNodeIndex(i int64) int64 {
	return s.internalNodeCount + i
}

// Parent returns the index of the parent of tree node k. k must not be
// the root (index 0).
func Parent(k int64) int64 {
	return (k - 1) / 2
}

// LeftChild returns the index of the left child of internal node k.
func LeftChild(k int64) int64 {
	return 2*k + 1
}

// RightChild returns the index of the right child of internal node k.
func RightChild(k int64) int64 {
	return 2*k + 2
}

// Sibling returns the index of the sibling of tree node k. k must not be
// the root (index 0).
func Sibling(k int64) int64 {
	if k%2 == 0 {
		return k - 1
	}
	return k + 1
}

// LeavesIntersecting returns the half-open leaf index range [lo, hi)
// covering byte range [startPos, endPos). The range is clipped to
// [0, ContentSizeBytes()]; a range entirely at or past EOF yields an
// empty result.
func (s Shape) LeavesIntersecting(startPos, endPos int64) (lo, hi int64) {
	if startPos < 0 {
		startPos = 0
	}
	if endPos > s.contentSizeBytes {
		endPos = s.contentSizeBytes
	}
	if startPos >= endPos {
		return 0, 0
	}
	lo = startPos / s.chunkSizeBytes
	hi = (endPos - 1) / s.chunkSizeBytes
	return lo, hi + 1
}
