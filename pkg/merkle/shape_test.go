package merkle_test

import (
	"testing"

	"github.com/nosqlbench/vdatasets/pkg/merkle"
	"github.com/stretchr/testify/require"
)

func TestShapeForContentSizeDeterministic(t *testing.T) {
	for _, n := range []int64{0, 1, 1023, 1024, 1 << 20, (1 << 20) + 1, 5 * (1 << 20), 1 << 30} {
		a, err := merkle.ForContentSize(n)
		require.NoError(t, err)
		b, err := merkle.ForContentSize(n)
		require.NoError(t, err)
		require.True(t, a.Equal(b))
	}
}

func TestShapeChunkSizeBounds(t *testing.T) {
	for _, n := range []int64{0, 1, 1 << 10, 1 << 40} {
		s, err := merkle.ForContentSize(n)
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.ChunkSizeBytes(), int64(1<<20))
		require.LessOrEqual(t, s.ChunkSizeBytes(), int64(1<<26))
		require.Zero(t, s.ChunkSizeBytes()&(s.ChunkSizeBytes()-1), "chunk size must be a power of two")
	}
}

func TestShapeSmallFileSingleLeaf(t *testing.T) {
	s, err := merkle.ForContentSize(1024)
	require.NoError(t, err)
	require.Equal(t, int64(1), s.LeafCount())
}

func TestShapeLeafCountMatchesCeilDivision(t *testing.T) {
	s, err := merkle.ForContentSize(5 * (1 << 20))
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), s.ChunkSizeBytes())
	require.Equal(t, int64(5), s.LeafCount())
}

func TestShapeLeafCoverage(t *testing.T) {
	for _, n := range []int64{0, 1, 1023, 1 << 20, 5*(1<<20) + 17} {
		s, err := merkle.ForContentSize(n)
		require.NoError(t, err)
		var covered int64
		for i := int64(0); i < s.LeafCount(); i++ {
			start, end, err := s.ChunkBoundary(i)
			require.NoError(t, err)
			require.Equal(t, covered, start, "chunk boundaries must be contiguous")
			covered = end
		}
		require.Equal(t, n, covered)
	}
}

func TestShapeLeafIndexForPosition(t *testing.T) {
	s, err := merkle.ForContentSize(5 * (1 << 20))
	require.NoError(t, err)

	i, err := s.LeafIndexForPosition(0)
	require.NoError(t, err)
	require.Equal(t, int64(0), i)

	i, err = s.LeafIndexForPosition(1 << 20)
	require.NoError(t, err)
	require.Equal(t, int64(1), i)

	_, err = s.LeafIndexForPosition(-1)
	require.Error(t, err)
	_, err = s.LeafIndexForPosition(s.ContentSizeBytes())
	require.Error(t, err)
}

func TestShapeTreeArithmetic(t *testing.T) {
	s, err := merkle.ForContentSize(5 * (1 << 20))
	require.NoError(t, err)
	require.Equal(t, int64(8), s.CapLeafCount())
	require.Equal(t, int64(7), s.InternalNodeCount())
	require.Equal(t, int64(15), s.TotalNodeCount())
	require.Equal(t, 3, s.Height())

	require.Equal(t, int64(1), merkle.LeftChild(0))
	require.Equal(t, int64(2), merkle.RightChild(0))
	require.Equal(t, int64(0), merkle.Parent(1))
	require.Equal(t, int64(0), merkle.Parent(2))
	require.Equal(t, int64(2), merkle.Sibling(1))
	require.Equal(t, int64(1), merkle.Sibling(2))
}

func TestShapeLeavesIntersecting(t *testing.T) {
	s, err := merkle.ForContentSize(5 * (1 << 20))
	require.NoError(t, err)

	lo, hi := s.LeavesIntersecting(0, 1<<20)
	require.Equal(t, int64(0), lo)
	require.Equal(t, int64(1), hi)

	lo, hi = s.LeavesIntersecting(1<<20-1, 1<<20+1)
	require.Equal(t, int64(0), lo)
	require.Equal(t, int64(2), hi)

	lo, hi = s.LeavesIntersecting(s.ContentSizeBytes(), s.ContentSizeBytes()+100)
	require.Equal(t, int64(0), lo)
	require.Equal(t, int64(0), hi)
}

func TestShapeRejectsNegativeSize(t *testing.T) {
	_, err := merkle.ForContentSize(-1)
	require.Error(t, err)
}
