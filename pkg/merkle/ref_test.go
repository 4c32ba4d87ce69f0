package merkle_test

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/nosqlbench/vdatasets/pkg/merkle"
	"github.com/stretchr/testify/require"
)

func writeRandomFile(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "content")
	require.NoError(t, os.WriteFile(path, data, 0o666))
	return path
}

func TestBuildLoadRoundTrip(t *testing.T) {
	path := writeRandomFile(t, 5*(1<<20)+123)
	refPath := path + ".mref"
	require.NoError(t, merkle.BuildToFile(path, refPath))

	ref, err := merkle.Load(refPath)
	require.NoError(t, err)
	require.NoError(t, ref.Validate())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	shape := ref.Shape()
	for i := int64(0); i < shape.LeafCount(); i++ {
		start, end, err := shape.ChunkBoundary(i)
		require.NoError(t, err)
		require.NoError(t, ref.VerifyChunk(i, data[start:end]))
	}
}

func TestVerifyChunkDetectsCorruption(t *testing.T) {
	path := writeRandomFile(t, 2*(1<<20))
	refPath := path + ".mref"
	require.NoError(t, merkle.BuildToFile(path, refPath))

	ref, err := merkle.Load(refPath)
	require.NoError(t, err)

	shape := ref.Shape()
	start, end, err := shape.ChunkBoundary(0)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := append([]byte(nil), data[start:end]...)
	corrupted[0] ^= 0xff

	err = ref.VerifyChunk(0, corrupted)
	require.Error(t, err)
	require.True(t, merkle.IsHashMismatch(err))

	// An untouched chunk must still verify correctly: corruption of
	// one chunk has no bearing on another.
	start1, end1, err := shape.ChunkBoundary(1)
	require.NoError(t, err)
	require.NoError(t, ref.VerifyChunk(1, data[start1:end1]))
}

func TestVerifyChunkDetectsSizeMismatch(t *testing.T) {
	path := writeRandomFile(t, 2*(1<<20))
	refPath := path + ".mref"
	require.NoError(t, merkle.BuildToFile(path, refPath))

	ref, err := merkle.Load(refPath)
	require.NoError(t, err)

	err = ref.VerifyChunk(0, []byte("too short"))
	require.Error(t, err)
	require.True(t, merkle.IsHashMismatch(err))
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := writeRandomFile(t, 1024)
	refPath := path + ".mref"
	require.NoError(t, merkle.BuildToFile(path, refPath))

	data, err := os.ReadFile(refPath)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(refPath, data, 0o666))

	_, err = merkle.Load(refPath)
	require.Error(t, err)
}

func TestLoadRejectsTamperedFooter(t *testing.T) {
	path := writeRandomFile(t, 1024)
	refPath := path + ".mref"
	require.NoError(t, merkle.BuildToFile(path, refPath))

	data, err := os.ReadFile(refPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(refPath, data, 0o666))

	_, err = merkle.Load(refPath)
	require.Error(t, err)
}

func TestSingleChunkRootIsPlainSHA256(t *testing.T) {
	// A file no larger than one chunk has no internal nodes at all:
	// the tree is a single leaf, so the root is directly the leaf hash.
	path := writeRandomFile(t, 1024)
	refPath := path + ".mref"
	require.NoError(t, merkle.BuildToFile(path, refPath))

	ref, err := merkle.Load(refPath)
	require.NoError(t, err)
	leafHash, err := ref.LeafHash(0)
	require.NoError(t, err)
	root := ref.RootHash()
	require.True(t, bytes.Equal(leafHash[:], root[:]))
}
