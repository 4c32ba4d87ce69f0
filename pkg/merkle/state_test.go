package merkle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nosqlbench/vdatasets/pkg/merkle"
	"github.com/stretchr/testify/require"
)

func buildTestRef(t *testing.T, size int) merkle.Ref {
	t.Helper()
	path := writeRandomFile(t, size)
	refPath := path + ".mref"
	require.NoError(t, merkle.BuildToFile(path, refPath))
	ref, err := merkle.Load(refPath)
	require.NoError(t, err)
	return ref
}

func TestStateMarkValidPersistsAcrossReopen(t *testing.T) {
	ref := buildTestRef(t, 5*(1<<20))
	statePath := filepath.Join(t.TempDir(), "cache.mrkl")

	state, err := merkle.OpenOrCreate(statePath, ref)
	require.NoError(t, err)
	require.False(t, state.IsValid(3))
	require.NoError(t, state.MarkValid(3))
	require.True(t, state.IsValid(3))
	require.NoError(t, state.Close())

	state2, err := merkle.OpenOrCreate(statePath, ref)
	require.NoError(t, err)
	require.True(t, state2.IsValid(3))
	require.False(t, state2.IsValid(0))
	require.NoError(t, state2.Close())
}

func TestStateMonotonicity(t *testing.T) {
	ref := buildTestRef(t, 2*(1<<20))
	statePath := filepath.Join(t.TempDir(), "cache.mrkl")

	state, err := merkle.OpenOrCreate(statePath, ref)
	require.NoError(t, err)
	require.NoError(t, state.MarkValid(0))
	require.True(t, state.IsValid(0))
	// Marking again must be idempotent and must not clear the bit.
	require.NoError(t, state.MarkValid(0))
	require.True(t, state.IsValid(0))

	require.NoError(t, state.Invalidate(0))
	require.False(t, state.IsValid(0))
	require.NoError(t, state.Close())
}

func TestStateRejectsMismatchedRoot(t *testing.T) {
	refA := buildTestRef(t, 2*(1<<20))
	refB := buildTestRef(t, 2*(1<<20))
	statePath := filepath.Join(t.TempDir(), "cache.mrkl")

	state, err := merkle.OpenOrCreate(statePath, refA)
	require.NoError(t, err)
	require.NoError(t, state.Close())

	_, err = merkle.OpenOrCreate(statePath, refB)
	require.Error(t, err)
}

func TestStateTornFooterIsTreatedAsEmpty(t *testing.T) {
	ref := buildTestRef(t, 2*(1<<20))
	statePath := filepath.Join(t.TempDir(), "cache.mrkl")

	state, err := merkle.OpenOrCreate(statePath, ref)
	require.NoError(t, err)
	require.NoError(t, state.MarkValid(0))
	require.NoError(t, state.Close())

	// Simulate a crash between the bitset write and the footer write
	// by corrupting the last byte of the file (part of the footer).
	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(statePath, data, 0o666))

	state2, err := merkle.OpenOrCreate(statePath, ref)
	require.NoError(t, err)
	require.False(t, state2.IsValid(0), "a torn footer must make the reopened state forget prior verifications")
	require.NoError(t, state2.Close())
}

func TestStateOwnershipIsExclusivePerProcess(t *testing.T) {
	ref := buildTestRef(t, 1<<20)
	statePath := filepath.Join(t.TempDir(), "cache.mrkl")

	state, err := merkle.OpenOrCreate(statePath, ref)
	require.NoError(t, err)

	_, err = merkle.OpenOrCreate(statePath, ref)
	require.Error(t, err, "a second concurrent open of the same state file must fail")

	require.NoError(t, state.Close())

	state2, err := merkle.OpenOrCreate(statePath, ref)
	require.NoError(t, err)
	require.NoError(t, state2.Close())
}
