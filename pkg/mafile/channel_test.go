package mafile_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/nosqlbench/vdatasets/pkg/mafile"
	"github.com/nosqlbench/vdatasets/pkg/merkle"

	"github.com/stretchr/testify/require"
)

// fakeFetcher serves range requests directly out of an in-memory
// buffer, counting how many range requests it serves in total so
// tests can assert on single-flight coalescing.
type fakeFetcher struct {
	content []byte
	calls   int32
}

func (f *fakeFetcher) FetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.content[start:end], nil
}

func buildFixture(t *testing.T, size int) (content []byte, mrefPath string) {
	t.Helper()
	dir := t.TempDir()
	content = bytes.Repeat([]byte("0123456789abcdef"), (size/16)+1)[:size]

	srcPath := filepath.Join(dir, "content.bin")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	mrefPath = filepath.Join(dir, "dataset.mref")
	require.NoError(t, merkle.BuildToFile(srcPath, mrefPath))
	return content, mrefPath
}

func TestChannelReadFetchesAndVerifies(t *testing.T) {
	content, mrefPath := buildFixture(t, 5*(1<<20)+123)
	fetcher := &fakeFetcher{content: content}

	cachePath := filepath.Join(filepath.Dir(mrefPath), "content.cache")
	ch, err := mafile.Open(mrefPath, cachePath, fetcher)
	require.NoError(t, err)
	defer ch.Close()

	require.Equal(t, int64(len(content)), ch.Size())

	buf := make([]byte, 1000)
	n, err := ch.Read(context.Background(), 4096, buf)
	require.NoError(t, err)
	require.Equal(t, 1000, n)
	require.Equal(t, content[4096:5096], buf)
}

func TestChannelReadIsIdempotentAndDoesNotRefetch(t *testing.T) {
	content, mrefPath := buildFixture(t, 1<<20)
	fetcher := &fakeFetcher{content: content}

	cachePath := filepath.Join(filepath.Dir(mrefPath), "content.cache")
	ch, err := mafile.Open(mrefPath, cachePath, fetcher)
	require.NoError(t, err)
	defer ch.Close()

	buf := make([]byte, 100)
	_, err = ch.Read(context.Background(), 0, buf)
	require.NoError(t, err)
	callsAfterFirst := atomic.LoadInt32(&fetcher.calls)
	require.Greater(t, callsAfterFirst, int32(0))

	_, err = ch.Read(context.Background(), 0, buf)
	require.NoError(t, err)
	require.Equal(t, callsAfterFirst, atomic.LoadInt32(&fetcher.calls), "re-reading already-verified bytes must not refetch")
}

func TestChannelReadTruncatesAtEndOfDataset(t *testing.T) {
	content, mrefPath := buildFixture(t, 1000)
	fetcher := &fakeFetcher{content: content}

	cachePath := filepath.Join(filepath.Dir(mrefPath), "content.cache")
	ch, err := mafile.Open(mrefPath, cachePath, fetcher)
	require.NoError(t, err)
	defer ch.Close()

	buf := make([]byte, 100)
	n, err := ch.Read(context.Background(), 950, buf)
	require.NoError(t, err)
	require.Equal(t, 50, n)
	require.Equal(t, content[950:1000], buf[:50])
}

func TestChannelReadPastEndOfDatasetFails(t *testing.T) {
	content, mrefPath := buildFixture(t, 1000)
	fetcher := &fakeFetcher{content: content}

	cachePath := filepath.Join(filepath.Dir(mrefPath), "content.cache")
	ch, err := mafile.Open(mrefPath, cachePath, fetcher)
	require.NoError(t, err)
	defer ch.Close()

	buf := make([]byte, 10)
	_, err = ch.Read(context.Background(), 1000, buf)
	require.Error(t, err)
}

// corruptFetcher always returns the wrong bytes, to exercise the
// hash-mismatch path through VerifyAndCommit.
type corruptFetcher struct {
	size int64
}

func (f *corruptFetcher) FetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	return bytes.Repeat([]byte{0xFF}, int(end-start)), nil
}

func TestChannelReadHashMismatchIsReported(t *testing.T) {
	content, mrefPath := buildFixture(t, 1<<20)
	fetcher := &corruptFetcher{size: int64(len(content))}

	cachePath := filepath.Join(filepath.Dir(mrefPath), "content.cache")
	ch, err := mafile.Open(mrefPath, cachePath, fetcher)
	require.NoError(t, err)
	defer ch.Close()

	buf := make([]byte, 100)
	_, err = ch.Read(context.Background(), 0, buf)
	require.Error(t, err)
}

func TestChannelWriteThenReadDoesNotRefetch(t *testing.T) {
	content, mrefPath := buildFixture(t, 1<<20)
	fetcher := &fakeFetcher{content: content}

	cachePath := filepath.Join(filepath.Dir(mrefPath), "content.cache")
	ch, err := mafile.Open(mrefPath, cachePath, fetcher)
	require.NoError(t, err)
	defer ch.Close()

	shape, err := merkle.ForContentSize(int64(len(content)))
	require.NoError(t, err)
	_, chunkEnd, err := shape.ChunkBoundary(0)
	require.NoError(t, err)

	n, err := ch.Write(context.Background(), 0, content[0:chunkEnd])
	require.NoError(t, err)
	require.Equal(t, int(chunkEnd), n)

	buf := make([]byte, chunkEnd)
	_, err = ch.Read(context.Background(), 0, buf)
	require.NoError(t, err)
	require.Equal(t, content[0:chunkEnd], buf)
	require.Equal(t, int32(0), atomic.LoadInt32(&fetcher.calls), "bytes supplied via Write must not be refetched")
}

func TestChannelWritePartialChunkReadModifyWrites(t *testing.T) {
	content, mrefPath := buildFixture(t, 1<<20)
	fetcher := &fakeFetcher{content: content}

	cachePath := filepath.Join(filepath.Dir(mrefPath), "content.cache")
	ch, err := mafile.Open(mrefPath, cachePath, fetcher)
	require.NoError(t, err)
	defer ch.Close()

	shape, err := merkle.ForContentSize(int64(len(content)))
	require.NoError(t, err)
	chunkStart, chunkEnd, err := shape.ChunkBoundary(0)
	require.NoError(t, err)

	// Supply only the second half of chunk 0; the first half must be
	// fetched and verified to reassemble a full, hash-matching chunk.
	mid := chunkStart + (chunkEnd-chunkStart)/2
	n, err := ch.Write(context.Background(), mid, content[mid:chunkEnd])
	require.NoError(t, err)
	require.Equal(t, int(chunkEnd-mid), n)
	require.Greater(t, atomic.LoadInt32(&fetcher.calls), int32(0), "a partial write must fetch the rest of the chunk")

	callsAfterWrite := atomic.LoadInt32(&fetcher.calls)
	buf := make([]byte, chunkEnd-chunkStart)
	_, err = ch.Read(context.Background(), chunkStart, buf)
	require.NoError(t, err)
	require.Equal(t, content[chunkStart:chunkEnd], buf)
	require.Equal(t, callsAfterWrite, atomic.LoadInt32(&fetcher.calls), "the chunk must already be verified after the partial write")
}
