// Package mafile implements MAFileChannel, the public façade over the
// fetch-scheduling and Merkle-verification layers. A Channel presents a
// remote dataset file as a local, randomly readable, memory-mapped-like
// region: reads transparently fetch and verify whatever chunks they
// touch that are not already cached, while writes store caller-supplied
// bytes into the local cache file, committing each chunk only once it
// hash-matches the reference (used by the publication pipeline to
// populate a cache ahead of time, and by tests).
package mafile

import (
	"context"
	"os"

	"github.com/nosqlbench/vdatasets/pkg/blockdevice"
	"github.com/nosqlbench/vdatasets/pkg/fetch"
	"github.com/nosqlbench/vdatasets/pkg/logging"
	"github.com/nosqlbench/vdatasets/pkg/merkle"
	"github.com/nosqlbench/vdatasets/pkg/metrics"
	"github.com/nosqlbench/vdatasets/pkg/util"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxConcurrentCacheWrites bounds how many goroutines may call WriteAt
// on the cache file at once. Chunk writes from distinct runs never
// overlap (the single-flight queue guarantees that), so this exists
// only to cap the number of outstanding OS-level write syscalls under a
// very wide fan-out read, the same concern
// blockdevice.NewWriteConcurrencyLimitingBlockDevice exists to address.
const maxConcurrentCacheWrites = 32

// Fetcher is the subset of *fetch.RangeFetcher that Channel depends on,
// so tests can substitute a fake remote.
type Fetcher interface {
	FetchRange(ctx context.Context, start, end int64) ([]byte, error)
}

// Channel is the public, concurrency-safe handle onto a single dataset
// file. It combines a Merkle reference and verification state with a
// local cache file and a remote fetcher.
//
// The zero value is not usable; construct one with Open.
type Channel struct {
	ref       merkle.Ref
	state     *merkle.State
	cache     blockdevice.BlockDevice
	cacheF    *os.File
	verify    *merkle.Verifier
	fetcher   Fetcher
	queue     *fetch.Queue
	logger    zerolog.Logger
	errLogger util.ErrorLogger

	closed bool
}

// WithErrorLogger attaches the util.ErrorLogger that receives errors
// from chunk fetches whose result nobody ends up waiting for — e.g. a
// Read that fails on an earlier run in its plan leaves later runs'
// fetches running in the background rather than blocking on them (see
// ensureRange). Those fetches still complete, verify, and commit
// normally; only their outcome has nowhere left to be returned to, so
// it is reported here instead of silently discarded. Defaults to
// util.DefaultErrorLogger if never called.
func (c *Channel) WithErrorLogger(errLogger util.ErrorLogger) *Channel {
	c.errLogger = errLogger
	return c
}

// WithLogger attaches a zerolog.Logger that receives a debug event for
// every chunk-fetch plan this Channel drives. It returns c so callers
// can chain it onto Open; the default, if this is never called, is
// logging.Disabled(), consistent with the core's rule that no package
// here reaches for a global logging singleton.
func (c *Channel) WithLogger(logger zerolog.Logger) *Channel {
	c.logger = logger
	return c
}

// Open prepares a Channel for the dataset described by mrefPath,
// backed by a cache file at cachePath (created if absent, or reused and
// revalidated against its companion .mrkl state if present) and a
// remote fetcher used to retrieve bytes not yet cached.
//
// The companion state file is derived by appending ".mrkl" to
// cachePath, mirroring how a .mref reference sits alongside its content
// file as "<cachePath>.mref".
func Open(mrefPath, cachePath string, fetcher Fetcher) (*Channel, error) {
	ref, err := merkle.Load(mrefPath)
	if err != nil {
		return nil, err
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	rawCache, err := blockdevice.NewSparseCacheFile(cachePath, ref.Shape().ContentSizeBytes())
	if err != nil {
		return nil, err
	}
	cacheF := cacheAsFile(rawCache)
	cache := blockdevice.NewWriteConcurrencyLimitingBlockDevice(rawCache, semaphore.NewWeighted(maxConcurrentCacheWrites))

	statePath := merkle.StatePathFor(cachePath)
	state, err := merkle.OpenOrCreate(statePath, ref)
	if err != nil {
		if cacheF != nil {
			cacheF.Close()
		}
		return nil, err
	}

	verifier := merkle.NewVerifier(ref, state, cache)

	return &Channel{
		ref:       ref,
		state:     state,
		cache:     cache,
		cacheF:    cacheF,
		verify:    verifier,
		fetcher:   fetcher,
		queue:     fetch.NewQueue(),
		logger:    logging.Disabled(),
		errLogger: util.DefaultErrorLogger,
	}, nil
}

func cacheAsFile(b blockdevice.BlockDevice) *os.File {
	f, _ := b.(*os.File)
	return f
}

// Size returns the total logical content size of the dataset, in bytes.
func (c *Channel) Size() int64 {
	return c.ref.Shape().ContentSizeBytes()
}

// Read fills buf with the content at logical position pos, fetching and
// verifying whatever cached chunks it touches are still missing. It
// returns the number of bytes read, which is always len(buf) unless the
// read runs past the end of the dataset (in which case it is truncated,
// analogous to io.ReaderAt's contract) or an error occurs.
//
// Read is safe to call concurrently with other Read and Write calls on
// the same Channel; concurrent reads of the same chunk share a single
// underlying fetch.
func (c *Channel) Read(ctx context.Context, pos int64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	size := c.Size()
	if pos < 0 || pos >= size {
		return 0, status.Errorf(codes.OutOfRange, "Read position %d is outside of the dataset of size %d", pos, size)
	}
	end := pos + int64(len(buf))
	if end > size {
		end = size
		buf = buf[:end-pos]
	}

	if err := c.ensureRange(ctx, pos, end); err != nil {
		return 0, err
	}

	n, err := c.cache.ReadAt(buf, pos)
	if err != nil {
		return n, util.StatusWrapf(err, "Failed to read cached bytes at offset %d", pos)
	}
	return n, nil
}

// Write stores data into the dataset at logical position pos. It is
// intended for use by the publication pipeline (which already holds
// verified bytes) and by tests that need to seed a cache; ordinary
// readers never call it.
//
// A chunk that data fully covers is verified and committed directly
// from the supplied bytes, bypassing the remote fetcher. A chunk data
// only partially covers is read-modify-written instead: ensureRange
// fetches and verifies whatever part of that chunk is not supplied,
// data's bytes are overlaid on top of the result, and the reassembled
// chunk is verified and committed like any other. This is what lets
// Write be called with a byte range that does not align to chunk
// boundaries without ever leaving a chunk marked valid with bytes that
// do not match the reference.
//
// Write only marks a chunk verified when the bytes it ends up with —
// supplied directly, or reassembled via read-modify-write — hash-match
// the reference exactly; a mismatch returns an error and leaves the
// affected chunk's state untouched.
func (c *Channel) Write(ctx context.Context, pos int64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	size := c.Size()
	if pos < 0 || pos+int64(len(data)) > size {
		return 0, status.Errorf(codes.OutOfRange, "Write range [%d, %d) is outside of the dataset of size %d", pos, pos+int64(len(data)), size)
	}

	shape := c.ref.Shape()
	lo, hi := shape.LeavesIntersecting(pos, pos+int64(len(data)))
	for i := lo; i < hi; i++ {
		start, end, err := shape.ChunkBoundary(i)
		if err != nil {
			return 0, err
		}

		if start >= pos && end <= pos+int64(len(data)) {
			if err := c.verify.VerifyAndCommit(i, data[start-pos:end-pos]); err != nil {
				return 0, err
			}
			continue
		}

		if err := c.ensureRange(ctx, start, end); err != nil {
			return 0, err
		}
		chunk := make([]byte, end-start)
		if _, err := c.cache.ReadAt(chunk, start); err != nil {
			return 0, util.StatusWrapf(err, "Failed to read chunk %d for partial write", i)
		}

		overlapStart, overlapEnd := start, end
		if pos > overlapStart {
			overlapStart = pos
		}
		if pos+int64(len(data)) < overlapEnd {
			overlapEnd = pos + int64(len(data))
		}
		copy(chunk[overlapStart-start:overlapEnd-start], data[overlapStart-pos:overlapEnd-pos])

		if err := c.verify.VerifyAndCommit(i, chunk); err != nil {
			return 0, err
		}
	}

	return len(data), nil
}

// ensureRange guarantees that every chunk intersecting [start, end) is
// present and verified in the cache, fetching and verifying whatever is
// missing. It implements the scheduling policy: compute missing chunks,
// coalesce them into runs, and hand each run to the queue, which
// atomically joins whatever is already in flight and claims the rest.
func (c *Channel) ensureRange(ctx context.Context, start, end int64) error {
	shape := c.ref.Shape()
	runs := fetch.Plan(shape, c.state.IsValid, start, end)
	lo, hi := shape.LeavesIntersecting(start, end)
	var missing int64
	for _, run := range runs {
		missing += run.Len()
	}
	metrics.CacheHits.Add(float64(hi - lo - missing))
	metrics.CacheMisses.Add(float64(missing))
	if len(runs) == 0 {
		return nil
	}
	c.logger.Debug().Int64("start", start).Int64("end", end).Int("runs", len(runs)).Msg("scheduling chunk fetches")

	waits := make([]func(context.Context) error, 0, len(runs))
	for _, run := range runs {
		indices := make([]int64, 0, run.Len())
		for i := run.Lo; i < run.Hi; i++ {
			indices = append(indices, i)
		}
		waits = append(waits, c.queue.GetOrSubmit(ctx, indices, func(ctx context.Context, claimed []int64) error {
			return c.fetchAndVerifyIndices(ctx, shape, claimed)
		}))
	}

	for idx, wait := range waits {
		if err := wait(ctx); err != nil {
			// Every later run's fetch is already running in the
			// background (GetOrSubmit kicked it off before this loop
			// started waiting); this caller will never collect its
			// outcome, so report it through errLogger instead of
			// letting it vanish silently, per the spec's "results
			// are discarded" cancellation note. A caller-initiated
			// cancellation is the expected reason this loop bails
			// early, not a problem worth surfacing.
			if !merkle.IsCancelled(err) {
				for _, abandoned := range waits[idx+1:] {
					abandoned := abandoned
					go func() {
						if err := abandoned(context.Background()); err != nil {
							c.errLogger.Log(util.StatusWrapf(err, "Discarded outcome of an unawaited chunk fetch"))
						}
					}()
				}
			}
			return err
		}
	}
	return nil
}

// fetchAndVerifyIndices fetches and verifies claimed, an ascending slice
// of chunk indices GetOrSubmit determined this caller actually owns. It
// may not be contiguous (another caller can have already claimed a
// chunk in the middle of the originally requested run), so it is
// regrouped into maximal contiguous runs before issuing range fetches,
// same as the top-level scheduling policy does.
func (c *Channel) fetchAndVerifyIndices(ctx context.Context, shape merkle.Shape, claimed []int64) error {
	for _, run := range fetch.GroupConsecutive(claimed) {
		if err := c.fetchAndVerifyRun(ctx, shape, run); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) fetchAndVerifyRun(ctx context.Context, shape merkle.Shape, run fetch.Run) error {
	runStart, _, err := shape.ChunkBoundary(run.Lo)
	if err != nil {
		return err
	}
	_, runEnd, err := shape.ChunkBoundary(run.Hi - 1)
	if err != nil {
		return err
	}

	data, err := c.fetcher.FetchRange(ctx, runStart, runEnd)
	if err != nil {
		return err
	}

	for i := run.Lo; i < run.Hi; i++ {
		start, end, err := shape.ChunkBoundary(i)
		if err != nil {
			return err
		}
		chunk := data[start-runStart : end-runStart]
		if err := c.verify.VerifyAndCommit(i, chunk); err != nil {
			return status.Errorf(codes.DataLoss, "Chunk %d in run [%d, %d): %s", i, run.Lo, run.Hi, err)
		}
	}
	return nil
}

// Close releases the Channel's state file and cancels every pending
// fetch entry, so anyone waiting on one gets a Canceled error; range
// requests already issued are not interrupted. It is safe to call Close
// more than once.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.queue.CancelAll()

	var firstErr error
	if err := c.state.Close(); err != nil {
		firstErr = err
	}
	if c.cacheF != nil {
		if err := c.cacheF.Close(); err != nil && firstErr == nil {
			firstErr = util.StatusWrapf(err, "Failed to close cache file")
		}
	}
	return firstErr
}
