package merkle

import (
	"github.com/nosqlbench/vdatasets/pkg/blockdevice"
	"github.com/nosqlbench/vdatasets/pkg/metrics"
)

// Verifier checks fetched chunk payloads against a Ref and, on success,
// commits them to the cache file and the companion State.
//
// The commit order is deliberate: the cache write happens before the
// state bit is flipped. If the process crashes after the write but
// before the bit flip, the next open sees an "unverified but bytes
// present" state, which is safe — the bytes may or may not be
// trustworthy until the bit is set, so they are simply re-verified.
// Setting the bit first would let a reader trust bytes that were never
// actually written.
type Verifier struct {
	ref   Ref
	state *State
	cache blockdevice.BlockDevice
}

// NewVerifier constructs a Verifier tying together a Ref, its companion
// State, and the cache file the verified bytes are written into.
func NewVerifier(ref Ref, state *State, cache blockdevice.BlockDevice) *Verifier {
	return &Verifier{ref: ref, state: state, cache: cache}
}

// VerifyAndCommit checks data against the reference hash for chunk i.
// On a match, it writes data to the cache file at the chunk's offset
// and marks the chunk valid in State before returning. On a mismatch,
// it returns the verification error and leaves both the cache file and
// State bit untouched (the caller may retry the same chunk).
func (v *Verifier) VerifyAndCommit(i int64, data []byte) error {
	if err := v.ref.VerifyChunk(i, data); err != nil {
		if IsHashMismatch(err) {
			metrics.ChunksHashMismatch.Inc()
		}
		return err
	}

	start, _, err := v.ref.Shape().ChunkBoundary(i)
	if err != nil {
		return err
	}
	if _, err := v.cache.WriteAt(data, start); err != nil {
		return ErrIO("Failed to write chunk %d to cache file: %s", i, err)
	}

	if err := v.state.MarkValid(i); err != nil {
		return err
	}
	metrics.ChunksVerified.Inc()
	return nil
}
