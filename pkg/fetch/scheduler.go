// Package fetch implements the policy layer that decides which Merkle
// chunks need to be fetched for a given read, deduplicates concurrent
// fetches for the same chunk, and drives the HTTP range requests that
// retrieve them.
package fetch

import (
	"github.com/nosqlbench/vdatasets/pkg/merkle"
)

// Run is a maximal contiguous range of chunk indices, expressed as a
// half-open interval [Lo, Hi). A Run with Hi-Lo >= 2 may be retrieved
// using a single HTTP range request spanning the whole run; the
// verifier still hashes and commits each chunk within it individually,
// so a corrupt chunk in the middle of a run does not invalidate its
// neighbors.
type Run struct {
	Lo, Hi int64
}

// Len returns the number of chunks covered by the run.
func (r Run) Len() int64 {
	return r.Hi - r.Lo
}

// MissingChunks returns, in ascending order, every chunk index that
// intersects the byte range [startPos, endPos) and for which isValid
// reports false. This implements steps 1-2 of the scheduling policy:
// compute the intersecting leaf range, then filter out chunks that are
// already verified.
func MissingChunks(shape merkle.Shape, isValid func(int64) bool, startPos, endPos int64) []int64 {
	lo, hi := shape.LeavesIntersecting(startPos, endPos)
	if lo >= hi {
		return nil
	}
	missing := make([]int64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		if !isValid(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// GroupConsecutive groups an ascending, duplicate-free slice of chunk
// indices into maximal contiguous Runs. This implements step 3 of the
// scheduling policy: coalescing adjacent missing chunks reduces the
// number of HTTP range requests needed for a sequential scan, without
// changing the granularity at which chunks are individually verified.
func GroupConsecutive(chunks []int64) []Run {
	if len(chunks) == 0 {
		return nil
	}
	runs := make([]Run, 0, len(chunks))
	runStart := chunks[0]
	prev := chunks[0]
	for _, i := range chunks[1:] {
		if i == prev+1 {
			prev = i
			continue
		}
		runs = append(runs, Run{Lo: runStart, Hi: prev + 1})
		runStart = i
		prev = i
	}
	runs = append(runs, Run{Lo: runStart, Hi: prev + 1})
	return runs
}

// Plan combines MissingChunks and GroupConsecutive to produce the
// ordered list of chunk runs a reader of [startPos, endPos) must fetch,
// ignoring chunks isValid already reports as verified. Prefetching
// beyond the requested range is out of scope: Plan never returns a
// chunk index outside of what LeavesIntersecting reports for the given
// byte range.
func Plan(shape merkle.Shape, isValid func(int64) bool, startPos, endPos int64) []Run {
	return GroupConsecutive(MissingChunks(shape, isValid, startPos, endPos))
}
