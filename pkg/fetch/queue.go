package fetch

import (
	"context"
	"sync"

	"github.com/nosqlbench/vdatasets/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// entry is the shared future backing a single in-flight fetch. It may be
// registered under more than one chunk index at once, when it
// represents a coalesced run fetch.
type entry struct {
	done chan struct{}

	mu       sync.Mutex
	err      error
	finished bool
}

func newEntry() *entry {
	return &entry{done: make(chan struct{})}
}

func (e *entry) closeWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return
	}
	e.err = err
	e.finished = true
	close(e.done)
}

func (e *entry) wait(ctx context.Context) error {
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.err
	case <-ctx.Done():
		return util.StatusFromContext(ctx)
	}
}

// Queue deduplicates concurrent fetch requests so that at most one
// physical fetch is in flight for any given chunk index at a time.
// Callers that race to fetch overlapping chunk ranges always coalesce
// onto a single shared outcome.
//
// Queue does not itself decide whether a chunk needs fetching (that is
// MissingChunks' job) or how to fetch one (that is RangeFetcher's job);
// it only owns the map from chunk index to in-flight future.
type Queue struct {
	mu      sync.Mutex
	pending map[int64]*entry
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{pending: map[int64]*entry{}}
}

// GetOrSubmit atomically partitions indices into those already served by
// a fetch in flight (which it joins) and those with no fetch registered
// yet (which it claims). The entire find-or-create decision is made
// under a single lock acquisition, so two callers racing to fetch the
// same unclaimed range always coalesce onto one physical fetch instead
// of one of them losing a separate check-then-register race.
//
// If this call claims any indices, it starts fetch in a new goroutine,
// passing it exactly the claimed subset in ascending order, and
// registers a shared entry for them that clears once fetch returns. The
// returned function waits for every index in indices to reach a
// result, whether it was joined from an existing fetch, claimed by this
// call, or (if indices is already fully covered by other entries)
// entirely borrowed.
//
// indices must be non-empty and given in ascending order.
func (q *Queue) GetOrSubmit(ctx context.Context, indices []int64, fetch func(ctx context.Context, claimed []int64) error) func(context.Context) error {
	q.mu.Lock()
	joined := map[*entry]struct{}{}
	var claimed []int64
	for _, i := range indices {
		if e, ok := q.pending[i]; ok {
			joined[e] = struct{}{}
		} else {
			claimed = append(claimed, i)
		}
	}

	var fresh *entry
	if len(claimed) > 0 {
		fresh = newEntry()
		for _, i := range claimed {
			q.pending[i] = fresh
		}
		joined[fresh] = struct{}{}
	}
	q.mu.Unlock()

	if fresh != nil {
		go func() {
			err := fetch(ctx, claimed)

			q.mu.Lock()
			for _, i := range claimed {
				if q.pending[i] == fresh {
					delete(q.pending, i)
				}
			}
			q.mu.Unlock()

			fresh.closeWith(err)
		}()
	}

	waiters := make([]*entry, 0, len(joined))
	for e := range joined {
		waiters = append(waiters, e)
	}
	return func(ctx context.Context) error {
		for _, e := range waiters {
			if err := e.wait(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// CancelAll aborts every fetch currently in flight, causing every
// waiter's wait call to return a Canceled error. In-flight physical
// fetches are not interrupted by CancelAll itself; callers typically
// pair it with cancellation of the context.Context passed to
// GetOrSubmit so that RangeFetcher observes the cancellation too.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	entries := make(map[*entry]struct{}, len(q.pending))
	for _, e := range q.pending {
		entries[e] = struct{}{}
	}
	q.pending = map[int64]*entry{}
	q.mu.Unlock()

	cancelled := status.Error(codes.Canceled, "Channel was closed")
	for e := range entries {
		e.closeWith(cancelled)
	}
}
