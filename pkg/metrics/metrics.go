// Package metrics registers the prometheus collectors this module
// exposes for chunk fetch latency, cache hit/miss counts, and
// verification outcomes, the same way pkg/blobstore/local registers its
// gauges in the teacher repository: package-level, unlabeled
// prometheus.Counter and prometheus.Histogram values, registered
// exactly once behind a sync.Once.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var (
	// FetchesStarted counts every RangeFetcher.FetchRange invocation,
	// regardless of outcome.
	FetchesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vdatasets",
		Subsystem: "fetch",
		Name:      "range_fetches_started_total",
		Help:      "Number of range fetch requests started.",
	})

	// FetchRetries counts every transient attempt that was retried
	// (timeouts, 5xx, connection resets, short reads).
	FetchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vdatasets",
		Subsystem: "fetch",
		Name:      "range_fetch_retries_total",
		Help:      "Number of range fetch attempts that were retried after a transient failure.",
	})

	// FetchesFailed counts fetches that ultimately failed, whether by
	// exhausting retries or hitting a non-transient error.
	FetchesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vdatasets",
		Subsystem: "fetch",
		Name:      "range_fetches_failed_total",
		Help:      "Number of range fetches that failed without producing usable bytes.",
	})

	// FetchLatencySeconds observes the wall-clock duration of
	// successful range fetches, from first attempt to last byte.
	FetchLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vdatasets",
		Subsystem: "fetch",
		Name:      "range_fetch_duration_seconds",
		Help:      "Time spent completing a range fetch, including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	})

	// ChunksVerified counts successful chunk verifications (hash
	// matched the reference and the bytes were committed to cache).
	ChunksVerified = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vdatasets",
		Subsystem: "verify",
		Name:      "chunks_verified_total",
		Help:      "Number of chunks whose fetched bytes matched the Merkle reference.",
	})

	// ChunksHashMismatch counts chunk verifications that failed
	// because the fetched (or written) bytes disagreed with the
	// reference hash.
	ChunksHashMismatch = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vdatasets",
		Subsystem: "verify",
		Name:      "chunks_hash_mismatch_total",
		Help:      "Number of chunks whose bytes disagreed with the Merkle reference.",
	})

	// CacheHits counts chunk requests satisfied entirely from an
	// already-valid cache entry, without a fetch.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vdatasets",
		Subsystem: "cache",
		Name:      "chunk_hits_total",
		Help:      "Number of chunk reads satisfied without a fetch.",
	})

	// CacheMisses counts chunk requests that required a fetch.
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vdatasets",
		Subsystem: "cache",
		Name:      "chunk_misses_total",
		Help:      "Number of chunk reads that required fetching and verifying a chunk.",
	})
)

// Register registers every collector in this package with prometheus's
// default registry. It is idempotent and safe to call from multiple
// goroutines or multiple times across a process's lifetime (e.g. once
// per cmd/datatool subcommand that touches the network).
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FetchesStarted,
			FetchRetries,
			FetchesFailed,
			FetchLatencySeconds,
			ChunksVerified,
			ChunksHashMismatch,
			CacheHits,
			CacheMisses,
		)
	})
}
