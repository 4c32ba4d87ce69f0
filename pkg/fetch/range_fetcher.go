package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nosqlbench/vdatasets/pkg/clock"
	"github.com/nosqlbench/vdatasets/pkg/logging"
	"github.com/nosqlbench/vdatasets/pkg/metrics"
	"github.com/nosqlbench/vdatasets/pkg/util"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HTTPClient is the subset of *http.Client that RangeFetcher depends
// on. Tests supply a fake implementation; production code passes an
// *http.Client (cmd/datatool uses http.DefaultClient).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultMaxAttempts    = 3
	defaultBaseBackoff    = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultRequestTimeout = 60 * time.Second
)

// RangeFetcher issues HTTP byte-range requests against a single remote
// URL, retrying transient failures with exponential backoff and
// bounding the number of requests in flight with a semaphore.
type RangeFetcher struct {
	client    HTTPClient
	remoteURL string
	clock     clock.Clock
	semaphore *semaphore.Weighted
	logger    zerolog.Logger

	maxAttempts    int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	requestTimeout time.Duration
}

// NewRangeFetcher creates a RangeFetcher for remoteURL. maxInFlight
// bounds the number of concurrent HTTP requests this fetcher will issue;
// per the scheduling policy's default, callers typically pass
// min(8, chunk_count).
func NewRangeFetcher(client HTTPClient, remoteURL string, clk clock.Clock, maxInFlight int) *RangeFetcher {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &RangeFetcher{
		client:         client,
		remoteURL:      remoteURL,
		clock:          clk,
		semaphore:      semaphore.NewWeighted(int64(maxInFlight)),
		logger:         logging.Disabled(),
		maxAttempts:    defaultMaxAttempts,
		baseBackoff:    defaultBaseBackoff,
		maxBackoff:     defaultMaxBackoff,
		requestTimeout: defaultRequestTimeout,
	}
}

// WithLogger attaches a zerolog.Logger that receives a debug event for
// every range request attempt (and a warn event for every retried
// failure). It returns f so callers can chain it onto NewRangeFetcher;
// the default logger, if this is never called, is logging.Disabled().
func (f *RangeFetcher) WithLogger(logger zerolog.Logger) *RangeFetcher {
	f.logger = logger
	return f
}

// FetchRange retrieves the half-open byte range [start, end) from the
// remote URL, retrying transient failures (timeouts, 5xx, connection
// resets, and short reads) up to the configured attempt limit with
// exponential backoff. Non-transient failures (4xx other than 429) fail
// immediately. Honors ctx for cancellation.
func (f *RangeFetcher) FetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	if err := util.AcquireSemaphore(ctx, f.semaphore, 1); err != nil {
		return nil, err
	}
	defer f.semaphore.Release(1)

	startedAt := f.clock.Now()
	f.logger.Debug().Int64("start", start).Int64("end", end).Msg("range fetch started")
	metrics.FetchesStarted.Inc()

	want := end - start
	buf := make([]byte, 0, want)
	var lastErr error
	for attempt := 0; int64(len(buf)) < want; attempt++ {
		if attempt > 0 {
			if attempt >= f.maxAttempts {
				metrics.FetchesFailed.Inc()
				return nil, status.Errorf(codes.Unavailable, "Exhausted %d attempts fetching bytes=%d-%d: %s", f.maxAttempts, start, end-1, lastErr)
			}
			if err := f.sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		subStart := start + int64(len(buf))
		data, transient, err := f.fetchOnce(ctx, subStart, end)
		if err != nil {
			if !transient {
				metrics.FetchesFailed.Inc()
				return nil, err
			}
			f.logger.Warn().Int64("start", subStart).Int64("end", end).Err(err).Msg("range fetch attempt failed, retrying")
			metrics.FetchRetries.Inc()
			lastErr = err
			continue
		}
		buf = append(buf, data...)
		if int64(len(data)) < end-subStart {
			// Partial response: the server returned fewer bytes
			// than requested. Treat it as transient and retry
			// only the remaining tail of the range.
			lastErr = status.Errorf(codes.Unavailable, "Short read: got %d of %d remaining bytes", len(data), end-subStart)
			f.logger.Warn().Int64("start", subStart).Int64("end", end).Err(lastErr).Msg("range fetch attempt failed, retrying")
			metrics.FetchRetries.Inc()
			continue
		}
	}
	metrics.FetchLatencySeconds.Observe(f.clock.Now().Sub(startedAt).Seconds())
	f.logger.Debug().Int64("start", start).Int64("end", end).Msg("range fetch completed")
	return buf, nil
}

func (f *RangeFetcher) sleepBackoff(ctx context.Context, attempt int) error {
	backoff := f.baseBackoff << uint(attempt-1)
	if backoff > f.maxBackoff || backoff <= 0 {
		backoff = f.maxBackoff
	}
	timer, ch := f.clock.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return util.StatusFromContext(ctx)
	}
}

// fetchOnce issues a single HTTP range request for [start, end). It
// returns transient=true for errors that are worth retrying (network
// errors, 5xx, 429); transient=false for errors that should fail the
// call immediately (other 4xx status codes).
func (f *RangeFetcher) fetchOnce(ctx context.Context, start, end int64) (data []byte, transient bool, err error) {
	reqCtx, cancel := f.clock.NewContextWithTimeout(ctx, f.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.remoteURL, nil)
	if err != nil {
		return nil, false, status.Errorf(codes.InvalidArgument, "Failed to construct request: %s", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := f.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			// The per-request timeout fired, but the caller's
			// context is still alive: this is transient.
			return nil, true, status.Errorf(codes.Unavailable, "Request timed out: %s", err)
		}
		if ctx.Err() != nil {
			return nil, false, util.StatusFromContext(ctx)
		}
		return nil, true, status.Errorf(codes.Unavailable, "Request failed: %s", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusPartialContent:
		body, err := io.ReadAll(io.LimitReader(resp.Body, end-start))
		if err != nil {
			return nil, true, status.Errorf(codes.Unavailable, "Failed to read response body: %s", err)
		}
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, status.Errorf(codes.Unavailable, "Server returned 429 Too Many Requests")
	case resp.StatusCode >= 500:
		return nil, true, status.Errorf(codes.Unavailable, "Server returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, status.Errorf(codes.InvalidArgument, "Server returned status %d", resp.StatusCode)
	default:
		return nil, false, status.Errorf(codes.Internal, "Server returned unexpected status %d", resp.StatusCode)
	}
}
