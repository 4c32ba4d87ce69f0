package fetch_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nosqlbench/vdatasets/pkg/clock"
	"github.com/nosqlbench/vdatasets/pkg/fetch"

	"github.com/stretchr/testify/require"
)

type fakeHTTPClient struct {
	do func(req *http.Request) (*http.Response, error)
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return f.do(req)
}

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func TestRangeFetcherSuccess(t *testing.T) {
	client := &fakeHTTPClient{
		do: func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "bytes=10-19", req.Header.Get("Range"))
			return newResponse(http.StatusPartialContent, "0123456789"), nil
		},
	}

	f := fetch.NewRangeFetcher(client, "https://example.test/data.bin", clock.SystemClock, 4)
	data, err := f.FetchRange(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789"), data)
}

func TestRangeFetcherRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	client := &fakeHTTPClient{
		do: func(req *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return newResponse(http.StatusServiceUnavailable, ""), nil
			}
			return newResponse(http.StatusPartialContent, "abcd"), nil
		},
	}

	f := fetch.NewRangeFetcher(client, "https://example.test/data.bin", fastClock{}, 1)
	data, err := f.FetchRange(context.Background(), 0, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("abcd"), data)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRangeFetcherFailsImmediatelyOn404(t *testing.T) {
	var calls int32
	client := &fakeHTTPClient{
		do: func(req *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return newResponse(http.StatusNotFound, ""), nil
		},
	}

	f := fetch.NewRangeFetcher(client, "https://example.test/data.bin", fastClock{}, 1)
	_, err := f.FetchRange(context.Background(), 0, 4)
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRangeFetcherExhaustsRetriesOn5xx(t *testing.T) {
	client := &fakeHTTPClient{
		do: func(req *http.Request) (*http.Response, error) {
			return newResponse(http.StatusInternalServerError, ""), nil
		},
	}

	f := fetch.NewRangeFetcher(client, "https://example.test/data.bin", fastClock{}, 1)
	_, err := f.FetchRange(context.Background(), 0, 4)
	require.Error(t, err)
}

func TestRangeFetcherHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeHTTPClient{
		do: func(req *http.Request) (*http.Response, error) {
			t.Fatal("Do should not be called once the semaphore acquire observes a cancelled context")
			return nil, nil
		},
	}

	f := fetch.NewRangeFetcher(client, "https://example.test/data.bin", clock.SystemClock, 1)
	_, err := f.FetchRange(ctx, 0, 4)
	require.Error(t, err)
}

// fastClock is a clock.Clock whose timers fire immediately, so backoff
// tests do not actually sleep.
type fastClock struct{}

func (fastClock) Now() time.Time { return time.Now() }

func (fastClock) NewContextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

func (fastClock) NewTimer(d time.Duration) (clock.Timer, <-chan time.Time) {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return noopTimer{}, ch
}

func (fastClock) NewTicker(d time.Duration) (clock.Ticker, <-chan time.Time) {
	return noopTicker{}, make(chan time.Time)
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

type noopTicker struct{}

func (noopTicker) Stop() {}
