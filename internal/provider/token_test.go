package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	var calls int32
	ts := newTokenSource(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		return "tok", time.Hour, nil
	})

	for i := 0; i < 5; i++ {
		tok, err := ts.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "tok", tok)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenSourceSingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	ts := newTokenSource(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "tok", time.Hour, nil
	})

	const workers = 10
	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ts.Token(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent callers must share one auth call")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "tok", results[i])
	}
}

func TestTokenSourceRefreshesBeforeDeclaredExpiry(t *testing.T) {
	var calls int32
	ts := newTokenSource(func(ctx context.Context) (string, time.Duration, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			// Declared lifetime shorter than the safety margin forces an
			// immediate refresh on the next use.
			return "short", time.Second, nil
		}
		return "fresh", time.Hour, nil
	})

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "short", tok)

	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh", tok)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTokenSourceInvalidate(t *testing.T) {
	var calls int32
	ts := newTokenSource(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		return "tok", time.Hour, nil
	})

	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	ts.Invalidate()
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
