package assets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luup-life/luup/pkg/logger"
)

// fakeFetcher fails a configurable number of times per filename, then
// succeeds
type fakeFetcher struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newFakeFetcher(failures map[string]int) *fakeFetcher {
	return &fakeFetcher{
		failures: failures,
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) FetchPhoto(_ context.Context, _, filename string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[filename]++
	if f.calls[filename] <= f.failures[filename] {
		return nil, errors.New("fetch failed")
	}
	return []byte("img:" + filename), nil
}

func (f *fakeFetcher) callCount(filename string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[filename]
}

func newTestGuard(fetcher Fetcher, maxRetries int) (*Guard, *[]time.Duration) {
	g := NewGuard(fetcher, maxRetries, 500*time.Millisecond, logger.NewNop())
	var slept []time.Duration
	var mu sync.Mutex
	g.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	return g, &slept
}

func TestPopulateFirstTrySuccess(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	guard, slept := newTestGuard(fetcher, 2)

	var mu sync.Mutex
	loaded := map[string][]byte{}

	ok := guard.Populate(context.Background(), "sess-1", []string{"a.jpg", "b.jpg"}, Callbacks{
		OnLoaded: func(filename string, data []byte) {
			mu.Lock()
			loaded[filename] = data
			mu.Unlock()
		},
		OnFailed: func(filename string, err error) {
			t.Errorf("unexpected failure for %s: %v", filename, err)
		},
	})
	require.True(t, ok)
	guard.Wait("sess-1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("img:a.jpg"), loaded["a.jpg"])
	assert.Equal(t, []byte("img:b.jpg"), loaded["b.jpg"])
	assert.Empty(t, *slept)

	status, found := guard.Status("sess-1", "a.jpg")
	require.True(t, found)
	assert.Equal(t, StateLoaded, status.State)
	assert.Equal(t, 1, status.Attempts)
}

func TestRetryBudgetExhausted(t *testing.T) {
	// fails forever
	fetcher := newFakeFetcher(map[string]int{"broken.jpg": 100})
	guard, slept := newTestGuard(fetcher, 2)

	failedCh := make(chan error, 1)
	guard.Populate(context.Background(), "sess-2", []string{"broken.jpg"}, Callbacks{
		OnLoaded: func(filename string, _ []byte) {
			t.Errorf("unexpected load for %s", filename)
		},
		OnFailed: func(_ string, err error) { failedCh <- err },
	})
	guard.Wait("sess-2")

	select {
	case err := <-failedCh:
		assert.Error(t, err)
	default:
		t.Fatal("OnFailed never fired")
	}

	// initial attempt plus two retries, then permanent failure
	assert.Equal(t, 3, fetcher.callCount("broken.jpg"))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *slept)

	status, found := guard.Status("sess-2", "broken.jpg")
	require.True(t, found)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 3, status.Attempts)
	assert.Error(t, status.Err)
}

func TestRetrySucceedsBeforeBudget(t *testing.T) {
	fetcher := newFakeFetcher(map[string]int{"flaky.jpg": 1})
	guard, _ := newTestGuard(fetcher, 2)

	loadedCh := make(chan []byte, 1)
	guard.Populate(context.Background(), "sess-3", []string{"flaky.jpg"}, Callbacks{
		OnLoaded: func(_ string, data []byte) { loadedCh <- data },
	})
	guard.Wait("sess-3")

	require.Len(t, loadedCh, 1)
	assert.Equal(t, []byte("img:flaky.jpg"), <-loadedCh)
	// no third attempt after success
	assert.Equal(t, 2, fetcher.callCount("flaky.jpg"))

	status, _ := guard.Status("sess-3", "flaky.jpg")
	assert.Equal(t, StateLoaded, status.State)
	assert.Equal(t, 2, status.Attempts)
}

func TestPopulateIsIdempotentPerSession(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	guard, _ := newTestGuard(fetcher, 2)

	first := guard.Populate(context.Background(), "sess-4", []string{"a.jpg"}, Callbacks{})
	second := guard.Populate(context.Background(), "sess-4", []string{"a.jpg"}, Callbacks{})
	guard.Wait("sess-4")

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, fetcher.callCount("a.jpg"))
}

func TestResetAllowsRepopulation(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	guard, _ := newTestGuard(fetcher, 2)

	guard.Populate(context.Background(), "sess-5", []string{"a.jpg"}, Callbacks{})
	guard.Wait("sess-5")
	guard.Reset("sess-5")

	_, found := guard.Status("sess-5", "a.jpg")
	assert.False(t, found)

	ok := guard.Populate(context.Background(), "sess-5", []string{"a.jpg"}, Callbacks{})
	guard.Wait("sess-5")
	assert.True(t, ok)
	assert.Equal(t, 2, fetcher.callCount("a.jpg"))
}

func TestCancelledContextStopsRetries(t *testing.T) {
	fetcher := newFakeFetcher(map[string]int{"slow.jpg": 100})
	guard, _ := newTestGuard(fetcher, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	failedCh := make(chan error, 1)
	guard.Populate(ctx, "sess-6", []string{"slow.jpg"}, Callbacks{
		OnFailed: func(_ string, err error) { failedCh <- err },
	})
	guard.Wait("sess-6")

	require.Len(t, failedCh, 1)
	assert.ErrorIs(t, <-failedCh, context.Canceled)
	assert.Equal(t, 0, fetcher.callCount("slow.jpg"))
}

func TestOneAssetFailureDoesNotBlockOthers(t *testing.T) {
	fetcher := newFakeFetcher(map[string]int{"bad.jpg": 100})
	guard, _ := newTestGuard(fetcher, 1)

	var mu sync.Mutex
	var loaded, failed []string
	guard.Populate(context.Background(), "sess-7", []string{"bad.jpg", "good.jpg"}, Callbacks{
		OnLoaded: func(filename string, _ []byte) {
			mu.Lock()
			loaded = append(loaded, filename)
			mu.Unlock()
		},
		OnFailed: func(filename string, _ error) {
			mu.Lock()
			failed = append(failed, filename)
			mu.Unlock()
		},
	})
	guard.Wait("sess-7")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"good.jpg"}, loaded)
	assert.Equal(t, []string{"bad.jpg"}, failed)
}
