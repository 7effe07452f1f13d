package lazy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/tablequery/internal/lazy"
)

func TestGetCreatesOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	v := lazy.New(func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "client", nil
	})

	_, ok := v.Peek()
	assert.False(t, ok)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := v.Get(context.Background())
			assert.NoError(t, err)
			results[i] = got
		}()
	}
	close(release)
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, "client", got)
	}
	got, err := v.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client", got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFailuresAreRetried(t *testing.T) {
	attempts := 0
	v := lazy.New(func(context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("unavailable")
		}
		return 42, nil
	})

	_, err := v.Get(context.Background())
	require.Error(t, err)

	got, err := v.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, attempts)
}

func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	var initErr error
	v := lazy.New(func(ctx context.Context) (string, error) {
		calls.Add(1)
		close(started)
		<-release
		initErr = ctx.Err()
		return "client", ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := v.Get(ctx)
		done <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	got, err := v.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client", got)
	assert.NoError(t, initErr)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOf(t *testing.T) {
	v := lazy.Of(7)
	got, ok := v.Peek()
	assert.True(t, ok)
	assert.Equal(t, 7, got)
}
