package qcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryerSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	r := NewRetryer(RetryerConfig{
		Fn: func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		},
	})

	v, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestRetryerNoRetryByDefault(t *testing.T) {
	t.Parallel()

	var attempts int32
	boom := errors.New("boom")
	r := NewRetryer(RetryerConfig{
		Fn: func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, boom
		},
	})

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRetryerRetriesUpToCount(t *testing.T) {
	t.Parallel()

	var attempts int32
	boom := errors.New("boom")
	r := NewRetryer(RetryerConfig{
		Fn: func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n <= 2 {
				return nil, boom
			}
			return "ok", nil
		},
		Retry:      3,
		RetryDelay: func(int) time.Duration { return time.Millisecond },
	})

	v, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRetryerRetryDeciderConsultedEachFailure(t *testing.T) {
	t.Parallel()

	var decided []int
	decider := RetryDecider(func(failureCount int, err error) bool {
		decided = append(decided, failureCount)
		return failureCount < 2
	})

	var attempts int32
	r := NewRetryer(RetryerConfig{
		Fn: func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, errors.New("boom")
		},
		Retry:      decider,
		RetryDelay: func(int) time.Duration { return time.Millisecond },
	})

	_, err := r.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2}, decided)
}

func TestRetryerCancelDuringBackoffSettlesCanceled(t *testing.T) {
	t.Parallel()

	r := NewRetryer(RetryerConfig{
		Fn: func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		},
		Retry:      true,
		RetryDelay: func(int) time.Duration { return time.Hour },
	})

	done := make(chan struct{})
	var err error
	go func() {
		_, err = r.Run(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return true }, 10*time.Millisecond, time.Millisecond)
	r.Cancel(CancelOptions{})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for canceled retryer to settle")
	}
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestRetryerPausesWhileOffline(t *testing.T) {
	t.Parallel()

	var online int32
	var paused, resumed int32
	r := NewRetryer(RetryerConfig{
		Fn: func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		},
		Retry:      true,
		RetryDelay: func(int) time.Duration { return time.Millisecond },
		IsOnline:   func() bool { return atomic.LoadInt32(&online) == 1 },
		OnPause:    func() { atomic.AddInt32(&paused, 1) },
		OnContinue: func() { atomic.AddInt32(&resumed, 1) },
	})

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.IsPaused() }, time.Second, time.Millisecond)
	assert.True(t, atomic.LoadInt32(&paused) >= 1)

	atomic.StoreInt32(&online, 1)
	r.Resume()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&resumed) >= 1 }, time.Second, time.Millisecond)
	r.Cancel(CancelOptions{Silent: true})
	<-done
}
